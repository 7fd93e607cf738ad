package observable

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscribeReceivesCurrentValue(t *testing.T) {
	v := New(3)
	ch, cancel := v.Subscribe()
	defer cancel()

	assert.Equal(t, 3, <-ch)
}

func TestSlowSubscriberSeesLatestOnly(t *testing.T) {
	v := New(0)
	ch, cancel := v.Subscribe()
	defer cancel()

	<-ch
	v.Set(1)
	v.Set(2)
	v.Set(3)

	assert.Equal(t, 3, <-ch)
	select {
	case got := <-ch:
		t.Fatalf("unexpected extra value %d", got)
	default:
	}
}

func TestComparableSkipsEqualValues(t *testing.T) {
	v := NewComparable(true)
	ch, cancel := v.Subscribe()
	defer cancel()
	<-ch

	v.Set(true)
	select {
	case <-ch:
		t.Fatal("equal value must not notify")
	default:
	}

	v.Set(false)
	assert.False(t, <-ch)
}

func TestCancelClosesChannelOnce(t *testing.T) {
	v := New("a")
	ch, cancel := v.Subscribe()
	<-ch
	cancel()
	cancel()

	_, ok := <-ch
	require.False(t, ok)

	// Set after cancel must not panic on the closed channel.
	v.Set("b")
	assert.Equal(t, "b", v.Get())
}

func TestUpdateIsAtomic(t *testing.T) {
	v := New(0)
	done := make(chan struct{})
	for i := 0; i < 50; i++ {
		go func() {
			v.Update(func(n int) int { return n + 1 })
			done <- struct{}{}
		}()
	}
	for i := 0; i < 50; i++ {
		<-done
	}
	assert.Equal(t, 50, v.Get())
}
