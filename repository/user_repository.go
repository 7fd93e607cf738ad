// Package repository is the data access layer. Each entity has an interface
// here and a SQLite implementation in sqlite_*.go; services only see the
// interfaces.
package repository

import (
	"context"

	"github.com/akinalp/casedesk/models"
)

// UserRepository stores accounts.
type UserRepository interface {
	Create(ctx context.Context, user *models.User) error
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByUsername(ctx context.Context, username string) (*models.User, error)
	GetByIDs(ctx context.Context, ids []string) ([]models.User, error)
}
