package models

// FileUpload is a file a client attaches to a new message before sending.
type FileUpload struct {
	Filename    string
	ContentType string
	Content     []byte
}
