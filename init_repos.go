package main

import (
	"database/sql"

	"github.com/akinalp/casedesk/repository"
)

// Repositories groups every repository so constructors take one argument.
type Repositories struct {
	User       repository.UserRepository
	Session    repository.SessionRepository
	Chat       repository.ChatRepository
	Message    repository.MessageRepository
	Attachment repository.AttachmentRepository
	ReadState  repository.ReadStateRepository
}

// initRepositories builds the SQLite repositories over one shared pool.
func initRepositories(conn *sql.DB) *Repositories {
	return &Repositories{
		User:       repository.NewSQLiteUserRepo(conn),
		Session:    repository.NewSQLiteSessionRepo(conn),
		Chat:       repository.NewSQLiteChatRepo(conn),
		Message:    repository.NewSQLiteMessageRepo(conn),
		Attachment: repository.NewSQLiteAttachmentRepo(conn),
		ReadState:  repository.NewSQLiteReadStateRepo(conn),
	}
}
