package repository

import (
	"context"

	"github.com/ramsesoriginal/sat-tool/internal/domain"
)

// UserRepository is the user directory consumed by the auth flow.
type UserRepository interface {
	// CreateUser persists a user; a duplicate username yields ErrConflict.
	CreateUser(ctx context.Context, user *domain.User) error
	// GetUserByUsername returns ErrNotFound for unknown usernames.
	GetUserByUsername(ctx context.Context, username string) (*domain.User, error)
}

// QuestionnaireRepository persists questionnaire structure.
type QuestionnaireRepository interface {
	// ListQuestionGroups returns all groups with their questions nested,
	// ordered by group then question id.
	ListQuestionGroups(ctx context.Context) ([]domain.QuestionGroup, error)
	// UpdateQuestionText rewrites a question's text; ErrNotFound when absent.
	UpdateQuestionText(ctx context.Context, questionID int64, text string) (*domain.Question, error)
	// CreateQuestion inserts a question into a group; ErrNotFound when the
	// group does not exist.
	CreateQuestion(ctx context.Context, groupID int64, text string) (*domain.Question, error)
	// DeleteQuestion removes a question; ErrNotFound when absent.
	DeleteQuestion(ctx context.Context, questionID int64) error
}
