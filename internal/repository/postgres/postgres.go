package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ramsesoriginal/sat-tool/internal/domain"
	"github.com/ramsesoriginal/sat-tool/internal/repository"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// Repository implements persistence interfaces on PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// New constructs a Repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ensure Repository satisfies interfaces.
var (
	_ repository.UserRepository          = (*Repository)(nil)
	_ repository.QuestionnaireRepository = (*Repository)(nil)
)

// CreateUser inserts a user record.
func (r *Repository) CreateUser(ctx context.Context, user *domain.User) error {
	const query = `INSERT INTO users (username, email, password_hash, is_admin, disabled, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := r.pool.Exec(ctx, query, user.Username, user.Email, user.PasswordHash, user.IsAdmin, user.Disabled, user.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return repository.ErrConflict
		}
		return err
	}
	return nil
}

// GetUserByUsername fetches a user by its unique username.
func (r *Repository) GetUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	const query = `SELECT username, email, password_hash, is_admin, disabled, created_at
		FROM users WHERE username = $1`
	row := r.pool.QueryRow(ctx, query, username)
	var u domain.User
	if err := row.Scan(&u.Username, &u.Email, &u.PasswordHash, &u.IsAdmin, &u.Disabled, &u.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

// ListQuestionGroups returns every group with its questions nested. Groups
// without questions are included so the frontend can render empty sections.
func (r *Repository) ListQuestionGroups(ctx context.Context) ([]domain.QuestionGroup, error) {
	const query = `SELECT g.group_id, g.class, g.display_text, q.question_id, q.question_text
		FROM question_groups g
		LEFT JOIN questions q ON q.group_id = g.group_id
		ORDER BY g.group_id, q.question_id`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	groups := make([]domain.QuestionGroup, 0)
	for rows.Next() {
		var (
			groupID      int64
			class        string
			displayText  string
			questionID   *int64
			questionText *string
		)
		if err := rows.Scan(&groupID, &class, &displayText, &questionID, &questionText); err != nil {
			return nil, err
		}
		if len(groups) == 0 || groups[len(groups)-1].ID != groupID {
			groups = append(groups, domain.QuestionGroup{
				ID:          groupID,
				Class:       class,
				DisplayText: displayText,
				Questions:   make([]domain.Question, 0),
			})
		}
		if questionID != nil {
			current := &groups[len(groups)-1]
			current.Questions = append(current.Questions, domain.Question{
				ID:      *questionID,
				GroupID: groupID,
				Text:    derefString(questionText),
			})
		}
	}
	return groups, rows.Err()
}

// UpdateQuestionText rewrites a question's text and returns the updated row.
func (r *Repository) UpdateQuestionText(ctx context.Context, questionID int64, text string) (*domain.Question, error) {
	const query = `UPDATE questions SET question_text = $1
		WHERE question_id = $2
		RETURNING question_id, group_id, question_text`
	row := r.pool.QueryRow(ctx, query, text, questionID)
	var q domain.Question
	if err := row.Scan(&q.ID, &q.GroupID, &q.Text); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &q, nil
}

// CreateQuestion inserts a question and returns it with the generated id.
func (r *Repository) CreateQuestion(ctx context.Context, groupID int64, text string) (*domain.Question, error) {
	const query = `INSERT INTO questions (group_id, question_text)
		VALUES ($1, $2)
		RETURNING question_id`
	row := r.pool.QueryRow(ctx, query, groupID, text)
	var id int64
	if err := row.Scan(&id); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolation {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &domain.Question{ID: id, GroupID: groupID, Text: text}, nil
}

// DeleteQuestion removes a question by id.
func (r *Repository) DeleteQuestion(ctx context.Context, questionID int64) error {
	const query = `DELETE FROM questions WHERE question_id = $1`
	tag, err := r.pool.Exec(ctx, query, questionID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
