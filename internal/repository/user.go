package repository

import (
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/wimi-app/wimi/internal/model"
)

var (
	ErrUserNotFound   = errors.New("user not found")
	ErrDuplicateEmail = errors.New("email already exists")
)

type UserRepository interface {
	Create(user *model.User) error
	ByID(id string) (*model.User, error)
	UpdateTimezone(id, timezone string) error
	Follow(followerID, followedID string) error
	// MutualConnections returns the ids of users that follow userID and are
	// followed back by it, ordered by id.
	MutualConnections(userID string) ([]string, error)
}

type userRepository struct {
	db *sqlx.DB
}

func NewUserRepository(db *sqlx.DB) UserRepository {
	return &userRepository{db: db}
}

func (r *userRepository) Create(user *model.User) error {
	query := `INSERT INTO users (id, email, username, timezone, created_at) VALUES ($1, $2, $3, $4, $5)`

	_, err := r.db.Exec(query, user.ID, user.Email, user.Username, user.Timezone, user.CreatedAt)
	if err != nil {
		// Check for unique constraint violation (works for both SQLite and PostgreSQL)
		if isUniqueViolation(err) {
			return ErrDuplicateEmail
		}
		return err
	}

	return nil
}

func (r *userRepository) ByID(id string) (*model.User, error) {
	user := &model.User{}
	query := `SELECT * FROM users WHERE id = $1`

	err := r.db.Get(user, query, id)
	if err == sql.ErrNoRows {
		return nil, ErrUserNotFound
	}

	return user, err
}

func (r *userRepository) UpdateTimezone(id, timezone string) error {
	query := `UPDATE users SET timezone = $1 WHERE id = $2`

	result, err := r.db.Exec(query, timezone, id)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rows == 0 {
		return ErrUserNotFound
	}

	return nil
}

func (r *userRepository) Follow(followerID, followedID string) error {
	query := `INSERT INTO follows (follower_id, followed_id, created_at) VALUES ($1, $2, $3)
	          ON CONFLICT (follower_id, followed_id) DO NOTHING`

	_, err := r.db.Exec(query, followerID, followedID, time.Now().UTC())
	return err
}

func (r *userRepository) MutualConnections(userID string) ([]string, error) {
	var ids []string
	query := `SELECT f1.followed_id FROM follows f1
	          JOIN follows f2 ON f2.follower_id = f1.followed_id AND f2.followed_id = f1.follower_id
	          WHERE f1.follower_id = $1 AND f1.followed_id <> $1
	          ORDER BY f1.followed_id`

	err := r.db.Select(&ids, query, userID)
	if err != nil {
		return nil, err
	}

	return ids, nil
}

func isUniqueViolation(err error) bool {
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") || strings.Contains(errStr, "duplicate key value")
}
