package repository

import (
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/wimi-app/wimi/internal/model"
)

var (
	ErrPostNotFound = errors.New("post not found")
)

type PostRepository interface {
	Create(post *model.Post) error
	ByID(id string) (*model.Post, error)
	// ByParticipant returns the check-in posts userID tagged to challengeID,
	// oldest first.
	ByParticipant(challengeID, userID string) ([]*model.Post, error)
	// FlipEndorsed marks the post endorsed if it is not yet endorsed and its
	// endorsed count has reached its quorum. It reports whether this call
	// performed the flip.
	FlipEndorsed(postID string, at time.Time) (bool, error)
}

type postRepository struct {
	db *sqlx.DB
}

func NewPostRepository(db *sqlx.DB) PostRepository {
	return &postRepository{db: db}
}

func (r *postRepository) Create(post *model.Post) error {
	query := `INSERT INTO posts (id, user_id, challenge_id, caption, is_check_in, is_endorsed, endorsement_quorum, endorsed_at, created_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := r.db.Exec(query,
		post.ID,
		post.UserID,
		post.ChallengeID,
		post.Caption,
		post.IsCheckIn,
		post.IsEndorsed,
		post.EndorsementQuorum,
		post.EndorsedAt,
		post.CreatedAt,
	)

	return err
}

func (r *postRepository) ByID(id string) (*model.Post, error) {
	post := &model.Post{}
	query := `SELECT * FROM posts WHERE id = $1`

	err := r.db.Get(post, query, id)
	if err == sql.ErrNoRows {
		return nil, ErrPostNotFound
	}

	return post, err
}

func (r *postRepository) ByParticipant(challengeID, userID string) ([]*model.Post, error) {
	var posts []*model.Post
	query := `SELECT * FROM posts WHERE challenge_id = $1 AND user_id = $2 AND is_check_in = TRUE ORDER BY created_at ASC`

	err := r.db.Select(&posts, query, challengeID, userID)
	if err != nil {
		return nil, err
	}

	return posts, nil
}

func (r *postRepository) FlipEndorsed(postID string, at time.Time) (bool, error) {
	query := `UPDATE posts SET is_endorsed = TRUE, endorsed_at = $2
	          WHERE id = $1 AND is_endorsed = FALSE AND endorsement_quorum > 0
	            AND (SELECT COUNT(*) FROM post_endorsements
	                 WHERE post_id = $1 AND status = 'endorsed') >= endorsement_quorum`

	result, err := r.db.Exec(query, postID, at)
	if err != nil {
		return false, err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}

	return rows == 1, nil
}
