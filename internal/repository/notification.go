package repository

import (
	"errors"

	"github.com/jmoiron/sqlx"
	"github.com/wimi-app/wimi/internal/model"
)

var (
	ErrNotificationNotFound = errors.New("notification not found")
)

type NotificationRepository interface {
	Create(notification *model.Notification) error
	ByUser(userID string, unreadOnly bool) ([]*model.Notification, error)
	MarkRead(userID, id string) error
}

type notificationRepository struct {
	db *sqlx.DB
}

func NewNotificationRepository(db *sqlx.DB) NotificationRepository {
	return &notificationRepository{db: db}
}

func (r *notificationRepository) Create(notification *model.Notification) error {
	query := `INSERT INTO notifications (id, user_id, triggered_by_user_id, type, challenge_id, post_id, message, is_read, created_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := r.db.Exec(query,
		notification.ID,
		notification.UserID,
		notification.TriggeredByUserID,
		notification.Type,
		notification.ChallengeID,
		notification.PostID,
		notification.Message,
		notification.IsRead,
		notification.CreatedAt,
	)

	return err
}

func (r *notificationRepository) ByUser(userID string, unreadOnly bool) ([]*model.Notification, error) {
	var notifications []*model.Notification
	query := `SELECT * FROM notifications WHERE user_id = $1`
	if unreadOnly {
		query += ` AND is_read = FALSE`
	}
	query += ` ORDER BY created_at DESC`

	err := r.db.Select(&notifications, query, userID)
	if err != nil {
		return nil, err
	}

	return notifications, nil
}

func (r *notificationRepository) MarkRead(userID, id string) error {
	query := `UPDATE notifications SET is_read = TRUE WHERE id = $1 AND user_id = $2`

	result, err := r.db.Exec(query, id, userID)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rows == 0 {
		return ErrNotificationNotFound
	}

	return nil
}
