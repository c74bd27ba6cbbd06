package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/wimi-app/wimi/internal/model"
	"github.com/wimi-app/wimi/internal/repository"
)

// Event is a fire-and-forget notification.
type Event struct {
	Type        string
	UserID      string // recipient
	TriggeredBy string
	ChallengeID string
	PostID      string
	Message     string
}

// Dispatcher delivers events. Delivery failures are the dispatcher's
// concern and never fail the caller.
type Dispatcher interface {
	Dispatch(ctx context.Context, e Event)
}

// NotificationService stores every event in the recipient's inbox and then
// mails it.
type NotificationService struct {
	notificationRepo repository.NotificationRepository
	userRepo         repository.UserRepository
	emailService     *EmailService
}

func NewNotificationService(
	notificationRepo repository.NotificationRepository,
	userRepo repository.UserRepository,
	emailService *EmailService,
) *NotificationService {
	return &NotificationService{
		notificationRepo: notificationRepo,
		userRepo:         userRepo,
		emailService:     emailService,
	}
}

func (s *NotificationService) Dispatch(ctx context.Context, e Event) {
	n := &model.Notification{
		ID:          uuid.New().String(),
		UserID:      e.UserID,
		Type:        e.Type,
		Message:     e.Message,
		CreatedAt:   time.Now().UTC(),
		ChallengeID: optional(e.ChallengeID),
		PostID:      optional(e.PostID),
	}
	n.TriggeredByUserID = optional(e.TriggeredBy)

	err := s.notificationRepo.Create(n)
	if err != nil {
		slog.Error("failed to store notification", "error", err, "type", e.Type, "user_id", e.UserID)
		return
	}

	if s.emailService == nil {
		return
	}

	user, err := s.userRepo.ByID(e.UserID)
	if err != nil {
		slog.Warn("notification email skipped", "error", err, "user_id", e.UserID)
		return
	}

	err = s.emailService.SendNotificationEmail(ctx, user.Email, e)
	if err != nil {
		slog.Warn("failed to send notification email", "error", err, "type", e.Type, "user_id", e.UserID)
	}
}

func (s *NotificationService) Inbox(userID string, unreadOnly bool) ([]*model.Notification, error) {
	return s.notificationRepo.ByUser(userID, unreadOnly)
}

func (s *NotificationService) MarkRead(userID, notificationID string) error {
	return s.notificationRepo.MarkRead(userID, notificationID)
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
