package service

import (
	"fmt"

	"github.com/wimi-app/wimi/internal/model"
)

func notificationEmailTemplate(e Event, appName string) (string, string) {
	var subject string
	switch e.Type {
	case model.NotificationEndorsementRequested:
		subject = fmt.Sprintf("A friend asked you to endorse their post on %s", appName)
	case model.NotificationPostEndorsed:
		subject = "Your post has been endorsed"
	case model.NotificationCheckInMissed:
		subject = "You missed a check-in"
	case model.NotificationCheckInReminder:
		subject = "Time to check in"
	case model.NotificationAchievement:
		subject = "You earned an achievement"
	default:
		subject = fmt.Sprintf("News from %s", appName)
	}

	body := fmt.Sprintf(`%s

Open the app to see the details.

Best,
The %s Team`, e.Message, appName)

	return subject, body
}
