package services

import (
	"context"
	"fmt"
	"strconv"

	"firebase.google.com/go/v4/messaging"
	"github.com/sirupsen/logrus"

	"wastewatch-backend/internal/ledger"
	"wastewatch-backend/internal/models"
)

// MessageSender is the part of the FCM client the notifier uses.
type MessageSender interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
}

// FCMService pushes report outcomes to the citizen and sweeper apps. Each
// user's device subscribes to the topic "user_<uid>".
type FCMService struct {
	client MessageSender
	logger *logrus.Logger
}

func NewFCMService(client MessageSender, logger *logrus.Logger) *FCMService {
	return &FCMService{client: client, logger: logger}
}

// UserTopic is the FCM topic a user's devices subscribe to.
func UserTopic(userID string) string {
	return "user_" + userID
}

type notification struct {
	userID string
	title  string
	body   string
}

// notificationsFor decides who hears about a status.
func notificationsFor(r *models.Report) []notification {
	switch r.Status {
	case models.StatusAssigned:
		return []notification{{r.CitizenID, "Report accepted",
			fmt.Sprintf("Your report was verified and a sweeper will be dispatched. +%d points", ledger.IntakeRewardPoints)}}
	case models.StatusFake, models.StatusInvalid, models.StatusNoWaste:
		return []notification{{r.CitizenID, "Report rejected", rejectionReason(r.Status)}}
	case models.StatusVerified:
		out := []notification{{r.CitizenID, "Cleanup verified",
			fmt.Sprintf("The waste you reported has been cleaned. +%d points", ledger.VerificationRewardPoints)}}
		if r.AssignedSweeper != "" {
			out = append(out, notification{r.AssignedSweeper, "Cleanup verified",
				fmt.Sprintf("Great work! +%d points", ledger.VerificationRewardPoints)})
		}
		return out
	case models.StatusCleaned:
		if r.AssignedSweeper == "" {
			return nil
		}
		return []notification{{r.AssignedSweeper, "Cleanup not verified",
			"The after photo did not confirm the cleanup. Please check the site and upload a new photo."}}
	}
	return nil
}

func rejectionReason(s models.Status) string {
	switch s {
	case models.StatusFake:
		return "The photo looks like a stock or edited image."
	case models.StatusInvalid:
		return "The photo could not be used. Please take a clear photo of the waste."
	default:
		return "No waste was found in the photo."
	}
}

// ReportChanged sends the notifications for the report's new status. Failures
// are logged and never returned.
func (s *FCMService) ReportChanged(ctx context.Context, r *models.Report) {
	for _, n := range notificationsFor(r) {
		if n.userID == "" {
			continue
		}
		log := s.logger.WithFields(logrus.Fields{
			"component": "fcm",
			"report_id": r.ID,
			"user_id":   n.userID,
			"status":    r.Status,
		})

		message := &messaging.Message{
			Topic: UserTopic(n.userID),
			Notification: &messaging.Notification{
				Title: n.title,
				Body:  n.body,
			},
			Data: map[string]string{
				"type":      "report_status",
				"report_id": r.ID,
				"status":    string(r.Status),
				"priority":  strconv.Itoa(r.EffectivePriority()),
			},
			Android: &messaging.AndroidConfig{
				Priority: "high",
			},
			APNS: &messaging.APNSConfig{
				Payload: &messaging.APNSPayload{
					Aps: &messaging.Aps{
						ContentAvailable: true,
						Sound:            "default",
					},
				},
			},
		}

		response, err := s.client.Send(ctx, message)
		if err != nil {
			log.WithError(err).Warn("error sending FCM message")
			continue
		}
		log.WithField("message_id", response).Debug("✅ FCM notification sent")
	}
}
