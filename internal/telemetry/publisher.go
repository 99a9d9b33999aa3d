// Package telemetry publishes dispatch-outcome audit events. Delivery is
// fire-and-forget: telemetry must never slow down or fail the flow it
// observes.
package telemetry

import (
	"context"
	"encoding/json"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/google/uuid"

	"github.com/ignite/attribution-relay/internal/pkg/logger"
)

type Outcome string

const (
	OutcomeSent    Outcome = "sent"
	OutcomeSkipped Outcome = "skipped"
	OutcomeFailed  Outcome = "failed"
)

// DispatchEvent records the outcome of one conversion-event attempt.
type DispatchEvent struct {
	EventID    string    `json:"event_id"`
	UserID     string    `json:"user_id"`
	DeviceID   string    `json:"device_id,omitempty"`
	EventName  string    `json:"event_name"` // AppInstall, CompleteRegistration, first_login_marker
	Outcome    Outcome   `json:"outcome"`
	ErrorClass string    `json:"error_class,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// SQSAPI is the subset of the SQS client the publisher uses.
type SQSAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

type Publisher struct {
	client   SQSAPI
	queueURL string
}

func NewPublisher(client SQSAPI, queueURL string) *Publisher {
	return &Publisher{client: client, queueURL: queueURL}
}

// Publish sends the audit event asynchronously. Errors are logged and
// dropped; a nil publisher or empty queue URL disables publishing entirely.
func (p *Publisher) Publish(evt DispatchEvent) {
	if p == nil || p.client == nil || p.queueURL == "" {
		return
	}

	evt.EventID = uuid.NewString()
	evt.Timestamp = time.Now().UTC()

	body, err := json.Marshal(evt)
	if err != nil {
		logger.Error("marshal dispatch audit event", "error", err.Error())
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		_, err := p.client.SendMessage(ctx, &sqs.SendMessageInput{
			QueueUrl:    aws.String(p.queueURL),
			MessageBody: aws.String(string(body)),
		})
		if err != nil {
			logger.Error("publishing dispatch audit event", "error", err.Error())
		}
	}()
}
