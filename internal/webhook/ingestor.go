package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"

	"engagement-tracker-go/internal/ingest"
	"engagement-tracker-go/internal/metrics"
	"engagement-tracker-go/internal/model"
	"engagement-tracker-go/internal/repository"
)

var (
	// ErrUnauthorized is returned for a missing or wrong signature
	ErrUnauthorized = errors.New("invalid webhook signature")
	// ErrInvalidPayload is returned for bodies that are not a usable event
	ErrInvalidPayload = errors.New("invalid webhook payload")
	// ErrProcessing hides internal failures from the caller
	ErrProcessing = errors.New("processing failed")
)

// Status is the outcome reported back to the provider
type Status string

const (
	StatusSuccess   Status = "success"
	StatusDuplicate Status = "duplicate"
	StatusError     Status = "error"
)

// Result describes how a delivery was handled
type Result struct {
	Status    Status `json:"status"`
	EventType string `json:"event_type,omitempty"`
	EventID   uint   `json:"event_id,omitempty"`
	Message   string `json:"message,omitempty"`
}

var duplicateResult = Result{Status: StatusDuplicate, Message: "Event already processed"}

// Ingestor stores webhook deliveries
type Ingestor struct {
	repo    *repository.Repository
	secret  string
	metrics *metrics.Metrics
}

// NewIngestor creates an ingestor. With an empty secret signatures are not
// checked.
func NewIngestor(repo *repository.Repository, secret string, m *metrics.Metrics) *Ingestor {
	if secret == "" {
		logrus.Warn("Webhook secret not configured, signature verification is disabled")
	}
	return &Ingestor{repo: repo, secret: secret, metrics: m}
}

type envelope struct {
	EventType string
	Data      map[string]any
}

// Ingest verifies, parses and stores one delivery. Redelivery of the same
// body is reported as a duplicate, not an error.
func (i *Ingestor) Ingest(ctx context.Context, body []byte, signature string) (Result, error) {
	if i.secret != "" && !VerifySignature(i.secret, body, signature) {
		logrus.WithField("has_signature", signature != "").Warn("Rejected webhook with invalid signature")
		i.metrics.WebhookRequests.WithLabelValues("unauthorized").Inc()
		return Result{}, ErrUnauthorized
	}

	env, err := parseEnvelope(body)
	if err != nil {
		logrus.WithError(err).Warn("Rejected malformed webhook")
		i.metrics.WebhookRequests.WithLabelValues("invalid").Inc()
		return Result{}, err
	}

	eventID := EventID(body)
	log := logrus.WithFields(logrus.Fields{
		"event_id":   eventID,
		"event_type": env.EventType,
	})

	existing, err := i.repo.FindEventByEventID(ctx, eventID)
	if err != nil {
		log.WithError(err).Error("Failed to check for duplicate webhook")
		i.metrics.WebhookRequests.WithLabelValues(string(StatusError)).Inc()
		return Result{}, ErrProcessing
	}
	if existing != nil {
		log.Info("Duplicate webhook ignored")
		i.recordDuplicate()
		return duplicateResult, nil
	}

	event := &model.Event{
		EventID:   eventID,
		EventType: env.EventType,
		EmailID:   optionalString(env.Data, "email_id"),
		LinkURL:   extractLink(env.Data),
		Metadata:  datatypes.JSON(body),
	}

	err = i.repo.Transaction(ctx, func(tx *repository.Repository) error {
		subscriber, err := dispatch(ctx, tx, env)
		if err != nil {
			return err
		}
		if subscriber != nil {
			event.SubscriberID = &subscriber.ID
		}
		return tx.CreateEvent(ctx, event)
	})
	if errors.Is(err, repository.ErrDuplicateEvent) {
		log.Info("Duplicate webhook ignored after insert race")
		i.recordDuplicate()
		return duplicateResult, nil
	}
	if err != nil {
		log.WithError(err).Error("Error processing webhook")
		i.metrics.WebhookRequests.WithLabelValues(string(StatusError)).Inc()
		return Result{}, ErrProcessing
	}

	log.WithField("id", event.ID).Info("Stored webhook event")
	i.metrics.WebhookRequests.WithLabelValues(string(StatusSuccess)).Inc()
	i.metrics.EventsIngested.WithLabelValues(metrics.PathWebhook, "created").Inc()
	return Result{Status: StatusSuccess, EventType: env.EventType, EventID: event.ID}, nil
}

func (i *Ingestor) recordDuplicate() {
	i.metrics.WebhookRequests.WithLabelValues(string(StatusDuplicate)).Inc()
	i.metrics.EventsIngested.WithLabelValues(metrics.PathWebhook, "duplicate").Inc()
}

// dispatch applies the subscriber side effects of the literal event type and
// returns the subscriber the event should reference.
func dispatch(ctx context.Context, tx *repository.Repository, env envelope) (*model.Subscriber, error) {
	providerID := subscriberRef(env.Data)
	input := ingest.SubscriberInput{
		ProviderID: providerID,
		Email:      stringField(env.Data, "email"),
	}

	switch env.EventType {
	case ingest.EventOpened, ingest.EventClicked:
		subscriber, _, err := ingest.ResolveSubscriber(ctx, tx, input)
		return subscriber, err

	case ingest.EventConfirmed:
		subscriber, flags, err := ingest.ResolveSubscriber(ctx, tx, input)
		if err != nil || subscriber == nil {
			return subscriber, err
		}
		return subscriber, ingest.SetStatus(ctx, tx, subscriber, ingest.EventConfirmed, &flags)

	case ingest.EventUnsubscribed:
		if providerID == "" {
			return nil, nil
		}
		subscriber, err := tx.FindSubscriberByProviderID(ctx, providerID)
		if err != nil || subscriber == nil {
			return nil, err
		}
		return subscriber, ingest.SetStatus(ctx, tx, subscriber, ingest.EventUnsubscribed, nil)

	default:
		logrus.WithField("event_type", env.EventType).Info("Unhandled webhook event type")
		if providerID == "" {
			return nil, nil
		}
		return tx.FindSubscriberByProviderID(ctx, providerID)
	}
}

func parseEnvelope(body []byte) (envelope, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var raw map[string]any
	if err := dec.Decode(&raw); err != nil || dec.More() {
		return envelope{}, fmt.Errorf("%w: invalid JSON", ErrInvalidPayload)
	}
	if raw == nil {
		return envelope{}, fmt.Errorf("%w: body must be an object", ErrInvalidPayload)
	}

	eventType, _ := raw["event_type"].(string)
	if eventType == "" {
		return envelope{}, fmt.Errorf("%w: missing event_type", ErrInvalidPayload)
	}

	env := envelope{EventType: eventType, Data: map[string]any{}}
	switch data := raw["data"].(type) {
	case nil:
	case map[string]any:
		env.Data = data
	default:
		return envelope{}, fmt.Errorf("%w: data must be an object", ErrInvalidPayload)
	}
	return env, nil
}

// subscriberRef reads data.subscriber, which is either the id itself or an
// object carrying it.
func subscriberRef(data map[string]any) string {
	switch v := data["subscriber"].(type) {
	case string:
		return v
	case map[string]any:
		return stringField(v, "id")
	}
	return ""
}

func extractLink(data map[string]any) *string {
	if link := stringField(data, "link"); link != "" {
		return &link
	}
	if url := stringField(data, "url"); url != "" {
		return &url
	}
	if nested, ok := data["link"].(map[string]any); ok {
		return optionalString(nested, "url")
	}
	return nil
}

func stringField(data map[string]any, key string) string {
	s, _ := data[key].(string)
	return s
}

func optionalString(data map[string]any, key string) *string {
	if s := stringField(data, key); s != "" {
		return &s
	}
	return nil
}
