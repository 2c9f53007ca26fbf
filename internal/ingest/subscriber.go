package ingest

import (
	"context"
	"fmt"
	"strings"

	"github.com/samber/lo"
	"github.com/sirupsen/logrus"

	"engagement-tracker-go/internal/model"
	"engagement-tracker-go/internal/repository"
)

// PlaceholderDomain is used for subscribers the provider sent without an
// email. The .invalid TLD is reserved, so no real address can use it.
const PlaceholderDomain = "unknown.buttondown.invalid"

// PlaceholderEmail returns the synthetic email for a provider id
func PlaceholderEmail(providerID string) string {
	return providerID + "@" + PlaceholderDomain
}

// IsPlaceholderEmail reports whether email was generated by PlaceholderEmail
func IsPlaceholderEmail(email string) bool {
	return strings.HasSuffix(email, "@"+PlaceholderDomain)
}

// SubscriberInput is the subscriber data carried by a single event
type SubscriberInput struct {
	ProviderID string
	Email      string
	FirstName  string
	LastName   string
	Source     string
}

// Flags describes what an upsert did to the subscriber row
type Flags struct {
	Created bool
	Updated bool
}

// ResolveSubscriber finds the subscriber for in.ProviderID, creating it when
// unknown and refreshing email and name fields when it exists. It returns a
// nil subscriber when the event carries no provider id; there is no fallback
// lookup by email.
func ResolveSubscriber(ctx context.Context, repo *repository.Repository, in SubscriberInput) (*model.Subscriber, Flags, error) {
	if in.ProviderID == "" {
		return nil, Flags{}, nil
	}

	subscriber, err := repo.FindSubscriberByProviderID(ctx, in.ProviderID)
	if err != nil {
		return nil, Flags{}, err
	}

	if subscriber == nil {
		subscriber, err = createSubscriber(ctx, repo, in)
		if err != nil {
			return nil, Flags{}, err
		}
		return subscriber, Flags{Created: true}, nil
	}

	changed, err := applyFields(ctx, repo, subscriber, in)
	if err != nil {
		return nil, Flags{}, err
	}
	if changed {
		if err := repo.SaveSubscriber(ctx, subscriber); err != nil {
			return nil, Flags{}, err
		}
	}
	return subscriber, Flags{Updated: changed}, nil
}

// UpsertSubscriber resolves the subscriber and then applies the status
// implied by eventType. A freshly created subscriber is not also reported as
// updated.
func UpsertSubscriber(ctx context.Context, repo *repository.Repository, in SubscriberInput, eventType string) (*model.Subscriber, Flags, error) {
	subscriber, flags, err := ResolveSubscriber(ctx, repo, in)
	if err != nil || subscriber == nil {
		return subscriber, flags, err
	}

	if err := SetStatus(ctx, repo, subscriber, eventType, &flags); err != nil {
		return nil, Flags{}, err
	}
	return subscriber, flags, nil
}

// SetStatus applies the status inferred from eventType when it differs from
// the stored one.
func SetStatus(ctx context.Context, repo *repository.Repository, subscriber *model.Subscriber, eventType string, flags *Flags) error {
	status, ok := InferStatus(eventType)
	if !ok || subscriber.Status == status {
		return nil
	}

	subscriber.Status = status
	if err := repo.SaveSubscriber(ctx, subscriber); err != nil {
		return err
	}
	if flags != nil && !flags.Created {
		flags.Updated = true
	}
	return nil
}

// ApplyTags links subscriber to every named tag. Blank and repeated names are
// ignored.
func ApplyTags(ctx context.Context, repo *repository.Repository, subscriber *model.Subscriber, names []string) error {
	if subscriber == nil {
		return nil
	}
	names = lo.Uniq(lo.Compact(lo.Map(names, func(name string, _ int) string {
		return strings.TrimSpace(name)
	})))
	for _, name := range names {
		if err := repo.TagSubscriber(ctx, subscriber.ID, name); err != nil {
			return err
		}
	}
	return nil
}

func createSubscriber(ctx context.Context, repo *repository.Repository, in SubscriberInput) (*model.Subscriber, error) {
	email := in.Email
	if email == "" {
		email = PlaceholderEmail(in.ProviderID)
	} else {
		owner, err := repo.FindSubscriberByEmail(ctx, email)
		if err != nil {
			return nil, err
		}
		if owner != nil {
			logrus.WithFields(logrus.Fields{
				"buttondown_id": in.ProviderID,
				"owner_id":      owner.ButtondownID,
			}).Warn("Email already belongs to another subscriber, using placeholder")
			email = PlaceholderEmail(in.ProviderID)
		}
	}

	subscriber := &model.Subscriber{
		ButtondownID: in.ProviderID,
		Email:        email,
		FirstName:    optional(in.FirstName),
		LastName:     optional(in.LastName),
		Source:       optional(in.Source),
		Status:       model.StatusActive,
	}
	if err := repo.CreateSubscriber(ctx, subscriber); err != nil {
		return nil, fmt.Errorf("subscriber %s: %w", in.ProviderID, err)
	}

	logrus.WithFields(logrus.Fields{
		"subscriber_id": subscriber.ID,
		"buttondown_id": subscriber.ButtondownID,
	}).Info("Created subscriber")
	return subscriber, nil
}

func applyFields(ctx context.Context, repo *repository.Repository, subscriber *model.Subscriber, in SubscriberInput) (bool, error) {
	changed := false

	if in.Email != "" && in.Email != subscriber.Email {
		owner, err := repo.FindSubscriberByEmail(ctx, in.Email)
		if err != nil {
			return false, err
		}
		if owner != nil && owner.ID != subscriber.ID {
			logrus.WithFields(logrus.Fields{
				"buttondown_id": subscriber.ButtondownID,
				"owner_id":      owner.ButtondownID,
			}).Warn("Email already belongs to another subscriber, keeping stored email")
		} else {
			subscriber.Email = in.Email
			changed = true
		}
	}

	if in.FirstName != "" && lo.FromPtr(subscriber.FirstName) != in.FirstName {
		subscriber.FirstName = lo.ToPtr(in.FirstName)
		changed = true
	}
	if in.LastName != "" && lo.FromPtr(subscriber.LastName) != in.LastName {
		subscriber.LastName = lo.ToPtr(in.LastName)
		changed = true
	}

	return changed, nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
