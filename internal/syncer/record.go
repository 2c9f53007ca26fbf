package syncer

import (
	"encoding/json"

	"engagement-tracker-go/internal/buttondown"
	"engagement-tracker-go/internal/ingest"
)

func recordID(record buttondown.RawEvent) string {
	switch v := record["id"].(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	}
	return ""
}

// subscriberInput collects the subscriber fields of a feed record. The
// expanded subscriber object wins over the bare subscriber_id.
func subscriberInput(record buttondown.RawEvent) (ingest.SubscriberInput, []string) {
	sub := record.Object("subscriber")
	metadata := record.Object("metadata")

	input := ingest.SubscriberInput{
		ProviderID: record.String("subscriber_id"),
		Email:      firstNonEmpty(sub.String("email_address"), sub.String("email"), metadata.String("email")),
		FirstName:  sub.String("first_name"),
		LastName:   sub.String("last_name"),
		Source:     sub.String("source"),
	}
	if input.ProviderID == "" {
		input.ProviderID = sub.String("id")
	}

	var tags []string
	if raw, ok := sub["tags"].([]any); ok {
		for _, tag := range raw {
			if name, ok := tag.(string); ok {
				tags = append(tags, name)
			}
		}
	}
	return input, tags
}

func emailID(record buttondown.RawEvent) *string {
	id := firstNonEmpty(record.String("email_id"), record.String("email"), record.Object("email").String("id"))
	if id == "" {
		return nil
	}
	return &id
}

func extractLink(record buttondown.RawEvent) *string {
	metadata := record.Object("metadata")
	link := firstNonEmpty(metadata.String("url"), metadata.String("link"))
	if link == "" {
		return nil
	}
	return &link
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
