package buttondown

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

const sinceParam = "creation_date__start"

// EventQuery selects which events IterEvents streams
type EventQuery struct {
	Since    *time.Time
	Expand   []string
	Ordering string
}

// RawEvent is one record of the /events feed, decoded as-is
type RawEvent map[string]any

// String returns the string value at key, or "" when absent or not a string
func (e RawEvent) String(key string) string {
	if s, ok := e[key].(string); ok {
		return s
	}
	return ""
}

// Object returns the nested object at key, or nil
func (e RawEvent) Object(key string) RawEvent {
	if m, ok := e[key].(map[string]any); ok {
		return RawEvent(m)
	}
	return nil
}

// CreatedAt parses creation_date
func (e RawEvent) CreatedAt() (time.Time, bool) {
	return ParseTimestamp(e.String("creation_date"))
}

type eventPage struct {
	Results []json.RawMessage `json:"results"`
	Next    string            `json:"next"`
}

// EventStream pulls the paginated event feed one page at a time. It is
// single pass; call IterEvents again to start over.
type EventStream struct {
	client        *Client
	query         EventQuery
	nextURL       string
	done          bool
	filterLocally bool
}

// IterEvents starts streaming events matching q. No request is made until
// the first NextBatch.
func (c *Client) IterEvents(q EventQuery) *EventStream {
	s := &EventStream{client: c, query: q}
	s.nextURL = s.firstPageURL()
	return s
}

// HasMore reports whether another NextBatch call may return records
func (s *EventStream) HasMore() bool {
	return !s.done
}

// FilteredLocally reports whether the stream fell back to dropping old
// records itself because the API rejected the since filter.
func (s *EventStream) FilteredLocally() bool {
	return s.filterLocally
}

// NextBatch fetches the next page. The first 4xx on a filtered request
// restarts the stream from page one without the filter; any later non-2xx
// response ends the stream with an *APIError.
func (s *EventStream) NextBatch(ctx context.Context) ([]RawEvent, error) {
	if s.done {
		return nil, nil
	}

	for {
		resp, err := s.client.do(ctx, http.MethodGet, s.nextURL)
		if err != nil {
			s.done = true
			return nil, err
		}

		if s.serverFiltered() && resp.StatusCode >= 400 && resp.StatusCode < 500 {
			apiErr := newAPIError(resp)
			resp.Body.Close()
			logrus.WithFields(logrus.Fields{
				"status": apiErr.Status,
				"body":   apiErr.Body,
			}).Warn("Buttondown rejected the since filter, falling back to local filtering")
			s.filterLocally = true
			s.nextURL = s.firstPageURL()
			continue
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			apiErr := newAPIError(resp)
			resp.Body.Close()
			s.done = true
			return nil, apiErr
		}

		var page eventPage
		err = json.NewDecoder(resp.Body).Decode(&page)
		resp.Body.Close()
		if err != nil {
			s.done = true
			return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
		}

		records, err := s.decodeRecords(page.Results)
		if err != nil {
			s.done = true
			return nil, err
		}

		s.nextURL = page.Next
		if s.nextURL == "" {
			s.done = true
		}
		return records, nil
	}
}

func (s *EventStream) serverFiltered() bool {
	return s.query.Since != nil && !s.filterLocally
}

func (s *EventStream) decodeRecords(raw []json.RawMessage) ([]RawEvent, error) {
	records := make([]RawEvent, 0, len(raw))
	for _, item := range raw {
		dec := json.NewDecoder(bytes.NewReader(item))
		dec.UseNumber()
		var record RawEvent
		if err := dec.Decode(&record); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
		}
		if s.filterLocally && s.query.Since != nil {
			if ts, ok := record.CreatedAt(); ok && !ts.After(*s.query.Since) {
				continue
			}
		}
		records = append(records, record)
	}
	return records, nil
}

func (s *EventStream) firstPageURL() string {
	params := url.Values{}
	if s.query.Ordering != "" {
		params.Set("ordering", s.query.Ordering)
	}
	for _, expand := range s.query.Expand {
		params.Add("expand", expand)
	}
	if s.serverFiltered() {
		params.Set(sinceParam, s.query.Since.UTC().Format(time.RFC3339))
	}

	endpoint := s.client.baseURL + "/events"
	if encoded := params.Encode(); encoded != "" {
		endpoint += "?" + encoded
	}
	return endpoint
}

var naiveLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02",
}

// ParseTimestamp parses an ISO-8601 timestamp. A trailing Z is UTC and
// timestamps without an offset are assumed to be UTC. The result is in UTC.
func ParseTimestamp(value string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false
	}

	if ts, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return ts.UTC(), true
	}
	if ts, err := time.Parse("2006-01-02 15:04:05.999999999Z07:00", value); err == nil {
		return ts.UTC(), true
	}
	for _, layout := range naiveLayouts {
		if ts, err := time.ParseInLocation(layout, value, time.UTC); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}
