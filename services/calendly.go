package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	json "github.com/goccy/go-json"
)

// SchedulingAPI is the hosted scheduler that owns the booked slots
type SchedulingAPI interface {
	CancelEvent(ctx context.Context, eventURI, reason string) error
}

// ScheduledEvent is the part of a Calendly scheduled event the portal reads
type ScheduledEvent struct {
	URI       string    `json:"uri"`
	Name      string    `json:"name"`
	Status    string    `json:"status"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	EventType string    `json:"event_type"`
}

// CalendlyClient talks to the Calendly v2 REST API
type CalendlyClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func NewCalendlyClient(baseURL, token string, httpClient *http.Client) *CalendlyClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &CalendlyClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: httpClient,
	}
}

// EventUUID extracts the trailing identifier of a scheduled event URI
func EventUUID(eventURI string) (string, error) {
	trimmed := strings.TrimRight(eventURI, "/")
	idx := strings.LastIndex(trimmed, "/scheduled_events/")
	if idx < 0 {
		return "", fmt.Errorf("not a scheduled event uri: %q", eventURI)
	}
	id := trimmed[idx+len("/scheduled_events/"):]
	if id == "" || strings.Contains(id, "/") {
		return "", fmt.Errorf("not a scheduled event uri: %q", eventURI)
	}
	return id, nil
}

func (c *CalendlyClient) CancelEvent(ctx context.Context, eventURI, reason string) error {
	id, err := EventUUID(eventURI)
	if err != nil {
		return err
	}
	body, err := json.Marshal(map[string]string{"reason": reason})
	if err != nil {
		return err
	}
	resp, err := c.do(ctx, http.MethodPost, "/scheduled_events/"+id+"/cancellation", body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	// already canceled on the scheduler side
	if resp.StatusCode == http.StatusForbidden {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if bytes.Contains(msg, []byte("already canceled")) {
			return nil
		}
		return fmt.Errorf("calendly: cancel rejected: %s", strings.TrimSpace(string(msg)))
	}
	if resp.StatusCode >= 300 {
		return c.statusError(resp)
	}
	return nil
}

func (c *CalendlyClient) GetEvent(ctx context.Context, eventURI string) (*ScheduledEvent, error) {
	id, err := EventUUID(eventURI)
	if err != nil {
		return nil, err
	}
	resp, err := c.do(ctx, http.MethodGet, "/scheduled_events/"+id, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if resp.StatusCode >= 300 {
		return nil, c.statusError(resp)
	}

	var out struct {
		Resource ScheduledEvent `json:"resource"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("calendly: decode event: %w", err)
	}
	return &out.Resource, nil
}

func (c *CalendlyClient) do(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	if c.token == "" {
		return nil, errors.New("calendly: api token is not configured")
	}
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calendly: %s %s: %w", method, path, err)
	}
	return resp, nil
}

func (c *CalendlyClient) statusError(resp *http.Response) error {
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return fmt.Errorf("calendly: unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
}
