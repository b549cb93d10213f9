package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/ahmethakanbesel/pricewatch/internal/job"
)

const webhookUserAgent = "pricewatch/1.0"

type WebhookPayload struct {
	Event      string     `json:"event"`
	JobID      string     `json:"jobId"`
	SourceKey  string     `json:"sourceKey"`
	SourceName string     `json:"sourceName"`
	Kind       job.Kind   `json:"kind"`
	Status     job.Status `json:"status"`
	Timestamp  time.Time  `json:"timestamp"`
	Result     any        `json:"result,omitempty"`
	Error      string     `json:"error,omitempty"`
	DurationMs *int64     `json:"durationMs,omitempty"`
}

// Webhook POSTs a JSON payload per event to a fixed URL.
type Webhook struct {
	url    string
	client *http.Client
	now    func() time.Time
}

func NewWebhook(url string, client *http.Client) *Webhook {
	if client == nil {
		client = &http.Client{}
	}
	return &Webhook{
		url:    url,
		client: client,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (w *Webhook) Name() string { return "webhook" }

// BuildPayload attaches result, error and duration only to completed
// events.
func (w *Webhook) BuildPayload(event string, j job.Job) WebhookPayload {
	p := WebhookPayload{
		Event:      event,
		JobID:      j.ID,
		SourceKey:  j.SourceKey,
		SourceName: j.SourceName,
		Kind:       j.Kind,
		Status:     j.Status,
		Timestamp:  w.now(),
	}
	if event != job.EventCompleted {
		return p
	}

	ms := j.Duration().Milliseconds()
	switch j.Status {
	case job.StatusCompleted:
		p.Result = j.Result
		p.DurationMs = &ms
	case job.StatusFailed:
		p.Error = j.Error
		p.DurationMs = &ms
	}
	return p
}

func (w *Webhook) Notify(ctx context.Context, event string, j job.Job) error {
	body, err := json.Marshal(w.BuildPayload(event, j))
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	return postJSON(ctx, w.client, w.url, body)
}

func postJSON(ctx context.Context, client *http.Client, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", webhookUserAgent)

	res, err := client.Do(req) //nolint:gosec // URL from config
	if err != nil {
		return err
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		return fmt.Errorf("endpoint responded with HTTP %d", res.StatusCode)
	}
	return nil
}
