package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/opportunity-intel/internal/model"
)

// WebhookNotifier posts alerts as JSON to a webhook URL.
type WebhookNotifier struct {
	url    string
	client *http.Client
}

// NewWebhookNotifier creates a notifier for url.
func NewWebhookNotifier(url string) *WebhookNotifier {
	return &WebhookNotifier{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

type webhookPayload struct {
	ID        int64           `json:"id"`
	EntityID  int64           `json:"entity_id"`
	Type      model.AlertType `json:"type"`
	Severity  model.Severity  `json:"severity"`
	Title     string          `json:"title"`
	Message   string          `json:"message"`
	Details   map[string]any  `json:"details,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// Notify posts a single alert to the webhook URL.
func (w *WebhookNotifier) Notify(ctx context.Context, a model.Alert) error {
	payload, err := json.Marshal(webhookPayload{
		ID:        a.ID,
		EntityID:  a.EntityID,
		Type:      a.Type,
		Severity:  a.Severity,
		Title:     a.Title,
		Message:   a.Message,
		Details:   a.Payload,
		Timestamp: a.CreatedAt,
	})
	if err != nil {
		return eris.Wrap(err, "alert: marshal webhook payload")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "alert: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "alert: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("alert: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
