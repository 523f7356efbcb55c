package simd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sugarbeet-lab/yieldsim/pkg/logger"
	"github.com/sugarbeet-lab/yieldsim/pkg/models"
	"github.com/sugarbeet-lab/yieldsim/pkg/utils"
)

// NotificationPayload is the JSON body posted to the callback URL.
type NotificationPayload struct {
	RunID           string                  `json:"run_id"`
	Status          models.RunStatus        `json:"status"`
	CreatedAtUnixMs int64                   `json:"created_at_unix_ms"`
	StartedAtUnixMs int64                   `json:"started_at_unix_ms,omitempty"`
	EndedAtUnixMs   int64                   `json:"ended_at_unix_ms,omitempty"`
	TrialsDone      int                     `json:"trials_done"`
	Trials          int                     `json:"trials"`
	ErrorKind       models.ErrorKind        `json:"error_kind,omitempty"`
	Error           string                  `json:"error,omitempty"`
	Result          *models.AggregateResult `json:"result,omitempty"`
	ResumeFrom      *int                    `json:"resume_from,omitempty"`
	Timestamp       int64                   `json:"timestamp"`
}

// Notifier posts terminal run states to a webhook with retries.
type Notifier struct {
	httpClient *http.Client
	maxRetries int
	backoff    utils.BackoffStrategy
}

// NewNotifier creates a notifier with three retries and exponential backoff
// starting at one second.
func NewNotifier() *Notifier {
	return &Notifier{
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		maxRetries: 3,
		backoff:    utils.NewExponentialBackoff(time.Second, 30*time.Second, 2),
	}
}

// WithRetries overrides the retry policy.
func (n *Notifier) WithRetries(maxRetries int, backoff utils.BackoffStrategy) *Notifier {
	n.maxRetries = maxRetries
	n.backoff = backoff
	return n
}

// NewPayload builds the notification body for rec.
func NewPayload(rec *RunRecord) NotificationPayload {
	p := NotificationPayload{
		RunID:           rec.Run.ID,
		Status:          rec.Run.Status,
		CreatedAtUnixMs: rec.Run.CreatedAtUnixMs,
		StartedAtUnixMs: rec.Run.StartedAtUnixMs,
		EndedAtUnixMs:   rec.Run.EndedAtUnixMs,
		TrialsDone:      rec.Run.TrialsDone,
		Trials:          rec.Run.Trials,
		ErrorKind:       rec.Run.ErrorKind,
		Error:           rec.Run.Error,
		Result:          rec.Result,
		Timestamp:       utils.NowUnixMs(),
	}
	if from := rec.ResumeFrom(); from >= 0 {
		p.ResumeFrom = &from
	}
	return p
}

// Notify sends the notification in the background and returns immediately.
// "{run_id}" in callbackURL is replaced by the run id.
func (n *Notifier) Notify(callbackURL, callbackSecret string, rec *RunRecord) {
	if callbackURL == "" {
		return
	}
	if rec == nil {
		logger.Warn("cannot notify: nil run record", "callback_url", callbackURL)
		return
	}

	finalURL := strings.ReplaceAll(callbackURL, "{run_id}", rec.Run.ID)
	payload := NewPayload(rec)
	go func() {
		if err := n.Send(context.Background(), finalURL, callbackSecret, payload); err != nil {
			logger.Error("failed to send notification after retries",
				"callback_url", finalURL,
				"run_id", payload.RunID,
				"status", payload.Status,
				"max_retries", n.maxRetries,
				"error", err)
		}
	}()
}

// Send posts payload, retrying failed attempts, and returns the last error.
func (n *Notifier) Send(ctx context.Context, callbackURL, callbackSecret string, payload NotificationPayload) error {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal notification payload: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= n.maxRetries; attempt++ {
		if attempt > 0 {
			delay := n.backoff.NextDelay(attempt - 1)
			logger.Debug("retrying notification",
				"callback_url", callbackURL,
				"run_id", payload.RunID,
				"attempt", attempt,
				"delay", delay)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		lastErr = n.post(ctx, callbackURL, callbackSecret, payloadJSON)
		if lastErr == nil {
			logger.Info("notification sent",
				"run_id", payload.RunID,
				"status", payload.Status)
			return nil
		}
		logger.Warn("notification attempt failed",
			"callback_url", callbackURL,
			"run_id", payload.RunID,
			"attempt", attempt+1,
			"error", lastErr)
	}
	return lastErr
}

func (n *Notifier) post(ctx context.Context, callbackURL, callbackSecret string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, callbackURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "yieldsim/1.0")
	if callbackSecret != "" {
		req.Header.Set("X-Yieldsim-Callback-Secret", callbackSecret)
	}

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 200))
	return fmt.Errorf("unexpected status code %d: %s", resp.StatusCode, string(bodyBytes))
}
