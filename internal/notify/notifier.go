// Package notify delivers job outcomes to caller-supplied callback
// endpoints. Delivery is best effort: failures are logged and never influence
// the job's terminal status.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// Event is the callback payload: job id, terminal status, repository, and
// the error text (null on success).
type Event struct {
	JobID      string  `json:"jobId"`
	Status     string  `json:"status"`
	Repository string  `json:"repository"`
	Error      *string `json:"error"`
}

// Notifier POSTs events to callback endpoints in the background.
type Notifier struct {
	httpClient *http.Client
	wg         sync.WaitGroup
	log        *slog.Logger
}

// NewNotifier returns a Notifier with a bounded request timeout.
func NewNotifier() *Notifier {
	return &Notifier{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		log:        slog.Default(),
	}
}

// Deliver dispatches event to endpoint without blocking the caller. An empty
// endpoint is a no-op. Failures are logged; nothing propagates back and
// nothing is retried.
func (n *Notifier) Deliver(endpoint string, event Event) {
	if endpoint == "" {
		return
	}
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		if err := n.post(endpoint, event); err != nil {
			n.log.Warn("notification delivery failed",
				"job_id", event.JobID, "endpoint", endpoint, "err", err)
			return
		}
		n.log.Debug("notification delivered", "job_id", event.JobID, "endpoint", endpoint)
	}()
}

// Wait blocks until all in-flight deliveries finish. Called at shutdown.
func (n *Notifier) Wait() {
	n.wg.Wait()
}

func (n *Notifier) post(endpoint string, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := n.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("callback returned %s", resp.Status)
	}
	return nil
}
