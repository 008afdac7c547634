// Package notify posts short ntfy-style operator alerts.
package notify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Notifier sends alerts to one endpoint. A Notifier with no endpoint is a no-op.
type Notifier struct {
	client   *http.Client
	endpoint string
	title    string

	mu   sync.Mutex
	sent map[string]time.Time
	// quiet suppresses repeats of the same alert key within this period.
	quiet time.Duration
}

func New(client *http.Client, endpoint, title string) *Notifier {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Notifier{
		client:   client,
		endpoint: strings.TrimSpace(endpoint),
		title:    title,
		sent:     make(map[string]time.Time),
		quiet:    time.Hour,
	}
}

func (n *Notifier) Enabled() bool { return n != nil && n.endpoint != "" }

// TableNotFound reports that the option chain table could not be located on pageURL.
// It fires once per page URL per quiet period.
func (n *Notifier) TableNotFound(ctx context.Context, pageURL string, attempts int) error {
	msg := fmt.Sprintf("Option chain table not found on %s after %d attempts; the overlay is waiting.", pageURL, attempts)
	return n.once(ctx, "table_not_found:"+pageURL, msg)
}

func (n *Notifier) once(ctx context.Context, key, message string) error {
	if !n.Enabled() {
		return nil
	}
	n.mu.Lock()
	if last, ok := n.sent[key]; ok && time.Since(last) < n.quiet {
		n.mu.Unlock()
		return nil
	}
	n.sent[key] = time.Now()
	n.mu.Unlock()

	if err := send(ctx, n.client, n.endpoint, n.title, message); err != nil {
		n.mu.Lock()
		delete(n.sent, key)
		n.mu.Unlock()
		return err
	}
	return nil
}

// Send posts message to endpoint.
func Send(ctx context.Context, client *http.Client, endpoint, message string) error {
	return send(ctx, client, endpoint, "", message)
}

func send(ctx context.Context, client *http.Client, endpoint, title, message string) error {
	if strings.TrimSpace(endpoint) == "" {
		return errors.New("notify: endpoint is required")
	}
	c := client
	if c == nil {
		c = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(message))
	if err != nil {
		return err
	}

	req.Header.Set("Content-Type", "text/plain")
	if title != "" {
		req.Header.Set("Title", title)
	}

	resp, err := c.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("ntfy notification failed: status=%d", resp.StatusCode)
	}
	return nil
}
