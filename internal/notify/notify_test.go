package notify

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func okResponse() *http.Response {
	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(strings.NewReader("ok")),
		Header:     make(http.Header),
	}
}

func TestTableNotFoundPostsOnce(t *testing.T) {
	ctx := context.Background()

	var calls int
	var receivedBody, receivedTitle, receivedContentType string
	client := &http.Client{
		Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
			calls++
			receivedTitle = r.Header.Get("Title")
			receivedContentType = r.Header.Get("Content-Type")
			rawBody, err := io.ReadAll(r.Body)
			if err != nil {
				t.Fatalf("read body: %v", err)
			}
			receivedBody = string(rawBody)
			return okResponse(), nil
		}),
	}

	n := New(client, "http://example.com/notifications", "oi overlay")
	for i := 0; i < 3; i++ {
		if err := n.TableNotFound(ctx, "https://www.nseindia.com/option-chain", 30); err != nil {
			t.Fatalf("TableNotFound() error = %v", err)
		}
	}

	if calls != 1 {
		t.Fatalf("calls = %d; want 1", calls)
	}
	if got, want := receivedTitle, "oi overlay"; got != want {
		t.Fatalf("title = %q; want %q", got, want)
	}
	if got, want := receivedContentType, "text/plain"; got != want {
		t.Fatalf("content-type = %q; want %q", got, want)
	}
	if !strings.Contains(receivedBody, "after 30 attempts") {
		t.Fatalf("body = %q; want attempt count", receivedBody)
	}
}

func TestTableNotFoundRetriesAfterFailure(t *testing.T) {
	ctx := context.Background()
	status := http.StatusInternalServerError
	calls := 0
	client := &http.Client{
		Transport: roundTripFunc(func(*http.Request) (*http.Response, error) {
			calls++
			resp := okResponse()
			resp.StatusCode = status
			return resp, nil
		}),
	}

	n := New(client, "http://example.com/notifications", "")
	err := n.TableNotFound(ctx, "https://www.nseindia.com/option-chain", 5)
	if err == nil || !strings.Contains(err.Error(), "ntfy notification failed") {
		t.Fatalf("TableNotFound() error = %v; want ntfy failure", err)
	}

	status = http.StatusOK
	if err := n.TableNotFound(ctx, "https://www.nseindia.com/option-chain", 5); err != nil {
		t.Fatalf("TableNotFound() retry error = %v", err)
	}
	if calls != 2 {
		t.Fatalf("calls = %d; want 2", calls)
	}
}

func TestDisabledNotifierIsNoop(t *testing.T) {
	n := New(nil, "", "")
	if n.Enabled() {
		t.Fatal("Enabled() = true for empty endpoint")
	}
	if err := n.TableNotFound(context.Background(), "https://x", 1); err != nil {
		t.Fatalf("TableNotFound() on disabled notifier = %v", err)
	}
}

func TestSendDisallowsMissingEndpoint(t *testing.T) {
	err := Send(context.Background(), http.DefaultClient, "", "message")
	if err == nil {
		t.Fatal("expected error for missing endpoint")
	}
}
