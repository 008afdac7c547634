package cdpcontrol

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func dialFake(t *testing.T, fb *fakeBrowser) *rawCDP {
	t.Helper()
	r := newRawCDP(fb.srv.URL + "/")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.connect(ctx); err != nil {
		t.Fatalf("connect() = %v", err)
	}
	t.Cleanup(r.close)
	return r
}

func TestRawCDPAttachEnablesDomainsAndBinding(t *testing.T) {
	fb := newFakeBrowser(t, func(string) string { return "ok" })
	r := dialFake(t, fb)

	sid, err := r.attachPage(context.Background(), "T1", BindingName)
	if err != nil || sid != "S1" {
		t.Fatalf("attachPage() = (%q, %v); want S1", sid, err)
	}
	for _, m := range []string{"Target.attachToTarget", "Runtime.enable", "Page.enable", "Runtime.addBinding"} {
		if !fb.called(m) {
			t.Fatalf("attachPage() never sent %s", m)
		}
	}
}

func TestRawCDPProtocolErrorCarriesMethod(t *testing.T) {
	fb := newFakeBrowser(t, func(string) string { return "ok" })
	fb.fail = map[string]string{"Page.enable": "Page domain unavailable"}
	r := dialFake(t, fb)

	_, err := r.attachPage(context.Background(), "T1", BindingName)
	var perr *cdpError
	if !errors.As(err, &perr) {
		t.Fatalf("attachPage() error = %v; want *cdpError", err)
	}
	if perr.Method != "Page.enable" || perr.Code != -32000 {
		t.Fatalf("cdpError = %+v", perr)
	}
}

func TestRawCDPDispatchesEventsUntilUnregistered(t *testing.T) {
	fb := newFakeBrowser(t, func(string) string { return `{"ok":true}` })
	fb.onEval = func(write func(v any)) {
		write(map[string]any{
			"method":    "Runtime.bindingCalled",
			"sessionId": "S1",
			"params":    map[string]any{"name": BindingName, "payload": `{"kind":"mutation"}`},
		})
	}
	r := dialFake(t, fb)

	got := make(chan string, 4)
	off := r.on("Runtime.bindingCalled", func(sessionID string, params json.RawMessage) {
		var p struct {
			Payload string `json:"payload"`
		}
		_ = json.Unmarshal(params, &p)
		got <- sessionID + " " + p.Payload
	})

	out, err := r.evaluate(context.Background(), "S1", "1")
	if err != nil || out != `{"ok":true}` {
		t.Fatalf("evaluate() = (%q, %v)", out, err)
	}
	select {
	case ev := <-got:
		if ev != `S1 {"kind":"mutation"}` {
			t.Fatalf("event = %q", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("bindingCalled event not dispatched")
	}

	off()
	if _, err := r.evaluate(context.Background(), "S1", "1"); err != nil {
		t.Fatalf("evaluate() = %v", err)
	}
	select {
	case ev := <-got:
		t.Fatalf("unregistered handler got %q", ev)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestRawCDPCallWithoutConnection(t *testing.T) {
	r := newRawCDP("http://127.0.0.1:1")
	if err := r.call(context.Background(), "", "Runtime.enable", nil, nil); !errors.Is(err, errNotConnected) {
		t.Fatalf("call() = %v; want errNotConnected", err)
	}
}
