package cdpcontrol

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/chromedp/cdproto/target"
)

func TestCleanupLockedDropsSessionsAndHandlers(t *testing.T) {
	var buf bytes.Buffer
	oldLogger := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	t.Cleanup(func() {
		slog.SetDefault(oldLogger)
	})

	unregistered := 0
	client := NewClient("http://127.0.0.1:9220", "option-chain", time.Second)
	client.cdp = &rawCDP{}
	client.pages = map[target.ID]*pageSession{
		"chain-tab": {sessionID: "session-1"},
		"closed":    nil,
	}
	client.current = "chain-tab"
	client.unregister = []func(){
		func() { unregistered++ },
		func() { unregistered++ },
	}
	events := client.Events()

	client.cleanupLocked()

	if unregistered != 2 || client.unregister != nil {
		t.Fatalf("handlers unregistered = %d, remaining = %d; want 2, 0", unregistered, len(client.unregister))
	}
	if !strings.Contains(buf.String(), "detach cleanup failed") || !strings.Contains(buf.String(), "target_id=chain-tab") {
		t.Fatalf("expected detach cleanup debug log for chain-tab, got %q", buf.String())
	}
	if client.cdp != nil || client.current != "" || client.currentSessionID() != "" || len(client.pages) != 0 {
		t.Fatalf("cleanupLocked() left state behind: cdp=%v current=%q pages=%d", client.cdp, client.current, len(client.pages))
	}
	if client.Events() != events {
		t.Fatal("cleanupLocked() replaced the events channel; consumers would stop receiving")
	}
}
