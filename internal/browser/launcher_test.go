package browser

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestArgsPutStartURLLast(t *testing.T) {
	l := NewLauncher(Config{
		CDPPort:   9333,
		StartURL:  "https://www.nseindia.com/option-chain",
		Headless:  true,
		ExtraArgs: []string{"--lang=en-IN"},
	})
	args := l.args()
	joined := strings.Join(args, " ")
	for _, want := range []string{
		"--remote-debugging-port=9333",
		"--remote-debugging-address=127.0.0.1",
		"--user-data-dir=./browser_profile",
		"--window-size=1280,900",
		"--headless=new",
		"--disable-background-timer-throttling",
		"--lang=en-IN",
	} {
		if !strings.Contains(joined, want) {
			t.Fatalf("args() = %v; missing %s", args, want)
		}
	}
	if args[len(args)-1] != "https://www.nseindia.com/option-chain" {
		t.Fatalf("last arg = %q; want start URL", args[len(args)-1])
	}
}

func hostPort(t *testing.T, addr string) (string, int) {
	t.Helper()
	tcp, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		t.Fatal(err)
	}
	return tcp.IP.String(), tcp.Port
}

func TestLaunchReusesRunningDevTools(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/json/version" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`{"Browser":"Chrome/139.0","webSocketDebuggerUrl":"ws://x/devtools/browser/1"}`))
	}))
	defer srv.Close()
	host, port := hostPort(t, srv.Listener.Addr().String())

	l := NewLauncher(Config{CDPAddress: host, CDPPort: port, BinaryPath: "/nonexistent/chrome"})
	if err := l.Launch(context.Background()); err != nil {
		t.Fatalf("Launch() = %v; want reuse of the running endpoint", err)
	}
	if l.Running() {
		t.Fatal("Running() = true; want false for a reused browser")
	}
	if l.Version() != "Chrome/139.0" {
		t.Fatalf("Version() = %q", l.Version())
	}
	l.Stop()
}

func TestLaunchRejectsPortHeldByOtherService(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not devtools", http.StatusNotFound)
	}))
	defer srv.Close()
	host, port := hostPort(t, srv.Listener.Addr().String())

	l := NewLauncher(Config{CDPAddress: host, CDPPort: port, ReadyTimeout: time.Second})
	if err := l.Launch(context.Background()); !errors.Is(err, ErrPortTaken) {
		t.Fatalf("Launch() = %v; want ErrPortTaken", err)
	}
}

func TestLaunchMissingBinary(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	_, port := hostPort(t, ln.Addr().String())
	ln.Close()

	l := NewLauncher(Config{CDPPort: port, BinaryPath: "/nonexistent/chrome", ProfileDir: t.TempDir()})
	if err := l.Launch(context.Background()); err == nil || !strings.Contains(err.Error(), "browser binary") {
		t.Fatalf("Launch() = %v; want missing binary error", err)
	}
}
