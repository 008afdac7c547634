// Package browser starts a local Chromium with remote debugging for the overlay to attach to.
package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"syscall"
	"time"
)

// ErrPortTaken means something other than a DevTools endpoint holds the CDP port.
var ErrPortTaken = errors.New("CDP port is held by a non-DevTools process")

// Config holds browser launch configuration.
type Config struct {
	CDPAddress string
	CDPPort    int
	// StartURL is opened in the first tab, normally the option chain page.
	StartURL   string
	ProfileDir string
	// BinaryPath skips PATH detection when set.
	BinaryPath   string
	WindowSize   string
	Headless     bool
	ExtraArgs    []string
	ReadyTimeout time.Duration
}

// Launcher owns at most one browser process. When a DevTools endpoint already answers on
// the configured port it is reused and nothing is started.
type Launcher struct {
	cfg     Config
	cmd     *exec.Cmd
	exited  chan struct{}
	version string
}

func NewLauncher(cfg Config) *Launcher {
	if cfg.CDPAddress == "" {
		cfg.CDPAddress = "127.0.0.1"
	}
	if cfg.WindowSize == "" {
		cfg.WindowSize = "1280,900"
	}
	if cfg.ProfileDir == "" {
		cfg.ProfileDir = "./browser_profile"
	}
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = 15 * time.Second
	}
	return &Launcher{cfg: cfg}
}

var binaryCandidates = []string{"chromium-browser", "chromium", "google-chrome", "google-chrome-stable"}

func (l *Launcher) binary() (string, error) {
	if l.cfg.BinaryPath != "" {
		if _, err := os.Stat(l.cfg.BinaryPath); err != nil {
			return "", fmt.Errorf("browser binary: %w", err)
		}
		return l.cfg.BinaryPath, nil
	}
	for _, name := range binaryCandidates {
		if path, err := exec.LookPath(name); err == nil {
			return path, nil
		}
	}
	if runtime.GOOS == "darwin" {
		const app = "/Applications/Google Chrome.app/Contents/MacOS/Google Chrome"
		if _, err := os.Stat(app); err == nil {
			return app, nil
		}
	}
	return "", fmt.Errorf("no Chromium binary found on PATH (tried %v)", binaryCandidates)
}

func (l *Launcher) endpoint() string {
	return net.JoinHostPort(l.cfg.CDPAddress, strconv.Itoa(l.cfg.CDPPort))
}

// devtoolsVersion asks /json/version for the browser build. ok is false when nothing
// listens; err is set when the port answers but is not DevTools.
func (l *Launcher) devtoolsVersion(ctx context.Context) (version string, ok bool, err error) {
	conn, dialErr := net.DialTimeout("tcp", l.endpoint(), time.Second)
	if dialErr != nil {
		return "", false, nil
	}
	conn.Close()

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+l.endpoint()+"/json/version", nil)
	if err != nil {
		return "", true, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", true, fmt.Errorf("%w: %v", ErrPortTaken, err)
	}
	defer resp.Body.Close()
	var info struct {
		Browser string `json:"Browser"`
		WSURL   string `json:"webSocketDebuggerUrl"`
	}
	if resp.StatusCode != http.StatusOK || json.NewDecoder(resp.Body).Decode(&info) != nil || info.WSURL == "" {
		return "", true, fmt.Errorf("%w at %s", ErrPortTaken, l.endpoint())
	}
	return info.Browser, true, nil
}

// Launch starts Chromium and waits for its DevTools endpoint, or reuses one that is
// already up.
func (l *Launcher) Launch(ctx context.Context) error {
	version, up, err := l.devtoolsVersion(ctx)
	if err != nil {
		return err
	}
	if up {
		l.version = version
		slog.Info("reusing running browser", "endpoint", l.endpoint(), "browser", version)
		return nil
	}

	bin, err := l.binary()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(l.cfg.ProfileDir, 0o755); err != nil {
		return fmt.Errorf("create profile dir: %w", err)
	}

	cmd := exec.Command(bin, l.args()...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start browser: %w", err)
	}
	l.cmd = cmd
	l.exited = make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(l.exited)
	}()
	slog.Info("browser process started", "path", bin, "pid", cmd.Process.Pid, "headless", l.cfg.Headless)

	if err := l.awaitDevTools(ctx); err != nil {
		l.Stop()
		return err
	}
	slog.Info("CDP endpoint ready", "endpoint", l.endpoint(), "browser", l.version)
	return nil
}

// args builds the Chromium command line. The start URL is always last.
func (l *Launcher) args() []string {
	args := []string{
		"--remote-debugging-port=" + strconv.Itoa(l.cfg.CDPPort),
		"--remote-debugging-address=" + l.cfg.CDPAddress,
		"--user-data-dir=" + l.cfg.ProfileDir,
		"--window-size=" + l.cfg.WindowSize,
		"--no-first-run",
		"--no-default-browser-check",
		"--disable-dev-shm-usage",
		"--disable-background-timer-throttling",
		"--disable-renderer-backgrounding",
	}
	if l.cfg.Headless {
		args = append(args, "--headless=new")
	}
	args = append(args, l.cfg.ExtraArgs...)
	if l.cfg.StartURL != "" {
		args = append(args, l.cfg.StartURL)
	}
	return args
}

func (l *Launcher) awaitDevTools(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, l.cfg.ReadyTimeout)
	defer cancel()
	interval := 100 * time.Millisecond
	for {
		version, up, err := l.devtoolsVersion(ctx)
		if up && err == nil {
			l.version = version
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("CDP not ready at %s within %s: %w", l.endpoint(), l.cfg.ReadyTimeout, ctx.Err())
		case <-l.exited:
			return fmt.Errorf("browser exited before CDP came up at %s", l.endpoint())
		case <-time.After(interval):
		}
		if interval < time.Second {
			interval *= 2
		}
	}
}

// Running reports whether this launcher owns a live browser process.
func (l *Launcher) Running() bool {
	if l.cmd == nil {
		return false
	}
	select {
	case <-l.exited:
		return false
	default:
		return true
	}
}

// Version is the browser build reported by DevTools, once known.
func (l *Launcher) Version() string { return l.version }

// Stop sends SIGTERM to a browser this launcher started and kills it after five seconds.
// A reused browser is left alone.
func (l *Launcher) Stop() {
	if !l.Running() {
		return
	}
	pid := l.cmd.Process.Pid
	slog.Info("stopping browser", "pid", pid)
	_ = l.cmd.Process.Signal(syscall.SIGTERM)
	select {
	case <-l.exited:
	case <-time.After(5 * time.Second):
		slog.Warn("browser ignored SIGTERM, killing", "pid", pid)
		_ = l.cmd.Process.Kill()
		<-l.exited
	}
}
