package cdpcontrol

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto"
	"github.com/chromedp/cdproto/page"
	cdpruntime "github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/cdproto/target"

	"github.com/dgnsrekt/oi_overlay/internal/optionchain"
)

// transientHints are substrings in error causes that indicate a transient
// failure worth retrying (e.g. broken connection, closed session).
var transientHints = []string{
	"context canceled",
	"target closed",
	"session closed",
	"websocket",
	"connection reset",
	"broken pipe",
	"eof",
	"connection refused",
	"connection closed",
	"cannot find context",
	"execution context was destroyed",
}

// DefaultSpotSelectors are tried in order when reading the underlying value.
var DefaultSpotSelectors = []string{
	"#equity_underlyingVal",
	"#underlyingValue",
	"[id*='underlyingVal']",
	".underlying-value",
}

// DefaultRefreshSelector matches the option chain's own refresh control.
const DefaultRefreshSelector = "a[onclick*='refreshOCPage']"

const eventBuffer = 256

type pageSession struct {
	info      PageInfo
	mu        sync.Mutex
	sessionID string // CDP session ID from Target.attachToTarget
}

// Client drives one option chain tab over CDP and implements the scheduler's page surface.
type Client struct {
	cdpURL          string
	pageFilter      string
	evalTimeout     time.Duration
	spotSelectors   []string
	refreshSelector string

	mu         sync.Mutex
	cdp        *rawCDP
	pages      map[target.ID]*pageSession
	order      []target.ID
	current    target.ID
	unregister []func()

	// evalMu serialises evaluations on the page.
	evalMu sync.Mutex

	// hookMu guards the fields read by CDP event handlers; it is never held across I/O.
	hookMu        sync.Mutex
	activeSession string
	activeURL     string

	events chan PageEvent
}

type evalEnvelope struct {
	OK           bool            `json:"ok"`
	Data         json.RawMessage `json:"data,omitempty"`
	ErrorCode    string          `json:"error_code,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
}

// Option customises a Client.
type Option func(*Client)

// WithSpotSelectors overrides DefaultSpotSelectors.
func WithSpotSelectors(sel []string) Option {
	return func(c *Client) {
		if len(sel) > 0 {
			c.spotSelectors = sel
		}
	}
}

// WithRefreshSelector overrides DefaultRefreshSelector.
func WithRefreshSelector(sel string) Option {
	return func(c *Client) {
		if strings.TrimSpace(sel) != "" {
			c.refreshSelector = sel
		}
	}
}

func NewClient(cdpURL, pageFilter string, evalTimeout time.Duration, opts ...Option) *Client {
	c := &Client{
		cdpURL:          cdpURL,
		pageFilter:      strings.ToLower(strings.TrimSpace(pageFilter)),
		evalTimeout:     evalTimeout,
		spotSelectors:   DefaultSpotSelectors,
		refreshSelector: DefaultRefreshSelector,
		pages:           make(map[target.ID]*pageSession),
		events:          make(chan PageEvent, eventBuffer),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Events delivers page hook notifications and navigations. Events are dropped when the
// consumer falls behind.
func (c *Client) Events() <-chan PageEvent { return c.events }

func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked(ctx)
}

func (c *Client) connectLocked(ctx context.Context) error {
	if c.cdpURL == "" {
		return newError(CodeCDPUnavailable, "missing CDP URL", nil)
	}

	slog.Info("cdpcontrol connect start", "cdp_url", c.cdpURL)
	c.cleanupLocked()

	c.cdp = newRawCDP(c.cdpURL)
	if err := c.cdp.connect(ctx); err != nil {
		c.cdp = nil
		return newError(CodeCDPUnavailable, "connect to CDP failed", err)
	}
	c.unregister = []func(){
		c.cdp.on(string(cdproto.EventRuntimeBindingCalled), c.onBindingCalled),
		c.cdp.on(string(cdproto.EventPageFrameNavigated), c.onFrameNavigated),
		c.cdp.on(string(cdproto.EventPageNavigatedWithinDocument), c.onNavigatedWithinDocument),
	}

	if err := c.syncPagesLocked(ctx); err != nil {
		slog.Error("cdpcontrol initial page sync failed", "error", err)
		c.cleanupLocked()
		return newError(CodeCDPUnavailable, "connect to CDP failed", err)
	}

	slog.Info("cdpcontrol connect ok", "cdp_url", c.cdpURL, "pages", len(c.pages))
	return nil
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cleanupLocked()
	return nil
}

func (c *Client) cleanupLocked() {
	for _, fn := range c.unregister {
		fn()
	}
	c.unregister = nil

	// Detach from any active sessions without closing targets.
	if c.cdp != nil {
		for targetID, session := range c.pages {
			if session == nil {
				continue
			}
			session.mu.Lock()
			if session.sessionID != "" {
				ctx, cancel := context.WithTimeout(context.Background(), time.Second)
				if err := c.cdp.detach(ctx, session.sessionID); err != nil {
					slog.Debug("cdpcontrol detach cleanup failed", "target_id", targetID, "error", err)
				}
				cancel()
				session.sessionID = ""
			}
			session.mu.Unlock()
		}
		c.cdp.close()
		c.cdp = nil
	}
	c.pages = make(map[target.ID]*pageSession)
	c.order = nil
	c.current = ""
	c.setActive("", "")
}

// URL is the address of the attached page, or the filter when nothing is attached yet.
func (c *Client) URL() string {
	c.hookMu.Lock()
	url := c.activeURL
	c.hookMu.Unlock()
	if url != "" {
		return url
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if s := c.pages[c.current]; s != nil {
		return s.info.URL
	}
	return c.pageFilter
}

// InstallHooks creates the panel and the page hooks. Repeat calls are no-ops in the page.
func (c *Client) InstallHooks(ctx context.Context) error {
	var out struct {
		Installed bool `json:"installed"`
	}
	if err := c.evalOnPage(ctx, jsInstallHooks(c.refreshSelector), &out); err != nil {
		return err
	}
	if !out.Installed {
		return newError(CodeEvalFailure, "hook install not confirmed", nil)
	}
	return nil
}

// ProbeTables reads every table on the page.
func (c *Client) ProbeTables(ctx context.Context) ([]optionchain.TableCandidate, error) {
	var out struct {
		Tables []tableDump `json:"tables"`
	}
	if err := c.evalOnPage(ctx, jsProbeTables(), &out); err != nil {
		return nil, err
	}
	return candidates(out.Tables), nil
}

func candidates(dumps []tableDump) []optionchain.TableCandidate {
	out := make([]optionchain.TableCandidate, 0, len(dumps))
	for _, d := range dumps {
		out = append(out, optionchain.TableCandidate{
			ID:          d.ID,
			Text:        d.Text,
			HeaderRows:  d.HeaderRows,
			Rows:        d.Rows,
			Fingerprint: optionchain.Fingerprint(d.Rows),
		})
	}
	return out
}

// ReadSpot returns the underlying value shown on the page; nil when none parses.
func (c *Client) ReadSpot(ctx context.Context) (*float64, error) {
	var out struct {
		Text     string `json:"text"`
		Selector string `json:"selector"`
	}
	if err := c.evalOnPage(ctx, jsReadSpot(c.spotSelectors), &out); err != nil {
		return nil, err
	}
	v, ok := optionchain.SpotFromText(out.Text)
	if !ok {
		return nil, nil
	}
	return &v, nil
}

// Paint replaces the panel body with html.
func (c *Client) Paint(ctx context.Context, html string) error {
	return c.evalOnPage(ctx, jsPaint(html), nil)
}

// RemovePanel removes the panel and the hooks.
func (c *Client) RemovePanel(ctx context.Context) error {
	return c.evalOnPage(ctx, jsRemovePanel(), nil)
}

// Screenshot captures the attached page as PNG.
func (c *Client) Screenshot(ctx context.Context) ([]byte, error) {
	c.evalMu.Lock()
	defer c.evalMu.Unlock()

	session, info, err := c.resolvePage(ctx)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	cdp := c.cdp
	c.mu.Unlock()
	if cdp == nil {
		return nil, newError(CodeCDPUnavailable, "CDP client not connected", nil)
	}
	sessionID, err := c.ensureSession(ctx, cdp, session, info.TargetID)
	if err != nil {
		return nil, err
	}
	data, err := cdp.screenshot(ctx, sessionID)
	if err != nil {
		return nil, newError(CodeEvalFailure, "screenshot failed", err)
	}
	img, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, newError(CodeEvalFailure, "screenshot decode failed", err)
	}
	return img, nil
}

func (c *Client) evalOnPage(ctx context.Context, js string, out any) error {
	c.evalMu.Lock()
	defer c.evalMu.Unlock()

	// First attempt.
	session, info, err := c.resolvePage(ctx)
	if err != nil {
		slog.Warn("cdpcontrol page resolve failed", "error", err)
	} else {
		err = c.evalOnSession(ctx, session, info.TargetID, js, out)
	}
	if err == nil {
		return nil
	}
	if !c.shouldRetry(err) {
		return err
	}

	// Retry after recovery.
	slog.Warn("cdpcontrol eval retry after transient failure", "error", err)
	if c.asCode(err, CodeCDPUnavailable) {
		if recErr := c.reconnect(ctx); recErr != nil {
			slog.Error("cdpcontrol reconnect failed during retry", "error", recErr)
			return recErr
		}
	} else if syncErr := c.refreshPages(ctx); syncErr != nil {
		slog.Warn("cdpcontrol page refresh failed during retry", "error", syncErr)
	}

	session, info, err = c.resolvePage(ctx)
	if err != nil {
		slog.Warn("cdpcontrol page resolve failed (retry)", "error", err)
		return err
	}
	return c.evalOnSession(ctx, session, info.TargetID, js, out)
}

func (c *Client) evalOnSession(ctx context.Context, session *pageSession, targetID, js string, out any) error {
	c.mu.Lock()
	cdp := c.cdp
	c.mu.Unlock()
	if cdp == nil {
		return newError(CodeCDPUnavailable, "CDP client not connected", nil)
	}

	sessionID, err := c.ensureSession(ctx, cdp, session, targetID)
	if err != nil {
		return err
	}

	evalCtx, evalCancel := context.WithTimeout(ctx, c.evalTimeout)
	defer evalCancel()

	raw, err := cdp.evaluate(evalCtx, sessionID, js)
	if err != nil {
		slog.Warn("cdpcontrol eval failed", "target_id", targetID, "error", err)
		// Reset session so a fresh attach happens on retry.
		session.mu.Lock()
		session.sessionID = ""
		session.mu.Unlock()

		if errors.Is(err, context.DeadlineExceeded) || errors.Is(evalCtx.Err(), context.DeadlineExceeded) {
			return newError(CodeEvalTimeout, "evaluation timed out", err)
		}
		return newError(CodeEvalFailure, "evaluation failed", err)
	}
	return decodeEnvelope(raw, out)
}

func decodeEnvelope(raw string, out any) error {
	var env evalEnvelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return newError(CodeEvalFailure, "invalid evaluation envelope", err)
	}
	if !env.OK {
		code := env.ErrorCode
		if code == "" {
			code = CodeEvalFailure
		}
		return newError(code, env.ErrorMessage, nil)
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return newError(CodeEvalFailure, "invalid evaluation data", err)
	}
	return nil
}

// ensureSession returns a CDP session ID for the target, attaching and enabling the
// Runtime and Page domains plus the notify binding when needed.
func (c *Client) ensureSession(ctx context.Context, cdp *rawCDP, session *pageSession, targetID string) (string, error) {
	session.mu.Lock()
	defer session.mu.Unlock()

	if session.sessionID != "" {
		return session.sessionID, nil
	}

	sid, err := cdp.attachPage(ctx, target.ID(targetID), BindingName)
	if err != nil {
		return "", newError(CodeCDPUnavailable, "attach to target failed", err)
	}
	session.sessionID = sid
	c.setActive(sid, session.info.URL)
	slog.Debug("cdpcontrol session attached", "target_id", targetID, "session_id", sid)
	return sid, nil
}

// resolvePage returns the attached page, or attaches to the first tab matching the filter.
func (c *Client) resolvePage(ctx context.Context) (*pageSession, PageInfo, error) {
	if session, info, ok := c.lookupCurrent(); ok {
		return session, info, nil
	}
	if err := c.refreshPages(ctx); err != nil {
		return nil, PageInfo{}, err
	}
	if session, info, ok := c.lookupCurrent(); ok {
		return session, info, nil
	}
	return nil, PageInfo{}, newError(CodePageNotFound, "no option chain tab matches "+c.pageFilter, nil)
}

func (c *Client) lookupCurrent() (*pageSession, PageInfo, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == "" {
		if len(c.order) == 0 {
			return nil, PageInfo{}, false
		}
		c.current = c.order[0]
		slog.Info("cdpcontrol page selected", "target_id", c.current, "url", c.pages[c.current].info.URL)
	}
	session := c.pages[c.current]
	if session == nil {
		c.current = ""
		return nil, PageInfo{}, false
	}
	return session, session.info, true
}

func (c *Client) refreshPages(ctx context.Context) error {
	if err := c.ensureConnected(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	err := c.syncPagesLocked(ctx)
	c.mu.Unlock()
	if err == nil {
		return nil
	}
	var coded *CodedError
	if errors.As(err, &coded) {
		return err
	}
	return newError(CodeCDPUnavailable, "failed to list targets", err)
}

func (c *Client) reconnect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked(ctx)
}

func (c *Client) syncPagesLocked(ctx context.Context) error {
	if c.cdp == nil {
		return newError(CodeCDPUnavailable, "CDP client not connected", nil)
	}

	targets, err := c.cdp.listTargets(ctx)
	if err != nil {
		return newError(CodeCDPUnavailable, "failed to list targets", err)
	}

	expected := make(map[target.ID]PageInfo)
	order := make([]target.ID, 0, len(targets))
	for _, t := range targets {
		if t.Type != "page" {
			continue
		}
		if c.pageFilter != "" && !strings.Contains(strings.ToLower(t.URL), c.pageFilter) {
			continue
		}
		expected[t.TargetID] = PageInfo{
			TargetID: string(t.TargetID),
			URL:      t.URL,
			Title:    t.Title,
		}
		order = append(order, t.TargetID)
	}

	for targetID := range c.pages {
		if _, ok := expected[targetID]; ok {
			continue
		}
		delete(c.pages, targetID)
		if targetID == c.current {
			slog.Warn("cdpcontrol attached page closed", "target_id", targetID)
			c.current = ""
		}
	}

	for targetID, info := range expected {
		session := c.pages[targetID]
		if session != nil {
			session.info = info
			continue
		}
		c.pages[targetID] = &pageSession{info: info}
	}
	c.order = order

	slog.Debug("cdpcontrol page sync", "targets", len(targets), "pages", len(c.pages))
	return nil
}

func (c *Client) ensureConnected(ctx context.Context) error {
	c.mu.Lock()
	connected := c.cdp != nil
	c.mu.Unlock()
	if connected {
		return nil
	}
	return c.reconnect(ctx)
}

func (c *Client) setActive(sessionID, url string) {
	c.hookMu.Lock()
	defer c.hookMu.Unlock()
	c.activeSession = sessionID
	c.activeURL = url
}

// currentSessionID is the flat session of the attached page, if any.
func (c *Client) currentSessionID() string {
	c.hookMu.Lock()
	defer c.hookMu.Unlock()
	return c.activeSession
}

func (c *Client) onBindingCalled(sessionID string, params json.RawMessage) {
	if sessionID == "" || sessionID != c.currentSessionID() {
		return
	}
	var ev cdpruntime.EventBindingCalled
	if err := json.Unmarshal(params, &ev); err != nil {
		slog.Debug("cdpcontrol binding event decode failed", "error", err)
		return
	}
	if ev.Name != BindingName {
		return
	}
	var pe PageEvent
	if err := json.Unmarshal([]byte(ev.Payload), &pe); err != nil {
		slog.Debug("cdpcontrol binding payload decode failed", "payload", ev.Payload, "error", err)
		return
	}
	switch pe.Kind {
	case EventMutation, EventRefresh, EventControl:
		c.emit(pe)
	default:
		slog.Debug("cdpcontrol unknown page event", "kind", pe.Kind)
	}
}

func (c *Client) onFrameNavigated(sessionID string, params json.RawMessage) {
	if sessionID == "" || sessionID != c.currentSessionID() {
		return
	}
	var ev page.EventFrameNavigated
	if err := json.Unmarshal(params, &ev); err != nil {
		slog.Debug("cdpcontrol frame navigated decode failed", "error", err)
		return
	}
	if ev.Frame == nil || ev.Frame.ParentID != "" {
		return
	}
	c.setCurrentURL(ev.Frame.URL)
	c.emit(PageEvent{Kind: EventNavigate, Full: true, URL: ev.Frame.URL})
}

func (c *Client) onNavigatedWithinDocument(sessionID string, params json.RawMessage) {
	if sessionID == "" || sessionID != c.currentSessionID() {
		return
	}
	var ev page.EventNavigatedWithinDocument
	if err := json.Unmarshal(params, &ev); err != nil {
		slog.Debug("cdpcontrol in-document navigation decode failed", "error", err)
		return
	}
	c.setCurrentURL(ev.URL)
	c.emit(PageEvent{Kind: EventNavigate, URL: ev.URL})
}

func (c *Client) setCurrentURL(url string) {
	if url == "" {
		return
	}
	c.hookMu.Lock()
	defer c.hookMu.Unlock()
	c.activeURL = url
}

func (c *Client) emit(ev PageEvent) {
	select {
	case c.events <- ev:
	default:
		slog.Debug("cdpcontrol page event dropped", "kind", ev.Kind)
	}
}

func (c *Client) shouldRetry(err error) bool {
	var coded *CodedError
	if !errors.As(err, &coded) {
		return false
	}

	switch coded.Code {
	case CodeCDPUnavailable:
		return true
	case CodePageNotFound, CodeNotFound, CodeValidation:
		return false
	case CodeEvalFailure:
		if coded.Cause == nil {
			return false
		}
		cause := strings.ToLower(coded.Cause.Error())
		for _, hint := range transientHints {
			if strings.Contains(cause, hint) {
				return true
			}
		}
	}
	return false
}

func (c *Client) asCode(err error, code string) bool {
	var coded *CodedError
	if !errors.As(err, &coded) {
		return false
	}
	return coded.Code == code
}
