package cdpcontrol

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/page"
	cdpruntime "github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/cdproto/target"
	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// rawCDP is a small CDP client over one browser-level WebSocket. It attaches flat sessions
// to option chain tabs and speaks only the Runtime, Page and Target commands the overlay
// needs. chromedp's session setup auto-attaches service workers, which the exchange site
// registers, so the daemon stays on this connection.
type rawCDP struct {
	httpBase string

	connMu  sync.Mutex
	conn    net.Conn
	writeMu sync.Mutex
	seq     atomic.Int64

	callsMu sync.Mutex
	calls   map[int64]chan cdpMessage

	handlersMu sync.RWMutex
	handlers   map[string]map[int64]eventFunc
}

// eventFunc receives the raw params of a CDP event and the flat session it arrived on.
type eventFunc func(sessionID string, params json.RawMessage)

// cdpMessage is both the outgoing command envelope and every frame read back.
type cdpMessage struct {
	ID        int64           `json:"id,omitempty"`
	SessionID string          `json:"sessionId,omitempty"`
	Method    string          `json:"method,omitempty"`
	Params    any             `json:"params,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     *cdpError       `json:"error,omitempty"`
}

// inbound mirrors cdpMessage with Params kept raw for event dispatch.
type inbound struct {
	ID        int64           `json:"id"`
	SessionID string          `json:"sessionId"`
	Method    string          `json:"method"`
	Params    json.RawMessage `json:"params"`
	Result    json.RawMessage `json:"result"`
	Error     *cdpError       `json:"error"`
}

// cdpError is a protocol-level error answer.
type cdpError struct {
	Code    int64  `json:"code"`
	Message string `json:"message"`
	Method  string `json:"-"`
}

func (e *cdpError) Error() string {
	return fmt.Sprintf("rawcdp: %s: %s (%d)", e.Method, e.Message, e.Code)
}

var errNotConnected = errors.New("rawcdp: not connected")

func newRawCDP(httpBase string) *rawCDP {
	return &rawCDP{
		httpBase: strings.TrimRight(httpBase, "/"),
		calls:    make(map[int64]chan cdpMessage),
		handlers: make(map[string]map[int64]eventFunc),
	}
}

func (r *rawCDP) connect(ctx context.Context) error {
	r.connMu.Lock()
	defer r.connMu.Unlock()
	if r.conn != nil {
		return nil
	}

	var version struct {
		WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
	}
	if err := r.getJSON(ctx, "/json/version", &version); err != nil {
		return fmt.Errorf("rawcdp: browser ws url: %w", err)
	}
	if version.WebSocketDebuggerURL == "" {
		return errors.New("rawcdp: empty webSocketDebuggerUrl")
	}

	slog.Debug("rawcdp connecting", "ws_url", version.WebSocketDebuggerURL)
	conn, _, _, err := ws.Dial(ctx, version.WebSocketDebuggerURL)
	if err != nil {
		return fmt.Errorf("rawcdp: dial: %w", err)
	}
	r.conn = conn
	go r.readLoop(conn)
	return nil
}

func (r *rawCDP) close() {
	r.connMu.Lock()
	defer r.connMu.Unlock()
	if r.conn != nil {
		r.conn.Close()
		r.conn = nil
	}
}

func (r *rawCDP) currentConn() net.Conn {
	r.connMu.Lock()
	defer r.connMu.Unlock()
	return r.conn
}

func (r *rawCDP) readLoop(conn net.Conn) {
	defer r.failCalls()
	for {
		data, err := wsutil.ReadServerText(conn)
		if err != nil {
			slog.Debug("rawcdp read loop exit", "error", err)
			return
		}
		var msg inbound
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Debug("rawcdp undecodable frame", "error", err)
			continue
		}
		switch {
		case msg.ID > 0:
			r.resolve(msg)
		case msg.Method != "":
			r.dispatch(msg.Method, msg.SessionID, msg.Params)
		}
	}
}

func (r *rawCDP) resolve(msg inbound) {
	r.callsMu.Lock()
	ch, ok := r.calls[msg.ID]
	delete(r.calls, msg.ID)
	r.callsMu.Unlock()
	if ok {
		ch <- cdpMessage{ID: msg.ID, Result: msg.Result, Error: msg.Error}
	}
}

func (r *rawCDP) failCalls() {
	r.callsMu.Lock()
	defer r.callsMu.Unlock()
	for id, ch := range r.calls {
		close(ch)
		delete(r.calls, id)
	}
}

func (r *rawCDP) forget(id int64) {
	r.callsMu.Lock()
	delete(r.calls, id)
	r.callsMu.Unlock()
}

// call sends method on sessionID (empty for the browser session) and decodes the result
// into out when out is non-nil.
func (r *rawCDP) call(ctx context.Context, sessionID, method string, params, out any) error {
	conn := r.currentConn()
	if conn == nil {
		return errNotConnected
	}

	id := r.seq.Add(1)
	data, err := json.Marshal(cdpMessage{ID: id, SessionID: sessionID, Method: method, Params: params})
	if err != nil {
		return fmt.Errorf("rawcdp: marshal %s: %w", method, err)
	}

	ch := make(chan cdpMessage, 1)
	r.callsMu.Lock()
	r.calls[id] = ch
	r.callsMu.Unlock()

	r.writeMu.Lock()
	err = wsutil.WriteClientText(conn, data)
	r.writeMu.Unlock()
	if err != nil {
		r.forget(id)
		return fmt.Errorf("rawcdp: send %s: %w", method, err)
	}

	var resp cdpMessage
	select {
	case m, ok := <-ch:
		if !ok {
			return errors.New("rawcdp: connection closed")
		}
		resp = m
	case <-ctx.Done():
		r.forget(id)
		return ctx.Err()
	}

	if resp.Error != nil {
		resp.Error.Method = method
		return resp.Error
	}
	if out == nil || len(resp.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Result, out); err != nil {
		return fmt.Errorf("rawcdp: decode %s: %w", method, err)
	}
	return nil
}

// on registers fn for a CDP event method and returns its unregister func.
func (r *rawCDP) on(method string, fn eventFunc) func() {
	id := r.seq.Add(1)
	r.handlersMu.Lock()
	if r.handlers[method] == nil {
		r.handlers[method] = make(map[int64]eventFunc)
	}
	r.handlers[method][id] = fn
	r.handlersMu.Unlock()
	return func() {
		r.handlersMu.Lock()
		delete(r.handlers[method], id)
		r.handlersMu.Unlock()
	}
}

func (r *rawCDP) dispatch(method, sessionID string, params json.RawMessage) {
	r.handlersMu.RLock()
	fns := make([]eventFunc, 0, len(r.handlers[method]))
	for _, fn := range r.handlers[method] {
		fns = append(fns, fn)
	}
	r.handlersMu.RUnlock()
	for _, fn := range fns {
		fn(sessionID, params)
	}
}

// attachPage attaches a flat session to a tab and enables Runtime and Page plus the named
// binding, so page scripts can report through window[binding].
func (r *rawCDP) attachPage(ctx context.Context, targetID target.ID, binding string) (string, error) {
	var attached target.AttachToTargetReturns
	if err := r.call(ctx, "", target.CommandAttachToTarget, target.AttachToTarget(targetID).WithFlatten(true), &attached); err != nil {
		return "", fmt.Errorf("attach: %w", err)
	}
	sid := string(attached.SessionID)
	if sid == "" {
		return "", errors.New("rawcdp: attach returned no session")
	}
	steps := []struct {
		method string
		params any
	}{
		{cdpruntime.CommandEnable, nil},
		{page.CommandEnable, nil},
		{cdpruntime.CommandAddBinding, cdpruntime.AddBinding(binding)},
	}
	for _, step := range steps {
		if err := r.call(ctx, sid, step.method, step.params, nil); err != nil {
			return "", err
		}
	}
	return sid, nil
}

func (r *rawCDP) detach(ctx context.Context, sessionID string) error {
	return r.call(ctx, "", target.CommandDetachFromTarget, target.DetachFromTarget().WithSessionID(target.SessionID(sessionID)), nil)
}

// evaluate runs js on the session, awaiting promises, and returns the string result.
// Non-string values come back as their JSON text.
func (r *rawCDP) evaluate(ctx context.Context, sessionID, js string) (string, error) {
	params := cdpruntime.Evaluate(js).WithReturnByValue(true).WithAwaitPromise(true)
	var res struct {
		Result struct {
			Type  string          `json:"type"`
			Value json.RawMessage `json:"value"`
		} `json:"result"`
		ExceptionDetails *struct {
			Text string `json:"text"`
		} `json:"exceptionDetails"`
	}
	if err := r.call(ctx, sessionID, cdpruntime.CommandEvaluate, params, &res); err != nil {
		return "", err
	}
	if res.ExceptionDetails != nil {
		return "", fmt.Errorf("rawcdp: eval exception: %s", res.ExceptionDetails.Text)
	}
	if res.Result.Type == "string" {
		var s string
		if err := json.Unmarshal(res.Result.Value, &s); err == nil {
			return s, nil
		}
	}
	return string(res.Result.Value), nil
}

// screenshot captures the visible viewport as PNG and returns the base64 data.
func (r *rawCDP) screenshot(ctx context.Context, sessionID string) (string, error) {
	params := page.CaptureScreenshot().WithFormat(page.CaptureScreenshotFormatPng).WithFromSurface(true)
	var res page.CaptureScreenshotReturns
	if err := r.call(ctx, sessionID, page.CommandCaptureScreenshot, params, &res); err != nil {
		return "", fmt.Errorf("rawcdp: screenshot: %w", err)
	}
	return res.Data, nil
}

// listTargets reads /json/list. Its field names differ from Target.getTargets, hence the
// local shape.
func (r *rawCDP) listTargets(ctx context.Context) ([]*target.Info, error) {
	var entries []struct {
		ID    string `json:"id"`
		Type  string `json:"type"`
		Title string `json:"title"`
		URL   string `json:"url"`
	}
	if err := r.getJSON(ctx, "/json/list", &entries); err != nil {
		return nil, err
	}
	out := make([]*target.Info, 0, len(entries))
	for _, e := range entries {
		out = append(out, &target.Info{TargetID: target.ID(e.ID), Type: e.Type, Title: e.Title, URL: e.URL})
	}
	return out, nil
}

func (r *rawCDP) getJSON(ctx context.Context, path string, out any) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.httpBase+path, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("rawcdp: %s: HTTP %d", path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
