package cdpcontrol

import "fmt"

const (
	CodeValidation     = "VALIDATION"
	CodePageNotFound   = "PAGE_NOT_FOUND"
	CodeNotFound       = "NOT_FOUND"
	CodeEvalFailure    = "EVAL_FAILURE"
	CodeEvalTimeout    = "EVAL_TIMEOUT"
	CodeCDPUnavailable = "CDP_UNAVAILABLE"
	CodeBusy           = "BUSY"
)

// CodedError is a typed error used for stable API mapping.
type CodedError struct {
	Code    string
	Message string
	Cause   error
}

func (e *CodedError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
}

func (e *CodedError) Unwrap() error { return e.Cause }

func newError(code, msg string, cause error) error {
	return &CodedError{Code: code, Message: msg, Cause: cause}
}

// PageInfo describes an option chain tab mapped from a browser target.
type PageInfo struct {
	TargetID string `json:"target_id"`
	URL      string `json:"url"`
	Title    string `json:"title,omitempty"`
}

// Page event kinds.
const (
	EventMutation = "mutation"
	EventRefresh  = "refresh"
	EventControl  = "control"
	EventNavigate = "navigate"
)

// PageEvent is a notification raised by the page hooks or by a navigation.
type PageEvent struct {
	Kind    string `json:"kind"`
	Control string `json:"control,omitempty"`
	Delta   int    `json:"delta,omitempty"`
	Enabled bool   `json:"enabled,omitempty"`
	Full    bool   `json:"full,omitempty"`
	URL     string `json:"url,omitempty"`
}

// tableDump is one table as read by the probe script.
type tableDump struct {
	ID         string     `json:"id"`
	Text       string     `json:"text"`
	HeaderRows [][]string `json:"header_rows"`
	Rows       [][]string `json:"rows"`
}
