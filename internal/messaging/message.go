// Package messaging implements the request channel between the content and
// background realms: a request names one action, and the background answers
// it with exactly one reply. It is deliberately separate from the in-page event
// bus, which is synchronous fan-out with no replies.
package messaging

import (
	"errors"
	"fmt"

	json "github.com/json-iterator/go"
)

// The fixed action vocabulary.
const (
	ActionAnalyzeImage      = "analyzeImage"
	ActionTranslateText     = "translateText"
	ActionOptimizeMetadata  = "optimizeMetadata"
	ActionUpdateStats       = "updateStats"
	ActionGetStats          = "getStats"
	ActionCheckServerStatus = "checkServerStatus"
	ActionGetSettings       = "getSettings"
)

// Actions lists every action the background answers.
var Actions = []string{
	ActionAnalyzeImage, ActionTranslateText, ActionOptimizeMetadata,
	ActionUpdateStats, ActionGetStats, ActionCheckServerStatus, ActionGetSettings,
}

// UnknownActionError is the error text replied for unregistered actions.
const UnknownActionError = "unknown action"

var (
	// ErrAlreadyReplied is logged when a responder is invoked a second time.
	ErrAlreadyReplied = errors.New("reply already sent")
	// ErrClosed is returned by transports after Close.
	ErrClosed = errors.New("message channel closed")
)

// Request is {action, ...payload} on the wire: the payload keys sit next to
// the action key.
type Request struct {
	Action  string
	Payload map[string]json.RawMessage
}

// NewRequest builds a request whose payload is the JSON object form of payload.
// A nil payload yields a bare {action} request.
func NewRequest(action string, payload any) (Request, error) {
	req := Request{Action: action}
	if payload == nil {
		return req, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Request{}, fmt.Errorf("failed to encode %s payload: %w", action, err)
	}
	if err := json.Unmarshal(raw, &req.Payload); err != nil {
		return Request{}, fmt.Errorf("%s payload must encode to a JSON object: %w", action, err)
	}
	delete(req.Payload, "action")
	return req, nil
}

// Decode unmarshals the payload into v.
func (r Request) Decode(v any) error {
	if len(r.Payload) == 0 {
		return nil
	}
	raw, err := json.Marshal(r.Payload)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("invalid %s payload: %w", r.Action, err)
	}
	return nil
}

// MarshalJSON flattens the payload next to the action.
func (r Request) MarshalJSON() ([]byte, error) {
	obj := make(map[string]json.RawMessage, len(r.Payload)+1)
	for k, v := range r.Payload {
		obj[k] = v
	}
	action, err := json.Marshal(r.Action)
	if err != nil {
		return nil, err
	}
	obj["action"] = action
	return json.Marshal(obj)
}

// UnmarshalJSON splits the action from the payload.
func (r *Request) UnmarshalJSON(b []byte) error {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	raw, ok := obj["action"]
	if !ok {
		return errors.New("message has no action")
	}
	if err := json.Unmarshal(raw, &r.Action); err != nil {
		return fmt.Errorf("action must be a string: %w", err)
	}
	delete(obj, "action")
	r.Payload = obj
	return nil
}

// Reply is the single answer to a request.
type Reply struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	// Online is set by checkServerStatus.
	Online *bool `json:"online,omitempty"`
}

// OK builds a success reply.
func OK(data any) Reply { return Reply{Success: true, Data: data} }

// Fail builds an error reply.
func Fail(err error) Reply {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	return Reply{Success: false, Error: msg}
}

// Decode unmarshals the reply data into v. Data that crossed the wire arrives
// as generic JSON values, so it is re-encoded first.
func (r Reply) Decode(v any) error {
	if r.Data == nil {
		return nil
	}
	raw, err := json.Marshal(r.Data)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}

// Err returns the reply's failure as an error, or nil on success.
func (r Reply) Err() error {
	if r.Success {
		return nil
	}
	return &RemoteError{Message: r.Error}
}

// RemoteError is a failure reported by the other realm.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string { return e.Message }
