package llm

import (
	"context"
	"encoding/json"
)

// Request is one structured-reasoning call: a prompt pair plus the JSON
// schema the response body must satisfy.
type Request struct {
	System string
	User   string
	Schema map[string]any
}

// Client is the interface pipeline stages depend on. Implementations return
// either schema-valid JSON or a *Failure.
type Client interface {
	CallJSON(ctx context.Context, req Request) (json.RawMessage, error)
}

// ClientFunc adapts a function to the Client interface (used by tests).
type ClientFunc func(ctx context.Context, req Request) (json.RawMessage, error)

func (f ClientFunc) CallJSON(ctx context.Context, req Request) (json.RawMessage, error) {
	return f(ctx, req)
}

// DecodeInto unmarshals a validated response into a typed struct.
func DecodeInto(raw json.RawMessage, out any) error {
	return json.Unmarshal(raw, out)
}
