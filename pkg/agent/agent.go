// Package agent defines the collaborator interfaces the engine uses to
// talk to LLM-backed agents, and the adapter that produces a
// freshly-scoped agent/client pair for every step invocation.
package agent

import "context"

// LoadRequest asks the external agent loader for an agent definition.
// An empty AgentID requests an ephemeral agent built from the endpoint
// and model alone.
type LoadRequest struct {
	UserID          string
	AgentID         string
	Endpoint        string
	Model           string
	ModelParameters map[string]any
}

// Definition is a tool-scoped agent description returned by the loader.
type Definition struct {
	ID           string
	Name         string
	Instructions string
	Provider     string
	Model        string
	Tools        []string
}

// Loader resolves agent definitions. Implemented outside the engine.
type Loader interface {
	LoadAgent(ctx context.Context, req LoadRequest) (*Definition, error)
}

// SendOptions parameterizes a single request/response cycle.
type SendOptions struct {
	UserID          string
	ConversationID  string
	ParentMessageID string

	// OnProgress is invoked on every progress tick of a long-running
	// send. Returning a non-nil error aborts the call; the engine uses
	// this to re-check cancellation between progress events.
	OnProgress func() error
}

// Response is the normalized reply from one send cycle.
type Response struct {
	Text           string
	ToolsUsed      []string
	MessageID      string
	ConversationID string
}

// Client is a send-capable handle bound to one agent instance.
type Client interface {
	SendMessage(ctx context.Context, directive string, opts SendOptions) (*Response, error)
}

// ClientConfig describes the client to initialize for one step.
type ClientConfig struct {
	Definition *Definition
	Endpoint   string
	Model      string

	// Tools is the scoped tool set the agent may call; anything outside
	// this list must be invisible to the agent.
	Tools []string

	// Workflow step results are tracked in the execution record only, so
	// the underlying conversation thread is neither titled nor persisted.
	DisableTitleGeneration bool
	DisablePersistence     bool
}

// ClientFactory initializes send-capable clients. Implemented outside
// the engine; injected into the adapter at construction time.
type ClientFactory interface {
	NewClient(ctx context.Context, cfg ClientConfig) (Client, error)
}
