package llm

// Message is one entry in a conversation transcript as sent to the model:
// the tenant's system prompt, the caller's utterances, and the assistant's
// replies.
type Message struct {
	// Role is one of "system", "user", "assistant", or "tool".
	Role string

	// Content is the text of the message.
	Content string

	// Name optionally labels the participant.
	Name string

	// ToolCalls carries tool invocations requested by the assistant.
	ToolCalls []ToolCall

	// ToolCallID is set when Role is "tool", identifying the call this
	// message answers.
	ToolCallID string
}

// ToolCall is a single function invocation requested by the model.
type ToolCall struct {
	// ID is the provider-assigned identifier for this call.
	ID string

	// Name is the function name.
	Name string

	// Arguments is the JSON-encoded argument payload.
	Arguments string
}

// ToolDefinition describes a function offered to the model alongside a
// completion request.
type ToolDefinition struct {
	Name        string
	Description string

	// Parameters is the JSON Schema for the function's arguments.
	Parameters map[string]any
}

// ModelCapabilities describes what the configured model supports. The turn
// pipeline consults it before requesting streaming or tool calls.
type ModelCapabilities struct {
	// ContextWindow is the maximum token count for input plus output.
	ContextWindow int

	// MaxOutputTokens caps a single completion.
	MaxOutputTokens int

	SupportsToolCalling bool
	SupportsVision      bool
	SupportsStreaming   bool
}
