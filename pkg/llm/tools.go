package llm

// ToolRegistry is the surface the dispatcher drives: the tool schemas
// advertised to the model, and the handler executing a named call.
// HandleTool returns natural-language text that goes straight back
// into the conversation.
type ToolRegistry interface {
	Tools() []Tool
	HandleTool(name string, args map[string]any) (string, error)
}
