package engine

import (
	"context"
	"strings"
)

func init() {
	Register("echo", func(Options) (Engine, error) {
		return &EchoEngine{}, nil
	})
}

// EchoEngine is the built-in development engine. It replies with the final
// section of the prompt (the user's question) so end-to-end flows can be
// exercised without a model service.
type EchoEngine struct{}

// Generate returns the user question prefixed with a marker.
func (e *EchoEngine) Generate(ctx context.Context, req Request) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	text := strings.TrimSpace(req.Prompt)
	// The question is the last prompt section; fall back to the whole
	// prompt when the marker is absent (e.g. title prompts).
	if idx := strings.LastIndex(text, "\n# "); idx >= 0 {
		section := text[idx+1:]
		if nl := strings.Index(section, "\n"); nl >= 0 {
			text = strings.TrimSpace(section[nl+1:])
		}
	}
	if text == "" {
		text = "(no text provided)"
	}
	return &Result{Text: "You said: " + text}, nil
}
