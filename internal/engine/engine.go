// Package engine defines the generation engine boundary. The engine is a
// black box to the rest of the system: assembled prompt in, reply text and
// optional generated files out. Implementations register themselves by name
// and are selected through settings.
package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Request carries everything an engine needs for one generation call.
type Request struct {
	// Prompt is the fully assembled context: history, environment info,
	// system prompt, and the user's question.
	Prompt string

	// UploadDir is the directory (relative to the upload root) the engine
	// may write files into, surfaced to it through the prompt.
	UploadDir string
}

// GeneratedFile is a file the engine produced alongside its reply.
// Exactly one of Content, Text, or SourcePath carries the payload.
type GeneratedFile struct {
	FileName   string `json:"file_name"`
	MimeType   string `json:"mime_type,omitempty"`
	Content    []byte `json:"content,omitempty"`
	Text       string `json:"text,omitempty"`
	SourcePath string `json:"source_path,omitempty"` // file already on disk, relative paths resolve under the upload root
}

// Result is the outcome of a single generation call.
type Result struct {
	Text  string          `json:"text"`
	Files []GeneratedFile `json:"files,omitempty"`
}

// Engine generates a reply for an assembled prompt. Implementations must be
// safe to call once per worker process; they are never reused concurrently.
type Engine interface {
	Generate(ctx context.Context, req Request) (*Result, error)
}

// Options parameterize engine construction.
type Options struct {
	// Endpoint is the model service URL (http engine).
	Endpoint string
}

// Factory builds an engine from options.
type Factory func(Options) (Engine, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// Register makes an engine factory available under name.
// Panics on duplicate registration; factories register from init().
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, exists := registry[name]; exists {
		panic(fmt.Sprintf("engine: duplicate registration for %q", name))
	}
	registry[name] = factory
}

// New builds the engine registered under name.
func New(name string, opts Options) (Engine, error) {
	registryMu.RLock()
	factory, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("engine: unknown engine %q (registered: %v)", name, Names())
	}
	return factory(opts)
}

// Names returns the registered engine names, sorted.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
