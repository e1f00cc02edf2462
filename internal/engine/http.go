package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

func init() {
	Register("http", func(opts Options) (Engine, error) {
		if opts.Endpoint == "" {
			return nil, fmt.Errorf("engine: http engine requires an endpoint")
		}
		return &HTTPEngine{
			endpoint: opts.Endpoint,
			client:   &http.Client{},
		}, nil
	})
}

// HTTPEngine delegates generation to a model service over HTTP. The service
// receives the assembled prompt and responds with reply text and optional
// generated files; its internals (model choice, retrieval, tool use) are
// outside this system.
type HTTPEngine struct {
	endpoint string
	client   *http.Client
}

// httpRequest is the wire format sent to the model service.
type httpRequest struct {
	Prompt    string `json:"prompt"`
	UploadDir string `json:"upload_dir,omitempty"`
}

// Generate posts the prompt and decodes the reply. There is no client-side
// timeout beyond ctx: generation latency is unbounded by design and the
// supervisor owns cancellation.
func (e *HTTPEngine) Generate(ctx context.Context, req Request) (*Result, error) {
	body, err := json.Marshal(httpRequest{Prompt: req.Prompt, UploadDir: req.UploadDir})
	if err != nil {
		return nil, fmt.Errorf("engine: encoding request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("engine: building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	started := time.Now()
	resp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("engine: calling model service: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("engine: model service returned %d after %s: %s",
			resp.StatusCode, time.Since(started).Round(time.Millisecond), string(snippet))
	}

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("engine: decoding response: %w", err)
	}
	return &result, nil
}
