package reply

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"

	"github.com/zjrosen/parley/internal/engine"
)

// AttachedFile describes a user upload attached to the message being
// answered. Paths are relative to the upload root.
type AttachedFile struct {
	FileName  string `json:"file_name"`
	FilePath  string `json:"file_path"`
	MimeType  string `json:"mime_type,omitempty"`
	SizeBytes int64  `json:"size_bytes,omitempty"`
}

// WorkerRequest is the JSON document the supervisor writes to the worker's
// stdin. It carries the job plus enough environment for the worker to open
// its own database connection; worker and supervisor share nothing in
// memory.
type WorkerRequest struct {
	MessageID        int64          `json:"message_id"`
	ConversationID   int64          `json:"conversation_id"`
	ParentMessageID  *int64         `json:"parent_message_id,omitempty"`
	Content          string         `json:"content"`
	Files            []AttachedFile `json:"files,omitempty"`
	OwnerID          int64          `json:"owner_id"`
	OwnerDisplayName string         `json:"owner_display_name,omitempty"`

	DatabasePath string `json:"database_path"`
	UploadRoot   string `json:"upload_root"`

	// Fallback engine settings, overridden by persisted settings rows.
	EngineName     string `json:"engine_name,omitempty"`
	EngineEndpoint string `json:"engine_endpoint,omitempty"`
	SystemPrompt   string `json:"system_prompt,omitempty"`
}

// WorkerResult is the single JSON line the worker writes to stdout before
// exiting. Exactly one of the two shapes is produced: OK with text/files, or
// not-OK with an error description.
type WorkerResult struct {
	OK    bool                   `json:"ok"`
	Text  string                 `json:"text,omitempty"`
	Files []engine.GeneratedFile `json:"files,omitempty"`
	Error string                 `json:"error,omitempty"`
}

// WriteResult encodes a result as one newline-terminated JSON line.
func WriteResult(w io.Writer, res WorkerResult) error {
	enc := json.NewEncoder(w)
	if err := enc.Encode(res); err != nil {
		return fmt.Errorf("encoding worker result: %w", err)
	}
	return nil
}

// ReadRequest decodes a WorkerRequest from r.
func ReadRequest(r io.Reader) (WorkerRequest, error) {
	var req WorkerRequest
	if err := json.NewDecoder(r).Decode(&req); err != nil {
		return WorkerRequest{}, fmt.Errorf("decoding worker request: %w", err)
	}
	if req.MessageID <= 0 {
		return WorkerRequest{}, fmt.Errorf("worker request missing message ID")
	}
	if req.DatabasePath == "" {
		return WorkerRequest{}, fmt.Errorf("worker request missing database path")
	}
	return req, nil
}

// scanResultLine reads lines until one parses as a WorkerResult. Lines that
// are not valid JSON results (stray prints from the engine) are skipped.
// Returns false if the stream ends without a result.
func scanResultLine(r io.Reader) (WorkerResult, bool) {
	scanner := bufio.NewScanner(r)
	// Generated text plus files can make for a long line.
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 || line[0] != '{' {
			continue
		}
		var res WorkerResult
		if err := json.Unmarshal(line, &res); err != nil {
			continue
		}
		return res, true
	}
	return WorkerResult{}, false
}
