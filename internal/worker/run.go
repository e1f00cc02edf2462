// Package worker implements the reply worker process. One worker handles
// exactly one generation: it reads a request from stdin, opens its own
// database connection, calls the engine once, and writes exactly one JSON
// result line to stdout before exiting. Stdout is reserved for that line;
// all logging goes to stderr.
package worker

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/zjrosen/parley/internal/engine"
	"github.com/zjrosen/parley/internal/log"
	"github.com/zjrosen/parley/internal/reply"
	"github.com/zjrosen/parley/internal/store"
)

// Run executes one worker lifecycle: decode the request from in, generate,
// and write the single result line to out. A request that cannot be decoded
// returns an error without writing anything; the supervisor treats the
// silent exit as a crash.
func Run(ctx context.Context, in io.Reader, out io.Writer) error {
	req, err := reply.ReadRequest(in)
	if err != nil {
		return err
	}
	return reply.WriteResult(out, Execute(ctx, req))
}

// Execute performs the generation for one request. It never returns without
// a result: errors and panics both become not-OK results so the supervisor
// always hears back from a worker that got this far.
func Execute(ctx context.Context, req reply.WorkerRequest) (res reply.WorkerResult) {
	defer func() {
		if r := recover(); r != nil {
			log.Error(log.CatWorker, "Panic during generation",
				"messageID", req.MessageID, "panic", fmt.Sprint(r))
			res = reply.WorkerResult{Error: fmt.Sprintf("worker panic: %v", r)}
		}
	}()

	db, err := store.NewDB(req.DatabasePath)
	if err != nil {
		return reply.WorkerResult{Error: fmt.Sprintf("opening database: %v", err)}
	}
	st := store.New(db, store.EngineSettings{
		Name:         req.EngineName,
		Endpoint:     req.EngineEndpoint,
		SystemPrompt: req.SystemPrompt,
	})
	defer func() { _ = st.Close() }()

	settings, err := st.EngineSettings()
	if err != nil {
		return reply.WorkerResult{Error: fmt.Sprintf("reading engine settings: %v", err)}
	}
	if settings.Name == "" {
		settings.Name = "echo"
	}
	eng, err := engine.New(settings.Name, engine.Options{Endpoint: settings.Endpoint})
	if err != nil {
		return reply.WorkerResult{Error: fmt.Sprintf("selecting engine: %v", err)}
	}

	autoTitle(ctx, st, eng, req)

	history, err := st.History(req.ConversationID, req.MessageID)
	if err != nil {
		// Generation can proceed without context; log and move on.
		log.Warn(log.CatWorker, "Cannot load history",
			"messageID", req.MessageID, "error", err)
		history = nil
	}
	if req.ParentMessageID != nil {
		// The triggering user message travels in the request as the question;
		// keeping it in the history block would repeat it in the prompt.
		history = dropEntry(history, *req.ParentMessageID)
	}

	prompt := BuildPrompt(PromptData{
		History:      history,
		Now:          time.Now(),
		UploadDir:    reply.UploadDirName(req.OwnerID, req.OwnerDisplayName),
		SystemPrompt: settings.SystemPrompt,
		Question:     req.Content,
		Attachments:  req.Files,
	})

	log.Debug(log.CatWorker, "Generating",
		"messageID", req.MessageID,
		"engine", settings.Name,
		"promptBytes", len(prompt))

	result, err := eng.Generate(ctx, engine.Request{
		Prompt:    prompt,
		UploadDir: reply.UploadDirName(req.OwnerID, req.OwnerDisplayName),
	})
	if err != nil {
		log.ErrorErr(log.CatEngine, "Generation failed", err, "messageID", req.MessageID)
		return reply.WorkerResult{Error: err.Error()}
	}

	log.Debug(log.CatWorker, "Generation complete",
		"messageID", req.MessageID,
		"textBytes", len(result.Text),
		"files", len(result.Files))
	return reply.WorkerResult{OK: true, Text: result.Text, Files: result.Files}
}

// dropEntry returns history without the entry identified by id.
func dropEntry(history []store.HistoryEntry, id int64) []store.HistoryEntry {
	out := history[:0]
	for _, e := range history {
		if e.ID != id {
			out = append(out, e)
		}
	}
	return out
}

// autoTitle names a conversation still carrying the placeholder title using
// the engine's take on the first message. Best effort: any failure leaves
// the placeholder in place and never disturbs the reply.
func autoTitle(ctx context.Context, st *store.Store, eng engine.Engine, req reply.WorkerRequest) {
	title, err := st.ConversationTitle(req.ConversationID)
	if err != nil || title != store.DefaultConversationTitle {
		return
	}

	result, err := eng.Generate(ctx, engine.Request{Prompt: titlePrompt(req.Content)})
	if err != nil {
		log.Debug(log.CatWorker, "Auto-title generation failed",
			"conversationID", req.ConversationID, "error", err)
		return
	}

	next := sanitizeTitle(result.Text)
	if next == "" || next == store.DefaultConversationTitle {
		return
	}
	if err := st.RenameConversation(req.ConversationID, next); err != nil {
		log.Debug(log.CatWorker, "Auto-title rename failed",
			"conversationID", req.ConversationID, "error", err)
		return
	}
	log.Info(log.CatWorker, "Conversation titled",
		"conversationID", req.ConversationID, "title", next)
}
