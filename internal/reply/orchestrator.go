package reply

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/zjrosen/parley/internal/log"
	"github.com/zjrosen/parley/internal/pubsub"
	"github.com/zjrosen/parley/internal/store"
)

// FailedReplyText is the stock content written when a job fails with no
// partial output worth preserving.
const FailedReplyText = "Response failed."

// ErrAlreadyScheduled is returned by Schedule when a reply for the same
// message is still in flight.
var ErrAlreadyScheduled = errors.New("reply already scheduled")

// errWorkerCrashed marks a worker that died without reporting a result.
var errWorkerCrashed = errors.New("worker exited without reporting a result")

// Store is the slice of the persistence layer the orchestrator needs.
// *store.Store satisfies it; tests substitute fakes.
type Store interface {
	MessageStatus(id int64) (store.MessageStatus, error)
	MessageSnapshot(id int64) (store.MessageStatus, string, error)
	ParentMessageID(id int64) (*int64, error)
	CommitReply(messageID, conversationID int64, text string) error
	FailMessage(id int64, text string) error
	InsertMessageFile(f store.MessageFile) (int64, error)
}

// Options parameterize the orchestrator. Zero values fall back to the
// defaults below, except DispatchDelay and GenerationTimeout where zero is
// meaningful (no delay, no cap).
type Options struct {
	// DispatchDelay is the artificial pause between Schedule and spawning
	// the worker, the window in which a cancel is free.
	DispatchDelay time.Duration

	// PollInterval paces the worker liveness check while awaiting a result.
	PollInterval time.Duration

	// GracePeriod is how long a terminated worker gets to exit before it is
	// forcibly killed.
	GracePeriod time.Duration

	// CommitAttempts bounds the commit retry loop under write contention.
	CommitAttempts int

	// RetryBackoff is the base wait between commit attempts.
	RetryBackoff time.Duration

	// GenerationTimeout caps a single generation. Zero means uncapped:
	// generation latency is unbounded and cancellation is the caller's tool.
	GenerationTimeout time.Duration

	// UploadRoot is the on-disk directory for uploads and generated files.
	UploadRoot string

	// URLPrefix is the public path uploads are served under.
	URLPrefix string

	// DatabasePath is handed to workers so they open their own connection.
	DatabasePath string

	// Fallback engine settings, embedded in worker requests.
	EngineName     string
	EngineEndpoint string
	SystemPrompt   string

	// Tracer records supervision spans. Nil means no tracing.
	Tracer trace.Tracer
}

const (
	defaultPollInterval   = 100 * time.Millisecond
	defaultGracePeriod    = time.Second
	defaultCommitAttempts = 3
)

// Orchestrator schedules and supervises reply-generation jobs. Schedule
// returns immediately; all work happens on a per-job goroutine that walks
// the job state machine from delay through dispatch to commit.
type Orchestrator struct {
	store    Store
	registry Registry
	launcher Launcher
	opts     Options
	repairer *LinkRepairer
	broker   *pubsub.Broker[Event]
	tracer   trace.Tracer

	baseCtx   context.Context
	cancelAll context.CancelFunc
	wg        sync.WaitGroup
}

// New creates an orchestrator. Zero option fields other than DispatchDelay
// and GenerationTimeout are defaulted.
func New(st Store, registry Registry, launcher Launcher, opts Options) *Orchestrator {
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.GracePeriod <= 0 {
		opts.GracePeriod = defaultGracePeriod
	}
	if opts.CommitAttempts < 1 {
		opts.CommitAttempts = defaultCommitAttempts
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = store.DefaultRetryBackoff
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("")
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		store:     st,
		registry:  registry,
		launcher:  launcher,
		opts:      opts,
		repairer:  NewLinkRepairer(opts.UploadRoot, opts.URLPrefix),
		broker:    pubsub.NewBroker[Event](),
		tracer:    tracer,
		baseCtx:   ctx,
		cancelAll: cancel,
	}
}

// Events exposes the lifecycle event broker for observers.
func (o *Orchestrator) Events() *pubsub.Broker[Event] {
	return o.broker
}

// Registry exposes the pending-job registry (status endpoints, tests).
func (o *Orchestrator) Registry() Registry {
	return o.registry
}

// Schedule registers a reply job for the pending assistant message and
// returns without blocking. At most one job per message can be in flight;
// a duplicate is rejected with ErrAlreadyScheduled.
func (o *Orchestrator) Schedule(job Job) error {
	if job.MessageID <= 0 || job.ConversationID <= 0 {
		return fmt.Errorf("invalid job: message %d conversation %d", job.MessageID, job.ConversationID)
	}

	ctx, cancel := context.WithCancel(o.baseCtx)
	pending := &PendingJob{
		Job:       job,
		State:     StateScheduled,
		CreatedAt: time.Now(),
		cancel:    cancel,
	}
	if err := o.registry.Put(pending); err != nil {
		cancel()
		return err
	}

	log.Info(log.CatOrch, "Reply scheduled",
		"messageID", job.MessageID,
		"conversationID", job.ConversationID)
	o.broker.Publish(EventScheduled, Event{
		MessageID:      job.MessageID,
		ConversationID: job.ConversationID,
		State:          StateScheduled,
	})

	o.wg.Add(1)
	go o.supervise(ctx, pending)
	return nil
}

// Cancel stops the in-flight job for messageID, if any, and reports whether
// one was found. The worker gets a grace period before a hard kill. Cancel
// does not touch the message row: the caller decides what the cancelled
// message says.
func (o *Orchestrator) Cancel(messageID int64) bool {
	pending, ok := o.registry.Take(messageID)
	if !ok {
		log.Debug(log.CatOrch, "Cancel for idle message", "messageID", messageID)
		return false
	}

	log.Info(log.CatOrch, "Cancelling reply", "messageID", messageID)
	if handle := pending.SignalCancel(); handle != nil {
		o.stopWorker(handle)
	}
	return true
}

// Shutdown cancels every in-flight job and waits for supervisors to drain,
// or for ctx to expire.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.cancelAll()
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		o.broker.Close()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// supervise walks one job through delay, dispatch, await, and commit.
func (o *Orchestrator) supervise(ctx context.Context, pending *PendingJob) {
	defer o.wg.Done()
	job := pending.Job
	// The entry leaves the registry exactly once, here or in Cancel. Removal
	// is by identity: once Cancel has taken this entry, the slot may already
	// belong to a rescheduled job that must not be evicted.
	defer o.registry.Remove(job.MessageID, pending)

	ctx, span := o.tracer.Start(ctx, "reply.supervise",
		trace.WithAttributes(
			attribute.Int64("message.id", job.MessageID),
			attribute.Int64("conversation.id", job.ConversationID),
		))
	defer span.End()

	o.setState(pending, StateDelayed)
	if o.opts.DispatchDelay > 0 {
		select {
		case <-time.After(o.opts.DispatchDelay):
		case <-ctx.Done():
			o.finishCancelled(pending, span)
			return
		}
	}
	if ctx.Err() != nil {
		o.finishCancelled(pending, span)
		return
	}

	parentID, err := o.store.ParentMessageID(job.MessageID)
	if err != nil {
		// Generation can proceed without the parent reference.
		log.Warn(log.CatOrch, "Cannot read parent message",
			"messageID", job.MessageID, "error", err)
		parentID = nil
	}

	handle, err := o.launcher.Launch(ctx, WorkerRequest{
		MessageID:        job.MessageID,
		ConversationID:   job.ConversationID,
		ParentMessageID:  parentID,
		Content:          job.Content,
		Files:            job.Files,
		OwnerID:          job.OwnerID,
		OwnerDisplayName: job.OwnerDisplayName,
		DatabasePath:     o.opts.DatabasePath,
		UploadRoot:       o.opts.UploadRoot,
		EngineName:       o.opts.EngineName,
		EngineEndpoint:   o.opts.EngineEndpoint,
		SystemPrompt:     o.opts.SystemPrompt,
	})
	if err != nil {
		if ctx.Err() != nil {
			o.finishCancelled(pending, span)
			return
		}
		o.failJob(pending, span, fmt.Errorf("launching worker: %w", err), "")
		return
	}
	o.setState(pending, StateDispatched)
	span.AddEvent("worker dispatched", trace.WithAttributes(attribute.Int("worker.pid", handle.PID())))
	o.broker.Publish(EventDispatched, Event{
		MessageID:      job.MessageID,
		ConversationID: job.ConversationID,
		State:          StateDispatched,
	})

	if pending.AttachHandle(handle) {
		// Cancelled while the worker was spawning.
		o.stopWorker(handle)
		o.finishCancelled(pending, span)
		return
	}

	o.setState(pending, StateAwaiting)
	result, err := o.await(ctx, handle)
	if err != nil {
		if ctx.Err() != nil {
			o.stopWorker(handle)
			o.finishCancelled(pending, span)
			return
		}
		o.failJob(pending, span, err, "")
		return
	}

	if !result.OK {
		o.failJob(pending, span, fmt.Errorf("generation failed: %s", result.Error), result.Text)
		return
	}

	o.setState(pending, StateCommitting)
	committed, err := o.commit(ctx, job, result)
	if err != nil {
		// A cancel landing mid-retry surfaces as ctx.Err; the row stays the
		// caller's to finalize, same as a cancel on the await path.
		if ctx.Err() != nil {
			o.finishCancelled(pending, span)
			return
		}
		o.failJob(pending, span, err, result.Text)
		return
	}
	if !committed {
		// Message left pending state while we generated; the row already
		// says what the user should see.
		o.setState(pending, StateCancelled)
		span.AddEvent("commit skipped")
		return
	}

	o.setState(pending, StateDone)
	span.SetStatus(codes.Ok, "")
	log.Info(log.CatOrch, "Reply committed", "messageID", job.MessageID)
	o.broker.Publish(EventCompleted, Event{
		MessageID:      job.MessageID,
		ConversationID: job.ConversationID,
		State:          StateDone,
	})
}

// await blocks until the worker reports, dies, times out, or ctx cancels.
// No busy loop: the result channel does the waiting, the ticker only paces
// the liveness check.
func (o *Orchestrator) await(ctx context.Context, handle WorkerHandle) (WorkerResult, error) {
	ticker := time.NewTicker(o.opts.PollInterval)
	defer ticker.Stop()

	var timeoutC <-chan time.Time
	if o.opts.GenerationTimeout > 0 {
		timer := time.NewTimer(o.opts.GenerationTimeout)
		defer timer.Stop()
		timeoutC = timer.C
	}

	for {
		select {
		case res, ok := <-handle.Results():
			if !ok {
				return WorkerResult{}, errWorkerCrashed
			}
			return res, nil

		case <-ctx.Done():
			return WorkerResult{}, ctx.Err()

		case <-timeoutC:
			o.stopWorker(handle)
			return WorkerResult{}, fmt.Errorf("generation exceeded %s", o.opts.GenerationTimeout)

		case <-ticker.C:
			if handle.Alive() {
				continue
			}
			// Process is gone; give the pipe reader a moment to deliver a
			// result that is already in flight, then call it a crash.
			select {
			case res, ok := <-handle.Results():
				if !ok {
					return WorkerResult{}, errWorkerCrashed
				}
				return res, nil
			case <-time.After(time.Second):
				return WorkerResult{}, errWorkerCrashed
			}
		}
	}
}

// commit persists a successful result. Returns committed=false (no error)
// when the message is no longer pending, in which case nothing is written.
func (o *Orchestrator) commit(ctx context.Context, job Job, result WorkerResult) (bool, error) {
	ctx, span := o.tracer.Start(ctx, "reply.commit",
		trace.WithAttributes(attribute.Int64("message.id", job.MessageID)))
	defer span.End()

	status, err := o.store.MessageStatus(job.MessageID)
	if err != nil {
		return false, fmt.Errorf("checking message status: %w", err)
	}
	if status != store.StatusPending {
		log.Info(log.CatOrch, "Skipping commit, message no longer pending",
			"messageID", job.MessageID, "status", status)
		return false, nil
	}

	rels := persistGeneratedFiles(o.store, o.opts.UploadRoot, job.MessageID, job.OwnerID, job.OwnerDisplayName, result.Files)
	text := downloadLinksBlock(result.Text, o.opts.URLPrefix, rels)
	text = o.repairer.Repair(text)

	err = store.WithRetry(ctx, o.opts.CommitAttempts, o.opts.RetryBackoff, func() error {
		return o.store.CommitReply(job.MessageID, job.ConversationID, text)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "commit failed")
		return false, fmt.Errorf("committing reply: %w", err)
	}
	return true, nil
}

// failJob ends a job on the failure path: the message row gets status
// failed with partial content when there is any, the stock line otherwise.
// A message that already left pending is not touched.
func (o *Orchestrator) failJob(pending *PendingJob, span trace.Span, cause error, partial string) {
	job := pending.Job
	log.ErrorErr(log.CatOrch, "Reply failed", cause, "messageID", job.MessageID)
	span.RecordError(cause)
	span.SetStatus(codes.Error, cause.Error())

	status, content, err := o.store.MessageSnapshot(job.MessageID)
	if err != nil {
		log.ErrorErr(log.CatOrch, "Cannot read message for failure fallback", err,
			"messageID", job.MessageID)
	} else if status == store.StatusPending {
		fallback := partial
		if fallback == "" {
			fallback = content
		}
		if fallback == "" {
			fallback = FailedReplyText
		}
		if err := o.store.FailMessage(job.MessageID, fallback); err != nil {
			log.ErrorErr(log.CatOrch, "Cannot write failure fallback", err,
				"messageID", job.MessageID)
		}
	}

	o.setState(pending, StateFailed)
	o.broker.Publish(EventFailed, Event{
		MessageID:      job.MessageID,
		ConversationID: job.ConversationID,
		State:          StateFailed,
		Err:            cause.Error(),
	})
}

// finishCancelled ends a job on the cancellation path. The message row is
// the caller's to finalize; the supervisor only reports and steps aside.
func (o *Orchestrator) finishCancelled(pending *PendingJob, span trace.Span) {
	job := pending.Job
	log.Info(log.CatOrch, "Reply cancelled", "messageID", job.MessageID)
	span.AddEvent("cancelled")

	o.setState(pending, StateCancelled)
	o.broker.Publish(EventCancelled, Event{
		MessageID:      job.MessageID,
		ConversationID: job.ConversationID,
		State:          StateCancelled,
	})
}

// stopWorker terminates a worker gracefully and hard-kills it if it is
// still alive after the grace period. The kill goroutine joins the drain
// WaitGroup so Shutdown cannot return with a terminate-ignoring worker
// still running. Callers always hold a live supervisor on the group, so
// the Add never races a completed Wait.
func (o *Orchestrator) stopWorker(handle WorkerHandle) {
	if err := handle.Terminate(); err != nil {
		log.Debug(log.CatOrch, "Terminate failed", "pid", handle.PID(), "error", err)
	}
	grace := o.opts.GracePeriod
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		time.Sleep(grace)
		if handle.Alive() {
			log.Warn(log.CatOrch, "Worker ignored terminate, killing", "pid", handle.PID())
			if err := handle.Kill(); err != nil {
				log.Debug(log.CatOrch, "Kill failed", "pid", handle.PID(), "error", err)
			}
		}
	}()
}

// setState advances the job's state, under the registry lock while the
// entry is registered, directly once it has been taken for cancellation.
// The update applies only to this job: the slot may hold a rescheduled
// successor by the time a cancelled supervisor winds down.
func (o *Orchestrator) setState(pending *PendingJob, next JobState) {
	current := pending.State
	if !current.CanTransitionTo(next) && current != next {
		log.Warn(log.CatOrch, "Invalid job state transition",
			"messageID", pending.Job.MessageID,
			"from", current, "to", next)
		return
	}
	updated := false
	_ = o.registry.Update(pending.Job.MessageID, func(j *PendingJob) {
		if j == pending {
			j.State = next
			updated = true
		}
	})
	if !updated {
		pending.State = next
	}
	log.Debug(log.CatOrch, "Job state",
		"messageID", pending.Job.MessageID, "state", next)
}
