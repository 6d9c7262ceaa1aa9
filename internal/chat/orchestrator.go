package chat

import (
	"context"
	"fmt"
	"log"
	"strings"

	"chatrelay/internal/models"
	"chatrelay/internal/service/completion"
	"chatrelay/internal/service/transcript"
	"chatrelay/internal/tokens"
)

// Fixed token budgets. Not user-tunable at runtime.
const (
	MaxHistoryTokens       = 11000
	MaxUserMessageTokens   = 1200
	MaxModelResponseTokens = 4096
)

// Limits bundles the token budgets so tests can shrink them.
type Limits struct {
	HistoryTokens     int
	UserMessageTokens int
	ResponseTokens    int
}

// DefaultLimits returns the production budgets.
func DefaultLimits() Limits {
	return Limits{
		HistoryTokens:     MaxHistoryTokens,
		UserMessageTokens: MaxUserMessageTokens,
		ResponseTokens:    MaxModelResponseTokens,
	}
}

// Orchestrator applies the three transcript mutation protocols (Send, Edit,
// Retry) by sequencing store reads/writes around a streamed generation, and
// serves the out-of-band Stop request through the registry.
type Orchestrator struct {
	store    transcript.Store
	source   completion.Source
	counter  tokens.Counter
	registry *Registry
	limits   Limits
}

// NewOrchestrator wires the collaborators. Zero-valued limits fall back to
// the defaults.
func NewOrchestrator(store transcript.Store, source completion.Source, counter tokens.Counter, registry *Registry, limits Limits) *Orchestrator {
	def := DefaultLimits()
	if limits.HistoryTokens <= 0 {
		limits.HistoryTokens = def.HistoryTokens
	}
	if limits.UserMessageTokens <= 0 {
		limits.UserMessageTokens = def.UserMessageTokens
	}
	if limits.ResponseTokens <= 0 {
		limits.ResponseTokens = def.ResponseTokens
	}
	return &Orchestrator{
		store:    store,
		source:   source,
		counter:  counter,
		registry: registry,
		limits:   limits,
	}
}

// Send appends the user message to the session transcript and streams the
// model's reply into sink. A validation error is returned before any event
// is emitted; every later failure is delivered as an in-stream error event.
func (o *Orchestrator) Send(ctx context.Context, sessionID, message string, sink Sink) error {
	sessionID = strings.TrimSpace(sessionID)
	if strings.TrimSpace(message) == "" {
		return ErrEmptyMessage
	}
	if sessionID == "" {
		return ErrSessionRequired
	}

	run, runCtx := o.registry.Register(ctx, sessionID)
	defer o.registry.Release(run)

	// The user message is stored before the length check so an oversized
	// submission can be recovered by editing instead of being lost.
	if _, err := o.store.Append(runCtx, sessionID, models.RoleUser, message); err != nil {
		return o.sendInternal(sink, err)
	}

	if o.counter.CountTokens(message) > o.limits.UserMessageTokens {
		return sink.Send(ErrorEvent{Error: msgMessageTooLong})
	}

	history, err := o.loadWindow(runCtx, sessionID)
	if err != nil {
		return o.sendInternal(sink, err)
	}
	return o.generate(runCtx, run, sessionID, history, sink)
}

// Edit replaces the content of the session's most recent user message in
// place (same id, same creation order), discards the trailing assistant
// message if one exists, and regenerates the reply.
func (o *Orchestrator) Edit(ctx context.Context, sessionID, newContent string, sink Sink) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return ErrSessionRequired
	}
	if newContent == "" {
		return ErrEmptyMessage
	}

	run, runCtx := o.registry.Register(ctx, sessionID)
	defer o.registry.Release(run)

	lastUser, err := o.store.LastByRole(runCtx, sessionID, models.RoleUser)
	if err != nil {
		return o.sendInternal(sink, err)
	}
	if lastUser == nil {
		exists, err := o.store.HasSession(runCtx, sessionID)
		if err != nil {
			return o.sendInternal(sink, err)
		}
		if !exists {
			return sink.Send(ErrorEvent{Error: noSessionMessage(sessionID)})
		}
		return sink.Send(ErrorEvent{Error: msgNothingToEdit})
	}

	// Unlike Send, an oversized edit is rejected before any mutation: the
	// stored message keeps its previous content.
	if o.counter.CountTokens(newContent) > o.limits.UserMessageTokens {
		return sink.Send(ErrorEvent{Error: msgMessageTooLong})
	}

	if err := o.store.UpdateContent(runCtx, lastUser.ID, newContent); err != nil {
		return o.sendInternal(sink, err)
	}
	log.Printf("edit: updated user message %d in session %s", lastUser.ID, shortID(sessionID))

	lastAssistant, err := o.store.LastByRole(runCtx, sessionID, models.RoleAssistant)
	if err != nil {
		return o.sendInternal(sink, err)
	}
	if lastAssistant != nil {
		if err := o.store.Delete(runCtx, lastAssistant.ID); err != nil {
			return o.sendInternal(sink, err)
		}
		log.Printf("edit: deleted assistant message %d in session %s", lastAssistant.ID, shortID(sessionID))
	}

	history, err := o.loadWindow(runCtx, sessionID)
	if err != nil {
		return o.sendInternal(sink, err)
	}
	if len(history) == 0 {
		return sink.Send(ErrorEvent{Error: msgNoHistory})
	}
	return o.generate(runCtx, run, sessionID, history, sink)
}

// Retry deletes the session's most recent assistant message and regenerates
// it. The delete happens before generation: a failure afterwards leaves the
// conversation without a trailing assistant turn, which is accepted.
func (o *Orchestrator) Retry(ctx context.Context, sessionID string, sink Sink) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return ErrSessionRequired
	}

	run, runCtx := o.registry.Register(ctx, sessionID)
	defer o.registry.Release(run)

	lastAssistant, err := o.store.LastByRole(runCtx, sessionID, models.RoleAssistant)
	if err != nil {
		return o.sendInternal(sink, err)
	}
	if lastAssistant == nil {
		return sink.Send(ErrorEvent{Error: msgNothingToRetry})
	}
	if err := o.store.Delete(runCtx, lastAssistant.ID); err != nil {
		return o.sendInternal(sink, err)
	}

	history, err := o.loadWindow(runCtx, sessionID)
	if err != nil {
		return o.sendInternal(sink, err)
	}
	if len(history) == 0 {
		return sink.Send(ErrorEvent{Error: msgNoHistory})
	}
	return o.generate(runCtx, run, sessionID, history, sink)
}

// Stop requests cancellation of the session's active run. It reports whether
// an active run existed; it never waits for the loop to observe the flag.
func (o *Orchestrator) Stop(sessionID string) bool {
	return o.registry.Cancel(strings.TrimSpace(sessionID))
}

// loadWindow reads the full ordered transcript and trims it to the history
// token budget.
func (o *Orchestrator) loadWindow(ctx context.Context, sessionID string) ([]*models.Message, error) {
	all, err := o.store.ListOrdered(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	windowed := Window(all, o.limits.HistoryTokens, o.counter)
	if len(windowed) < len(all) {
		log.Printf("history truncated for session %s: %d -> %d messages", shortID(sessionID), len(all), len(windowed))
	}
	return windowed, nil
}

// generate drives one stream session to a terminal state and persists the
// assistant turn on the paths that keep one. Persistence runs strictly after
// all events of the terminal path were emitted, and exactly once. When the
// sink broke mid-stream the caller is gone: nothing is persisted and the
// registry entry is still released by the protocol's deferred cleanup.
// A failed insert is reported as an error event even when a stopped event
// already went out, so a lost assistant turn is never silent; clients treat
// whichever terminal event arrives last as authoritative.
func (o *Orchestrator) generate(ctx context.Context, run *Run, sessionID string, history []*models.Message, sink Sink) error {
	sess := newStreamSession(run, o.counter, sink, o.limits.ResponseTokens)
	if err := sess.consume(ctx, o.source, history); err != nil {
		log.Printf("stream for session %s aborted: %v", shortID(sessionID), err)
		return nil
	}
	text, ok := sess.persistable()
	if !ok {
		return nil
	}
	// The insert deliberately uses the caller's persistence path even when
	// the run context was cancelled; already-emitted output must survive.
	if _, err := o.store.Append(context.WithoutCancel(ctx), sessionID, models.RoleAssistant, text); err != nil {
		log.Printf("save assistant message for session %s: %v", shortID(sessionID), err)
		return sink.Send(ErrorEvent{Error: err.Error()})
	}
	return nil
}

// sendInternal surfaces an unexpected storage failure as a generic error
// event, mirroring the outermost catch of each protocol.
func (o *Orchestrator) sendInternal(sink Sink, err error) error {
	log.Printf("chat protocol error: %v", err)
	return sink.Send(ErrorEvent{Error: err.Error()})
}

func noSessionMessage(sessionID string) string {
	return fmt.Sprintf("No chat session found with session ID: %s...", shortID(sessionID))
}

// shortID truncates a session id for log lines and user-facing messages.
func shortID(sessionID string) string {
	if len(sessionID) <= 8 {
		return sessionID
	}
	return sessionID[:8]
}
