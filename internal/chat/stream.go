package chat

import (
	"context"
	"errors"
	"io"
	"strings"

	"chatrelay/internal/models"
	"chatrelay/internal/service/completion"
	"chatrelay/internal/tokens"
)

// streamState is the lifecycle of one generation run.
type streamState int

const (
	statePending streamState = iota
	stateStreaming
	stateCompleted
	stateCancelled
	stateResponseLimit
	stateFailed
)

// errSinkClosed marks a run aborted because the caller stopped consuming
// events. Nothing is persisted on this path.
var errSinkClosed = errors.New("event sink closed")

// streamSession drives one generation from Pending to a terminal state. It
// owns the accumulation buffer exclusively; the cancellation flag is shared
// read-only through the run handle.
type streamSession struct {
	run           *Run
	counter       tokens.Counter
	sink          Sink
	responseLimit int

	buf   strings.Builder
	state streamState
}

func newStreamSession(run *Run, counter tokens.Counter, sink Sink, responseLimit int) *streamSession {
	return &streamSession{
		run:           run,
		counter:       counter,
		sink:          sink,
		responseLimit: responseLimit,
		state:         statePending,
	}
}

// consume opens the completion stream and processes deltas until a terminal
// transition. Every client-visible event of the run is emitted here, in
// order, before consume returns; persistence is the orchestrator's job and
// happens strictly afterwards. The returned error is non-nil only when the
// sink broke mid-stream.
func (s *streamSession) consume(ctx context.Context, source completion.Source, history []*models.Message) error {
	stream, err := source.Open(ctx, history, s.responseLimit)
	if err != nil {
		s.state = stateFailed
		return s.sink.Send(ErrorEvent{Error: classifyUpstream(err)})
	}
	defer stream.Close()
	s.state = stateStreaming

	for {
		// The flag is checked before each delta so cancellation latency is
		// bounded by one delta's arrival. The stream context is already
		// dropped by then; the connection is closed, not drained.
		if s.run.Cancelled() {
			s.state = stateCancelled
			return s.sink.Send(StoppedEvent{Stopped: true, PartialContent: s.buf.String()})
		}

		delta, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				s.state = stateCompleted
				return nil
			}
			// The flag, not the error, decides whether a mid-stream break is
			// a cancellation. Transport errors are classified only when no
			// stop was requested.
			if s.run.Cancelled() {
				s.state = stateCancelled
				return s.sink.Send(StoppedEvent{Stopped: true, PartialContent: s.buf.String()})
			}
			s.state = stateFailed
			return s.sink.Send(ErrorEvent{Error: classifyUpstream(err)})
		}
		if delta == "" {
			continue
		}

		s.buf.WriteString(delta)
		if s.counter.CountTokens(s.buf.String()) >= s.responseLimit {
			if err := s.sink.Send(TokenEvent{Token: delta}); err != nil {
				s.state = stateFailed
				return errSinkClosed
			}
			s.state = stateResponseLimit
			return s.sink.Send(StoppedEvent{
				Stopped:        true,
				PartialContent: s.buf.String(),
				Reason:         ReasonTokenLimit,
			})
		}
		if err := s.sink.Send(TokenEvent{Token: delta}); err != nil {
			s.state = stateFailed
			return errSinkClosed
		}
	}
}

// persistable reports what to save as the assistant turn. Cancelled and
// limit-truncated runs save the accumulated text even when empty; a normal
// completion saves only when something beyond whitespace was produced;
// failed runs save nothing.
func (s *streamSession) persistable() (string, bool) {
	switch s.state {
	case stateCancelled, stateResponseLimit:
		return s.buf.String(), true
	case stateCompleted:
		text := s.buf.String()
		return text, strings.TrimSpace(text) != ""
	default:
		return "", false
	}
}
