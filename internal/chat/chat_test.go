package chat

import (
	"context"
	"database/sql"
	"io"
	"strings"
	"testing"

	"chatrelay/internal/config"
	"chatrelay/internal/models"
	"chatrelay/internal/service/completion"
	"chatrelay/internal/service/transcript"
	"chatrelay/internal/storage"
)

// stubCounter counts whitespace-separated words, plus one per message for
// the role.
type stubCounter struct{}

func (stubCounter) CountTokens(text string) int {
	return len(strings.Fields(text))
}

func (stubCounter) CountMessageTokens(role models.Role, content string) int {
	return stubCounter{}.CountTokens(content) + 1
}

// stubSource replays a scripted delta sequence.
type stubSource struct {
	deltas  []string
	openErr error
	recvErr error // returned after the deltas instead of io.EOF
	onOpen  func()
	onRecv  func(delivered int) // called at the top of each Recv

	opens       int
	lastHistory []*models.Message
	lastStream  *scriptedStream
}

func (s *stubSource) Open(ctx context.Context, history []*models.Message, maxResponseTokens int) (completion.Stream, error) {
	s.opens++
	s.lastHistory = history
	if s.onOpen != nil {
		s.onOpen()
	}
	if s.openErr != nil {
		return nil, s.openErr
	}
	s.lastStream = &scriptedStream{deltas: s.deltas, finalErr: s.recvErr, onRecv: s.onRecv}
	return s.lastStream, nil
}

type scriptedStream struct {
	deltas   []string
	next     int
	finalErr error
	closed   bool
	onRecv   func(delivered int)
}

func (s *scriptedStream) Recv() (string, error) {
	if s.onRecv != nil {
		s.onRecv(s.next)
	}
	if s.next < len(s.deltas) {
		d := s.deltas[s.next]
		s.next++
		return d, nil
	}
	if s.finalErr != nil {
		return "", s.finalErr
	}
	return "", io.EOF
}

func (s *scriptedStream) Close() error {
	s.closed = true
	return nil
}

// recorderSink collects emitted events and can react after each token event,
// which gives tests a deterministic point to issue a stop request.
type recorderSink struct {
	events     []any
	afterToken func(tokensSeen int)
	tokensSeen int
}

func (r *recorderSink) Send(event any) error {
	r.events = append(r.events, event)
	if _, ok := event.(TokenEvent); ok {
		r.tokensSeen++
		if r.afterToken != nil {
			r.afterToken(r.tokensSeen)
		}
	}
	return nil
}

func (r *recorderSink) tokens() []string {
	var out []string
	for _, ev := range r.events {
		if tok, ok := ev.(TokenEvent); ok {
			out = append(out, tok.Token)
		}
	}
	return out
}

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	cfg := &config.Config{
		Databases: map[string]config.DatabaseConfig{
			"sqlite3": {DSN: ":memory:"},
		},
	}
	db, err := storage.Open("sqlite3", cfg)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(1)
	if err := storage.Migrate(db, "sqlite3"); err != nil {
		t.Fatalf("migrate db: %v", err)
	}
	return db
}

func newTestOrchestrator(t *testing.T, source *stubSource, limits Limits) (*Orchestrator, transcript.Store, *sql.DB) {
	t.Helper()
	db := openTestDB(t)
	store := transcript.NewSQLStore(db)
	orch := NewOrchestrator(store, source, stubCounter{}, NewRegistry(), limits)
	return orch, store, db
}

func seedMessage(t *testing.T, store transcript.Store, sessionID string, role models.Role, content string) *models.Message {
	t.Helper()
	msg, err := store.Append(context.Background(), sessionID, role, content)
	if err != nil {
		t.Fatalf("seed message: %v", err)
	}
	return msg
}

func listMessages(t *testing.T, store transcript.Store, sessionID string) []*models.Message {
	t.Helper()
	msgs, err := store.ListOrdered(context.Background(), sessionID)
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	return msgs
}
