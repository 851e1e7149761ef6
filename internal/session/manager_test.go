// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jeranaias/skein-tui/internal/backend"
	"github.com/jeranaias/skein-tui/internal/cache"
)

// ===== FAKES =====

// fakeBackend serves canned streams and records durable writes.
type fakeBackend struct {
	mu sync.Mutex

	// streamBody is returned by OpenStream as NDJSON. When blockStreams
	// is set, OpenStream returns a pipe that never produces instead.
	streamBody   string
	blockStreams bool
	pipeWriters  []*io.PipeWriter

	openErr    error
	replaceErr error

	replaced map[string][]backend.Message
	stops    []string

	fetch func(id string) (*backend.Conversation, bool, error)
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{replaced: make(map[string][]backend.Message)}
}

func (f *fakeBackend) OpenStream(_ context.Context, _ backend.ChatRequest) (*backend.StreamReader, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.openErr != nil {
		return nil, f.openErr
	}
	if f.blockStreams {
		pr, pw := io.Pipe()
		f.pipeWriters = append(f.pipeWriters, pw)
		return backend.NewStreamReader(pr), nil
	}
	return backend.NewStreamReader(io.NopCloser(strings.NewReader(f.streamBody))), nil
}

func (f *fakeBackend) ReplaceMessages(_ context.Context, id string, messages []backend.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.replaceErr != nil {
		return f.replaceErr
	}
	f.replaced[id] = messages
	return nil
}

func (f *fakeBackend) RequestStop(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops = append(f.stops, id)
	return nil
}

func (f *fakeBackend) FetchConversation(ctx context.Context, id string) (*backend.Conversation, bool, error) {
	if f.fetch != nil {
		return f.fetch(id)
	}
	return &backend.Conversation{ID: id}, false, nil
}

func (f *fakeBackend) replacedFor(id string) []backend.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.replaced[id]
}

func (f *fakeBackend) closePipes() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, pw := range f.pipeWriters {
		pw.Close()
	}
}

// nopRenderer satisfies protocol.Renderer for tests that do not assert
// on painting.
type nopRenderer struct{}

func (nopRenderer) ShowStatus(string, string)        {}
func (nopRenderer) BeginStreaming(string)            {}
func (nopRenderer) PaintStreaming(string, string)    {}
func (nopRenderer) FinalizeStreaming(string, string) {}
func (nopRenderer) DiscardStreaming(string)          {}
func (nopRenderer) ShowError(string, string)         {}
func (nopRenderer) ClearBusy(string)                 {}

// ===== HELPERS =====

func openTestCache(t *testing.T) *cache.Cache {
	t.Helper()
	c, err := cache.Open(filepath.Join(t.TempDir(), "cache.db"), 50)
	if err != nil {
		t.Fatalf("failed to open cache: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func newTestManager(t *testing.T, fb *fakeBackend, opts Options) (*Manager, *cache.Cache) {
	t.Helper()
	c := openTestCache(t)
	m := NewManager(fb, c, nil, opts)
	m.SetRenderer(nopRenderer{})
	return m, c
}

func userMessage(conversationID, content string, position int) backend.Message {
	return backend.Message{
		ID:        backend.NewMessageID(conversationID, position),
		Role:      backend.RoleUser,
		Content:   content,
		Timestamp: time.Now(),
	}
}

func helloStream() string {
	return `{"type":"status","message":"thinking"}
{"type":"stream_start"}
{"type":"stream","content":"Hel"}
{"type":"stream","content":"lo"}
{"type":"stream_end","content":"Hello"}
{"type":"done"}
`
}

func waitCompletion(t *testing.T, ch <-chan completionNote) completionNote {
	t.Helper()
	select {
	case note := <-ch:
		return note
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for completion")
		return completionNote{}
	}
}

type completionNote struct {
	conversationID string
	messages       []backend.Message
	background     bool
}

func trackCompletions(m *Manager) <-chan completionNote {
	ch := make(chan completionNote, 8)
	m.SetCompletionFunc(func(conversationID string, messages []backend.Message, background bool) {
		ch <- completionNote{conversationID, messages, background}
	})
	return ch
}

// ===== TESTS =====

func TestDispatchCapEnforced(t *testing.T) {
	fb := newFakeBackend()
	fb.blockStreams = true
	defer fb.closePipes()

	m, _ := newTestManager(t, fb, Options{MaxConcurrent: 2})

	if _, err := m.Dispatch("conv-1", "/ws", "hi", []backend.Message{userMessage("conv-1", "hi", 0)}); err != nil {
		t.Fatalf("first dispatch failed: %v", err)
	}
	if _, err := m.Dispatch("conv-2", "/ws", "hi", []backend.Message{userMessage("conv-2", "hi", 0)}); err != nil {
		t.Fatalf("second dispatch failed: %v", err)
	}

	_, err := m.Dispatch("conv-3", "/ws", "hi", []backend.Message{userMessage("conv-3", "hi", 0)})
	if !errors.Is(err, ErrTooManyStreams) {
		t.Fatalf("third dispatch: err = %v, want ErrTooManyStreams", err)
	}
	if m.ActiveCount() != 2 {
		t.Errorf("ActiveCount = %d, want 2", m.ActiveCount())
	}
	if _, generating := m.ActiveFor("conv-3"); generating {
		t.Error("rejected dispatch left bookkeeping behind")
	}
}

func TestDispatchSameConversationBusy(t *testing.T) {
	fb := newFakeBackend()
	fb.blockStreams = true
	defer fb.closePipes()

	m, _ := newTestManager(t, fb, Options{MaxConcurrent: 4})

	if _, err := m.Dispatch("conv-1", "/ws", "hi", nil); err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}
	if _, err := m.Dispatch("conv-1", "/ws", "again", nil); !errors.Is(err, ErrConversationBusy) {
		t.Fatalf("err = %v, want ErrConversationBusy", err)
	}
}

func TestForegroundCompletionPersists(t *testing.T) {
	fb := newFakeBackend()
	fb.streamBody = helloStream()

	m, c := newTestManager(t, fb, Options{})
	completions := trackCompletions(m)
	m.SwitchForeground("conv-1", nil, false)

	history := []backend.Message{userMessage("conv-1", "say hello", 0)}
	if _, err := m.Dispatch("conv-1", "/ws", "say hello", history); err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}

	note := waitCompletion(t, completions)
	if note.background {
		t.Error("foreground completion flagged background")
	}
	if len(note.messages) != 2 {
		t.Fatalf("got %d messages, want 2", len(note.messages))
	}
	if note.messages[1].Role != backend.RoleAssistant || note.messages[1].Content != "Hello" {
		t.Errorf("assistant message = %+v", note.messages[1])
	}

	if got := fb.replacedFor("conv-1"); len(got) != 2 {
		t.Errorf("durable write has %d messages, want 2", len(got))
	}
	entry, err := c.Get("conv-1")
	if err != nil {
		t.Fatalf("cache entry missing: %v", err)
	}
	if !entry.Synced {
		t.Error("cache entry not marked synced after durable write")
	}
	if m.ActiveCount() != 0 {
		t.Errorf("ActiveCount = %d after completion, want 0", m.ActiveCount())
	}
}

func TestBackgroundCompletionAppendsToSnapshot(t *testing.T) {
	fb := newFakeBackend()
	fb.streamBody = helloStream()

	m, _ := newTestManager(t, fb, Options{})
	completions := trackCompletions(m)

	// Dispatch from conv-a, then view conv-b before the stream lands.
	m.SwitchForeground("conv-a", nil, false)
	history := []backend.Message{userMessage("conv-a", "say hello", 0)}

	// Hold the stream until after the switch.
	fb.mu.Lock()
	fb.blockStreams = true
	fb.mu.Unlock()
	if _, err := m.Dispatch("conv-a", "/ws", "say hello", history); err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}
	m.SwitchForeground("conv-b", nil, false)

	// Feed the held stream its events.
	var writer *io.PipeWriter
	deadline := time.Now().Add(2 * time.Second)
	for writer == nil && time.Now().Before(deadline) {
		fb.mu.Lock()
		if len(fb.pipeWriters) > 0 {
			writer = fb.pipeWriters[0]
		}
		fb.mu.Unlock()
		if writer == nil {
			time.Sleep(5 * time.Millisecond)
		}
	}
	if writer == nil {
		t.Fatal("stream never opened")
	}
	go func() {
		io.WriteString(writer, helloStream())
		writer.Close()
	}()

	note := waitCompletion(t, completions)
	if !note.background {
		t.Error("completion not flagged background after switch")
	}
	if len(note.messages) != 2 {
		t.Fatalf("got %d messages, want 2", len(note.messages))
	}
	if note.messages[0].Content != "say hello" || note.messages[1].Content != "Hello" {
		t.Errorf("history = [%q, %q]", note.messages[0].Content, note.messages[1].Content)
	}
}

func TestSwitchAwayPersistsDirtyConversation(t *testing.T) {
	fb := newFakeBackend()
	m, c := newTestManager(t, fb, Options{})

	m.SwitchForeground("conv-a", nil, false)
	history := []backend.Message{
		userMessage("conv-a", "question", 0),
		{ID: backend.NewMessageID("conv-a", 1), Role: backend.RoleAssistant, Content: "answer"},
	}
	m.SwitchForeground("conv-b", history, true)

	if got := fb.replacedFor("conv-a"); len(got) != 2 {
		t.Fatalf("durable write has %d messages, want 2", len(got))
	}
	entry, err := c.Get("conv-a")
	if err != nil {
		t.Fatalf("cache entry missing: %v", err)
	}
	if !entry.Synced {
		t.Error("switched-away conversation not synced")
	}
	if m.Foreground() != "conv-b" {
		t.Errorf("foreground = %q, want conv-b", m.Foreground())
	}
}

func TestSwitchAwayCheckpointsStreamingBuffer(t *testing.T) {
	fb := newFakeBackend()
	fb.blockStreams = true
	defer fb.closePipes()

	m, c := newTestManager(t, fb, Options{})
	m.SwitchForeground("conv-a", nil, false)

	history := []backend.Message{userMessage("conv-a", "question", 0)}
	requestID, err := m.Dispatch("conv-a", "/ws", "question", history)
	if err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}
	m.MarkStreaming("conv-a", requestID)
	if _, ok := m.AppendDelta("conv-a", requestID, "partial ans"); !ok {
		t.Fatal("append delta failed")
	}

	m.SwitchForeground("conv-b", nil, false)

	entry, err := c.Get("conv-a")
	if err != nil {
		t.Fatalf("cache entry missing: %v", err)
	}
	if entry.StreamingContent != "partial ans" {
		t.Errorf("StreamingContent = %q, want checkpointed buffer", entry.StreamingContent)
	}
	if entry.Synced {
		t.Error("checkpoint must stay unsynced")
	}

	// The request is still live; switching back can rebuild from it.
	ar, ok := m.ActiveFor("conv-a")
	if !ok {
		t.Fatal("active request dropped by switch")
	}
	if ar.Buffer != "partial ans" || ar.Status != StatusStreaming {
		t.Errorf("active request = %+v", ar)
	}
}

func TestAbortCancelsAndRequestsStop(t *testing.T) {
	fb := newFakeBackend()
	fb.blockStreams = true
	defer fb.closePipes()

	m, _ := newTestManager(t, fb, Options{})
	if _, err := m.Dispatch("conv-1", "/ws", "hi", nil); err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}

	m.Abort("conv-1")

	if m.ActiveCount() != 0 {
		t.Errorf("ActiveCount = %d after abort, want 0", m.ActiveCount())
	}
	// The stop request is fire-and-forget.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		fb.mu.Lock()
		stops := len(fb.stops)
		fb.mu.Unlock()
		if stops == 1 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Error("backend never received the stop request")
}

func TestDurableFailureLeavesEntryUnsynced(t *testing.T) {
	fb := newFakeBackend()
	fb.streamBody = helloStream()
	fb.replaceErr = errors.New("backend down")

	m, c := newTestManager(t, fb, Options{})
	completions := trackCompletions(m)
	m.SwitchForeground("conv-1", nil, false)

	history := []backend.Message{userMessage("conv-1", "say hello", 0)}
	if _, err := m.Dispatch("conv-1", "/ws", "say hello", history); err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}
	waitCompletion(t, completions)

	entry, err := c.Get("conv-1")
	if err != nil {
		t.Fatalf("cache entry missing: %v", err)
	}
	if entry.Synced {
		t.Error("entry marked synced despite durable failure")
	}
	if len(entry.Messages) != 2 {
		t.Errorf("cache holds %d messages, want 2", len(entry.Messages))
	}

	// Backend recovers; the startup sweep pushes the entry through.
	fb.mu.Lock()
	fb.replaceErr = nil
	fb.mu.Unlock()
	if synced := m.SyncUnsynced(context.Background()); synced != 1 {
		t.Errorf("SyncUnsynced = %d, want 1", synced)
	}
	entry, err = c.Get("conv-1")
	if err != nil {
		t.Fatal(err)
	}
	if !entry.Synced {
		t.Error("entry still unsynced after sweep")
	}
}

func TestReattachSettles(t *testing.T) {
	fb := newFakeBackend()
	settled := []backend.Message{
		{ID: "conv-1-0-aa", Role: backend.RoleUser, Content: "question"},
		{ID: "conv-1-1-bb", Role: backend.RoleAssistant, Content: "answer"},
	}
	var calls int
	fb.fetch = func(id string) (*backend.Conversation, bool, error) {
		calls++
		if calls < 3 {
			return &backend.Conversation{ID: id, Messages: settled[:1]}, true, nil
		}
		return &backend.Conversation{ID: id, Messages: settled}, false, nil
	}

	m, _ := newTestManager(t, fb, Options{
		ReattachAttempts: 10,
		ReattachInterval: 10 * time.Millisecond,
		StuckPending:     time.Second,
	})

	messages, err := m.Reattach(context.Background(), "conv-1")
	if err != nil {
		t.Fatalf("Reattach failed: %v", err)
	}
	if len(messages) != 2 {
		t.Errorf("got %d messages, want 2", len(messages))
	}
	if calls != 3 {
		t.Errorf("fetch called %d times, want 3", calls)
	}
}

func TestReattachGivesUpOnStuckPending(t *testing.T) {
	fb := newFakeBackend()
	fb.fetch = func(id string) (*backend.Conversation, bool, error) {
		return &backend.Conversation{ID: id}, true, nil
	}

	m, _ := newTestManager(t, fb, Options{
		ReattachAttempts: 3,
		ReattachInterval: 10 * time.Millisecond,
		StuckPending:     time.Second,
	})

	_, err := m.Reattach(context.Background(), "conv-1")
	if !errors.Is(err, ErrStillPending) {
		t.Fatalf("err = %v, want ErrStillPending", err)
	}
}

func TestOpenStreamFailureDropsRequest(t *testing.T) {
	fb := newFakeBackend()
	fb.openErr = errors.New("connection refused")

	m, _ := newTestManager(t, fb, Options{})
	if _, err := m.Dispatch("conv-1", "/ws", "hi", nil); err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if m.ActiveCount() == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Error("failed stream never released its slot")
}
