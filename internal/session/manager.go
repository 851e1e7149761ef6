// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/jeranaias/skein-tui/internal/backend"
	"github.com/jeranaias/skein-tui/internal/cache"
	"github.com/jeranaias/skein-tui/internal/protocol"
	"github.com/jeranaias/skein-tui/internal/util"
)

// ===== ERRORS =====

var (
	// ErrTooManyStreams - the concurrent-generation cap is reached.
	ErrTooManyStreams = errors.New("too many conversations generating")

	// ErrConversationBusy - the conversation already has a request in flight.
	ErrConversationBusy = errors.New("conversation already generating")

	// ErrStillPending - a reopened conversation never left its pending
	// state within the reattach window.
	ErrStillPending = errors.New("conversation still generating on the backend")
)

// ===== ACTIVE REQUESTS =====

// Status is the coarse phase of an in-flight request.
type Status int

const (
	// StatusStarting - dispatched, no deltas yet.
	StatusStarting Status = iota
	// StatusStreaming - deltas are arriving.
	StatusStreaming
)

// ActiveRequest is the bookkeeping for one in-flight generation.
type ActiveRequest struct {
	ConversationID string
	RequestID      uint64
	Status         Status
	// Buffer accumulates stream deltas.
	Buffer string
	// Snapshot is the conversation history at dispatch time, user
	// message included. Background completion appends to this, never
	// to whatever the UI is showing.
	Snapshot  []backend.Message
	StartedAt time.Time

	cancel context.CancelFunc
}

// ===== BACKEND INTERFACE =====

// Backend is the slice of the HTTP client the manager needs.
type Backend interface {
	OpenStream(ctx context.Context, req backend.ChatRequest) (*backend.StreamReader, error)
	ReplaceMessages(ctx context.Context, id string, messages []backend.Message) error
	RequestStop(ctx context.Context, id string) error
	FetchConversation(ctx context.Context, id string) (*backend.Conversation, bool, error)
}

// ===== OPTIONS =====

// Options bound the manager's behavior. Zero values fall back to the
// defaults below.
type Options struct {
	// MaxConcurrent is the generation cap across conversations.
	MaxConcurrent int
	// ReattachAttempts is how many times Reattach polls a pending
	// conversation.
	ReattachAttempts int
	// ReattachInterval is the delay between polls.
	ReattachInterval time.Duration
	// StuckPending is the total time a conversation may stay pending
	// before Reattach gives up.
	StuckPending time.Duration
}

func (o *Options) setDefaults() {
	if o.MaxConcurrent < 1 {
		o.MaxConcurrent = 2
	}
	if o.MaxConcurrent > 8 {
		o.MaxConcurrent = 8
	}
	if o.ReattachAttempts < 1 {
		o.ReattachAttempts = 10
	}
	if o.ReattachInterval <= 0 {
		o.ReattachInterval = time.Second
	}
	if o.StuckPending <= 0 {
		o.StuckPending = 15 * time.Second
	}
}

// ===== MANAGER =====

// CompletionFunc is invoked after a request finalizes and persists.
// messages is the full post-completion history. background reports
// whether the conversation was foreground when the terminal event
// arrived.
type CompletionFunc func(conversationID string, messages []backend.Message, background bool)

// Manager coordinates concurrent generations.
type Manager struct {
	mu sync.Mutex

	client Backend
	cache  *cache.Cache
	logger *util.Logger
	opts   Options

	renderer   protocol.Renderer
	onComplete CompletionFunc

	foregroundID   string
	requestCounter uint64
	active         map[string]*ActiveRequest
}

// NewManager builds a manager over the given backend and cache. The
// cache may be nil (persistence degrades to durable-only), the logger
// may be nil (logging disabled).
func NewManager(client Backend, c *cache.Cache, logger *util.Logger, opts Options) *Manager {
	opts.setDefaults()
	return &Manager{
		client: client,
		cache:  c,
		logger: logger,
		opts:   opts,
		active: make(map[string]*ActiveRequest),
	}
}

// SetRenderer installs the visible surface used for foreground events.
// Must be called before the first Dispatch.
func (m *Manager) SetRenderer(r protocol.Renderer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.renderer = r
}

// SetCompletionFunc installs the post-completion callback.
func (m *Manager) SetCompletionFunc(fn CompletionFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onComplete = fn
}

// MaxConcurrent returns the generation cap.
func (m *Manager) MaxConcurrent() int { return m.opts.MaxConcurrent }

// ActiveCount returns how many conversations are generating.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

// ActiveFor returns a copy of the conversation's in-flight request, if
// any. Used to rebuild the streaming placeholder when the user switches
// back to a generating conversation.
func (m *Manager) ActiveFor(conversationID string) (ActiveRequest, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ar, ok := m.active[conversationID]
	if !ok {
		return ActiveRequest{}, false
	}
	return *ar, true
}

// ===== DISPATCH =====

// Dispatch starts a generation for the conversation. history must
// already include the user's new message. Returns ErrConversationBusy
// if the conversation is generating and ErrTooManyStreams at the cap;
// neither has side effects.
func (m *Manager) Dispatch(conversationID, workspace, userText string, history []backend.Message) (uint64, error) {
	m.mu.Lock()
	if _, busy := m.active[conversationID]; busy {
		m.mu.Unlock()
		return 0, ErrConversationBusy
	}
	if len(m.active) >= m.opts.MaxConcurrent {
		m.mu.Unlock()
		return 0, ErrTooManyStreams
	}

	m.requestCounter++
	requestID := m.requestCounter

	snapshot := make([]backend.Message, len(history))
	copy(snapshot, history)

	ctx, cancel := context.WithCancel(context.Background())
	ar := &ActiveRequest{
		ConversationID: conversationID,
		RequestID:      requestID,
		Status:         StatusStarting,
		Snapshot:       snapshot,
		StartedAt:      time.Now(),
		cancel:         cancel,
	}
	m.active[conversationID] = ar
	renderer := m.renderer
	m.mu.Unlock()

	// The user message is cached before any network I/O so a crash
	// mid-generation cannot lose it.
	m.cachePut(conversationID, snapshot, "")

	go m.consume(ctx, conversationID, requestID, workspace, userText, renderer)
	return requestID, nil
}

// consume opens the event stream and feeds it to a protocol machine.
func (m *Manager) consume(ctx context.Context, conversationID string, requestID uint64, workspace, userText string, renderer protocol.Renderer) {
	stream, err := m.client.OpenStream(ctx, backend.ChatRequest{
		ConversationID: conversationID,
		Workspace:      workspace,
		Message:        userText,
	})
	if err != nil {
		m.logf("stream open failed for %s: %v", conversationID, err)
		foreground := m.IsForeground(conversationID)
		m.Fail(conversationID, requestID)
		if foreground && renderer != nil {
			renderer.ShowError(conversationID, err.Error())
			renderer.ClearBusy(conversationID)
		}
		return
	}
	defer stream.Close()

	machine := protocol.NewMachine(conversationID, requestID, m, renderer)
	err = stream.Process(ctx, machine.HandleEvent)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, context.Canceled) {
		m.logf("stream read failed for %s: %v", conversationID, err)
	}

	// Streams that die without a terminal event still settle: a
	// synthesized done commits the dangling buffer or drops the
	// request. Stale-request checks make this a no-op when the real
	// done already arrived.
	machine.HandleEvent(backend.Event{Type: backend.EventDone})
}

// Abort cancels the conversation's in-flight request and asks the
// backend to stop generating. The partial buffer is discarded.
func (m *Manager) Abort(conversationID string) {
	m.mu.Lock()
	ar, ok := m.active[conversationID]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.active, conversationID)
	m.mu.Unlock()

	ar.cancel()

	// Best effort: the local cancel already stopped the stream.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := m.client.RequestStop(ctx, conversationID); err != nil {
			m.logf("stop request failed for %s: %v", conversationID, err)
		}
	}()
}

// ===== FOREGROUND =====

// Foreground returns the conversation the user is viewing.
func (m *Manager) Foreground() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.foregroundID
}

// IsForeground reports whether the conversation is the one the user is
// viewing. Part of protocol.Session.
func (m *Manager) IsForeground(conversationID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.foregroundID == conversationID
}

// SwitchForeground makes conversationID the viewed conversation.
// prevMessages is the outgoing conversation's history as the UI holds
// it; when prevDirty is set and the outgoing conversation has no
// request in flight, that history is persisted synchronously before the
// switch so nothing rendered-but-unsaved is lost.
func (m *Manager) SwitchForeground(conversationID string, prevMessages []backend.Message, prevDirty bool) {
	m.mu.Lock()
	prev := m.foregroundID
	m.foregroundID = conversationID

	var persistPrev bool
	if prev != "" && prev != conversationID {
		if ar, generating := m.active[prev]; generating {
			// Mid-generation switch: checkpoint the partial buffer so
			// a crash loses at most one repaint of content.
			if m.cache != nil {
				snapshot := make([]backend.Message, len(ar.Snapshot))
				copy(snapshot, ar.Snapshot)
				buffer := ar.Buffer
				m.mu.Unlock()
				if err := m.cache.Put(prev, snapshot, buffer); err != nil {
					m.logf("cache checkpoint failed for %s: %v", prev, err)
				}
				return
			}
		} else if prevDirty {
			persistPrev = true
		}
	}
	m.mu.Unlock()

	if persistPrev {
		m.persist(prev, prevMessages)
	}
}

// ===== PROTOCOL.SESSION =====

// IsCurrentRequest reports whether requestID is still the
// conversation's active request.
func (m *Manager) IsCurrentRequest(conversationID string, requestID uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	ar, ok := m.active[conversationID]
	return ok && ar.RequestID == requestID
}

// MarkStreaming flips the request into its streaming phase.
func (m *Manager) MarkStreaming(conversationID string, requestID uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ar, ok := m.active[conversationID]; ok && ar.RequestID == requestID {
		ar.Status = StatusStreaming
	}
}

// AppendDelta appends a stream delta and returns the full buffer.
func (m *Manager) AppendDelta(conversationID string, requestID uint64, delta string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ar, ok := m.active[conversationID]
	if !ok || ar.RequestID != requestID {
		return "", false
	}
	ar.Buffer += delta
	return ar.Buffer, true
}

// Buffer returns the accumulated buffer.
func (m *Manager) Buffer(conversationID string, requestID uint64) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ar, ok := m.active[conversationID]
	if !ok || ar.RequestID != requestID {
		return "", false
	}
	return ar.Buffer, true
}

// Complete finalizes the request: the assistant message is appended to
// the dispatch-time snapshot, persisted cache-first, and the active
// request is dropped.
func (m *Manager) Complete(conversationID string, requestID uint64, finalText string, background bool) {
	m.mu.Lock()
	ar, ok := m.active[conversationID]
	if !ok || ar.RequestID != requestID {
		m.mu.Unlock()
		return
	}
	delete(m.active, conversationID)

	messages := make([]backend.Message, len(ar.Snapshot), len(ar.Snapshot)+1)
	copy(messages, ar.Snapshot)
	messages = append(messages, backend.Message{
		ID:        backend.NewMessageID(conversationID, len(messages)),
		Role:      backend.RoleAssistant,
		Content:   finalText,
		Timestamp: time.Now(),
	})
	onComplete := m.onComplete
	m.mu.Unlock()

	ar.cancel()
	m.persist(conversationID, messages)

	if onComplete != nil {
		onComplete(conversationID, messages, background)
	}
}

// Fail drops the active request without persisting anything.
func (m *Manager) Fail(conversationID string, requestID uint64) {
	m.mu.Lock()
	ar, ok := m.active[conversationID]
	if !ok || ar.RequestID != requestID {
		m.mu.Unlock()
		return
	}
	delete(m.active, conversationID)
	m.mu.Unlock()
	ar.cancel()
}

// ===== PERSISTENCE =====

// persist writes cache-first, then durably to the backend, and marks
// the cache entry synced only after the durable write succeeds.
func (m *Manager) persist(conversationID string, messages []backend.Message) {
	m.cachePut(conversationID, messages, "")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := m.client.ReplaceMessages(ctx, conversationID, messages); err != nil {
		// The unsynced cache entry survives; SyncUnsynced retries it.
		m.logf("durable save failed for %s: %v", conversationID, err)
		return
	}
	if m.cache != nil {
		if err := m.cache.MarkSynced(conversationID); err != nil && !errors.Is(err, cache.ErrEntryNotFound) {
			m.logf("mark synced failed for %s: %v", conversationID, err)
		}
	}
}

func (m *Manager) cachePut(conversationID string, messages []backend.Message, streamingContent string) {
	if m.cache == nil {
		return
	}
	if err := m.cache.Put(conversationID, messages, streamingContent); err != nil {
		m.logf("cache write failed for %s: %v", conversationID, err)
	}
}

// SyncUnsynced pushes every cache entry the backend has not confirmed.
// Called once at startup.
func (m *Manager) SyncUnsynced(ctx context.Context) int {
	if m.cache == nil {
		return 0
	}
	entries, err := m.cache.ListUnsynced()
	if err != nil {
		m.logf("unsynced sweep failed: %v", err)
		return 0
	}

	synced := 0
	for _, entry := range entries {
		// A conversation generating right now will be persisted by its
		// own completion.
		if _, generating := m.ActiveFor(entry.ConversationID); generating {
			continue
		}
		if err := m.client.ReplaceMessages(ctx, entry.ConversationID, entry.Messages); err != nil {
			m.logf("resync failed for %s: %v", entry.ConversationID, err)
			continue
		}
		if err := m.cache.MarkSynced(entry.ConversationID); err != nil {
			m.logf("mark synced failed for %s: %v", entry.ConversationID, err)
			continue
		}
		synced++
	}
	return synced
}

// ===== REATTACH =====

// Reattach polls a reopened conversation that the backend reports as
// still generating. It returns the settled history once the backend
// finishes, or the latest known history with ErrStillPending when the
// poll budget or the stuck-pending window runs out.
func (m *Manager) Reattach(ctx context.Context, conversationID string) ([]backend.Message, error) {
	deadline := time.Now().Add(m.opts.StuckPending)
	var last []backend.Message

	for attempt := 0; attempt < m.opts.ReattachAttempts; attempt++ {
		conv, pending, err := m.client.FetchConversation(ctx, conversationID)
		if err != nil {
			return last, err
		}
		last = conv.Messages
		if !pending {
			m.cachePut(conversationID, last, "")
			return last, nil
		}
		if time.Now().After(deadline) {
			break
		}

		select {
		case <-ctx.Done():
			return last, ctx.Err()
		case <-time.After(m.opts.ReattachInterval):
		}
	}
	return last, ErrStillPending
}

func (m *Manager) logf(format string, args ...interface{}) {
	if m.logger != nil {
		m.logger.Logf(format, args...)
	}
}
