// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package protocol

import (
	"testing"

	"github.com/jeranaias/skein-tui/internal/backend"
)

// ===== FAKES =====

type fakeSession struct {
	currentRequest map[string]uint64
	foreground     string
	buffers        map[uint64]string
	streaming      map[uint64]bool

	completed  []completion
	failed     []uint64
	appendFail bool
}

type completion struct {
	conversationID string
	requestID      uint64
	finalText      string
	background     bool
}

func newFakeSession(conversationID string, requestID uint64) *fakeSession {
	return &fakeSession{
		currentRequest: map[string]uint64{conversationID: requestID},
		foreground:     conversationID,
		buffers:        make(map[uint64]string),
		streaming:      make(map[uint64]bool),
	}
}

func (f *fakeSession) IsCurrentRequest(conversationID string, requestID uint64) bool {
	return f.currentRequest[conversationID] == requestID
}

func (f *fakeSession) IsForeground(conversationID string) bool {
	return f.foreground == conversationID
}

func (f *fakeSession) MarkStreaming(_ string, requestID uint64) {
	f.streaming[requestID] = true
}

func (f *fakeSession) AppendDelta(_ string, requestID uint64, delta string) (string, bool) {
	if f.appendFail {
		return "", false
	}
	f.buffers[requestID] += delta
	return f.buffers[requestID], true
}

func (f *fakeSession) Buffer(_ string, requestID uint64) (string, bool) {
	buffer, ok := f.buffers[requestID]
	return buffer, ok
}

func (f *fakeSession) Complete(conversationID string, requestID uint64, finalText string, background bool) {
	f.completed = append(f.completed, completion{conversationID, requestID, finalText, background})
	delete(f.currentRequest, conversationID)
}

func (f *fakeSession) Fail(conversationID string, requestID uint64) {
	f.failed = append(f.failed, requestID)
	delete(f.currentRequest, conversationID)
}

type fakeRenderer struct {
	statuses   []string
	began      int
	paints     []string
	finalized  []string
	discarded  int
	errors     []string
	busyCleard int
}

func (f *fakeRenderer) ShowStatus(_, message string)    { f.statuses = append(f.statuses, message) }
func (f *fakeRenderer) BeginStreaming(string)           { f.began++ }
func (f *fakeRenderer) PaintStreaming(_, buffer string) { f.paints = append(f.paints, buffer) }
func (f *fakeRenderer) FinalizeStreaming(_, content string) {
	f.finalized = append(f.finalized, content)
}
func (f *fakeRenderer) DiscardStreaming(string)     { f.discarded++ }
func (f *fakeRenderer) ShowError(_, message string) { f.errors = append(f.errors, message) }
func (f *fakeRenderer) ClearBusy(string)            { f.busyCleard++ }

func (f *fakeRenderer) touched() bool {
	return len(f.statuses) > 0 || f.began > 0 || len(f.paints) > 0 ||
		len(f.finalized) > 0 || f.discarded > 0 || len(f.errors) > 0 || f.busyCleard > 0
}

// ===== TESTS =====

func TestMachineHappyPath(t *testing.T) {
	session := newFakeSession("conv-1", 7)
	renderer := &fakeRenderer{}
	machine := NewMachine("conv-1", 7, session, renderer)

	machine.HandleEvent(backend.Event{Type: backend.EventStatus, Message: "thinking"})
	if machine.State() != StateStarting {
		t.Fatalf("after status: state = %v, want starting", machine.State())
	}
	machine.HandleEvent(backend.Event{Type: backend.EventStreamStart})
	if machine.State() != StateStreaming {
		t.Fatalf("after stream_start: state = %v, want streaming", machine.State())
	}
	if !session.streaming[7] {
		t.Error("stream_start did not mark the request streaming")
	}

	machine.HandleEvent(backend.Event{Type: backend.EventStream, Content: "Hel"})
	machine.HandleEvent(backend.Event{Type: backend.EventStream, Content: "lo"})
	if got := session.buffers[7]; got != "Hello" {
		t.Errorf("buffer = %q, want %q", got, "Hello")
	}
	if len(renderer.paints) != 2 || renderer.paints[1] != "Hello" {
		t.Errorf("paints = %v, want final paint %q", renderer.paints, "Hello")
	}

	machine.HandleEvent(backend.Event{Type: backend.EventStreamEnd, Content: "Hello"})
	machine.HandleEvent(backend.Event{Type: backend.EventDone})

	if machine.State() != StateCompleted {
		t.Errorf("final state = %v, want completed", machine.State())
	}
	if len(session.completed) != 1 {
		t.Fatalf("completed %d times, want 1", len(session.completed))
	}
	got := session.completed[0]
	if got.finalText != "Hello" || got.background {
		t.Errorf("completion = %+v, want foreground %q", got, "Hello")
	}
	if len(renderer.finalized) != 1 || renderer.finalized[0] != "Hello" {
		t.Errorf("finalized = %v, want [%q]", renderer.finalized, "Hello")
	}
}

func TestMachineDropsStaleEvents(t *testing.T) {
	session := newFakeSession("conv-1", 7)
	renderer := &fakeRenderer{}
	machine := NewMachine("conv-1", 7, session, renderer)

	machine.HandleEvent(backend.Event{Type: backend.EventStreamStart})
	machine.HandleEvent(backend.Event{Type: backend.EventStream, Content: "old"})

	// A newer dispatch supersedes this request.
	session.currentRequest["conv-1"] = 8

	machine.HandleEvent(backend.Event{Type: backend.EventStream, Content: " stale"})
	machine.HandleEvent(backend.Event{Type: backend.EventStreamEnd, Content: "old stale"})
	machine.HandleEvent(backend.Event{Type: backend.EventDone})

	if got := session.buffers[7]; got != "old" {
		t.Errorf("buffer mutated by stale events: %q", got)
	}
	if len(session.completed) != 0 {
		t.Errorf("stale stream_end finalized: %+v", session.completed)
	}
	if machine.Finalized() {
		t.Error("machine finalized off stale events")
	}
}

func TestMachineLongerOfReconciliation(t *testing.T) {
	session := newFakeSession("conv-1", 1)
	renderer := &fakeRenderer{}
	machine := NewMachine("conv-1", 1, session, renderer)

	machine.HandleEvent(backend.Event{Type: backend.EventStreamStart})
	machine.HandleEvent(backend.Event{Type: backend.EventStream, Content: "full local text"})
	// Terminal event carries a truncated body.
	machine.HandleEvent(backend.Event{Type: backend.EventStreamEnd, Content: "full"})

	if session.completed[0].finalText != "full local text" {
		t.Errorf("final = %q, want longer buffer to win", session.completed[0].finalText)
	}

	// And the other direction: event content longer than the buffer.
	session2 := newFakeSession("conv-2", 2)
	machine2 := NewMachine("conv-2", 2, session2, &fakeRenderer{})
	machine2.HandleEvent(backend.Event{Type: backend.EventStreamStart})
	machine2.HandleEvent(backend.Event{Type: backend.EventStream, Content: "par"})
	machine2.HandleEvent(backend.Event{Type: backend.EventStreamEnd, Content: "partial got dropped"})

	if session2.completed[0].finalText != "partial got dropped" {
		t.Errorf("final = %q, want event content to win", session2.completed[0].finalText)
	}
}

func TestMachineResponseIsFallbackOnly(t *testing.T) {
	session := newFakeSession("conv-1", 1)
	machine := NewMachine("conv-1", 1, session, &fakeRenderer{})

	machine.HandleEvent(backend.Event{Type: backend.EventStreamStart})
	machine.HandleEvent(backend.Event{Type: backend.EventStream, Content: "answer"})
	machine.HandleEvent(backend.Event{Type: backend.EventStreamEnd, Content: "answer"})
	// A trailing response event after finalization must be ignored.
	machine.HandleEvent(backend.Event{Type: backend.EventResponse, Content: "answer duplicate"})

	if len(session.completed) != 1 {
		t.Fatalf("completed %d times, want 1", len(session.completed))
	}
	if session.completed[0].finalText != "answer" {
		t.Errorf("final = %q", session.completed[0].finalText)
	}
}

func TestMachineResponseFinalizesWithoutStream(t *testing.T) {
	session := newFakeSession("conv-1", 1)
	machine := NewMachine("conv-1", 1, session, &fakeRenderer{})

	machine.HandleEvent(backend.Event{Type: backend.EventStatus, Message: "thinking"})
	machine.HandleEvent(backend.Event{Type: backend.EventResponse, Content: "one-shot answer"})

	if machine.State() != StateCompleted {
		t.Fatalf("state = %v, want completed", machine.State())
	}
	if session.completed[0].finalText != "one-shot answer" {
		t.Errorf("final = %q", session.completed[0].finalText)
	}
}

func TestMachineErrorDropsRequest(t *testing.T) {
	session := newFakeSession("conv-1", 1)
	renderer := &fakeRenderer{}
	machine := NewMachine("conv-1", 1, session, renderer)

	machine.HandleEvent(backend.Event{Type: backend.EventStreamStart})
	machine.HandleEvent(backend.Event{Type: backend.EventStream, Content: "partial"})
	machine.HandleEvent(backend.Event{Type: backend.EventError, Message: "model unavailable"})

	if machine.State() != StateErrored {
		t.Errorf("state = %v, want errored", machine.State())
	}
	if len(session.completed) != 0 {
		t.Error("errored request was persisted")
	}
	if len(session.failed) != 1 {
		t.Errorf("failed = %v, want one drop", session.failed)
	}
	if len(renderer.errors) != 1 || renderer.errors[0] != "model unavailable" {
		t.Errorf("errors = %v", renderer.errors)
	}
	if renderer.discarded != 1 {
		t.Errorf("discarded = %d, want 1", renderer.discarded)
	}

	// done after error clears busy but never resurrects content.
	machine.HandleEvent(backend.Event{Type: backend.EventDone})
	if len(session.completed) != 0 {
		t.Error("done resurrected an errored request")
	}
}

func TestMachineAbortedDiscardsPartial(t *testing.T) {
	session := newFakeSession("conv-1", 1)
	renderer := &fakeRenderer{}
	machine := NewMachine("conv-1", 1, session, renderer)

	machine.HandleEvent(backend.Event{Type: backend.EventStreamStart})
	machine.HandleEvent(backend.Event{Type: backend.EventStream, Content: "half a thou"})
	machine.HandleEvent(backend.Event{Type: backend.EventAborted})

	if machine.State() != StateAborted {
		t.Errorf("state = %v, want aborted", machine.State())
	}
	if len(session.completed) != 0 {
		t.Error("aborted request was persisted")
	}
	if renderer.discarded != 1 {
		t.Errorf("discarded = %d, want 1", renderer.discarded)
	}
}

func TestMachineDoneFinalizesDanglingBuffer(t *testing.T) {
	// Stream dies without stream_end; done commits the buffer.
	session := newFakeSession("conv-1", 1)
	machine := NewMachine("conv-1", 1, session, &fakeRenderer{})

	machine.HandleEvent(backend.Event{Type: backend.EventStreamStart})
	machine.HandleEvent(backend.Event{Type: backend.EventStream, Content: "orphaned text"})
	machine.HandleEvent(backend.Event{Type: backend.EventDone})

	if len(session.completed) != 1 || session.completed[0].finalText != "orphaned text" {
		t.Fatalf("completed = %+v, want dangling buffer committed", session.completed)
	}
}

func TestMachineDoneWithEmptyBufferAborts(t *testing.T) {
	session := newFakeSession("conv-1", 1)
	machine := NewMachine("conv-1", 1, session, &fakeRenderer{})

	machine.HandleEvent(backend.Event{Type: backend.EventStatus, Message: "thinking"})
	machine.HandleEvent(backend.Event{Type: backend.EventDone})

	if machine.State() != StateAborted {
		t.Errorf("state = %v, want aborted", machine.State())
	}
	if len(session.completed) != 0 {
		t.Error("empty request was persisted")
	}
}

func TestMachineBackgroundCompletionSkipsRenderer(t *testing.T) {
	session := newFakeSession("conv-a", 1)
	session.foreground = "conv-b" // user is looking elsewhere
	renderer := &fakeRenderer{}
	machine := NewMachine("conv-a", 1, session, renderer)

	machine.HandleEvent(backend.Event{Type: backend.EventStatus, Message: "thinking"})
	machine.HandleEvent(backend.Event{Type: backend.EventStreamStart})
	machine.HandleEvent(backend.Event{Type: backend.EventStream, Content: "background answer"})
	machine.HandleEvent(backend.Event{Type: backend.EventStreamEnd, Content: "background answer"})
	machine.HandleEvent(backend.Event{Type: backend.EventDone})

	if renderer.touched() {
		t.Error("renderer was invoked for a background conversation")
	}
	if len(session.completed) != 1 {
		t.Fatalf("completed %d times, want 1", len(session.completed))
	}
	if !session.completed[0].background {
		t.Error("completion not flagged background")
	}
}

func TestMachineStreamBeforeStartIgnored(t *testing.T) {
	session := newFakeSession("conv-1", 1)
	machine := NewMachine("conv-1", 1, session, &fakeRenderer{})

	machine.HandleEvent(backend.Event{Type: backend.EventStream, Content: "premature"})

	if got := session.buffers[1]; got != "" {
		t.Errorf("buffer = %q, want empty", got)
	}
	if machine.State() != StateIdle {
		t.Errorf("state = %v, want idle", machine.State())
	}
}
