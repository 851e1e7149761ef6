// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

func TestPaintThrottleCoalesces(t *testing.T) {
	var mu sync.Mutex
	var emits []string

	throttle := NewPaintThrottle(20, func(_, buffer string) {
		mu.Lock()
		emits = append(emits, buffer)
		mu.Unlock()
	})

	// A burst far above the repaint rate.
	for i := 0; i < 50; i++ {
		throttle.Offer("conv-1", string(rune('a'+i%26)))
	}
	throttle.Offer("conv-1", "final buffer")

	// One throttle window later everything has settled.
	time.Sleep(200 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(emits) == 0 {
		t.Fatal("no paints emitted")
	}
	if len(emits) >= 51 {
		t.Errorf("throttle passed %d paints through for 51 offers", len(emits))
	}
	if emits[len(emits)-1] != "final buffer" {
		t.Errorf("last emit = %q, want the newest buffer", emits[len(emits)-1])
	}
}

func TestPaintThrottleDropForgetsPending(t *testing.T) {
	var mu sync.Mutex
	var emits []string

	throttle := NewPaintThrottle(5, func(_, buffer string) {
		mu.Lock()
		emits = append(emits, buffer)
		mu.Unlock()
	})

	throttle.Offer("conv-1", "first") // consumes the burst token
	throttle.Offer("conv-1", "queued")
	throttle.Drop("conv-1")

	time.Sleep(300 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	for _, e := range emits {
		if e == "queued" {
			t.Error("dropped buffer still emitted")
		}
	}
}

func TestPaintThrottleKeepsConversationsSeparate(t *testing.T) {
	var mu sync.Mutex
	got := map[string]string{}

	throttle := NewPaintThrottle(1000, func(conversationID, buffer string) {
		mu.Lock()
		got[conversationID] = buffer
		mu.Unlock()
	})

	throttle.Offer("conv-a", "alpha")
	throttle.Offer("conv-b", "beta")
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if got["conv-a"] != "alpha" || got["conv-b"] != "beta" {
		t.Errorf("emits = %v", got)
	}
}

func TestSurfaceRoutesEvents(t *testing.T) {
	var mu sync.Mutex
	var msgs []tea.Msg
	send := func(msg tea.Msg) {
		mu.Lock()
		msgs = append(msgs, msg)
		mu.Unlock()
	}

	s := NewSurface(send, 60)
	s.ShowStatus("conv-1", "thinking")
	s.BeginStreaming("conv-1")
	s.PaintStreaming("conv-1", "Hel")
	s.FinalizeStreaming("conv-1", "Hello")
	s.ShowError("conv-1", "boom")
	s.ClearBusy("conv-1")

	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()

	var sawStatus, sawBegin, sawPaint, sawFinal, sawError, sawClear bool
	for _, msg := range msgs {
		switch v := msg.(type) {
		case StatusEventMsg:
			sawStatus = v.Message == "thinking"
		case StreamBeginMsg:
			sawBegin = true
		case StreamPaintMsg:
			sawPaint = true
		case StreamFinalMsg:
			sawFinal = v.Content == "Hello"
		case StreamErrorMsg:
			sawError = v.Message == "boom"
		case BusyClearMsg:
			sawClear = true
		}
	}
	if !sawStatus || !sawBegin || !sawPaint || !sawFinal || !sawError || !sawClear {
		t.Errorf("missing surface messages: status=%v begin=%v paint=%v final=%v error=%v clear=%v",
			sawStatus, sawBegin, sawPaint, sawFinal, sawError, sawClear)
	}
}
