// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// PaintThrottle coalesces streaming repaints. Deltas can arrive far
// faster than a terminal can usefully repaint; the throttle keeps the
// newest buffer per conversation and emits at a bounded rate, so the
// last offered buffer always reaches the screen.
type PaintThrottle struct {
	mu      sync.Mutex
	limiter *rate.Limiter
	pending map[string]string
	timer   *time.Timer
	emit    func(conversationID, buffer string)
}

// NewPaintThrottle builds a throttle emitting at most fps times per
// second per burst window.
func NewPaintThrottle(fps int, emit func(conversationID, buffer string)) *PaintThrottle {
	if fps < 1 {
		fps = 30
	}
	return &PaintThrottle{
		limiter: rate.NewLimiter(rate.Limit(fps), 1),
		pending: make(map[string]string),
		emit:    emit,
	}
}

// Offer records the newest buffer for the conversation. It emits
// immediately when the limiter allows, otherwise schedules a flush for
// when the next permit lands.
func (p *PaintThrottle) Offer(conversationID, buffer string) {
	p.mu.Lock()
	p.pending[conversationID] = buffer

	if p.timer != nil {
		// A flush is already scheduled; the newer buffer rides along.
		p.mu.Unlock()
		return
	}

	delay := p.limiter.Reserve().Delay()
	if delay == 0 {
		batch := p.takeLocked()
		p.mu.Unlock()
		p.emitAll(batch)
		return
	}

	p.timer = time.AfterFunc(delay, func() {
		p.mu.Lock()
		p.timer = nil
		batch := p.takeLocked()
		p.mu.Unlock()
		p.emitAll(batch)
	})
	p.mu.Unlock()
}

// Drop forgets any pending paint for the conversation. Called when the
// stream finalizes or is discarded: the terminal message supersedes any
// queued repaint.
func (p *PaintThrottle) Drop(conversationID string) {
	p.mu.Lock()
	delete(p.pending, conversationID)
	p.mu.Unlock()
}

func (p *PaintThrottle) takeLocked() map[string]string {
	if len(p.pending) == 0 {
		return nil
	}
	batch := p.pending
	p.pending = make(map[string]string)
	return batch
}

func (p *PaintThrottle) emitAll(batch map[string]string) {
	for conversationID, buffer := range batch {
		p.emit(conversationID, buffer)
	}
}
