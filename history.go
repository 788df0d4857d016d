// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package scope

import (
	"fmt"
	"sync"
	"time"
)

// MaxSampleValue bounds analog samples to [-MaxSampleValue, MaxSampleValue].
const MaxSampleValue = 512

// Frame is one captured frame.
type Frame struct {
	Time    time.Time
	Offset  float64               // Seconds from the start of the capture
	Analog  [ChannelCount][]int16 // Raw samples per channel
	Digital []uint16              // One lane bitmask per sample
}

// CaptureBuffer is the capture store shared with the acquisition goroutine.
// FrameCount, Frame and Current may only be called with the read lock held.
type CaptureBuffer interface {
	RLock()
	RUnlock()
	// FrameCount returns the number of history frames.
	FrameCount() int
	// Frame returns a history frame, 0 being the most recent.
	Frame(i int) (Frame, error)
	// Current returns the live frame.
	Current() (Frame, error)
}

// History is a fixed-depth ring of captured frames.
type History struct {
	mu     sync.RWMutex
	frames []Frame
	next   int
	count  int
}

// NewHistory creates a history that keeps the last depth frames.
func NewHistory(depth int) (*History, error) {
	if depth <= 0 {
		return nil, fmt.Errorf("history depth %d: %w", depth, ErrInvalidArgument)
	}
	return &History{frames: make([]Frame, depth)}, nil
}

// Push appends a frame, evicting the oldest when full.
func (h *History) Push(f Frame) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.frames[h.next] = f
	h.next = (h.next + 1) % len(h.frames)
	h.count = min(h.count+1, len(h.frames))
}

// RLock holds the history for reading.
func (h *History) RLock() { h.mu.RLock() }

// RUnlock releases a read lock taken with RLock.
func (h *History) RUnlock() { h.mu.RUnlock() }

// FrameCount returns the number of stored frames.
func (h *History) FrameCount() int {
	return h.count
}

// Frame returns frame i, counting back from the most recent.
func (h *History) Frame(i int) (Frame, error) {
	if i < 0 || i >= h.count {
		return Frame{}, fmt.Errorf("frame %d: %w", i, ErrIndexOutOfRange)
	}
	depth := len(h.frames)
	return h.frames[(h.next-1-i+depth)%depth], nil
}

// Current returns the most recent frame.
func (h *History) Current() (Frame, error) {
	if h.count == 0 {
		return Frame{}, fmt.Errorf("no frame captured: %w", ErrIndexOutOfRange)
	}
	return h.Frame(0)
}
