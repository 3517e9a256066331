package usecase

import (
	"strings"
	"sync"

	"chatdesk/internal/domain"
	"chatdesk/internal/ports"
)

// captionBoard keeps the settled caption lines plus the current interim line.
type captionBoard struct {
	mu      sync.Mutex
	settled []string
	interim string
}

func (b *captionBoard) Add(event domain.CaptionEvent) (string, bool) {
	text := strings.TrimSpace(event.Text)

	b.mu.Lock()
	defer b.mu.Unlock()

	switch event.Kind {
	case domain.CaptionKindFinal:
		if text == "" {
			return "", false
		}
		b.settled = append(b.settled, text)
		b.interim = ""
	default:
		if text == "" || text == b.interim {
			return "", false
		}
		b.interim = text
	}
	return b.textLocked(), true
}

func (b *captionBoard) Text() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.textLocked()
}

func (b *captionBoard) textLocked() string {
	parts := append([]string(nil), b.settled...)
	if b.interim != "" {
		parts = append(parts, b.interim)
	}
	return strings.Join(parts, " ")
}

func consumeCaptionEvents(stream ports.CaptionStream, board *captionBoard, emit func(string), done chan struct{}) {
	defer close(done)

	for event := range stream.Events() {
		if text, changed := board.Add(event); changed {
			emit(text)
		}
	}
}
