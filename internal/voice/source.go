package voice

import (
	"context"
	"errors"
	"sync"
)

var ErrNotRecording = errors.New("no capture is waiting for audio")

// PushSource is an AudioSource fed from outside, e.g. by a browser that
// records the microphone and uploads the clip.
type PushSource struct {
	mu      sync.Mutex
	waiting chan []byte
	denied  bool
}

func NewPushSource() *PushSource {
	return &PushSource{}
}

func (s *PushSource) Record(ctx context.Context) ([]byte, error) {
	ch := make(chan []byte, 1)
	s.mu.Lock()
	if s.denied {
		s.mu.Unlock()
		return nil, ErrMicrophoneDenied
	}
	s.waiting = ch
	s.mu.Unlock()

	select {
	case data := <-ch:
		return data, nil
	case <-ctx.Done():
		s.mu.Lock()
		if s.waiting == ch {
			s.waiting = nil
		}
		s.mu.Unlock()
		return nil, ctx.Err()
	}
}

// Push hands a recorded clip to the capture waiting for it.
func (s *PushSource) Push(data []byte) error {
	s.mu.Lock()
	ch := s.waiting
	s.waiting = nil
	s.mu.Unlock()
	if ch == nil {
		return ErrNotRecording
	}
	ch <- data
	return nil
}

// Deny marks the microphone as blocked (or unblocked) by the user.
func (s *PushSource) Deny(denied bool) {
	s.mu.Lock()
	s.denied = denied
	s.mu.Unlock()
}

// Waiting reports whether a capture is currently waiting for audio.
func (s *PushSource) Waiting() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.waiting != nil
}
