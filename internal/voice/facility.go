// Package voice drives speech capture and speech synthesis as two
// independent state machines on top of pluggable facilities.
package voice

import "context"

// ErrorCause partitions capture failures.
type ErrorCause string

const (
	CauseNetwork    ErrorCause = "network"
	CauseNotAllowed ErrorCause = "not-allowed"
	CauseNoSpeech   ErrorCause = "no-speech"
	CauseAborted    ErrorCause = "aborted"
	CauseOther      ErrorCause = "other"
)

type CaptureOptions struct {
	Locale         string
	Continuous     bool
	InterimResults bool
}

type CaptureEventKind int

const (
	CaptureResult CaptureEventKind = iota
	CaptureError
	CaptureEnd
)

// CaptureEvent is delivered by a capture session. A session emits at most one
// result or error, followed by exactly one end.
type CaptureEvent struct {
	Kind       CaptureEventKind
	Transcript string
	Cause      ErrorCause
	Err        error
}

// Capture is one running capture session.
type Capture interface {
	Events() <-chan CaptureEvent
	Stop()
}

// Recognizer is a speech-to-text facility. Start must not block on audio.
type Recognizer interface {
	Start(ctx context.Context, opts CaptureOptions) (Capture, error)
}

type Voice struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Locale string `json:"locale,omitempty"`
}

type SpeakOptions struct {
	Locale string
	Voice  Voice
}

type SpeechEventKind int

const (
	SpeechStart SpeechEventKind = iota
	SpeechEnd
	SpeechError
)

type SpeechEvent struct {
	Kind SpeechEventKind
	Err  error
}

// Utterance is one running synthesis.
type Utterance interface {
	Events() <-chan SpeechEvent
	Cancel()
}

// Synthesizer is a text-to-speech facility. Speak must return immediately;
// progress arrives on the utterance events.
type Synthesizer interface {
	Voices() []Voice
	Speak(ctx context.Context, text string, opts SpeakOptions) (Utterance, error)
}
