package voice

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"drcare/internal/metrics"
)

type NoticeKind string

const (
	NoticeUnsupported NoticeKind = "unsupported"
	NoticeNetwork     NoticeKind = "network"
	NoticePermission  NoticeKind = "permission"
	NoticeGeneric     NoticeKind = "generic"
)

// Notice is a user-visible message. Blocking notices must be acknowledged
// before the user continues.
type Notice struct {
	Kind     NoticeKind `json:"kind"`
	Message  string     `json:"message"`
	Blocking bool       `json:"blocking"`
}

const (
	msgUnsupported = "Voice recognition is not supported on this device."
	msgNetwork     = "Network Error: Voice recognition requires an active internet connection. Please check your WiFi or try a different network."
	msgPermission  = "Microphone Blocked: Please allow microphone access in your settings."
)

// State is the transient voice state. It is never persisted.
type State struct {
	Listening bool `json:"listening"`
	Speaking  bool `json:"speaking"`
}

type Options struct {
	Locale          string
	PreferredVoices []string
	// Dispatch schedules fn on the goroutine that owns the controller.
	// Facility events are only ever applied through it.
	Dispatch func(fn func())
	Notify   func(Notice)
	Logger   zerolog.Logger
}

// Controller owns the listening and speaking sub-machines. All methods must
// be called from the goroutine behind Options.Dispatch.
type Controller struct {
	rec  Recognizer
	syn  Synthesizer
	opts Options
	log  zerolog.Logger

	listening  bool
	capture    Capture
	captureSeq uint64
	onResult   func(string)

	speaking  bool
	utterance Utterance
	speechSeq uint64
}

// NewController wires the facilities. A nil facility marks that half of the
// controller as unsupported on this host.
func NewController(rec Recognizer, syn Synthesizer, opts Options) *Controller {
	if opts.Dispatch == nil {
		panic("voice: Options.Dispatch is required")
	}
	if opts.Notify == nil {
		opts.Notify = func(Notice) {}
	}
	if opts.Locale == "" {
		opts.Locale = "en-US"
	}
	return &Controller{
		rec:  rec,
		syn:  syn,
		opts: opts,
		log:  opts.Logger.With().Str("component", "voice").Logger(),
	}
}

func (c *Controller) State() State {
	return State{Listening: c.listening, Speaking: c.speaking}
}

func (c *Controller) CaptureSupported() bool   { return c.rec != nil }
func (c *Controller) SynthesisSupported() bool { return c.syn != nil }

// Listen is the microphone toggle. When idle it starts a capture session
// whose transcript goes to onResult; when listening it stops the session and
// nothing is delivered.
func (c *Controller) Listen(onResult func(string)) {
	if c.rec == nil {
		c.opts.Notify(Notice{Kind: NoticeUnsupported, Message: msgUnsupported, Blocking: true})
		return
	}
	if c.listening {
		c.stopCapture()
		return
	}

	c.captureSeq++
	seq := c.captureSeq
	c.listening = true
	capture, err := c.rec.Start(context.Background(), CaptureOptions{Locale: c.opts.Locale})
	if err != nil {
		c.log.Error().Err(err).Msg("mic start failed")
		c.listening = false
		return
	}
	c.capture = capture
	c.onResult = onResult
	metrics.VoiceEvents.WithLabelValues("listen", "start").Inc()
	go c.pumpCapture(seq, capture)
}

func (c *Controller) stopCapture() {
	if c.capture != nil {
		c.capture.Stop()
	}
	// bump the sequence so a result still in flight is dropped
	c.captureSeq++
	c.capture = nil
	c.onResult = nil
	c.listening = false
	metrics.VoiceEvents.WithLabelValues("listen", "toggle_stop").Inc()
}

func (c *Controller) pumpCapture(seq uint64, capture Capture) {
	ended := false
	for ev := range capture.Events() {
		ev := ev
		if ev.Kind == CaptureEnd {
			ended = true
		}
		c.opts.Dispatch(func() { c.handleCapture(seq, ev) })
	}
	if !ended {
		c.opts.Dispatch(func() { c.handleCapture(seq, CaptureEvent{Kind: CaptureEnd}) })
	}
}

func (c *Controller) handleCapture(seq uint64, ev CaptureEvent) {
	if seq != c.captureSeq {
		return
	}
	switch ev.Kind {
	case CaptureResult:
		metrics.VoiceEvents.WithLabelValues("listen", "result").Inc()
		c.listening = false
		deliver := c.onResult
		c.onResult = nil
		if deliver != nil {
			deliver(ev.Transcript)
		}
	case CaptureError:
		metrics.VoiceEvents.WithLabelValues("listen", "error").Inc()
		c.log.Debug().Err(ev.Err).Str("cause", string(ev.Cause)).Msg("speech capture error")
		c.listening = false
		c.onResult = nil
		if n, ok := captureNotice(ev); ok {
			c.opts.Notify(n)
		}
	case CaptureEnd:
		metrics.VoiceEvents.WithLabelValues("listen", "end").Inc()
		c.listening = false
		c.capture = nil
		c.onResult = nil
	}
}

func captureNotice(ev CaptureEvent) (Notice, bool) {
	switch ev.Cause {
	case CauseNetwork:
		return Notice{Kind: NoticeNetwork, Message: msgNetwork, Blocking: true}, true
	case CauseNotAllowed:
		return Notice{Kind: NoticePermission, Message: msgPermission, Blocking: true}, true
	case CauseNoSpeech:
		return Notice{}, false
	default:
		detail := string(ev.Cause)
		if ev.Err != nil {
			detail = ev.Err.Error()
		}
		return Notice{Kind: NoticeGeneric, Message: "Voice Error: " + detail, Blocking: true}, true
	}
}

// Speak cancels whatever is being said and starts text.
func (c *Controller) Speak(text string) {
	if c.syn == nil {
		return
	}
	c.cancelUtterance()

	c.speechSeq++
	seq := c.speechSeq
	opts := SpeakOptions{Locale: c.opts.Locale, Voice: SelectVoice(c.syn.Voices(), c.opts.PreferredVoices)}
	u, err := c.syn.Speak(context.Background(), text, opts)
	if err != nil {
		c.log.Warn().Err(err).Msg("speak error")
		c.speaking = false
		return
	}
	c.utterance = u
	c.speaking = true
	go c.pumpSpeech(seq, u)
}

// StopSpeaking cancels the current utterance. It is a no-op when idle.
func (c *Controller) StopSpeaking() {
	if !c.speaking && c.utterance == nil {
		return
	}
	c.cancelUtterance()
	c.speaking = false
}

func (c *Controller) cancelUtterance() {
	if c.utterance == nil {
		return
	}
	c.utterance.Cancel()
	c.utterance = nil
	c.speechSeq++
	metrics.VoiceEvents.WithLabelValues("speak", "cancel").Inc()
}

func (c *Controller) pumpSpeech(seq uint64, u Utterance) {
	terminal := false
	for ev := range u.Events() {
		ev := ev
		if ev.Kind != SpeechStart {
			terminal = true
		}
		c.opts.Dispatch(func() { c.handleSpeech(seq, ev) })
	}
	if !terminal {
		c.opts.Dispatch(func() { c.handleSpeech(seq, SpeechEvent{Kind: SpeechEnd}) })
	}
}

func (c *Controller) handleSpeech(seq uint64, ev SpeechEvent) {
	if seq != c.speechSeq {
		return
	}
	switch ev.Kind {
	case SpeechStart:
		metrics.VoiceEvents.WithLabelValues("speak", "start").Inc()
		c.speaking = true
	case SpeechEnd:
		metrics.VoiceEvents.WithLabelValues("speak", "end").Inc()
		c.speaking = false
		c.utterance = nil
	case SpeechError:
		metrics.VoiceEvents.WithLabelValues("speak", "error").Inc()
		c.log.Warn().Err(ev.Err).Msg("speak error")
		c.speaking = false
		c.utterance = nil
	}
}

// SelectVoice returns the first available voice whose name contains one of
// the preferred names, or the zero Voice to let the host pick its default.
func SelectVoice(available []Voice, preferred []string) Voice {
	for _, v := range available {
		for _, p := range preferred {
			if p != "" && strings.Contains(v.Name, p) {
				return v
			}
		}
	}
	return Voice{}
}
