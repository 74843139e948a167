package voice

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

var ErrMicrophoneDenied = errors.New("microphone access denied")

// AudioSource records a single utterance.
type AudioSource interface {
	Record(ctx context.Context) ([]byte, error)
}

// WhisperRecognizer records one utterance from an AudioSource and transcribes
// it with a whisper-style HTTP service (multipart "file" in, {"text"} out).
type WhisperRecognizer struct {
	url        string
	source     AudioSource
	timeout    time.Duration
	httpClient *http.Client
	log        zerolog.Logger
}

func NewWhisperRecognizer(url string, source AudioSource, captureTimeout time.Duration, log zerolog.Logger) *WhisperRecognizer {
	if captureTimeout <= 0 {
		captureTimeout = 30 * time.Second
	}
	return &WhisperRecognizer{
		url:     url,
		source:  source,
		timeout: captureTimeout,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		log: log.With().Str("component", "stt").Logger(),
	}
}

type sttResponse struct {
	Text     string `json:"text"`
	Language string `json:"language"`
}

type captureTask struct {
	events chan CaptureEvent
	cancel context.CancelFunc
}

func (t *captureTask) Events() <-chan CaptureEvent { return t.events }
func (t *captureTask) Stop()                       { t.cancel() }

func (r *WhisperRecognizer) Start(ctx context.Context, opts CaptureOptions) (Capture, error) {
	if r.source == nil {
		return nil, errors.New("no audio source")
	}
	ctx, cancel := context.WithCancel(ctx)
	task := &captureTask{events: make(chan CaptureEvent, 2), cancel: cancel}
	go func() {
		defer close(task.events)
		defer cancel()
		task.events <- r.run(ctx, opts)
		task.events <- CaptureEvent{Kind: CaptureEnd}
	}()
	return task, nil
}

func (r *WhisperRecognizer) run(ctx context.Context, opts CaptureOptions) CaptureEvent {
	recCtx, cancel := context.WithTimeout(ctx, r.timeout)
	audio, err := r.source.Record(recCtx)
	cancel()
	switch {
	case err == nil:
	case ctx.Err() != nil:
		return CaptureEvent{Kind: CaptureError, Cause: CauseAborted, Err: ctx.Err()}
	case errors.Is(err, context.DeadlineExceeded):
		return CaptureEvent{Kind: CaptureError, Cause: CauseNoSpeech, Err: err}
	case errors.Is(err, ErrMicrophoneDenied):
		return CaptureEvent{Kind: CaptureError, Cause: CauseNotAllowed, Err: err}
	default:
		return CaptureEvent{Kind: CaptureError, Cause: "audio-capture", Err: err}
	}
	if len(audio) == 0 {
		return CaptureEvent{Kind: CaptureError, Cause: CauseNoSpeech}
	}

	text, err := r.Transcribe(ctx, audio, opts.Locale)
	if err != nil {
		if ctx.Err() != nil {
			return CaptureEvent{Kind: CaptureError, Cause: CauseAborted, Err: err}
		}
		var netErr net.Error
		if errors.As(err, &netErr) {
			return CaptureEvent{Kind: CaptureError, Cause: CauseNetwork, Err: err}
		}
		return CaptureEvent{Kind: CaptureError, Cause: CauseOther, Err: err}
	}
	if strings.TrimSpace(text) == "" {
		return CaptureEvent{Kind: CaptureError, Cause: CauseNoSpeech}
	}
	return CaptureEvent{Kind: CaptureResult, Transcript: strings.TrimSpace(text)}
}

// Transcribe posts audio to the transcription service.
func (r *WhisperRecognizer) Transcribe(ctx context.Context, audioData []byte, locale string) (string, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("file", "audio.wav")
	if err != nil {
		return "", err
	}
	if _, err := part.Write(audioData); err != nil {
		return "", err
	}
	if lang, _, _ := strings.Cut(locale, "-"); lang != "" {
		if err := writer.WriteField("language", lang); err != nil {
			return "", err
		}
	}
	if err := writer.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("STT API error: %s - %s", resp.Status, string(respBody))
	}

	var result sttResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}
	r.log.Debug().Str("language", result.Language).Int("chars", len(result.Text)).Msg("transcribed")
	return result.Text, nil
}
