package voice

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	elevenLabsAPIURL = "https://api.elevenlabs.io/v1"
	defaultVoiceID   = "21m00Tcm4TlvDq8ikWAM" // Rachel
)

var ErrNoListeners = errors.New("no one is listening for audio")

// Player renders synthesized audio. Play blocks until playback finished or
// ctx is cancelled.
type Player interface {
	Play(ctx context.Context, audio []byte, format string) error
}

// audience is implemented by players that know how many clients would hear
// the audio.
type audience interface {
	Clients() int
}

type ElevenLabsSynthesizer struct {
	apiKey     string
	baseURL    string
	player     Player
	httpClient *http.Client
	log        zerolog.Logger

	mu     sync.RWMutex
	voices []Voice
}

func NewElevenLabsSynthesizer(apiKey string, player Player, log zerolog.Logger) *ElevenLabsSynthesizer {
	return &ElevenLabsSynthesizer{
		apiKey:  apiKey,
		baseURL: elevenLabsAPIURL,
		player:  player,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		log: log.With().Str("component", "tts").Logger(),
	}
}

// WithBaseURL points the synthesizer at another API root.
func (s *ElevenLabsSynthesizer) WithBaseURL(u string) *ElevenLabsSynthesizer {
	s.baseURL = u
	return s
}

type ttsRequest struct {
	Text          string `json:"text"`
	ModelID       string `json:"model_id"`
	LanguageCode  string `json:"language_code,omitempty"`
	VoiceSettings struct {
		Stability       float64 `json:"stability"`
		SimilarityBoost float64 `json:"similarity_boost"`
	} `json:"voice_settings"`
}

type voicesResponse struct {
	Voices []struct {
		VoiceID string `json:"voice_id"`
		Name    string `json:"name"`
	} `json:"voices"`
}

// LoadVoices fetches the account's voices so Voices can answer without I/O.
func (s *ElevenLabsSynthesizer) LoadVoices(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/voices", nil)
	if err != nil {
		return err
	}
	req.Header.Set("xi-api-key", s.apiKey)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("TTS voices error: %s - %s", resp.Status, string(body))
	}

	var vr voicesResponse
	if err := json.NewDecoder(resp.Body).Decode(&vr); err != nil {
		return err
	}
	voices := make([]Voice, 0, len(vr.Voices))
	for _, v := range vr.Voices {
		voices = append(voices, Voice{ID: v.VoiceID, Name: v.Name})
	}
	s.mu.Lock()
	s.voices = voices
	s.mu.Unlock()
	return nil
}

func (s *ElevenLabsSynthesizer) Voices() []Voice {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Voice(nil), s.voices...)
}

type utteranceTask struct {
	events chan SpeechEvent
	cancel context.CancelFunc
}

func (u *utteranceTask) Events() <-chan SpeechEvent { return u.events }
func (u *utteranceTask) Cancel()                    { u.cancel() }

func (s *ElevenLabsSynthesizer) Speak(ctx context.Context, text string, opts SpeakOptions) (Utterance, error) {
	if s.player == nil {
		return nil, errors.New("no audio player")
	}
	// synthesis is billed per request
	if a, ok := s.player.(audience); ok && a.Clients() == 0 {
		return nil, ErrNoListeners
	}
	ctx, cancel := context.WithCancel(ctx)
	u := &utteranceTask{events: make(chan SpeechEvent, 2), cancel: cancel}
	go func() {
		defer close(u.events)
		defer cancel()
		audio, err := s.Synthesize(ctx, text, opts)
		if err != nil {
			u.events <- SpeechEvent{Kind: SpeechError, Err: err}
			return
		}
		u.events <- SpeechEvent{Kind: SpeechStart}
		if err := s.player.Play(ctx, audio, "mp3"); err != nil {
			u.events <- SpeechEvent{Kind: SpeechError, Err: err}
			return
		}
		u.events <- SpeechEvent{Kind: SpeechEnd}
	}()
	return u, nil
}

// Synthesize returns MP3 audio for text.
func (s *ElevenLabsSynthesizer) Synthesize(ctx context.Context, text string, opts SpeakOptions) ([]byte, error) {
	voiceID := opts.Voice.ID
	if voiceID == "" {
		voiceID = defaultVoiceID
	}

	url := fmt.Sprintf("%s/text-to-speech/%s", s.baseURL, voiceID)

	reqBody := ttsRequest{
		Text:    text,
		ModelID: "eleven_multilingual_v2",
	}
	if lang, _, _ := strings.Cut(opts.Locale, "-"); lang != "" {
		reqBody.LanguageCode = lang
	}
	reqBody.VoiceSettings.Stability = 0.5
	reqBody.VoiceSettings.SimilarityBoost = 0.75

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("xi-api-key", s.apiKey)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("TTS API error: %s - %s", resp.Status, string(body))
	}
	return io.ReadAll(resp.Body)
}
