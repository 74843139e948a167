package voice

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(t *testing.T, c Capture) []CaptureEvent {
	t.Helper()
	var out []CaptureEvent
	timeout := time.After(3 * time.Second)
	for {
		select {
		case ev, ok := <-c.Events():
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatal("capture did not finish")
		}
	}
}

func waitForRecording(t *testing.T, src *PushSource) {
	t.Helper()
	require.Eventually(t, src.Waiting, time.Second, 5*time.Millisecond)
}

func TestWhisperRecognizerTranscribesPushedAudio(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "en", r.FormValue("language"))
		f, _, err := r.FormFile("file")
		require.NoError(t, err)
		data, _ := io.ReadAll(f)
		assert.Equal(t, "RIFF", string(data))
		json.NewEncoder(w).Encode(map[string]string{"text": " chest pain ", "language": "en"})
	}))
	defer srv.Close()

	src := NewPushSource()
	rec := NewWhisperRecognizer(srv.URL, src, time.Second, zerolog.Nop())
	c, err := rec.Start(context.Background(), CaptureOptions{Locale: "en-US"})
	require.NoError(t, err)

	waitForRecording(t, src)
	require.NoError(t, src.Push([]byte("RIFF")))

	events := collect(t, c)
	require.Len(t, events, 2)
	assert.Equal(t, CaptureResult, events[0].Kind)
	assert.Equal(t, "chest pain", events[0].Transcript)
	assert.Equal(t, CaptureEnd, events[1].Kind)
}

func TestWhisperRecognizerErrorCauses(t *testing.T) {
	empty := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"text": ""})
	}))
	defer empty.Close()
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	defer broken.Close()
	down := httptest.NewServer(http.NotFoundHandler())
	downURL := down.URL
	down.Close()

	cases := []struct {
		name  string
		url   string
		audio []byte
		deny  bool
		cause ErrorCause
	}{
		{"silence", empty.URL, []byte("x"), false, CauseNoSpeech},
		{"empty clip", empty.URL, []byte{}, false, CauseNoSpeech},
		{"service error", broken.URL, []byte("x"), false, CauseOther},
		{"unreachable", downURL, []byte("x"), false, CauseNetwork},
		{"denied", empty.URL, nil, true, CauseNotAllowed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			src := NewPushSource()
			src.Deny(tc.deny)
			rec := NewWhisperRecognizer(tc.url, src, time.Second, zerolog.Nop())
			c, err := rec.Start(context.Background(), CaptureOptions{Locale: "en-US"})
			require.NoError(t, err)
			if !tc.deny {
				waitForRecording(t, src)
				require.NoError(t, src.Push(tc.audio))
			}

			events := collect(t, c)
			require.Len(t, events, 2)
			assert.Equal(t, CaptureError, events[0].Kind)
			assert.Equal(t, tc.cause, events[0].Cause)
			assert.Equal(t, CaptureEnd, events[1].Kind)
		})
	}
}

func TestWhisperRecognizerTimesOutAsNoSpeech(t *testing.T) {
	rec := NewWhisperRecognizer("http://127.0.0.1:1", NewPushSource(), 20*time.Millisecond, zerolog.Nop())
	c, err := rec.Start(context.Background(), CaptureOptions{})
	require.NoError(t, err)

	events := collect(t, c)
	require.Len(t, events, 2)
	assert.Equal(t, CauseNoSpeech, events[0].Cause)
}

func TestWhisperRecognizerStopAborts(t *testing.T) {
	src := NewPushSource()
	rec := NewWhisperRecognizer("http://127.0.0.1:1", src, time.Minute, zerolog.Nop())
	c, err := rec.Start(context.Background(), CaptureOptions{})
	require.NoError(t, err)
	waitForRecording(t, src)

	c.Stop()

	events := collect(t, c)
	require.Len(t, events, 2)
	assert.Equal(t, CauseAborted, events[0].Cause)
	assert.Equal(t, CaptureEnd, events[1].Kind)
}

func TestPushSourceWithoutCapture(t *testing.T) {
	src := NewPushSource()
	assert.ErrorIs(t, src.Push([]byte("x")), ErrNotRecording)
}
