package consultation

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"drcare/internal/session"
	"drcare/internal/voice"
)

type wireEvent struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func dialFeed(t *testing.T, feed *Feed) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(feed)
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	require.Eventually(t, func() bool { return feed.Clients() > 0 }, time.Second, 5*time.Millisecond)
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) wireEvent {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev wireEvent
	require.NoError(t, conn.ReadJSON(&ev))
	return ev
}

func TestFeedBroadcastsSnapshots(t *testing.T) {
	feed := NewFeed(zerolog.Nop())
	conn := dialFeed(t, feed)

	feed.Changed(View{Snapshot: session.Snapshot{Mode: session.ModeDiet, Version: 3}})
	ev := readEvent(t, conn)
	assert.Equal(t, "snapshot", ev.Type)
	var v View
	require.NoError(t, json.Unmarshal(ev.Data, &v))
	assert.Equal(t, session.ModeDiet, v.Mode)
	assert.Equal(t, uint64(3), v.Version)

	feed.Notice(voice.Notice{Kind: voice.NoticeUnsupported, Message: "no mic"})
	ev = readEvent(t, conn)
	assert.Equal(t, "notice", ev.Type)

	feed.RequestFile(session.ModeXRay)
	ev = readEvent(t, conn)
	assert.Equal(t, "file_request", ev.Type)
	assert.JSONEq(t, `{"mode":"xray"}`, string(ev.Data))
}

func TestFeedSendsLatestSnapshotOnConnect(t *testing.T) {
	feed := NewFeed(zerolog.Nop())
	feed.Changed(View{Snapshot: session.Snapshot{Mode: session.ModeMedicine}})

	conn := dialFeed(t, feed)
	ev := readEvent(t, conn)
	assert.Equal(t, "snapshot", ev.Type)
	var v View
	require.NoError(t, json.Unmarshal(ev.Data, &v))
	assert.Equal(t, session.ModeMedicine, v.Mode)
}

func TestFeedPlayWithoutListeners(t *testing.T) {
	feed := NewFeed(zerolog.Nop())
	err := feed.Play(context.Background(), []byte("mp3"), "mp3")
	assert.ErrorIs(t, err, voice.ErrNoListeners)
}

func TestFeedPlaySendsAudio(t *testing.T) {
	feed := NewFeed(zerolog.Nop())
	conn := dialFeed(t, feed)

	require.NoError(t, feed.Play(context.Background(), []byte("mp3-data"), "mp3"))

	ev := readEvent(t, conn)
	require.Equal(t, "audio", ev.Type)
	var frame audioFrame
	require.NoError(t, json.Unmarshal(ev.Data, &frame))
	assert.NotEmpty(t, frame.ID)
	assert.Equal(t, "mp3", frame.Format)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("mp3-data")), frame.Audio)
}

func TestFeedPlayCancelStopsAudio(t *testing.T) {
	feed := NewFeed(zerolog.Nop())
	conn := dialFeed(t, feed)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	// ten seconds of audio
	go func() { done <- feed.Play(ctx, make([]byte, 10*audioBytesPerSec), "mp3") }()

	ev := readEvent(t, conn)
	require.Equal(t, "audio", ev.Type)
	var started audioFrame
	require.NoError(t, json.Unmarshal(ev.Data, &started))

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Play did not return after cancel")
	}

	ev = readEvent(t, conn)
	assert.Equal(t, "audio_stop", ev.Type)
	var stopped audioFrame
	require.NoError(t, json.Unmarshal(ev.Data, &stopped))
	assert.Equal(t, started.ID, stopped.ID)
}

func TestFeedDropsClosedClients(t *testing.T) {
	feed := NewFeed(zerolog.Nop())
	conn := dialFeed(t, feed)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return feed.Clients() == 0 }, 2*time.Second, 5*time.Millisecond)
}
