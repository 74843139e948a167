package consultation

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"drcare/internal/session"
	"drcare/internal/voice"
)

const (
	feedSendBuffer   = 32
	feedWriteTimeout = 5 * time.Second
	feedPingInterval = 20 * time.Second
	feedReadTimeout  = 60 * time.Second
	// MP3 from the synthesizer is 128 kbps.
	audioBytesPerSec = 128_000 / 8
)

// Event is one websocket frame sent to the UI.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

type fileRequest struct {
	Mode session.PanelMode `json:"mode"`
}

type audioFrame struct {
	ID     string `json:"id"`
	Format string `json:"format,omitempty"`
	Audio  string `json:"audio,omitempty"`
}

// Feed pushes snapshots, notices, file requests and synthesized audio to
// every connected UI. It implements Surface and voice.Player.
type Feed struct {
	upgrader websocket.Upgrader
	log      zerolog.Logger

	mu       sync.Mutex
	clients  map[*feedClient]struct{}
	snapshot []byte
}

type feedClient struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func NewFeed(log zerolog.Logger) *Feed {
	return &Feed{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		log:     log.With().Str("component", "feed").Logger(),
		clients: make(map[*feedClient]struct{}),
	}
}

func (f *Feed) Changed(v View) {
	frame, ok := f.encode(Event{Type: "snapshot", Data: v})
	if !ok {
		return
	}
	f.mu.Lock()
	f.snapshot = frame
	f.mu.Unlock()
	f.broadcast(frame)
}

func (f *Feed) Notice(n voice.Notice) {
	if frame, ok := f.encode(Event{Type: "notice", Data: n}); ok {
		f.broadcast(frame)
	}
}

func (f *Feed) RequestFile(mode session.PanelMode) {
	if frame, ok := f.encode(Event{Type: "file_request", Data: fileRequest{Mode: mode}}); ok {
		f.broadcast(frame)
	}
}

// Play sends audio to the connected UIs and blocks for its estimated
// playing time. Cancelling ctx tells the UIs to stop.
func (f *Feed) Play(ctx context.Context, audio []byte, format string) error {
	if f.Clients() == 0 {
		return voice.ErrNoListeners
	}
	id := uuid.NewString()
	frame, ok := f.encode(Event{Type: "audio", Data: audioFrame{
		ID:     id,
		Format: format,
		Audio:  base64.StdEncoding.EncodeToString(audio),
	}})
	if !ok {
		return errors.New("encode audio frame")
	}
	f.broadcast(frame)

	timer := time.NewTimer(playingTime(len(audio)))
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		if stop, ok := f.encode(Event{Type: "audio_stop", Data: audioFrame{ID: id}}); ok {
			f.broadcast(stop)
		}
		return ctx.Err()
	}
}

func playingTime(n int) time.Duration {
	return time.Duration(n) * time.Second / audioBytesPerSec
}

func (f *Feed) Clients() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.clients)
}

// ServeHTTP upgrades the connection and streams events until the client
// goes away. The latest snapshot is sent first.
func (f *Feed) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		f.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	c := &feedClient{conn: conn, send: make(chan []byte, feedSendBuffer)}

	f.mu.Lock()
	f.clients[c] = struct{}{}
	if f.snapshot != nil {
		c.send <- f.snapshot
	}
	f.mu.Unlock()
	f.log.Debug().Str("remote", r.RemoteAddr).Msg("feed client connected")

	go f.writePump(c)
	f.readPump(c)
}

func (f *Feed) encode(ev Event) ([]byte, bool) {
	frame, err := json.Marshal(ev)
	if err != nil {
		f.log.Error().Err(err).Str("type", ev.Type).Msg("encode feed event")
		return nil, false
	}
	return frame, true
}

func (f *Feed) broadcast(frame []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for c := range f.clients {
		select {
		case c.send <- frame:
		default:
			// too slow to keep up
			f.dropLocked(c)
		}
	}
}

func (f *Feed) drop(c *feedClient) {
	f.mu.Lock()
	f.dropLocked(c)
	f.mu.Unlock()
}

func (f *Feed) dropLocked(c *feedClient) {
	if _, ok := f.clients[c]; !ok {
		return
	}
	delete(f.clients, c)
	c.once.Do(func() { close(c.send) })
}

// readPump only watches for the connection to close; the UI talks to the
// service over plain HTTP.
func (f *Feed) readPump(c *feedClient) {
	defer func() {
		f.drop(c)
		_ = c.conn.Close()
	}()
	_ = c.conn.SetReadDeadline(time.Now().Add(feedReadTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(feedReadTimeout))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (f *Feed) writePump(c *feedClient) {
	ping := time.NewTicker(feedPingInterval)
	defer func() {
		ping.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case frame, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(feedWriteTimeout))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				f.drop(c)
				return
			}
		case <-ping.C:
			if err := c.conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(feedWriteTimeout)); err != nil {
				f.drop(c)
				return
			}
		}
	}
}
