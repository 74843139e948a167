package history

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"drcare/internal/metrics"
	"drcare/internal/report"
	"drcare/internal/session"
)

const (
	initialBackoff = 250 * time.Millisecond
	maxBackoff     = 30 * time.Second
	insertTimeout  = 10 * time.Second
)

// Exporter renders a single record as a downloadable document.
type Exporter interface {
	RecordPDF(rec session.Record) (report.Document, error)
}

// Gateway is the session persistence gateway. Append never blocks the
// caller: records are queued and written by a background worker that keeps
// retrying until the insert succeeds or the gateway is closed.
type Gateway struct {
	repo     Repository
	exporter Exporter
	log      zerolog.Logger
	now      func() time.Time

	mu      sync.Mutex
	pending []session.Record
	wake    chan struct{}
	done    chan struct{}
	stopped chan struct{}
	closed  bool
}

func NewGateway(repo Repository, exporter Exporter, log zerolog.Logger) *Gateway {
	g := &Gateway{
		repo:     repo,
		exporter: exporter,
		log:      log.With().Str("component", "history").Logger(),
		now:      time.Now,
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	go g.worker()
	return g
}

// Append stamps and queues one record. The returned record is what will be
// stored; it is not an acknowledgement that it has been.
func (g *Gateway) Append(query, response, recordType string, profile session.UserProfile) session.Record {
	rec := session.NewRecord(uuid.NewString(), query, response, recordType, profile, g.now())

	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		g.log.Warn().Str("record", rec.ID).Msg("append after close, record dropped")
		metrics.RecordsAppended.WithLabelValues("dropped").Inc()
		return rec
	}
	g.pending = append(g.pending, rec)
	g.mu.Unlock()

	select {
	case g.wake <- struct{}{}:
	default:
	}
	return rec
}

func (g *Gateway) List(ctx context.Context) ([]session.Record, error) {
	return g.repo.List(ctx)
}

func (g *Gateway) Get(ctx context.Context, id string) (session.Record, error) {
	return g.repo.Get(ctx, id)
}

// Export produces the downloadable document for rec.
func (g *Gateway) Export(ctx context.Context, rec session.Record) (report.Document, error) {
	if err := ctx.Err(); err != nil {
		return report.Document{}, err
	}
	return g.exporter.RecordPDF(rec)
}

// Close stops retrying, makes one last attempt for every queued record and
// closes the repository.
func (g *Gateway) Close() error {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return nil
	}
	g.closed = true
	g.mu.Unlock()

	close(g.done)
	<-g.stopped
	return g.repo.Close()
}

func (g *Gateway) next() (session.Record, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.pending) == 0 {
		return session.Record{}, false
	}
	rec := g.pending[0]
	g.pending = g.pending[1:]
	return rec, true
}

func (g *Gateway) worker() {
	defer close(g.stopped)
	for {
		select {
		case <-g.done:
			g.flush()
			return
		default:
		}
		if rec, ok := g.next(); ok {
			g.store(rec)
			continue
		}
		select {
		case <-g.wake:
		case <-g.done:
			g.flush()
			return
		}
	}
}

// store inserts rec, backing off exponentially between failed attempts.
func (g *Gateway) store(rec session.Record) {
	backoff := initialBackoff
	for attempt := 1; ; attempt++ {
		err := g.insert(rec)
		if err == nil {
			metrics.RecordsAppended.WithLabelValues("stored").Inc()
			g.log.Debug().Str("record", rec.ID).Str("type", rec.RecordType).Msg("record stored")
			return
		}
		metrics.RecordsAppended.WithLabelValues("retry").Inc()
		g.log.Warn().Err(err).Str("record", rec.ID).Int("attempt", attempt).Dur("backoff", backoff).Msg("history insert failed")

		select {
		case <-time.After(backoff):
		case <-g.done:
			g.requeue(rec)
			return
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func (g *Gateway) requeue(rec session.Record) {
	g.mu.Lock()
	g.pending = append([]session.Record{rec}, g.pending...)
	g.mu.Unlock()
}

func (g *Gateway) flush() {
	for {
		rec, ok := g.next()
		if !ok {
			return
		}
		if err := g.insert(rec); err != nil {
			metrics.RecordsAppended.WithLabelValues("dropped").Inc()
			g.log.Error().Err(err).Str("record", rec.ID).Msg("record lost on shutdown")
			continue
		}
		metrics.RecordsAppended.WithLabelValues("stored").Inc()
	}
}

func (g *Gateway) insert(rec session.Record) error {
	ctx, cancel := context.WithTimeout(context.Background(), insertTimeout)
	defer cancel()
	return g.repo.Insert(ctx, rec)
}
