package consultation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"drcare/internal/agent"
	"drcare/internal/metrics"
	"drcare/internal/report"
	"drcare/internal/session"
	"drcare/internal/voice"
)

var (
	ErrStopped         = errors.New("consultation service stopped")
	ErrNothingToExport = errors.New("panel has no finished result to export")
	ErrNoProfile       = errors.New("no patient profile for this session")
)

const (
	msgPanelUpdated   = "I have updated the results on the Main Screen."
	msgResultsUpdated = "Results updated."
	msgReportAnalyzed = "Report analyzed and saved."
	msgReportSaved    = "Report saved."
	msgAnalyzing      = "Analyzing image..."
	msgTextFallback   = "Error connecting to AI."
	msgImageFallback  = "Error analyzing image."
	dashboardSymptoms = "Generated via Dr.Care Dashboard"
)

// RoutingPolicy decides which mode a completed text exchange is routed by.
type RoutingPolicy string

const (
	// RouteAtIssue routes by the mode and panel captured when the request was
	// sent. A reply whose panel has since been replaced goes to the transcript.
	RouteAtIssue RoutingPolicy = "issue"
	// RouteAtArrival routes by the mode active when the reply arrives.
	RouteAtArrival RoutingPolicy = "arrival"
)

// Backend is the diagnosis/vision service.
type Backend interface {
	AnalyzeSymptoms(ctx context.Context, userName, text string) (string, error)
	AnalyzeImage(ctx context.Context, userName string, img agent.Image) (string, error)
}

// History is the session persistence gateway.
type History interface {
	Append(query, response, recordType string, profile session.UserProfile) session.Record
	List(ctx context.Context) ([]session.Record, error)
	Get(ctx context.Context, id string) (session.Record, error)
	Export(ctx context.Context, rec session.Record) (report.Document, error)
}

type Reports interface {
	HistorySheet(records []session.Record) (report.Document, error)
	ShareRecord(ctx context.Context, rec session.Record) error
}

// Surface is whatever renders the session. Calls are made from the control
// goroutine and must not block.
type Surface interface {
	Changed(v View)
	Notice(n voice.Notice)
	RequestFile(mode session.PanelMode)
}

// View is the rendered state: the session snapshot plus the voice state.
type View struct {
	session.Snapshot
	Voice voice.State `json:"voice"`
}

type Deps struct {
	Backend     Backend
	History     History
	Reports     Reports
	Recognizer  voice.Recognizer
	Synthesizer voice.Synthesizer
	Surface     Surface
	Previews    *PreviewStore
}

type Options struct {
	Policy          RoutingPolicy
	Locale          string
	PreferredVoices []string
	RequestTimeout  time.Duration
	Logger          zerolog.Logger
}

// Service is the request orchestrator. Every state change runs on the
// goroutine executing Run; exported methods hand work to it and wait.
type Service struct {
	store    *session.Store
	voice    *voice.Controller
	backend  Backend
	history  History
	reports  Reports
	surface  Surface
	previews *PreviewStore
	policy   RoutingPolicy
	timeout  time.Duration
	log      zerolog.Logger

	ops     chan func()
	stopped chan struct{}

	published   uint64
	publishedVS voice.State
}

func NewService(deps Deps, opts Options) *Service {
	if opts.Policy == "" {
		opts.Policy = RouteAtIssue
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 90 * time.Second
	}
	if deps.Previews == nil {
		deps.Previews = NewPreviewStore(0)
	}
	if deps.Surface == nil {
		deps.Surface = nopSurface{}
	}
	s := &Service{
		store:    session.NewStore(),
		backend:  deps.Backend,
		history:  deps.History,
		reports:  deps.Reports,
		surface:  deps.Surface,
		previews: deps.Previews,
		policy:   opts.Policy,
		timeout:  opts.RequestTimeout,
		log:      opts.Logger.With().Str("component", "consultation").Logger(),
		ops:      make(chan func(), 64),
		stopped:  make(chan struct{}),
	}
	s.voice = voice.NewController(deps.Recognizer, deps.Synthesizer, voice.Options{
		Locale:          opts.Locale,
		PreferredVoices: opts.PreferredVoices,
		Dispatch:        s.post,
		Notify:          s.surface.Notice,
		Logger:          opts.Logger,
	})
	s.published = s.store.Version()
	return s
}

// Run processes events until ctx is done.
func (s *Service) Run(ctx context.Context) {
	defer close(s.stopped)
	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-s.ops:
			fn()
			s.publish()
		}
	}
}

// post queues fn for the control goroutine. It is safe from any goroutine
// and drops fn once the service stopped.
func (s *Service) post(fn func()) {
	select {
	case s.ops <- fn:
	case <-s.stopped:
	}
}

// do runs fn on the control goroutine and waits for it.
func (s *Service) do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	select {
	case s.ops <- func() { fn(); close(done) }:
	case <-s.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-s.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) publish() {
	vs := s.voice.State()
	if s.store.Version() == s.published && vs == s.publishedVS {
		return
	}
	s.published = s.store.Version()
	s.publishedVS = vs
	s.surface.Changed(s.view())
}

func (s *Service) view() View {
	return View{Snapshot: s.store.Snapshot(), Voice: s.voice.State()}
}

// View returns the current rendered state.
func (s *Service) View(ctx context.Context) (View, error) {
	var v View
	err := s.do(ctx, func() { v = s.view() })
	return v, err
}

// HasProfile reports whether the entry gate has been passed.
func (s *Service) HasProfile(ctx context.Context) (bool, error) {
	var ok bool
	err := s.do(ctx, func() { _, ok = s.store.Profile() })
	return ok, err
}

// Start records the patient profile. It can only be set once.
func (s *Service) Start(ctx context.Context, p session.UserProfile) error {
	var err error
	if doErr := s.do(ctx, func() {
		err = s.store.Dispatch(session.ProfileSet{Profile: p})
		if err == nil {
			s.log.Info().Str("patient", p.Name).Msg("session started")
		}
	}); doErr != nil {
		return doErr
	}
	return err
}

// SelectMode switches the panel and performs the entry side effect.
func (s *Service) SelectMode(ctx context.Context, mode session.PanelMode) error {
	entry, err := session.Enter(mode)
	if err != nil {
		return err
	}
	return s.do(ctx, func() { s.enter(entry) })
}

// ResetMode returns to the 3D view.
func (s *Service) ResetMode(ctx context.Context) error {
	return s.SelectMode(ctx, session.ModeIdle3D)
}

func (s *Service) enter(entry session.Entry) {
	if err := s.store.Dispatch(session.ModeEntered{Entry: entry}); err != nil {
		s.log.Error().Err(err).Msg("mode transition rejected")
		return
	}
	metrics.ModeTransitions.WithLabelValues(string(entry.Mode)).Inc()
	if entry.Speak != "" {
		s.voice.Speak(entry.Speak)
	}
	if entry.RequestFile {
		s.surface.RequestFile(entry.Mode)
	}
}

// SelectFirstAid opens one protocol of the first aid panel.
func (s *Service) SelectFirstAid(ctx context.Context, id string) error {
	var err error
	if doErr := s.do(ctx, func() {
		err = s.store.Dispatch(session.FirstAidSelected{ID: id})
	}); doErr != nil {
		return doErr
	}
	return err
}

// Send posts a user message and asks the backend about it. Blank input is
// ignored.
func (s *Service) Send(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	return s.do(ctx, func() { s.sendText(text) })
}

// ReportBodyPart sends a symptom picked on the body map.
func (s *Service) ReportBodyPart(ctx context.Context, part, symptom string) error {
	return s.Send(ctx, fmt.Sprintf("I am experiencing %s in my %s.", symptom, part))
}

// ToggleMic starts or stops listening. A transcript is sent as a message.
func (s *Service) ToggleMic(ctx context.Context) error {
	return s.do(ctx, func() {
		s.voice.Listen(func(transcript string) {
			if strings.TrimSpace(transcript) != "" {
				s.sendText(transcript)
			}
		})
	})
}

func (s *Service) StopSpeaking(ctx context.Context) error {
	return s.do(ctx, s.voice.StopSpeaking)
}

// SelectFile sends an image for vision analysis.
func (s *Service) SelectFile(ctx context.Context, img agent.Image) error {
	return s.do(ctx, func() { s.sendImage(img) })
}

// exchange is one outstanding backend request.
type exchange struct {
	ticket  session.Ticket
	profile session.UserProfile
	query   string
	started time.Time
}

func (s *Service) begin(lane session.Lane, query string, markPending bool) exchange {
	profile, _ := s.store.Profile()
	_ = s.store.Dispatch(session.RequestIssued{Lane: lane, MarkPending: markPending})
	metrics.InFlight.Inc()
	return exchange{
		ticket:  s.store.Ticket(lane),
		profile: profile,
		query:   query,
		started: time.Now(),
	}
}

// settle clears the in-flight mark and reports whether ex is still the
// latest request on its lane.
func (s *Service) settle(ex exchange, err error) bool {
	_ = s.store.Dispatch(session.RequestSettled{})
	metrics.InFlight.Dec()
	kind := ex.ticket.Lane.String()
	metrics.RequestDuration.WithLabelValues(kind).Observe(time.Since(ex.started).Seconds())

	current := s.store.Current(ex.ticket)
	outcome := "success"
	switch {
	case !current:
		outcome = "stale"
	case err != nil:
		outcome = "failure"
	}
	metrics.Requests.WithLabelValues(kind, outcome).Inc()

	if err != nil {
		s.log.Error().Err(err).Str("lane", kind).Bool("current", current).Msg("backend exchange failed")
	} else if !current {
		s.log.Info().Str("lane", kind).Msg("stale reply dropped from the surface")
	}
	return current
}

// route picks where a reply lands: the panel with the returned epoch, or
// the transcript when onPanel is false.
func (s *Service) route(t session.Ticket, eligible func(session.PanelMode) bool) (epoch uint64, onPanel bool) {
	if s.policy == RouteAtArrival {
		return s.store.Epoch(), eligible(s.store.Mode()) && s.store.Content() != nil
	}
	return t.Epoch, eligible(t.Mode) && s.store.PanelLive(t)
}

func (s *Service) recordType(t session.Ticket) string {
	if s.policy == RouteAtArrival {
		return s.store.Mode().RecordType()
	}
	return t.Mode.RecordType()
}

func (s *Service) sendText(text string) {
	_ = s.store.Dispatch(session.MessageAppended{Message: session.Message{Role: session.RoleUser, Text: text}})
	ex := s.begin(session.LaneText, text, s.store.Mode().Consultative())
	payload := text + ex.profile.ContextSuffix()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		reply, err := s.backend.AnalyzeSymptoms(ctx, ex.profile.Name, payload)
		s.post(func() { s.completeText(ex, reply, err) })
	}()
}

func (s *Service) completeText(ex exchange, reply string, err error) {
	current := s.settle(ex, err)
	if err != nil {
		if !current {
			return
		}
		epoch, onPanel := s.route(ex.ticket, session.PanelMode.Consultative)
		if onPanel {
			s.dispatch(session.PanelFailed{Epoch: epoch, Text: msgTextFallback, Reason: err.Error()})
			return
		}
		s.botSays(msgTextFallback)
		return
	}

	recordType := s.recordType(ex.ticket)
	if current {
		epoch, onPanel := s.route(ex.ticket, session.PanelMode.Consultative)
		if onPanel {
			s.dispatch(session.PanelResolved{Epoch: epoch, Text: reply})
			s.botSays(msgPanelUpdated)
			s.voice.Speak(msgResultsUpdated)
		} else {
			s.botSays(reply)
			s.voice.Speak(reply)
		}
	}
	s.history.Append(ex.query, reply, recordType, ex.profile)
}

func (s *Service) sendImage(img agent.Image) {
	ref := s.previews.Put(img)
	if s.store.Mode().Upload() {
		s.dispatch(session.ImageAttached{Epoch: s.store.Epoch(), Ref: ref, Placeholder: msgAnalyzing})
	}
	ex := s.begin(session.LaneImage, "Image Analysis: "+img.Name, false)

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		analysis, err := s.backend.AnalyzeImage(ctx, ex.profile.Name, img)
		s.post(func() { s.completeImage(ex, analysis, err) })
	}()
}

func (s *Service) completeImage(ex exchange, analysis string, err error) {
	current := s.settle(ex, err)
	if err != nil {
		if !current {
			return
		}
		epoch, onPanel := s.route(ex.ticket, session.PanelMode.Upload)
		if onPanel {
			s.dispatch(session.PanelFailed{Epoch: epoch, Text: msgImageFallback, Reason: err.Error()})
			return
		}
		s.botSays(msgImageFallback)
		return
	}

	if current {
		epoch, onPanel := s.route(ex.ticket, session.PanelMode.Upload)
		if onPanel {
			s.dispatch(session.PanelResolved{Epoch: epoch, Text: analysis})
			s.botSays(msgReportAnalyzed)
		} else {
			s.botSays(analysis)
		}
		s.voice.Speak(msgReportSaved)
	}
	s.history.Append(ex.query, analysis, session.RecordVisionReport, ex.profile)
}

func (s *Service) botSays(text string) {
	s.dispatch(session.MessageAppended{Message: session.Message{Role: session.RoleBot, Text: text}})
}

func (s *Service) dispatch(a session.Action) {
	if err := s.store.Dispatch(a); err != nil {
		s.log.Warn().Err(err).Str("action", fmt.Sprintf("%T", a)).Msg("action rejected")
	}
}

// DownloadPanel exports the finished panel result as a one-off document. The
// temporary record is not persisted.
func (s *Service) DownloadPanel(ctx context.Context) (report.Document, error) {
	var (
		rec session.Record
		err error
	)
	if doErr := s.do(ctx, func() {
		content := s.store.Content()
		if content == nil || !content.Downloadable() {
			err = ErrNothingToExport
			return
		}
		profile, _ := s.store.Profile()
		rec = session.NewRecord("", dashboardSymptoms, content.Text, content.Title, profile, time.Now())
	}); doErr != nil {
		return report.Document{}, doErr
	}
	if err != nil {
		return report.Document{}, err
	}
	return s.history.Export(ctx, rec)
}

// History lists every persisted record, oldest first.
func (s *Service) History(ctx context.Context) ([]session.Record, error) {
	return s.history.List(ctx)
}

// ExportRecord renders one persisted record.
func (s *Service) ExportRecord(ctx context.Context, id string) (report.Document, error) {
	rec, err := s.history.Get(ctx, id)
	if err != nil {
		return report.Document{}, err
	}
	return s.history.Export(ctx, rec)
}

// HistorySheet exports the whole history as a spreadsheet.
func (s *Service) HistorySheet(ctx context.Context) (report.Document, error) {
	records, err := s.history.List(ctx)
	if err != nil {
		return report.Document{}, err
	}
	return s.reports.HistorySheet(records)
}

// ShareRecord sends one persisted record to the doctor.
func (s *Service) ShareRecord(ctx context.Context, id string) error {
	rec, err := s.history.Get(ctx, id)
	if err != nil {
		return err
	}
	return s.reports.ShareRecord(ctx, rec)
}

// Preview returns an uploaded image by its preview reference.
func (s *Service) Preview(id string) (agent.Image, bool) {
	return s.previews.Get(id)
}

type nopSurface struct{}

func (nopSurface) Changed(View)                  {}
func (nopSurface) Notice(voice.Notice)           {}
func (nopSurface) RequestFile(session.PanelMode) {}
