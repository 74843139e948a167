package session

import (
	"errors"
	"fmt"
)

var (
	ErrProfileExists = errors.New("profile already set for this session")
	ErrStalePanel    = errors.New("panel was replaced")
)

const Greeting = "Hello! I am Dr.Care. I am ready to help."

// Lane groups requests that compete for the same surface. Generations are
// counted per lane so an image upload does not make a chat reply stale.
type Lane int

const (
	LaneText Lane = iota
	LaneImage
	laneCount
)

func (l Lane) String() string {
	switch l {
	case LaneText:
		return "text"
	case LaneImage:
		return "image"
	default:
		return fmt.Sprintf("lane(%d)", int(l))
	}
}

// Ticket captures what a request saw when it was issued.
type Ticket struct {
	Lane       Lane
	Generation uint64
	Mode       PanelMode
	Epoch      uint64
}

// Action is a state transition applied by Store.Dispatch.
type Action interface{ action() }

type (
	ProfileSet      struct{ Profile UserProfile }
	ModeEntered     struct{ Entry Entry }
	MessageAppended struct{ Message Message }
	// RequestIssued bumps the lane generation and the in-flight count. With
	// MarkPending the live panel switches to Pending.
	RequestIssued struct {
		Lane        Lane
		MarkPending bool
	}
	RequestSettled struct{}
	PanelResolved  struct {
		Epoch uint64
		Text  string
	}
	PanelFailed struct {
		Epoch  uint64
		Text   string
		Reason string
	}
	ImageAttached struct {
		Epoch       uint64
		Ref         string
		Placeholder string
	}
	FirstAidSelected struct{ ID string }
)

func (ProfileSet) action()       {}
func (ModeEntered) action()      {}
func (MessageAppended) action()  {}
func (RequestIssued) action()    {}
func (RequestSettled) action()   {}
func (PanelResolved) action()    {}
func (PanelFailed) action()      {}
func (ImageAttached) action()    {}
func (FirstAidSelected) action() {}

// Store is the session aggregate. It is owned by one control goroutine and is
// not safe for concurrent use.
type Store struct {
	profile     *UserProfile
	transcript  []Message
	mode        PanelMode
	content     *PanelContent
	epoch       uint64
	inFlight    int
	generations [laneCount]uint64
	version     uint64
}

func NewStore() *Store {
	return &Store{
		transcript: []Message{{Role: RoleBot, Text: Greeting}},
		mode:       ModeIdle3D,
	}
}

// Dispatch applies a single action. A rejected action leaves the store
// untouched.
func (s *Store) Dispatch(a Action) error {
	switch a := a.(type) {
	case ProfileSet:
		if s.profile != nil {
			return ErrProfileExists
		}
		p := a.Profile
		s.profile = &p

	case ModeEntered:
		s.mode = a.Entry.Mode
		s.content = nil
		if a.Entry.Content != nil {
			c := *a.Entry.Content
			s.content = &c
		}
		s.epoch++

	case MessageAppended:
		s.transcript = append(s.transcript, a.Message)

	case RequestIssued:
		s.generations[a.Lane]++
		s.inFlight++
		if a.MarkPending && s.content != nil {
			s.content.Status = StatusPending
		}

	case RequestSettled:
		if s.inFlight > 0 {
			s.inFlight--
		}

	case PanelResolved:
		if err := s.livePanel(a.Epoch); err != nil {
			return err
		}
		s.content.Status = StatusReady
		s.content.Text = a.Text
		s.content.Reason = ""

	case PanelFailed:
		if err := s.livePanel(a.Epoch); err != nil {
			return err
		}
		s.content.Status = StatusFailed
		s.content.Text = a.Text
		s.content.Reason = a.Reason

	case ImageAttached:
		if err := s.livePanel(a.Epoch); err != nil {
			return err
		}
		s.content.Image = a.Ref
		s.content.Text = a.Placeholder
		s.content.Status = StatusPending

	case FirstAidSelected:
		if s.mode != ModeFirstAid || s.content == nil {
			return fmt.Errorf("%w: first aid panel is not open", ErrStalePanel)
		}
		entry, ok := findFirstAid(s.content.FirstAid, a.ID)
		if !ok {
			return fmt.Errorf("%w: %q", ErrUnknownFirstAid, a.ID)
		}
		s.content.Selected = &entry

	default:
		return fmt.Errorf("unsupported action %T", a)
	}
	s.version++
	return nil
}

func (s *Store) livePanel(epoch uint64) error {
	if s.content == nil || epoch != s.epoch {
		return ErrStalePanel
	}
	return nil
}

// Ticket describes the state a request issued on lane right now would see.
// Call it after dispatching RequestIssued.
func (s *Store) Ticket(lane Lane) Ticket {
	return Ticket{Lane: lane, Generation: s.generations[lane], Mode: s.mode, Epoch: s.epoch}
}

// Current reports whether t is still the latest request on its lane.
func (s *Store) Current(t Ticket) bool {
	return s.generations[t.Lane] == t.Generation
}

// PanelLive reports whether the panel t was issued against is still shown.
func (s *Store) PanelLive(t Ticket) bool {
	return s.content != nil && s.epoch == t.Epoch
}

func (s *Store) Profile() (UserProfile, bool) {
	if s.profile == nil {
		return UserProfile{}, false
	}
	return *s.profile, true
}

func (s *Store) Mode() PanelMode { return s.mode }
func (s *Store) Epoch() uint64    { return s.epoch }
func (s *Store) InFlight() bool   { return s.inFlight > 0 }
func (s *Store) Version() uint64  { return s.version }

// Content returns a copy of the panel content, or nil in idle3d.
func (s *Store) Content() *PanelContent {
	if s.content == nil {
		return nil
	}
	c := s.content.clone()
	return &c
}

// Snapshot is a detached copy of the store for rendering.
type Snapshot struct {
	Profile    *UserProfile  `json:"profile"`
	Transcript []Message     `json:"transcript"`
	Mode       PanelMode     `json:"mode"`
	Panel      *PanelContent `json:"panel"`
	InFlight   bool          `json:"in_flight"`
	Version    uint64        `json:"version"`
}

func (s *Store) Snapshot() Snapshot {
	snap := Snapshot{
		Transcript: append([]Message(nil), s.transcript...),
		Mode:       s.mode,
		Panel:      s.Content(),
		InFlight:   s.InFlight(),
		Version:    s.version,
	}
	if s.profile != nil {
		p := *s.profile
		snap.Profile = &p
	}
	return snap
}

func (c PanelContent) clone() PanelContent {
	out := c
	if c.FirstAid != nil {
		out.FirstAid = append([]FirstAidEntry(nil), c.FirstAid...)
	}
	if c.Selected != nil {
		sel := *c.Selected
		out.Selected = &sel
	}
	return out
}
