package session

import (
	"errors"
	"fmt"
)

var ErrUnknownMode = errors.New("unknown panel mode")

// PanelMode is the single active display mode of the main panel.
type PanelMode string

const (
	ModeIdle3D    PanelMode = "idle3d"
	ModeDiagnosis PanelMode = "diagnosis"
	ModeMedicine  PanelMode = "medicine"
	ModeDiet      PanelMode = "diet"
	ModeReport    PanelMode = "report"
	ModeXRay      PanelMode = "xray"
	ModeFirstAid  PanelMode = "firstaid"
)

var modes = []PanelMode{ModeIdle3D, ModeDiagnosis, ModeMedicine, ModeDiet, ModeReport, ModeXRay, ModeFirstAid}

func ParseMode(s string) (PanelMode, error) {
	for _, m := range modes {
		if string(m) == s {
			return m, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownMode, s)
}

// Consultative modes receive text exchange results on the panel instead of
// the transcript.
func (m PanelMode) Consultative() bool {
	return m == ModeDiagnosis || m == ModeMedicine || m == ModeDiet
}

// Upload modes wait for an image and show the vision analysis.
func (m PanelMode) Upload() bool {
	return m == ModeReport || m == ModeXRay
}

// RecordType labels a text exchange completed under m.
func (m PanelMode) RecordType() string {
	switch m {
	case ModeDiagnosis:
		return RecordDeepDiagnosis
	case ModeMedicine:
		return RecordMedicineGuide
	case ModeDiet:
		return RecordDietPlan
	default:
		return RecordGeneralAnalysis
	}
}

// ContentStatus replaces "Waiting for..." placeholders as the not-ready marker.
type ContentStatus string

const (
	StatusNotStarted ContentStatus = "not_started"
	StatusPending    ContentStatus = "pending"
	StatusReady      ContentStatus = "ready"
	StatusFailed     ContentStatus = "failed"
)

// PanelContent is the variant content of the active mode. Text-like modes use
// Title/Prompt/Text, upload modes add Image, first aid uses FirstAid/Selected.
type PanelContent struct {
	Title    string          `json:"title,omitempty"`
	Status   ContentStatus   `json:"status,omitempty"`
	Prompt   string          `json:"prompt,omitempty"`
	Text     string          `json:"text,omitempty"`
	Reason   string          `json:"reason,omitempty"`
	Image    string          `json:"image,omitempty"`
	FirstAid []FirstAidEntry `json:"data,omitempty"`
	Selected *FirstAidEntry  `json:"selected,omitempty"`
}

func (c PanelContent) Loading() bool { return c.Status == StatusPending }

// DisplayText is what the panel shows: the prompt until a result exists,
// including while a request for it is outstanding.
func (c PanelContent) DisplayText() string {
	switch {
	case c.Status == StatusNotStarted:
		return c.Prompt
	case c.Status == StatusPending && c.Text == "":
		return c.Prompt
	}
	return c.Text
}

// Downloadable reports whether the content holds a finished result.
func (c PanelContent) Downloadable() bool {
	return c.Status == StatusReady && c.Text != ""
}

// Entry is the outcome of selecting a mode: fresh content plus the side
// effect the caller has to perform.
type Entry struct {
	Mode        PanelMode
	Content     *PanelContent
	Speak       string
	RequestFile bool
}

// Enter computes the transition into mode. Content is always rebuilt, so a
// previous visit to the same mode leaves nothing behind.
func Enter(mode PanelMode) (Entry, error) {
	e := Entry{Mode: mode}
	switch mode {
	case ModeDiagnosis:
		e.Content = &PanelContent{Title: "AI Diagnosis Interview", Status: StatusNotStarted, Prompt: "Waiting for symptoms..."}
		e.Speak = "Describe your symptoms."
	case ModeMedicine:
		e.Content = &PanelContent{Title: "Pharmacy & Dosage Guide", Status: StatusNotStarted, Prompt: "Waiting for disease name..."}
		e.Speak = "What is the disease name?"
	case ModeDiet:
		e.Content = &PanelContent{Title: "Smart Diet Planner", Status: StatusNotStarted, Prompt: "Waiting for health details..."}
		e.Speak = "Tell me your condition."
	case ModeReport:
		e.Content = &PanelContent{Title: "Lab Report Analysis", Status: StatusPending}
		e.RequestFile = true
	case ModeXRay:
		e.Content = &PanelContent{Title: "X-Ray Scan Analysis", Status: StatusPending}
		e.RequestFile = true
	case ModeFirstAid:
		e.Content = &PanelContent{Title: "First Aid Protocols", Status: StatusReady, FirstAid: FirstAidProtocols()}
	case ModeIdle3D:
		// content discarded
	default:
		return Entry{}, fmt.Errorf("%w: %q", ErrUnknownMode, mode)
	}
	return e, nil
}
