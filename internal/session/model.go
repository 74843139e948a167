package session

import (
	"strconv"
	"time"
)

// UserProfile is captured once at session start and never changes afterwards.
type UserProfile struct {
	Name       string  `json:"name"`
	Age        int     `json:"age"`
	Weight     float64 `json:"weight"` // kg
	Height     float64 `json:"height"` // cm
	BloodGroup string  `json:"blood_group"`
}

// ContextSuffix is appended to every outbound symptom description.
func (p UserProfile) ContextSuffix() string {
	return " \n(Context: Patient Age: " + strconv.Itoa(p.Age) +
		", Weight: " + formatMeasure(p.Weight) + "kg" +
		", Height: " + formatMeasure(p.Height) + "cm" +
		", Blood Group: " + p.BloodGroup + ")"
}

func formatMeasure(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

type Role string

const (
	RoleUser Role = "user"
	RoleBot  Role = "bot"
)

type Message struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}

// Record types stored with every completed exchange.
const (
	RecordDeepDiagnosis   = "Deep Diagnosis"
	RecordMedicineGuide   = "Medicine Guide"
	RecordDietPlan        = "Diet Plan"
	RecordGeneralAnalysis = "General Analysis"
	RecordVisionReport    = "Vision Report"
)

// Record is one persisted exchange. It is append-only: once created it is
// never updated or deleted.
type Record struct {
	ID         string      `json:"id" db:"id"`
	Date       string      `json:"date" db:"date"`
	Time       string      `json:"time" db:"time"`
	RecordType string      `json:"type" db:"record_type"`
	Symptoms   string      `json:"symptoms" db:"symptoms"`
	Diagnosis  string      `json:"diagnosis" db:"diagnosis"`
	Patient    UserProfile `json:"patient" db:"patient"`
	CreatedAt  time.Time   `json:"created_at" db:"created_at"`
}

const (
	DateLayout = "1/2/2006"
	TimeLayout = "3:04:05 PM"
)

// NewRecord stamps date and time from now. The patient is copied by value.
func NewRecord(id, query, response, recordType string, patient UserProfile, now time.Time) Record {
	return Record{
		ID:         id,
		Date:       now.Format(DateLayout),
		Time:       now.Format(TimeLayout),
		RecordType: recordType,
		Symptoms:   query,
		Diagnosis:  response,
		Patient:    patient,
		CreatedAt:  now,
	}
}

type FirstAidStep struct {
	Title string `json:"title"`
	Text  string `json:"text"`
}

type FirstAidEntry struct {
	ID          string         `json:"id"`
	Title       string         `json:"title"`
	Description string         `json:"desc"`
	Steps       []FirstAidStep `json:"steps"`
}
