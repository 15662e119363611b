package consultation

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Status is the engine lifecycle. Complete is terminal.
type Status string

const (
	StatusIdle           Status = "idle"
	StatusListening      Status = "listening"
	StatusAnalyzing      Status = "analyzing"
	StatusSpeaking       Status = "speaking"
	StatusAwaitingAnswer Status = "awaiting_answer"
	StatusComplete       Status = "complete"
)

// Turn is one transcript entry.
type Turn struct {
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Percent accepts 42, 42.5, "42" and "42%" and clamps to [0,100].
type Percent float64

func (p *Percent) UnmarshalJSON(data []byte) error {
	s := strings.Trim(strings.TrimSpace(string(data)), `"`)
	if s == "" || s == "null" {
		*p = 0
		return nil
	}
	*p = Percent(parsePercent(s))
	return nil
}

// parsePercent strips a trailing %, rounds to an integer, and clamps. Unparseable input is 0.
func parsePercent(s string) float64 {
	s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "%"))
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) {
		return 0
	}
	v = math.Round(v)
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

type RiskAssessment struct {
	RiskOfProgression Percent `json:"riskOfProgression"`
	ConfidenceScore   Percent `json:"confidenceScore"`
}

type Recommendations struct {
	ImmediateActions            []string `json:"immediateActions"`
	FurtherDiagnosticEvaluation []string `json:"furtherDiagnosticEvaluation"`
	MonitoringAndFollowUp       []string `json:"monitoringAndFollowUp"`
}

// Report is the structured oracle output. It is never mutated after parsing.
type Report struct {
	PrimaryClinicalSummary string           `json:"primaryClinicalSummary"`
	RiskAssessment         *RiskAssessment  `json:"riskAssessment,omitempty"`
	Recommendations        *Recommendations `json:"recommendations,omitempty"`
	WarningSigns           []string         `json:"warningSigns,omitempty"`
	DifferentialDiagnosis  []string         `json:"differentialDiagnosis,omitempty"`
}

func (r *Report) empty() bool {
	return r.PrimaryClinicalSummary == "" && r.RiskAssessment == nil && r.Recommendations == nil &&
		len(r.WarningSigns) == 0 && len(r.DifferentialDiagnosis) == 0
}

// ConversationState is the session record. Only the owning Engine mutates it.
type ConversationState struct {
	ID        uuid.UUID `json:"id"`
	PatientID string    `json:"patient_id"`

	InitialSymptoms string          `json:"initial_symptoms"`
	Answers         []string        `json:"answers"`
	AskedQuestions  map[string]bool `json:"-"`
	QuestionsAsked  int             `json:"questions_asked"`
	MinQuestions    int             `json:"min_questions"`
	MaxQuestions    int             `json:"max_questions"`

	History []Turn `json:"history"`
	Status  Status `json:"status"`

	RiskScore            *float64 `json:"risk_score,omitempty"`
	Confidence           *float64 `json:"confidence,omitempty"`
	Recommendation       string   `json:"recommendation,omitempty"`
	LastStructuredReport *Report  `json:"last_report,omitempty"`

	Summary   string    `json:"summary,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	askedOrder []string
}

func newConversationState(patientID string, minQuestions, maxQuestions int, now time.Time) *ConversationState {
	return &ConversationState{
		ID:             uuid.New(),
		PatientID:      patientID,
		Answers:        []string{},
		AskedQuestions: map[string]bool{},
		MinQuestions:   minQuestions,
		MaxQuestions:   maxQuestions,
		History:        []Turn{},
		Status:         StatusIdle,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func normalizeQuestion(q string) string {
	return strings.TrimSpace(q)
}

// HasAsked reports whether q was already surfaced in this session.
func (s *ConversationState) HasAsked(q string) bool {
	return s.AskedQuestions[normalizeQuestion(q)]
}

// markAsked is append-only; re-marking an existing question is a no-op.
func (s *ConversationState) markAsked(q string) {
	n := normalizeQuestion(q)
	if s.AskedQuestions[n] {
		return
	}
	s.AskedQuestions[n] = true
	s.askedOrder = append(s.askedOrder, n)
}

// readyToFinalize is the single termination predicate.
func (s *ConversationState) readyToFinalize() bool {
	return s.QuestionsAsked >= s.MinQuestions && len(s.Answers) >= s.MinQuestions
}

func (s *ConversationState) latestAnswer() string {
	if len(s.Answers) == 0 {
		return ""
	}
	return s.Answers[len(s.Answers)-1]
}

// askedQuestions returns the asked set in the order questions were surfaced.
func (s *ConversationState) askedQuestions() []string {
	return append([]string(nil), s.askedOrder...)
}

// Snapshot is a read-only deep copy handed to callers.
type Snapshot struct {
	ConversationState
	AskedQuestions []string `json:"asked_questions"`
}

func (s *ConversationState) snapshot() Snapshot {
	cp := *s
	cp.Answers = append([]string(nil), s.Answers...)
	cp.History = append([]Turn(nil), s.History...)
	cp.AskedQuestions = nil
	cp.askedOrder = nil
	if s.RiskScore != nil {
		v := *s.RiskScore
		cp.RiskScore = &v
	}
	if s.Confidence != nil {
		v := *s.Confidence
		cp.Confidence = &v
	}
	return Snapshot{
		ConversationState: cp,
		AskedQuestions:    s.askedQuestions(),
	}
}

// MarshalSnapshot encodes a snapshot for caches and transports.
func MarshalSnapshot(s Snapshot) ([]byte, error) {
	return sonic.Marshal(s)
}

func UnmarshalSnapshot(data []byte) (Snapshot, error) {
	var s Snapshot
	err := sonic.Unmarshal(data, &s)
	return s, err
}
