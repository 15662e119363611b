package consultation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
)

var ErrNotFound = errors.New("consultation not found")

// Outcome is what survives a finished interview. The transcript is not stored.
type Outcome struct {
	ID             uuid.UUID `json:"id"`
	PatientID      string    `json:"patient_id"`
	Summary        string    `json:"summary"`
	RiskScore      *float64  `json:"risk_score,omitempty"`
	Confidence     *float64  `json:"confidence,omitempty"`
	Report         *Report   `json:"report,omitempty"`
	QuestionsAsked int       `json:"questions_asked"`
	CompletedAt    time.Time `json:"completed_at"`
}

func outcomeFromSnapshot(s Snapshot) *Outcome {
	return &Outcome{
		ID:             s.ID,
		PatientID:      s.PatientID,
		Summary:        s.Summary,
		RiskScore:      s.RiskScore,
		Confidence:     s.Confidence,
		Report:         s.LastStructuredReport,
		QuestionsAsked: s.QuestionsAsked,
		CompletedAt:    s.UpdatedAt,
	}
}

type Repository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Outcome, error)
	Save(ctx context.Context, o *Outcome) error
}

type postgresRepo struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Repository {
	return &postgresRepo{db: db}
}

func (r *postgresRepo) GetByID(ctx context.Context, id uuid.UUID) (*Outcome, error) {
	query := `SELECT id, patient_id, summary, risk_score, confidence, report, questions_asked, completed_at
		FROM consultation_outcomes WHERE id = $1`

	var (
		o          Outcome
		risk, conf sql.NullFloat64
		reportJSON []byte
	)
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&o.ID,
		&o.PatientID,
		&o.Summary,
		&risk,
		&conf,
		&reportJSON,
		&o.QuestionsAsked,
		&o.CompletedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if risk.Valid {
		o.RiskScore = &risk.Float64
	}
	if conf.Valid {
		o.Confidence = &conf.Float64
	}
	if len(reportJSON) > 0 && string(reportJSON) != "null" {
		o.Report = &Report{}
		if err := sonic.Unmarshal(reportJSON, o.Report); err != nil {
			return nil, fmt.Errorf("failed to unmarshal report: %w", err)
		}
	}
	return &o, nil
}

func (r *postgresRepo) Save(ctx context.Context, o *Outcome) error {
	var reportJSON []byte
	if o.Report != nil {
		var err error
		if reportJSON, err = sonic.Marshal(o.Report); err != nil {
			return err
		}
	}
	if o.CompletedAt.IsZero() {
		o.CompletedAt = time.Now()
	}

	query := `
		INSERT INTO consultation_outcomes (id, patient_id, summary, risk_score, confidence, report, questions_asked, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			summary = $3,
			risk_score = $4,
			confidence = $5,
			report = $6,
			questions_asked = $7,
			completed_at = $8
	`
	_, err := r.db.ExecContext(ctx, query,
		o.ID, o.PatientID, o.Summary, nullFloat(o.RiskScore), nullFloat(o.Confidence), reportJSON, o.QuestionsAsked, o.CompletedAt)
	return err
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

// memoryRepo is used when no database is configured.
type memoryRepo struct {
	mu       sync.RWMutex
	outcomes map[uuid.UUID]Outcome
}

func NewMemoryRepository() Repository {
	return &memoryRepo{outcomes: make(map[uuid.UUID]Outcome)}
}

func (r *memoryRepo) GetByID(_ context.Context, id uuid.UUID) (*Outcome, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.outcomes[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &o, nil
}

func (r *memoryRepo) Save(_ context.Context, o *Outcome) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes[o.ID] = *o
	return nil
}
