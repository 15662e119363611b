package consultation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"

	"medical-interview-agent/internal/observability"
)

// ReportService delivers the finished interview to the doctor.
type ReportService interface {
	SendDoctorReport(ctx context.Context, final Snapshot) error
}

// TTSClient defines the interface for Text-to-Speech
type TTSClient interface {
	Synthesize(ctx context.Context, text string, voiceID string) ([]byte, error)
}

// STTClient defines the interface for Speech-to-Text
type STTClient interface {
	Transcribe(ctx context.Context, audioData []byte) (string, error)
}

type EngineConfig struct {
	MinQuestions int
	MaxQuestions int
	SettleDelay  time.Duration
	ModelVersion string
	VoiceID      string
	// IdleTimeout evicts unfinished sessions nobody has touched for this long. Zero keeps them forever.
	IdleTimeout  time.Duration
}

type Service interface {
	CreateConsultation(ctx context.Context, patientID string, initialSymptoms string) (Snapshot, error)
	Submit(ctx context.Context, id uuid.UUID, text string) (Snapshot, error)
	State(ctx context.Context, id uuid.UUID) (*Snapshot, error)
	Outcome(ctx context.Context, id uuid.UUID) (*Outcome, error)
	AttachSpeech(id uuid.UUID, adapter SpeechAdapter) (SpeechEvents, error)
	DetachSpeech(id uuid.UUID, adapter SpeechAdapter)
	TranscribeAudio(ctx context.Context, audioData []byte) (string, error)
	SynthesizeSpeech(ctx context.Context, text string) ([]byte, error)
	// EvictIdle drops unfinished sessions idle since before now-IdleTimeout and returns how many.
	EvictIdle(now time.Time) int
	// RunJanitor calls EvictIdle every interval until ctx is done.
	RunJanitor(ctx context.Context, every time.Duration)
	// Wait blocks until background completion work has finished.
	Wait()
}

type service struct {
	cfg       EngineConfig
	oracle    AnalysisOracle
	repo      Repository
	cache     SnapshotCache
	reportSvc ReportService
	ttsClient TTSClient
	sttClient STTClient

	mu      sync.RWMutex
	engines map[uuid.UUID]*Engine
	wg      sync.WaitGroup
}

func NewService(cfg EngineConfig, oracle AnalysisOracle, repo Repository, cache SnapshotCache, tts TTSClient, stt STTClient, report ReportService) Service {
	return &service{
		cfg:       cfg,
		oracle:    oracle,
		repo:      repo,
		cache:     cache,
		reportSvc: report,
		ttsClient: tts,
		sttClient: stt,
		engines:   make(map[uuid.UUID]*Engine),
	}
}

func (s *service) CreateConsultation(ctx context.Context, patientID string, initialSymptoms string) (Snapshot, error) {
	if patientID == "" {
		patientID = uuid.NewString()
	}
	e := NewEngine(patientID, s.oracle,
		WithQuestions(s.cfg.MinQuestions, s.cfg.MaxQuestions),
		WithSettleDelay(s.cfg.SettleDelay),
		WithModelVersion(s.cfg.ModelVersion),
		WithCompletion(s.onComplete),
	)

	s.mu.Lock()
	s.engines[e.ID()] = e
	s.mu.Unlock()

	ctx = observability.WithConsultation(ctx, e.ID().String())
	observability.LoggerFromContext(ctx).Info("consultation created",
		"patient_id", patientID, "with_symptoms", strings.TrimSpace(initialSymptoms) != "")

	// An oracle failure here leaves a valid idle session; the caller retries with Submit.
	return e.Start(ctx, initialSymptoms)
}

func (s *service) engine(id uuid.UUID) (*Engine, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.engines[id]
	return e, ok
}

func (s *service) Submit(ctx context.Context, id uuid.UUID, text string) (Snapshot, error) {
	e, ok := s.engine(id)
	if !ok {
		if _, err := s.cache.Get(ctx, id); err == nil {
			return Snapshot{}, ErrComplete
		}
		return Snapshot{}, ErrNotFound
	}
	return e.Submit(ctx, text)
}

func (s *service) State(ctx context.Context, id uuid.UUID) (*Snapshot, error) {
	if e, ok := s.engine(id); ok {
		snap := e.Snapshot()
		return &snap, nil
	}
	return s.cache.Get(ctx, id)
}

func (s *service) Outcome(ctx context.Context, id uuid.UUID) (*Outcome, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *service) AttachSpeech(id uuid.UUID, adapter SpeechAdapter) (SpeechEvents, error) {
	e, ok := s.engine(id)
	if !ok {
		return nil, ErrNotFound
	}
	e.AttachSpeech(adapter)
	return e, nil
}

// DetachSpeech releases adapter. A socket that was superseded by a newer one
// for the same consultation leaves the newer adapter attached.
func (s *service) DetachSpeech(id uuid.UUID, adapter SpeechAdapter) {
	if e, ok := s.engine(id); ok {
		e.DetachSpeech(adapter)
	}
}

func (s *service) TranscribeAudio(ctx context.Context, audioData []byte) (string, error) {
	if s.sttClient == nil {
		return "", errors.New("speech-to-text is not configured")
	}
	text, err := s.sttClient.Transcribe(ctx, audioData)
	if err != nil {
		return "", fmt.Errorf("transcribe: %w", err)
	}
	return strings.TrimSpace(text), nil
}

func (s *service) SynthesizeSpeech(ctx context.Context, text string) ([]byte, error) {
	if s.ttsClient == nil {
		return nil, errors.New("text-to-speech is not configured")
	}
	return s.ttsClient.Synthesize(ctx, text, s.cfg.VoiceID)
}

func (s *service) Wait() {
	s.wg.Wait()
}

func (s *service) EvictIdle(now time.Time) int {
	if s.cfg.IdleTimeout <= 0 {
		return 0
	}
	cutoff := now.Add(-s.cfg.IdleTimeout)

	var stale []*Engine
	s.mu.Lock()
	for id, e := range s.engines {
		last, busy := e.lastActivity()
		if busy || !last.Before(cutoff) {
			continue
		}
		delete(s.engines, id)
		stale = append(stale, e)
	}
	s.mu.Unlock()

	for _, e := range stale {
		e.Close()
		ctx := observability.WithConsultation(context.Background(), e.ID().String())
		observability.LoggerFromContext(ctx).Info("idle consultation evicted", "idle_timeout", s.cfg.IdleTimeout)
	}
	return len(stale)
}

func (s *service) RunJanitor(ctx context.Context, every time.Duration) {
	if s.cfg.IdleTimeout <= 0 || every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := s.EvictIdle(now); n > 0 {
				observability.Logger().Info("idle sweep finished", "evicted", n)
			}
		}
	}
}

// onComplete runs once per engine. Persistence and reporting happen in the
// background with a detached context; failures are logged, never surfaced.
func (s *service) onComplete(final Snapshot, last *AnalysisResponse) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()

		ctx = observability.WithConsultation(ctx, final.ID.String())
		log := observability.LoggerFromContext(ctx).With("patient_id", final.PatientID)
		log.Info("processing completed consultation", "oracle_text_len", len(last.AnalysisResultText))

		var result *multierror.Error
		if err := s.repo.Save(ctx, outcomeFromSnapshot(final)); err != nil {
			result = multierror.Append(result, fmt.Errorf("save outcome: %w", err))
		}
		cached := true
		if err := s.cache.Set(ctx, final); err != nil {
			cached = false
			result = multierror.Append(result, fmt.Errorf("cache snapshot: %w", err))
		}
		if s.reportSvc != nil {
			if err := s.reportSvc.SendDoctorReport(ctx, final); err != nil {
				result = multierror.Append(result, fmt.Errorf("doctor report: %w", err))
			}
		}

		// The engine stays addressable until its terminal snapshot is readable elsewhere.
		if cached {
			s.mu.Lock()
			delete(s.engines, final.ID)
			s.mu.Unlock()
		}

		if err := result.ErrorOrNil(); err != nil {
			log.Error("completion pipeline finished with errors", "error", err)
			return
		}
		log.Info("completion pipeline finished")
	}()
}
