package consultation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"medical-interview-agent/internal/observability"
)

var (
	ErrBusy     = errors.New("analysis already in progress")
	ErrComplete = errors.New("consultation is complete")
	ErrOracle   = errors.New("analysis service unavailable")
)

const (
	DefaultQuestions   = 5
	DefaultSettleDelay = 1200 * time.Millisecond

	fallbackSummary = "Thank you for answering all the questions. Your answers have been recorded and will be reviewed by a doctor. If your symptoms get worse, please seek medical care immediately."
)

var (
	riskTextRe       = regexp.MustCompile(`(?i)risk[^0-9\n]{0,30}?(\d{1,3}(?:\.\d+)?)\s*%`)
	confidenceTextRe = regexp.MustCompile(`(?i)confidence[^0-9\n]{0,30}?(\d{1,3}(?:\.\d+)?)\s*%`)
)

// CompletionFunc receives the terminal snapshot and the last oracle response.
type CompletionFunc func(final Snapshot, last *AnalysisResponse)

type timer interface {
	Stop() bool
}

type Option func(*Engine)

// WithQuestions sets the termination threshold and the configured ceiling.
func WithQuestions(minQuestions, maxQuestions int) Option {
	return func(e *Engine) {
		if minQuestions < 1 {
			minQuestions = 1
		}
		if maxQuestions < minQuestions {
			maxQuestions = minQuestions
		}
		e.minQuestions, e.maxQuestions = minQuestions, maxQuestions
	}
}

func WithSettleDelay(d time.Duration) Option {
	return func(e *Engine) { e.settleDelay = d }
}

func WithModelVersion(v string) Option {
	return func(e *Engine) { e.modelVersion = v }
}

func WithSpeech(a SpeechAdapter) Option {
	return func(e *Engine) { e.speech = a }
}

func WithCompletion(fn CompletionFunc) Option {
	return func(e *Engine) { e.onComplete = fn }
}

func withClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func withAfterFunc(fn func(time.Duration, func()) timer) Option {
	return func(e *Engine) { e.afterFunc = fn }
}

// Engine runs one interview. At most one oracle call is outstanding at a time;
// Status == StatusAnalyzing is the reentrancy guard.
type Engine struct {
	mu      sync.Mutex
	state   *ConversationState
	pending []func()

	oracle    AnalysisOracle
	generator *QuestionGenerator
	speech    SpeechAdapter

	minQuestions int
	maxQuestions int
	settleDelay  time.Duration
	modelVersion string

	onComplete   CompletionFunc
	completeOnce sync.Once

	resumeTimer timer
	resumeGen   uint64
	afterFunc   func(time.Duration, func()) timer
	now         func() time.Time
}

func NewEngine(patientID string, oracle AnalysisOracle, opts ...Option) *Engine {
	e := &Engine{
		oracle:       oracle,
		minQuestions: DefaultQuestions,
		maxQuestions: DefaultQuestions,
		settleDelay:  DefaultSettleDelay,
		now:          time.Now,
		afterFunc: func(d time.Duration, f func()) timer {
			return time.AfterFunc(d, f)
		},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	e.generator = NewQuestionGenerator(oracle, e.modelVersion)
	e.state = newConversationState(patientID, e.minQuestions, e.maxQuestions, e.now())
	return e
}

func (e *Engine) ID() uuid.UUID {
	return e.state.ID
}

// Snapshot returns a read-only copy of the current state.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.snapshot()
}

// Start opens the interview. Non-empty initial symptoms are processed as the first utterance.
func (e *Engine) Start(ctx context.Context, initialSymptoms string) (Snapshot, error) {
	if strings.TrimSpace(initialSymptoms) != "" {
		return e.Submit(ctx, initialSymptoms)
	}
	e.mu.Lock()
	if e.voiceEnabled() && e.state.Status == StatusIdle {
		e.listen()
	}
	snap := e.state.snapshot()
	e.flush()
	return snap, nil
}

// Submit handles one utterance, spoken or typed. Blank input is ignored.
// On ErrOracle every counter is left at its pre-call value so the same answer can be resubmitted.
func (e *Engine) Submit(ctx context.Context, text string) (Snapshot, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return e.Snapshot(), nil
	}

	e.mu.Lock()
	st := e.state
	ctx = observability.WithConsultation(ctx, st.ID.String())
	switch st.Status {
	case StatusAnalyzing:
		e.mu.Unlock()
		return e.Snapshot(), ErrBusy
	case StatusComplete:
		e.mu.Unlock()
		return e.Snapshot(), ErrComplete
	}
	e.cancelResume()

	cp := checkpoint{answers: len(st.Answers), history: len(st.History), initialSymptoms: st.InitialSymptoms}
	if st.QuestionsAsked == 0 && len(st.Answers) == 0 {
		st.InitialSymptoms = text
	} else {
		st.Answers = append(st.Answers, text)
	}
	e.appendTurn(RoleUser, text)
	st.Status = StatusAnalyzing
	if e.voiceEnabled() {
		speech := e.speech
		e.queue(func() { _ = speech.StopListening() })
	}

	prompt := buildCrossQuestioningPrompt(st)
	if st.readyToFinalize() {
		prompt = buildFinalReportPrompt(st)
	}
	req := AnalysisRequest{
		PatientID:    st.PatientID,
		AnalysisType: AnalysisTypeCrossQuestioning,
		InputData:    prompt,
		ModelVersion: e.modelVersion,
	}
	e.flush()

	resp, err := e.oracle.Analyze(ctx, req)
	if err == nil && resp == nil {
		err = errors.New("empty analysis response")
	}

	e.mu.Lock()
	log := e.logger(ctx)
	if err != nil {
		e.rollback(cp)
		log.Error("analysis failed, turn rolled back", "error", err)
		snap := st.snapshot()
		e.flush()
		return snap, fmt.Errorf("%w: %w", ErrOracle, err)
	}

	e.applyAnalysis(resp)
	e.advance(ctx, resp)
	snap := st.snapshot()
	e.flush()
	return snap, nil
}

type checkpoint struct {
	answers         int
	history         int
	initialSymptoms string
}

func (e *Engine) rollback(cp checkpoint) {
	st := e.state
	st.Answers = st.Answers[:cp.answers]
	st.History = st.History[:cp.history]
	st.InitialSymptoms = cp.initialSymptoms
	st.UpdatedAt = e.now()
	e.awaitInput()
}

// applyAnalysis records confidence, risk and recommendation from the response.
func (e *Engine) applyAnalysis(resp *AnalysisResponse) {
	st := e.state
	if resp.ConfidenceScore != "" {
		c := parsePercent(resp.ConfidenceScore)
		st.Confidence = &c
	}

	report := ExtractReport(resp.StructuredReportJSON)
	if report == nil {
		report = ExtractReport(resp.AnalysisResultText)
	}
	if report != nil {
		st.LastStructuredReport = report
		if ra := report.RiskAssessment; ra != nil {
			risk, conf := float64(ra.RiskOfProgression), float64(ra.ConfidenceScore)
			st.RiskScore = &risk
			st.Confidence = &conf
		}
		if recs := topRecommendations(report, 1); len(recs) > 0 {
			st.Recommendation = recs[0]
		}
		return
	}

	if m := riskTextRe.FindStringSubmatch(resp.AnalysisResultText); m != nil {
		v := parsePercent(m[1])
		st.RiskScore = &v
	}
	if m := confidenceTextRe.FindStringSubmatch(resp.AnalysisResultText); m != nil {
		v := parsePercent(m[1])
		st.Confidence = &v
	}
}

// advance decides between another question, waiting, and finalizing.
func (e *Engine) advance(ctx context.Context, resp *AnalysisResponse) {
	st := e.state
	switch {
	case st.readyToFinalize():
		e.finalize(ctx, resp)
	case st.QuestionsAsked < st.MinQuestions:
		e.askNext(ctx, resp.AnalysisResultText)
	default:
		// The outstanding question has not been answered yet.
		e.awaitInput()
	}
}

func (e *Engine) askNext(ctx context.Context, analysis string) {
	st := e.state
	st.QuestionsAsked++
	q := e.generator.Generate(ctx, analysis, st)
	e.appendTurn(RoleAssistant, q)
	e.logger(ctx).Info("question asked", "question_no", st.QuestionsAsked, "question", q)

	if !e.voiceEnabled() {
		st.Status = StatusAwaitingAnswer
		return
	}
	st.Status = StatusSpeaking
	e.queue(func() { e.speak(ctx, q) })
}

func (e *Engine) finalize(ctx context.Context, resp *AnalysisResponse) {
	st := e.state
	log := e.logger(ctx)
	if st.QuestionsAsked < st.MinQuestions {
		log.Warn("finalize requested before minimum questions, asking another question",
			"questions_asked", st.QuestionsAsked, "min_questions", st.MinQuestions)
		e.askNext(ctx, resp.AnalysisResultText)
		return
	}

	report := ExtractReport(resp.StructuredReportJSON)
	if report == nil {
		report = ExtractReport(resp.AnalysisResultText)
	}
	if report == nil {
		report = st.LastStructuredReport
	}
	summary := buildSummary(report, resp.AnalysisResultText)

	st.Status = StatusComplete
	st.Summary = summary
	e.appendTurn(RoleAssistant, summary)
	e.cancelResume()
	log.Info("consultation complete", "questions_asked", st.QuestionsAsked, "answers", len(st.Answers))

	if e.voiceEnabled() {
		speech := e.speech
		e.queue(func() {
			_ = speech.StopListening()
			_ = speech.Speak(summary)
		})
	}
	if e.onComplete != nil {
		final := st.snapshot()
		e.queue(func() {
			e.completeOnce.Do(func() { e.onComplete(final, resp) })
		})
	}
}

// buildSummary prefers the structured summary with up to three recommendations,
// then the raw oracle text, then a fixed sentence.
func buildSummary(report *Report, raw string) string {
	if report != nil && strings.TrimSpace(report.PrimaryClinicalSummary) != "" {
		summary := strings.TrimSpace(report.PrimaryClinicalSummary)
		if recs := topRecommendations(report, 3); len(recs) > 0 {
			summary += "\n\nRecommendations:\n- " + strings.Join(recs, "\n- ")
		}
		return summary
	}
	if raw = strings.TrimSpace(raw); raw != "" {
		return raw
	}
	return fallbackSummary
}

// topRecommendations takes immediate actions, then further evaluation, then monitoring.
func topRecommendations(r *Report, limit int) []string {
	if r == nil || r.Recommendations == nil {
		return nil
	}
	var out []string
	for _, group := range [][]string{
		r.Recommendations.ImmediateActions,
		r.Recommendations.FurtherDiagnosticEvaluation,
		r.Recommendations.MonitoringAndFollowUp,
	} {
		for _, rec := range group {
			if rec = strings.TrimSpace(rec); rec == "" {
				continue
			}
			if len(out) == limit {
				return out
			}
			out = append(out, rec)
		}
	}
	return out
}

// UtteranceFinal is called by the speech adapter when capture produced text.
func (e *Engine) UtteranceFinal(ctx context.Context, text string) {
	if _, err := e.Submit(ctx, text); err != nil {
		e.logger(ctx).Warn("spoken utterance not processed", "error", err)
	}
}

// SpeechEnded schedules the debounced return to listening.
func (e *Engine) SpeechEnded() {
	e.mu.Lock()
	if e.state.Status == StatusSpeaking {
		e.scheduleResume()
	}
	e.flush()
}

// SpeechError handles capture/playback failures. Permission and device errors
// drop the session to manual text entry; transient ones (no-speech, network)
// re-arm listening after the settle delay.
func (e *Engine) SpeechError(kind string) {
	e.mu.Lock()
	e.logger(context.Background()).Warn("speech error", "kind", kind)
	switch kind {
	case "not-allowed", "permission", "service-not-allowed", "audio-capture", "unsupported":
		e.detachLocked()
	default:
		if e.state.Status == StatusListening || e.state.Status == StatusSpeaking {
			e.state.Status = StatusAwaitingAnswer
			if e.state.QuestionsAsked == 0 {
				e.state.Status = StatusIdle
			}
			if e.voiceEnabled() {
				e.scheduleResume()
			} else {
				e.cancelResume()
			}
		}
	}
	e.flush()
}

// AttachSpeech switches the session to voice mode. A newer adapter replaces the
// previous one and takes over listening.
func (e *Engine) AttachSpeech(a SpeechAdapter) {
	e.mu.Lock()
	e.speech = a
	switch e.state.Status {
	case StatusIdle, StatusAwaitingAnswer, StatusListening:
		if e.voiceEnabled() {
			e.listen()
		}
	}
	e.flush()
}

// DetachSpeech falls back to manual text entry if a is still the attached
// adapter. Detaching a replaced adapter is a no-op.
func (e *Engine) DetachSpeech(a SpeechAdapter) {
	e.mu.Lock()
	if e.speech == a {
		e.detachLocked()
	}
	e.flush()
}

// Close releases the session's timer and speech adapter.
func (e *Engine) Close() {
	e.mu.Lock()
	e.cancelResume()
	e.speech = nil
	e.flush()
}

// lastActivity reports when the session last changed and whether a turn is in flight.
func (e *Engine) lastActivity() (time.Time, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.UpdatedAt, e.state.Status == StatusAnalyzing
}

func (e *Engine) detachLocked() {
	e.cancelResume()
	e.speech = nil
	switch e.state.Status {
	case StatusListening, StatusSpeaking:
		e.awaitInput()
	}
}

func (e *Engine) speak(ctx context.Context, text string) {
	e.mu.Lock()
	speech := e.speech
	e.mu.Unlock()
	if speech == nil {
		return
	}
	if err := speech.Speak(text); err != nil {
		e.logger(ctx).Warn("speak failed, resuming input", "error", err)
		e.SpeechEnded()
	}
}

func (e *Engine) scheduleResume() {
	e.cancelResume()
	gen := e.resumeGen
	e.resumeTimer = e.afterFunc(e.settleDelay, func() { e.resume(gen) })
}

// cancelResume stops the pending timer and invalidates any callback that
// already fired but has not acquired the lock yet.
func (e *Engine) cancelResume() {
	e.resumeGen++
	if e.resumeTimer != nil {
		e.resumeTimer.Stop()
		e.resumeTimer = nil
	}
}

// resume fires after the settle delay. It is a no-op when superseded, once the
// session is complete, or while it is busy with another turn.
func (e *Engine) resume(gen uint64) {
	e.mu.Lock()
	if gen != e.resumeGen {
		e.flush()
		return
	}
	e.resumeTimer = nil
	switch e.state.Status {
	case StatusSpeaking, StatusAwaitingAnswer, StatusIdle:
		e.awaitInput()
	}
	e.flush()
}

// awaitInput settles a turn: Listening with voice, AwaitingAnswer without.
func (e *Engine) awaitInput() {
	if e.voiceEnabled() {
		e.listen()
		return
	}
	if e.state.QuestionsAsked == 0 {
		e.state.Status = StatusIdle
		return
	}
	e.state.Status = StatusAwaitingAnswer
}

func (e *Engine) listen() {
	e.state.Status = StatusListening
	speech := e.speech
	e.queue(func() {
		if err := speech.StartListening(); err != nil {
			e.SpeechError("audio-capture")
		}
	})
}

func (e *Engine) voiceEnabled() bool {
	return e.speech != nil && e.speech.Available()
}

func (e *Engine) appendTurn(role Role, text string) {
	now := e.now()
	e.state.History = append(e.state.History, Turn{Role: role, Text: text, Timestamp: now})
	e.state.UpdatedAt = now
}

// queue defers a side effect until the lock is released.
func (e *Engine) queue(f func()) {
	e.pending = append(e.pending, f)
}

// flush unlocks and runs queued side effects. Adapters and callbacks may call back into the engine.
func (e *Engine) flush() {
	effects := e.pending
	e.pending = nil
	e.mu.Unlock()
	for _, f := range effects {
		f()
	}
}

func (e *Engine) logger(ctx context.Context) *slog.Logger {
	ctx = observability.WithConsultation(ctx, e.state.ID.String())
	return observability.LoggerFromContext(ctx).With("patient_id", e.state.PatientID)
}
