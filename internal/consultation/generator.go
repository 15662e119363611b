package consultation

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"medical-interview-agent/internal/observability"
)

const (
	AnalysisTypeQuestionRequery = "clinical_question_requery"

	minCandidateLen = 20
)

// questionSource is one link of the fallback chain.
type questionSource func(ctx context.Context, analysis string, s *ConversationState) (string, bool)

type keywordTemplate struct {
	keywords  []string
	questions []string
}

var keywordTemplates = []keywordTemplate{
	{
		keywords: []string{"cough"},
		questions: []string{
			"Is your cough producing any mucus or blood, and if so what colour is it?",
			"Does your cough get worse at night or when you are lying down?",
			"Have you noticed any wheezing or whistling sounds when you cough?",
		},
	},
	{
		keywords: []string{"fever", "temperature"},
		questions: []string{
			"What is the highest temperature you have measured, and when did the fever start?",
			"Do you get chills or night sweats along with the fever?",
		},
	},
	{
		keywords: []string{"pain", "ache"},
		questions: []string{
			"On a scale from 1 to 10, how severe is the pain at its worst?",
			"Does the pain spread to any other part of your body, such as your arm, back or jaw?",
		},
	},
	{
		keywords: []string{"breath"},
		questions: []string{
			"Do you feel short of breath at rest, or only during physical activity?",
			"Do you need extra pillows to breathe comfortably when lying down at night?",
		},
	},
	{
		keywords: []string{"weight"},
		questions: []string{
			"How much weight have you gained or lost, and over what period of time?",
			"Has your appetite changed along with your weight?",
		},
	},
}

var wordTemplates = []string{
	"You mentioned %q. When did you first notice it, and has it changed since then?",
	"How does %q affect your daily activities, sleep or work?",
	"Has anything made %q better or worse so far, such as rest or medication?",
}

var (
	openingFallbacks = []string{
		"When did your symptoms first start, and have they been constant or coming and going?",
		"Are you currently taking any medications, and do you have any known allergies?",
	}
	followUpFallbacks = []string{
		"Since your last answer, have your symptoms improved, worsened, or stayed the same?",
		"Have you had any previous medical conditions or surgeries that might be related to this?",
		"Is there anyone in your family with a similar condition or a history of chronic illness?",
	}
)

// QuestionGenerator produces the next unique follow-up question. It never fails.
type QuestionGenerator struct {
	oracle       AnalysisOracle
	modelVersion string
	chain        []questionSource
}

func NewQuestionGenerator(oracle AnalysisOracle, modelVersion string) *QuestionGenerator {
	g := &QuestionGenerator{oracle: oracle, modelVersion: modelVersion}
	g.chain = []questionSource{
		g.fromAnalysis,
		g.fromRequery,
		g.fromKeywords,
		g.fromLatestAnswer,
	}
	return g
}

// Generate returns a question not yet in s.AskedQuestions and records it there.
func (g *QuestionGenerator) Generate(ctx context.Context, analysis string, s *ConversationState) string {
	log := observability.LoggerFromContext(observability.WithConsultation(ctx, s.ID.String())).With("question_no", s.QuestionsAsked)
	q := ""
	for i, source := range g.chain {
		if candidate, ok := source(ctx, analysis, s); ok {
			log.Info("question generated", "stage", i)
			q = candidate
			break
		}
	}
	if q == "" {
		q = absoluteFallback(s)
		log.Warn("question generator exhausted, using absolute fallback")
	}
	s.markAsked(q)
	return q
}

// accept is the shared generic/duplicate/length filter for oracle-sourced candidates.
func accept(q string, s *ConversationState) bool {
	q = normalizeQuestion(q)
	return len(q) >= minCandidateLen && !isGeneric(q) && !s.HasAsked(q)
}

func (g *QuestionGenerator) fromAnalysis(_ context.Context, analysis string, s *ConversationState) (string, bool) {
	q, ok := ExtractQuestion(analysis)
	if !ok || !accept(q, s) {
		return "", false
	}
	return normalizeQuestion(q), true
}

func (g *QuestionGenerator) fromRequery(ctx context.Context, _ string, s *ConversationState) (string, bool) {
	if g.oracle == nil {
		return "", false
	}
	resp, err := g.oracle.Analyze(ctx, AnalysisRequest{
		PatientID:    s.PatientID,
		AnalysisType: AnalysisTypeQuestionRequery,
		InputData:    buildRequeryPrompt(s),
		ModelVersion: g.modelVersion,
	})
	if err != nil {
		observability.LoggerFromContext(observability.WithConsultation(ctx, s.ID.String())).Warn("question requery failed", "error", err)
		return "", false
	}
	q, ok := ExtractQuestion(resp.AnalysisResultText)
	if !ok || !accept(q, s) {
		return "", false
	}
	return normalizeQuestion(q), true
}

func (g *QuestionGenerator) fromKeywords(_ context.Context, _ string, s *ConversationState) (string, bool) {
	corpus := strings.ToLower(s.InitialSymptoms + " " + strings.Join(s.Answers, " "))
	for _, t := range keywordTemplates {
		if !containsAny(corpus, t.keywords) {
			continue
		}
		for _, q := range t.questions {
			if !s.HasAsked(q) {
				return q, true
			}
		}
	}
	return "", false
}

func (g *QuestionGenerator) fromLatestAnswer(_ context.Context, _ string, s *ConversationState) (string, bool) {
	word := firstLongWord(s.latestAnswer(), 5)
	if word == "" {
		return "", false
	}
	for _, tpl := range wordTemplates {
		q := fmt.Sprintf(tpl, word)
		if !s.HasAsked(q) {
			return q, true
		}
	}
	return "", false
}

// absoluteFallback depends only on whether any answer exists. The last entry is
// returned even if already asked, so the generator always terminates.
func absoluteFallback(s *ConversationState) string {
	pool := openingFallbacks
	if len(s.Answers) > 0 {
		pool = followUpFallbacks
	}
	for _, q := range pool {
		if !s.HasAsked(q) {
			return q
		}
	}
	return pool[len(pool)-1]
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// firstLongWord returns the first run of letters at least n long, lowercased.
func firstLongWord(text string, n int) string {
	for _, w := range strings.FieldsFunc(text, func(r rune) bool { return !unicode.IsLetter(r) }) {
		if len([]rune(w)) >= n {
			return strings.ToLower(w)
		}
	}
	return ""
}
