package consultation

import (
	"fmt"
	"strings"
)

// genericPhrasings are rejected follow-ups. Matching is case-insensitive substring.
var genericPhrasings = []string{
	"describe more",
	"tell me more",
	"any additional symptoms",
	"any other symptoms",
	"can you describe",
	"could you describe",
	"can you elaborate",
	"could you elaborate",
	"anything else",
	"more details",
	"more information",
}

func isGeneric(q string) bool {
	lq := strings.ToLower(q)
	for _, p := range genericPhrasings {
		if strings.Contains(lq, p) {
			return true
		}
	}
	return false
}

// buildAnalysisInput renders the patient's own words: symptoms first, then one line per answer.
func buildAnalysisInput(s *ConversationState) string {
	var b strings.Builder
	if s.InitialSymptoms != "" {
		fmt.Fprintf(&b, "Initial symptoms: %s\n", s.InitialSymptoms)
	}
	for i, a := range s.Answers {
		fmt.Fprintf(&b, "Q%d Answer: %s\n", i+1, a)
	}
	return b.String()
}

func writeAskedQuestions(b *strings.Builder, s *ConversationState) {
	asked := s.askedQuestions()
	if len(asked) == 0 {
		b.WriteString("No questions have been asked yet.\n")
		return
	}
	b.WriteString("Questions already asked (NEVER repeat or rephrase any of these):\n")
	for i, q := range asked {
		fmt.Fprintf(b, "%d. %s\n", i+1, q)
	}
}

// buildCrossQuestioningPrompt is rebuilt from live state on every turn.
func buildCrossQuestioningPrompt(s *ConversationState) string {
	var b strings.Builder
	b.WriteString(buildAnalysisInput(s))
	b.WriteString("\n---\n")
	b.WriteString("You are conducting a structured clinical interview with this patient.\n")
	fmt.Fprintf(&b, "This will be question %d of a minimum of %d questions in total.\n", s.QuestionsAsked+1, s.MinQuestions)
	b.WriteString(`Respond ONLY with a JSON object of this exact shape:
{"riskAssessment":{"riskOfProgression":<0-100>,"confidenceScore":<0-100>},"followUpQuestion":"<one question>","reasoning":"<one sentence>"}
`)
	writeAskedQuestions(&b, s)
	b.WriteString("Do NOT use generic phrasings such as: ")
	for i, p := range genericPhrasings {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%q", p)
	}
	b.WriteString(".\n")
	b.WriteString("The follow-up question must be specific, clinically useful, and refer to the patient's actual wording above.\n")
	return b.String()
}

// buildFinalReportPrompt is used once the interview has enough answers.
func buildFinalReportPrompt(s *ConversationState) string {
	var b strings.Builder
	b.WriteString(buildAnalysisInput(s))
	b.WriteString("\n---\n")
	fmt.Fprintf(&b, "The interview is complete after %d questions. Produce the final clinical report.\n", s.QuestionsAsked)
	b.WriteString(`Respond ONLY with a JSON object of this exact shape:
{"primaryClinicalSummary":"...","riskAssessment":{"riskOfProgression":<0-100>,"confidenceScore":<0-100>},
"recommendations":{"immediateActions":["..."],"furtherDiagnosticEvaluation":["..."],"monitoringAndFollowUp":["..."]},
"warningSigns":["..."],"differentialDiagnosis":["..."]}
`)
	return b.String()
}

// buildRequeryPrompt asks the oracle for a fresh question after the first candidate was rejected.
func buildRequeryPrompt(s *ConversationState) string {
	var b strings.Builder
	b.WriteString(buildAnalysisInput(s))
	b.WriteString("\n---\n")
	b.WriteString("Your previous follow-up question was rejected as generic or repeated.\n")
	writeAskedQuestions(&b, s)
	b.WriteString("Ask ONE new, specific follow-up question that is different from every question above ")
	b.WriteString("and refers to a concrete detail the patient mentioned.\n")
	b.WriteString(`Respond ONLY with JSON: {"question": "..."}` + "\n")
	return b.String()
}
