package agent

import (
	"context"
	"fmt"
	"strings"

	"medical-interview-agent/internal/consultation"
)

var mockQuestions = []string{
	"When exactly did these symptoms begin, and did they start suddenly or gradually?",
	"Which activities or times of day make your symptoms noticeably worse?",
	"Have you taken any medication for this so far, and did it change anything?",
	"Do you have any chronic conditions such as asthma, diabetes or heart disease?",
	"Has anyone around you at home or at work had similar symptoms recently?",
	"Have you noticed any changes in your sleep, appetite or energy levels?",
}

// MockOracle answers without a model so the service runs offline.
type MockOracle struct{}

func NewMockOracle() *MockOracle {
	return &MockOracle{}
}

func (m *MockOracle) Analyze(_ context.Context, req consultation.AnalysisRequest) (*consultation.AnalysisResponse, error) {
	answers := strings.Count(req.InputData, " Answer: ")

	if strings.Contains(req.InputData, "Produce the final clinical report") {
		text := fmt.Sprintf(`{"primaryClinicalSummary":"Patient interview completed with %d answers. Symptoms require clinical review.",`+
			`"riskAssessment":{"riskOfProgression":35,"confidenceScore":60},`+
			`"recommendations":{"immediateActions":["Rest and stay hydrated"],"furtherDiagnosticEvaluation":["Schedule an in-person examination"],"monitoringAndFollowUp":["Record symptoms daily"]},`+
			`"warningSigns":["Difficulty breathing","Chest pain"],"differentialDiagnosis":["Viral infection"]}`, answers)
		return &consultation.AnalysisResponse{AnalysisResultText: text, StructuredReportJSON: text, ConfidenceScore: "60%"}, nil
	}

	q := mockQuestions[answers%len(mockQuestions)]
	text := fmt.Sprintf(`{"riskAssessment":{"riskOfProgression":%d,"confidenceScore":%d},"followUpQuestion":%q,"reasoning":"offline mode"}`,
		20+answers*5, 40+answers*5, q)
	return &consultation.AnalysisResponse{AnalysisResultText: text, ConfidenceScore: fmt.Sprintf("%d%%", 40+answers*5)}, nil
}
