package consultation

import "context"

const AnalysisTypeCrossQuestioning = "clinical_cross_questioning"

// AnalysisRequest is what the engine sends to the oracle each turn.
type AnalysisRequest struct {
	PatientID    string `json:"patientId"`
	AnalysisType string `json:"analysisType"`
	InputData    string `json:"inputData"`
	ModelVersion string `json:"modelVersion"`
}

// AnalysisResponse carries free text and, optionally, a structured report.
type AnalysisResponse struct {
	AnalysisResultText   string `json:"analysisResultText"`
	StructuredReportJSON string `json:"structuredReportJson,omitempty"`
	ConfidenceScore      string `json:"confidenceScore,omitempty"`
}

// AnalysisOracle is the external analysis service. Errors are treated as recoverable.
type AnalysisOracle interface {
	Analyze(ctx context.Context, req AnalysisRequest) (*AnalysisResponse, error)
}

// SpeechAdapter drives host speech capture and playback.
// Implementations report back through the SpeechEvents they were attached with.
type SpeechAdapter interface {
	// Available is false on platforms without speech; the engine then runs in manual entry mode.
	Available() bool
	StartListening() error
	StopListening() error
	// Speak starts playback and returns; completion arrives as SpeechEnded.
	Speak(text string) error
}

// SpeechEvents is implemented by Engine.
type SpeechEvents interface {
	UtteranceFinal(ctx context.Context, text string)
	SpeechEnded()
	SpeechError(kind string)
}
