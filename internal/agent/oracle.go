package agent

import (
	"context"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"medical-interview-agent/internal/consultation"
)

const systemPrompt = `You are a careful clinical triage assistant interviewing a patient.
You never give a definitive diagnosis. You ask one precise follow-up question at a time and
you always answer in the JSON format requested by the user message.`

// ChatCompleter is the subset of the go-openai client the oracle needs.
type ChatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAIOracle implements consultation.AnalysisOracle with a JSON-mode chat completion.
type OpenAIOracle struct {
	client ChatCompleter
	model  string
}

// NewOpenAIOracle builds an oracle for the given key. baseURL may point to any
// OpenAI-compatible endpoint (e.g. DeepSeek); empty keeps the default.
func NewOpenAIOracle(apiKey, baseURL, model string) *OpenAIOracle {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return newOpenAIOracle(openai.NewClientWithConfig(cfg), model)
}

func newOpenAIOracle(client ChatCompleter, model string) *OpenAIOracle {
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &OpenAIOracle{client: client, model: model}
}

func (o *OpenAIOracle) Analyze(ctx context.Context, req consultation.AnalysisRequest) (*consultation.AnalysisResponse, error) {
	if o.client == nil {
		return nil, errors.New("openai client not initialized")
	}
	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: req.InputData},
		},
		Temperature:    0.3,
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
	})
	if err != nil {
		return nil, fmt.Errorf("chat completion (%s): %w", req.AnalysisType, err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("chat completion returned no choices")
	}

	text := resp.Choices[0].Message.Content
	out := &consultation.AnalysisResponse{AnalysisResultText: text}
	if report := consultation.ExtractReport(text); report != nil {
		out.StructuredReportJSON = text
		if report.RiskAssessment != nil {
			out.ConfidenceScore = fmt.Sprintf("%.0f%%", float64(report.RiskAssessment.ConfidenceScore))
		}
	}
	return out, nil
}
