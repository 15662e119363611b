package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

// DefaultSTTURL is the local Whisper service (same container as Silero TTS).
const DefaultSTTURL = "http://tts:8000/transcribe"

// WhisperClient posts recorded utterances to a Whisper transcription endpoint.
type WhisperClient struct {
	url        string
	language   string
	httpClient *http.Client
}

func NewWhisperClient(url string) *WhisperClient {
	if url == "" {
		url = DefaultSTTURL
	}
	return &WhisperClient{
		url:      url,
		language: "en",
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

type transcription struct {
	Text     string `json:"text"`
	Language string `json:"language"`
}

func (c *WhisperClient) form(audio []byte) (*bytes.Buffer, string, error) {
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	if c.language != "" {
		if err := w.WriteField("language", c.language); err != nil {
			return nil, "", err
		}
	}
	part, err := w.CreateFormFile("file", "utterance.wav")
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(audio); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return body, w.FormDataContentType(), nil
}

// Transcribe returns the recognised text. Empty audio is treated as silence.
func (c *WhisperClient) Transcribe(ctx context.Context, audioData []byte) (string, error) {
	if len(audioData) == 0 {
		return "", nil
	}

	body, contentType, err := c.form(audioData)
	if err != nil {
		return "", fmt.Errorf("build transcription form: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("transcription request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("STT API error: %s - %s", resp.Status, strings.TrimSpace(string(msg)))
	}

	var t transcription
	if err := json.NewDecoder(resp.Body).Decode(&t); err != nil {
		return "", fmt.Errorf("decode STT response: %w", err)
	}
	return strings.TrimSpace(t.Text), nil
}
