package agent

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestWhisperTranscribe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		file, _, err := r.FormFile("file")
		if err != nil {
			http.Error(w, "no file", http.StatusBadRequest)
			return
		}
		defer file.Close()
		data, _ := io.ReadAll(file)
		if string(data) != "RIFF" {
			http.Error(w, "unexpected audio", http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(transcription{Text: " my throat hurts ", Language: r.FormValue("language")})
	}))
	defer srv.Close()

	c := NewWhisperClient(srv.URL)
	text, err := c.Transcribe(context.Background(), []byte("RIFF"))
	if err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}
	if text != "my throat hurts" {
		t.Fatalf("got %q", text)
	}
}

func TestWhisperTranscribeEmptyAudio(t *testing.T) {
	text, err := NewWhisperClient("http://127.0.0.1:1/unused").Transcribe(context.Background(), nil)
	if err != nil || text != "" {
		t.Fatalf("empty audio should be a no-op, got %q %v", text, err)
	}
}

func TestWhisperTranscribeServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	if _, err := NewWhisperClient(srv.URL).Transcribe(context.Background(), []byte{1}); err == nil {
		t.Fatal("expected error")
	}
}

func TestElevenLabsSynthesize(t *testing.T) {
	var gotPath, gotKey string
	var gotReq ttsRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("xi-api-key")
		_ = json.NewDecoder(r.Body).Decode(&gotReq)
		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write([]byte("ID3audio"))
	}))
	defer srv.Close()

	c := NewElevenLabsClient("secret")
	c.baseURL = srv.URL
	audio, err := c.Synthesize(context.Background(), "How long have you had the cough?", "")
	if err != nil {
		t.Fatalf("Synthesize failed: %v", err)
	}
	if string(audio) != "ID3audio" {
		t.Fatalf("got %q", audio)
	}
	if gotPath != "/"+defaultVoiceID || gotKey != "secret" || gotReq.Text != "How long have you had the cough?" {
		t.Fatalf("unexpected request: path=%s key=%s body=%+v", gotPath, gotKey, gotReq)
	}
}

func TestElevenLabsSynthesizeEmptyText(t *testing.T) {
	if _, err := NewElevenLabsClient("k").Synthesize(context.Background(), "  ", ""); err == nil {
		t.Fatal("expected error for empty text")
	}
}

func TestElevenLabsSynthesizeError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "quota exceeded", http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewElevenLabsClient("k")
	c.baseURL = srv.URL
	if _, err := c.Synthesize(context.Background(), "hi", "voice"); err == nil {
		t.Fatal("expected error")
	}
}
