package telegram

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c := NewClient("TOKEN")
	c.apiURL = srv.URL
	return c
}

func TestSendMessage(t *testing.T) {
	var got sendMessageReq
	var path string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"ok":true}`))
	})

	if err := c.SendMessage(42, "Risk: 30%"); err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	if path != "/botTOKEN/sendMessage" || got.ChatID != 42 || got.Text != "Risk: 30%" {
		t.Fatalf("unexpected request: path=%s body=%+v", path, got)
	}
}

func TestSendDocument(t *testing.T) {
	var chatID, fileName, content string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		chatID = r.FormValue("chat_id")
		file, header, err := r.FormFile("document")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		defer file.Close()
		fileName = header.Filename
		data, _ := io.ReadAll(file)
		content = string(data)
	})

	if err := c.SendDocument(7, []byte("%PDF-1.4"), "report.pdf"); err != nil {
		t.Fatalf("SendDocument failed: %v", err)
	}
	if chatID != "7" || fileName != "report.pdf" || content != "%PDF-1.4" {
		t.Fatalf("unexpected upload: chat=%s name=%s content=%q", chatID, fileName, content)
	}
}

func TestSendMessageAPIError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"ok":false,"description":"chat not found"}`, http.StatusBadRequest)
	})
	if err := c.SendMessage(1, "x"); err == nil {
		t.Fatal("expected error")
	}
}

func TestEnabled(t *testing.T) {
	if NewClient("").Enabled() {
		t.Fatal("empty token must be disabled")
	}
	if !NewClient("t").Enabled() {
		t.Fatal("token must enable the client")
	}
}
