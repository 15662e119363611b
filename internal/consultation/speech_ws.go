package consultation

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"medical-interview-agent/internal/observability"
)

// MessageType is the WebSocket envelope type.
type MessageType string

// Server -> browser
const (
	MsgListen        MessageType = "listen"
	MsgStopListening MessageType = "stop_listening"
	MsgSpeak         MessageType = "speak"
	MsgState         MessageType = "state"
	MsgComplete      MessageType = "complete"
	MsgError         MessageType = "error"
)

// Browser -> server
const (
	MsgUtterance   MessageType = "utterance"
	MsgSpeechEnded MessageType = "speech_ended"
	MsgSpeechError MessageType = "speech_error"
)

const writeTimeout = 10 * time.Second

// Envelope is the WebSocket message format.
type Envelope struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type speakPayload struct {
	Text        string `json:"text"`
	AudioBase64 string `json:"audio_base64,omitempty"`
}

type utterancePayload struct {
	Text string `json:"text"`
}

type speechErrorPayload struct {
	Kind string `json:"kind"`
}

// WSSpeechAdapter is a SpeechAdapter backed by the browser on the other end of a
// WebSocket. Capture and playback happen client side; server-side TTS audio is
// attached to speak messages when a synthesizer is configured.
type WSSpeechAdapter struct {
	conn       *websocket.Conn
	writeMu    sync.Mutex
	closed     atomic.Bool
	synthesize func(ctx context.Context, text string) ([]byte, error)
}

func NewWSSpeechAdapter(conn *websocket.Conn, synthesize func(ctx context.Context, text string) ([]byte, error)) *WSSpeechAdapter {
	return &WSSpeechAdapter{conn: conn, synthesize: synthesize}
}

func (a *WSSpeechAdapter) Available() bool {
	return !a.closed.Load()
}

func (a *WSSpeechAdapter) StartListening() error {
	return a.Send(MsgListen, nil)
}

func (a *WSSpeechAdapter) StopListening() error {
	return a.Send(MsgStopListening, nil)
}

// Speak returns immediately; synthesis and delivery run in the background.
func (a *WSSpeechAdapter) Speak(text string) error {
	if a.closed.Load() {
		return websocket.ErrCloseSent
	}
	go func() {
		payload := speakPayload{Text: text}
		if a.synthesize != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
			audio, err := a.synthesize(ctx, text)
			cancel()
			if err != nil {
				// The browser falls back to its own speech synthesis.
				observability.Logger().Warn("tts failed, sending text only", "error", err)
			} else {
				payload.AudioBase64 = base64.StdEncoding.EncodeToString(audio)
			}
		}
		if err := a.Send(MsgSpeak, payload); err != nil {
			observability.Logger().Warn("speak message not delivered", "error", err)
		}
	}()
	return nil
}

// Send writes one envelope. Writes are serialized per connection.
func (a *WSSpeechAdapter) Send(t MessageType, payload any) error {
	if a.closed.Load() {
		return websocket.ErrCloseSent
	}
	env := Envelope{Type: t}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		env.Payload = raw
	}
	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	_ = a.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return a.conn.WriteJSON(env)
}

func (a *WSSpeechAdapter) Close() {
	if a.closed.Swap(true) {
		return
	}
	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	_ = a.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	_ = a.conn.Close()
}

// Serve reads browser events until the connection drops. Messages are consumed
// serially, so an utterance arriving mid-analysis waits its turn. afterTurn is
// called after each processed utterance.
func (a *WSSpeechAdapter) Serve(ctx context.Context, events SpeechEvents, transcribe func(ctx context.Context, audio []byte) (string, error), afterTurn func()) {
	log := observability.LoggerFromContext(ctx)
	for {
		kind, data, err := a.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn("speech socket closed unexpectedly", "error", err)
			}
			a.closed.Store(true)
			return
		}

		if kind == websocket.BinaryMessage {
			if transcribe == nil {
				_ = a.Send(MsgError, map[string]string{"message": "audio upload is not supported"})
				continue
			}
			text, err := transcribe(ctx, data)
			if err != nil {
				log.Warn("transcription failed", "error", err)
				events.SpeechError("transcription")
				continue
			}
			events.UtteranceFinal(ctx, text)
			afterTurn()
			continue
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			_ = a.Send(MsgError, map[string]string{"message": "invalid message"})
			continue
		}
		switch env.Type {
		case MsgUtterance:
			var p utterancePayload
			if err := json.Unmarshal(env.Payload, &p); err != nil {
				_ = a.Send(MsgError, map[string]string{"message": "invalid utterance"})
				continue
			}
			events.UtteranceFinal(ctx, p.Text)
			afterTurn()
		case MsgSpeechEnded:
			events.SpeechEnded()
		case MsgSpeechError:
			var p speechErrorPayload
			_ = json.Unmarshal(env.Payload, &p)
			events.SpeechError(p.Kind)
		default:
			_ = a.Send(MsgError, map[string]string{"message": "unknown message type"})
		}
	}
}
