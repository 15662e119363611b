package consultation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
)

type fakeReportService struct {
	mu   sync.Mutex
	sent []Snapshot
	err  error
}

func (f *fakeReportService) SendDoctorReport(_ context.Context, final Snapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, final)
	return f.err
}

type failingCache struct{ SnapshotCache }

func (failingCache) Set(context.Context, Snapshot) error { return errors.New("cache down") }

func newTestService(cache SnapshotCache, report ReportService) Service {
	return NewService(EngineConfig{MinQuestions: 3, MaxQuestions: 3}, scriptedOracle(), NewMemoryRepository(), cache, nil, nil, report)
}

func runInterview(t *testing.T, svc Service) Snapshot {
	t.Helper()
	ctx := context.Background()
	snap, err := svc.CreateConsultation(ctx, "patient-7", "persistent cough for 2 weeks")
	if err != nil {
		t.Fatalf("CreateConsultation failed: %v", err)
	}
	for i := 0; snap.Status != StatusComplete; i++ {
		if i > 10 {
			t.Fatalf("interview did not complete: %+v", snap)
		}
		snap, err = svc.Submit(ctx, snap.ID, fmt.Sprintf("answer number %d", i))
		if err != nil {
			t.Fatalf("Submit failed: %v", err)
		}
	}
	svc.Wait()
	return snap
}

func TestServiceCompletionPipeline(t *testing.T) {
	ctx := context.Background()
	report := &fakeReportService{}
	svc := newTestService(NewMemorySnapshotCache(time.Hour), report)

	final := runInterview(t, svc)

	if len(report.sent) != 1 || report.sent[0].ID != final.ID {
		t.Fatalf("doctor report not sent exactly once: %d", len(report.sent))
	}
	if got := report.sent[0].AskedQuestions; len(got) != 3 {
		t.Fatalf("report should carry the asked questions, got %v", got)
	}

	o, err := svc.Outcome(ctx, final.ID)
	if err != nil {
		t.Fatalf("Outcome failed: %v", err)
	}
	if o.Summary != final.Summary || o.QuestionsAsked != 3 || o.PatientID != "patient-7" {
		t.Fatalf("unexpected outcome: %+v", o)
	}

	// The engine is released; state is served from the cache.
	state, err := svc.State(ctx, final.ID)
	if err != nil {
		t.Fatalf("State failed: %v", err)
	}
	if state.Status != StatusComplete || state.Summary != final.Summary {
		t.Fatalf("unexpected cached state: %+v", state)
	}
	if _, err := svc.Submit(ctx, final.ID, "hello again"); !errors.Is(err, ErrComplete) {
		t.Fatalf("expected ErrComplete for a released session, got %v", err)
	}
}

func TestServiceKeepsEngineWhenCachingFails(t *testing.T) {
	ctx := context.Background()
	report := &fakeReportService{err: errors.New("telegram down")}
	svc := newTestService(failingCache{NewMemorySnapshotCache(time.Hour)}, report)

	final := runInterview(t, svc)

	state, err := svc.State(ctx, final.ID)
	if err != nil {
		t.Fatalf("state must stay readable from the engine: %v", err)
	}
	if state.Status != StatusComplete {
		t.Fatalf("got %s", state.Status)
	}
	if _, err := svc.Submit(ctx, final.ID, "more"); !errors.Is(err, ErrComplete) {
		t.Fatalf("expected ErrComplete, got %v", err)
	}
}

func TestServiceUnknownConsultation(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(NewMemorySnapshotCache(time.Hour), nil)
	id := uuid.New()

	if _, err := svc.Submit(ctx, id, "hello"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Submit: expected ErrNotFound, got %v", err)
	}
	if _, err := svc.State(ctx, id); !errors.Is(err, ErrNotFound) {
		t.Fatalf("State: expected ErrNotFound, got %v", err)
	}
	if _, err := svc.Outcome(ctx, id); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Outcome: expected ErrNotFound, got %v", err)
	}
	if _, err := svc.AttachSpeech(id, &fakeSpeech{available: true}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("AttachSpeech: expected ErrNotFound, got %v", err)
	}
}

func TestServiceWithoutSpeechClients(t *testing.T) {
	svc := newTestService(NewMemorySnapshotCache(time.Hour), nil)
	if _, err := svc.TranscribeAudio(context.Background(), []byte{1}); err == nil {
		t.Fatal("expected an error without an STT client")
	}
	if _, err := svc.SynthesizeSpeech(context.Background(), "hi"); err == nil {
		t.Fatal("expected an error without a TTS client")
	}
}

func TestServiceCreateWithoutSymptoms(t *testing.T) {
	svc := newTestService(NewMemorySnapshotCache(time.Hour), nil)
	snap, err := svc.CreateConsultation(context.Background(), "", "")
	if err != nil {
		t.Fatalf("CreateConsultation failed: %v", err)
	}
	if snap.Status != StatusIdle || snap.PatientID == "" {
		t.Fatalf("expected idle session with generated patient id, got %+v", snap)
	}
}

func TestServiceDetachKeepsNewerSocket(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(NewMemorySnapshotCache(time.Hour), nil)
	snap, err := svc.CreateConsultation(ctx, "p", "")
	if err != nil {
		t.Fatalf("CreateConsultation failed: %v", err)
	}

	first, second := &fakeSpeech{available: true}, &fakeSpeech{available: true}
	if _, err := svc.AttachSpeech(snap.ID, first); err != nil {
		t.Fatalf("AttachSpeech failed: %v", err)
	}
	if _, err := svc.AttachSpeech(snap.ID, second); err != nil {
		t.Fatalf("AttachSpeech failed: %v", err)
	}

	svc.DetachSpeech(snap.ID, first)
	if s, _ := svc.State(ctx, snap.ID); s.Status != StatusListening {
		t.Fatalf("closing the old socket dropped voice mode: %s", s.Status)
	}
	svc.DetachSpeech(snap.ID, second)
	if s, _ := svc.State(ctx, snap.ID); s.Status != StatusIdle {
		t.Fatalf("expected manual idle session, got %s", s.Status)
	}
}

func TestServiceEvictIdle(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name        string
		idleTimeout time.Duration
		after       time.Duration
		wantEvicted int
	}{
		{name: "fresh session stays", idleTimeout: 2 * time.Hour, after: time.Minute, wantEvicted: 0},
		{name: "abandoned session goes", idleTimeout: 2 * time.Hour, after: 3 * time.Hour, wantEvicted: 1},
		{name: "zero timeout keeps everything", idleTimeout: 0, after: 24 * time.Hour, wantEvicted: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewService(EngineConfig{MinQuestions: 3, MaxQuestions: 3, IdleTimeout: tt.idleTimeout},
				scriptedOracle(), NewMemoryRepository(), NewMemorySnapshotCache(time.Hour), nil, nil, nil)
			snap, err := svc.CreateConsultation(ctx, "p", "night sweats")
			if err != nil {
				t.Fatalf("CreateConsultation failed: %v", err)
			}

			if got := svc.EvictIdle(time.Now().Add(tt.after)); got != tt.wantEvicted {
				t.Fatalf("evicted %d, want %d", got, tt.wantEvicted)
			}
			_, err = svc.Submit(ctx, snap.ID, "mostly after midnight")
			if tt.wantEvicted == 1 && !errors.Is(err, ErrNotFound) {
				t.Fatalf("evicted session still answers: %v", err)
			}
			if tt.wantEvicted == 0 && err != nil {
				t.Fatalf("kept session rejected input: %v", err)
			}
		})
	}
}

func TestServiceJanitorSweepsUntilCancelled(t *testing.T) {
	svc := NewService(EngineConfig{MinQuestions: 3, MaxQuestions: 3, IdleTimeout: time.Nanosecond},
		scriptedOracle(), NewMemoryRepository(), NewMemorySnapshotCache(time.Hour), nil, nil, nil)
	snap, err := svc.CreateConsultation(context.Background(), "p", "")
	if err != nil {
		t.Fatalf("CreateConsultation failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		svc.RunJanitor(ctx, 5*time.Millisecond)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, err := svc.State(context.Background(), snap.ID); errors.Is(err, ErrNotFound) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("janitor never evicted the idle session")
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("janitor did not stop after cancel")
	}
}
