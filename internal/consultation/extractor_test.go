package consultation

import "testing"

func TestExtractQuestion(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		want   string
		wantOK bool
	}{
		{
			name:   "fenced json",
			input:  "```json\n{\"followUpQuestion\": \"How many days has the fever lasted?\", \"reasoning\": \"duration\"}\n```",
			want:   "How many days has the fever lasted?",
			wantOK: true,
		},
		{
			name:   "plain json is returned unchanged",
			input:  `{"followUpQuestion":"X?"}`,
			want:   "X?",
			wantOK: true,
		},
		{
			name:   "question key gets a question mark",
			input:  `{"question": "Do you smoke"}`,
			want:   "Do you smoke?",
			wantOK: true,
		},
		{
			name:   "braces inside json strings",
			input:  `Result: {"riskAssessment":{"riskOfProgression":20},"followUpQuestion":"Does the {pain} wake you up at night?"} done`,
			want:   "Does the {pain} wake you up at night?",
			wantOK: true,
		},
		{
			name:   "unclosed brace in prose before fenced json",
			input:  "Risk {high. ```json\n{\"followUpQuestion\":\"Describe where the chest pain radiates\"}\n```",
			want:   "Describe where the chest pain radiates?",
			wantOK: true,
		},
		{
			name:   "question nested in an inner object",
			input:  `{"analysis":{"followUpQuestion":"Describe where the chest pain radiates"}}`,
			want:   "Describe where the chest pain radiates?",
			wantOK: true,
		},
		{
			name:   "outer object wins over inner",
			input:  `{"question":"Is the pain worse after meals?","detail":{"question":"Which side hurts?"}}`,
			want:   "Is the pain worse after meals?",
			wantOK: true,
		},
		{
			name:   "last interrogative wins",
			input:  "Thanks for sharing. What medication do you take? When did the pain start?",
			want:   "When did the pain start?",
			wantOK: true,
		},
		{
			name:   "auxiliary verb question",
			input:  "Noted. Have you travelled abroad recently?",
			want:   "Have you travelled abroad recently?",
			wantOK: true,
		},
		{
			name:   "follow-up label",
			input:  "Assessment: moderate.\nFollow-up question: Has the rash spread to your arms",
			want:   "Has the rash spread to your arms?",
			wantOK: true,
		},
		{
			name:   "quoted question",
			input:  "Suggested: “Any fever today?”",
			want:   "Any fever today?",
			wantOK: true,
		},
		{
			name:   "no question",
			input:  "The patient reports mild symptoms.",
			wantOK: false,
		},
		{
			name:   "empty",
			input:  "  ",
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ExtractQuestion(tt.input)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v (got %q)", ok, tt.wantOK, got)
			}
			if got != tt.want {
				t.Fatalf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExtractQuestionIsIdempotent(t *testing.T) {
	q := "How long does each coughing episode usually last?"
	first, ok := ExtractQuestion(`{"followUpQuestion":"` + q + `"}`)
	if !ok || first != q {
		t.Fatalf("got %q", first)
	}
	second, ok := ExtractQuestion(`{"followUpQuestion":"` + first + `"}`)
	if !ok || second != first {
		t.Fatalf("second extraction changed the question: %q", second)
	}
}

func TestExtractReport(t *testing.T) {
	r := ExtractReport("```json\n" + finalReportJSON + "\n```")
	if r == nil {
		t.Fatal("expected a report from fenced json")
	}
	if r.PrimaryClinicalSummary != "Likely post-viral cough without red flags." {
		t.Fatalf("summary = %q", r.PrimaryClinicalSummary)
	}
	if r.RiskAssessment == nil || r.RiskAssessment.RiskOfProgression != 30 || r.RiskAssessment.ConfidenceScore != 70 {
		t.Fatalf("risk assessment = %+v", r.RiskAssessment)
	}
	if len(r.DifferentialDiagnosis) != 2 || len(r.WarningSigns) != 1 {
		t.Fatalf("lists not parsed: %+v", r)
	}

	for _, in := range []string{"", "not json at all", "{}", `{"unrelated": true}`} {
		if got := ExtractReport(in); got != nil {
			t.Fatalf("ExtractReport(%q) = %+v, want nil", in, got)
		}
	}
}

func TestExtractReportClampsPercentages(t *testing.T) {
	r := ExtractReport(`{"riskAssessment":{"riskOfProgression":"120%","confidenceScore":"unknown"}}`)
	if r == nil || r.RiskAssessment == nil {
		t.Fatal("expected risk assessment")
	}
	if r.RiskAssessment.RiskOfProgression != 100 || r.RiskAssessment.ConfidenceScore != 0 {
		t.Fatalf("got %+v", r.RiskAssessment)
	}
}

func TestParsePercent(t *testing.T) {
	tests := map[string]float64{
		"42":    42,
		"42.6%": 43,
		" 7 % ": 7,
		"-5":    0,
		"250":   100,
		"NaN":   0,
		"high":  0,
	}
	for in, want := range tests {
		if got := parsePercent(in); got != want {
			t.Errorf("parsePercent(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestBalancedObjects(t *testing.T) {
	got := balancedObjects(`x { y {"a":{"b":"}"}} z {"c":1}`)
	want := []string{`{"a":{"b":"}"}}`, `{"b":"}"}`, `{"c":1}`}
	if len(got) != len(want) {
		t.Fatalf("got %q, want %q", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("object %d: got %q, want %q", i, got[i], want[i])
		}
	}
}
