package consultation

import (
	"regexp"
	"slices"
	"strings"

	"github.com/bytedance/sonic"
)

var (
	fenceRe = regexp.MustCompile("```(?:json|JSON)?")

	// Ordered; within a pattern the last match wins.
	questionPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(?:what|when|where|which|who|whose|why|how)\b[^?.!\n]*\?`),
		regexp.MustCompile(`(?i)\b(?:do|does|did|is|are|was|were|have|has|had|can|could|would|will|should)\s+you\b[^?.!\n]*\?`),
		regexp.MustCompile(`(?i)\b(?:do|does|did|is|are|was|were|have|has|had|can|could|would|will|should)\b[^?.!\n]*\?`),
	}

	followUpLabelRe  = regexp.MustCompile(`(?i)follow[\s-]?up\s+question\s*:\s*(.+)`)
	quotedQuestionRe = regexp.MustCompile(`["“]([^"“”\n]{5,}\?)["”]`)
)

const (
	minPatternQuestionLen = 10
	maxPatternQuestionLen = 200
)

// stripFences removes markdown code-fence markers the oracle wraps JSON in.
func stripFences(text string) string {
	return strings.TrimSpace(fenceRe.ReplaceAllString(text, ""))
}

// balancedObjects returns every balanced {...} substring, nested ones included,
// ordered by start offset. A brace that never closes does not hide later objects.
func balancedObjects(text string) []string {
	type span struct{ start, end int }
	var (
		spans    []span
		open     []int
		inString bool
		escaped  bool
	)
	for i := 0; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			if len(open) > 0 {
				inString = true
			}
		case '{':
			open = append(open, i)
		case '}':
			if len(open) == 0 {
				continue
			}
			start := open[len(open)-1]
			open = open[:len(open)-1]
			spans = append(spans, span{start: start, end: i + 1})
		}
	}
	slices.SortFunc(spans, func(a, b span) int { return a.start - b.start })

	out := make([]string, 0, len(spans))
	for _, sp := range spans {
		out = append(out, text[sp.start:sp.end])
	}
	return out
}

func withQuestionMark(q string) string {
	q = strings.TrimSpace(q)
	if q == "" || strings.HasSuffix(q, "?") {
		return q
	}
	return q + "?"
}

// questionFromJSON is stage 2: the first object, outermost first, carrying followUpQuestion or question.
func questionFromJSON(text string) (string, bool) {
	for _, obj := range balancedObjects(text) {
		var fields map[string]any
		if err := sonic.UnmarshalString(obj, &fields); err != nil {
			continue
		}
		for _, key := range []string{"followUpQuestion", "question"} {
			if q, ok := fields[key].(string); ok && strings.TrimSpace(q) != "" {
				return withQuestionMark(q), true
			}
		}
	}
	return "", false
}

// questionFromPatterns is stage 3. The last match is taken because the newest
// follow-up usually closes the oracle's answer.
func questionFromPatterns(text string) (string, bool) {
	for _, re := range questionPatterns {
		matches := re.FindAllString(text, -1)
		if len(matches) == 0 {
			continue
		}
		q := strings.TrimSpace(matches[len(matches)-1])
		if n := len(q); n >= minPatternQuestionLen && n <= maxPatternQuestionLen {
			return q, true
		}
	}
	return "", false
}

func questionFromLabel(text string) (string, bool) {
	m := followUpLabelRe.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	q := strings.Trim(strings.TrimSpace(m[1]), `"“”*`)
	if q == "" {
		return "", false
	}
	return withQuestionMark(q), true
}

func questionFromQuotes(text string) (string, bool) {
	m := quotedQuestionRe.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	return strings.TrimSpace(m[1]), true
}

// ExtractQuestion pulls a follow-up question out of free-form oracle output.
// Strategies run in order and the first success wins; ok is false when none matched.
func ExtractQuestion(text string) (string, bool) {
	cleaned := stripFences(text)
	if cleaned == "" {
		return "", false
	}
	for _, stage := range []func(string) (string, bool){
		questionFromJSON,
		questionFromPatterns,
		questionFromLabel,
		questionFromQuotes,
	} {
		if q, ok := stage(cleaned); ok {
			return q, true
		}
	}
	return "", false
}

// ExtractReport parses fence-stripped oracle output as a Report.
// It returns nil when the text is not JSON or carries none of the report fields.
func ExtractReport(text string) *Report {
	cleaned := stripFences(text)
	if cleaned == "" {
		return nil
	}
	var r Report
	if err := sonic.UnmarshalString(cleaned, &r); err != nil {
		return nil
	}
	if r.empty() {
		return nil
	}
	return &r
}
