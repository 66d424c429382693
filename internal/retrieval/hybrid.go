package retrieval

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Hybrid similarities in hundredths: the first pick scores 0.70, each
// following pick 0.05 less, never below 0.50.
const (
	hybridTopPct   = 70
	hybridStepPct  = 5
	hybridFloorPct = 50

	hybridFloorSimilarity = hybridFloorPct / 100.0
)

// preview cuts text to at most n runes.
func preview(text string, n int) string {
	text = strings.TrimSpace(text)
	if n <= 0 || utf8.RuneCountInString(text) <= n {
		return text
	}
	r := []rune(text)
	return string(r[:n]) + "..."
}

// hybridPrompt asks the chat model to pick the most relevant previews.
func hybridPrompt(question string, previews []string, k int) (system, user string) {
	system = "You select course material relevant to a student's question. " +
		fmt.Sprintf("Reply with only a JSON array of at most %d chunk numbers, most relevant first, e.g. [2, 0, 5]. ", k) +
		"Reply [] if nothing is relevant."

	var b strings.Builder
	b.WriteString("Question: ")
	b.WriteString(question)
	b.WriteString("\n\nChunks:\n")
	for i, p := range previews {
		fmt.Fprintf(&b, "[%d] %s\n", i, p)
	}
	return system, b.String()
}

// parseIndices extracts a bracketed integer list from a chat response.
// Small models frequently wrap it in markdown code fences or add
// conversational filler. Out-of-range and duplicate indices are dropped and
// at most k are returned. An error means no list could be found at all.
func parseIndices(resp string, n, k int) ([]int, error) {
	s := strings.TrimSpace(resp)

	// Strip markdown code fences.
	if idx := strings.Index(s, "```"); idx != -1 {
		s = s[idx+3:]
		if strings.HasPrefix(s, "json") {
			s = s[4:]
		}
		if end := strings.Index(s, "```"); end != -1 {
			s = s[:end]
		}
	}

	start := strings.Index(s, "[")
	if start == -1 {
		return nil, fmt.Errorf("no bracketed list in response")
	}
	end := strings.Index(s[start:], "]")
	if end == -1 {
		return nil, fmt.Errorf("unterminated list in response")
	}
	list := s[start : start+end+1]

	var raw []int
	if err := json.Unmarshal([]byte(list), &raw); err != nil {
		// Tolerate lists json rejects, such as trailing commas or floats.
		raw, err = scanInts(list[1 : len(list)-1])
		if err != nil {
			return nil, err
		}
	}

	seen := make(map[int]bool, len(raw))
	out := make([]int, 0, min(k, len(raw)))
	for _, i := range raw {
		if i < 0 || i >= n || seen[i] {
			continue
		}
		seen[i] = true
		out = append(out, i)
		if len(out) == k {
			break
		}
	}
	return out, nil
}

func scanInts(s string) ([]int, error) {
	var out []int
	for _, f := range strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' || r == '\n' || r == '\t' }) {
		f = strings.Trim(f, `"'`)
		if v, err := strconv.Atoi(f); err == nil {
			out = append(out, v)
			continue
		}
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, fmt.Errorf("parsing index %q: %w", f, err)
		}
		out = append(out, int(v))
	}
	return out, nil
}

// hybridSimilarity is the heuristic similarity of the rank-th pick.
func hybridSimilarity(rank int) float64 {
	return float64(max(hybridFloorPct, hybridTopPct-rank*hybridStepPct)) / 100
}
