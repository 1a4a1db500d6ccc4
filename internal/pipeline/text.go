package pipeline

import (
	"regexp"
	"strings"
)

var (
	nonAlnumPattern   = regexp.MustCompile(`[^a-z0-9\s]`)
	whitespacePattern = regexp.MustCompile(`\s+`)
	presentationLine  = regexp.MustCompile(`(?i)^(ALIGN|REJECT|WITHHOLD|AUDIT|THESIS|CONSEQUENCE)\b`)
)

// NormalizeText lowercases and strips everything but letters, digits and
// single spaces.
func NormalizeText(text string) string {
	s := strings.ToLower(text)
	s = nonAlnumPattern.ReplaceAllString(s, " ")
	s = whitespacePattern.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// ExtractBigrams returns the consecutive word pairs of the normalized text.
func ExtractBigrams(text string) []string {
	words := strings.Fields(NormalizeText(text))
	if len(words) < 2 {
		return nil
	}
	grams := make([]string, 0, len(words)-1)
	for i := 0; i < len(words)-1; i++ {
		grams = append(grams, words[i]+" "+words[i+1])
	}
	return grams
}

// ComputeOverlap measures the shared fraction of two bigram lists,
// normalized by the smaller distinct set.
func ComputeOverlap(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	setA := make(map[string]bool, len(a))
	for _, g := range a {
		setA[g] = true
	}
	setB := make(map[string]bool, len(b))
	for _, g := range b {
		setB[g] = true
	}
	overlap := 0
	for g := range setA {
		if setB[g] {
			overlap++
		}
	}
	denom := len(setA)
	if len(setB) < denom {
		denom = len(setB)
	}
	if denom < 1 {
		denom = 1
	}
	return float64(overlap) / float64(denom)
}

// BuildSummary takes the first non-empty line, capped at 140 characters.
func BuildSummary(text string) string {
	base := ""
	for _, line := range strings.Split(text, "\n") {
		if l := strings.TrimSpace(line); l != "" {
			base = l
			break
		}
	}
	if base == "" {
		base = text
	}
	if len(base) > 140 {
		base = base[:140]
	}
	return base
}

// ClampLines keeps at most maxLines non-empty lines.
func ClampLines(text string, maxLines int) string {
	if text == "" {
		return ""
	}
	var lines []string
	for _, line := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n") {
		if strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
	}
	if len(lines) > maxLines {
		lines = lines[:maxLines]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// StripPresentationLines drops lines that leak stage directions or
// option words into the transmission body.
func StripPresentationLines(text string) string {
	if text == "" {
		return ""
	}
	var kept []string
	for _, line := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || presentationLine.MatchString(line) {
			continue
		}
		kept = append(kept, line)
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}

// ClampChars keeps the trailing maxChars characters. The tail wins
// because the newest context sits at the end.
func ClampChars(text string, maxChars int) string {
	if len(text) <= maxChars {
		return text
	}
	return text[len(text)-maxChars:]
}
