package pipeline

import (
	"encoding/json"
	"strings"
)

// Integrity levels reported by the auditor.
const (
	IntegrityLow  = "LOW"
	IntegrityMed  = "MED"
	IntegrityHigh = "HIGH"
)

// CritiqueFlags are the auditor's risk markers.
type CritiqueFlags struct {
	RepeatRisk        bool `json:"repeatRisk"`
	ContradictionRisk bool `json:"contradictionRisk"`
}

// Critique is the parsed auditor critique.
type Critique struct {
	Issues          []string      `json:"issues"`
	RequiredChanges []string      `json:"requiredChanges"`
	Flags           CritiqueFlags `json:"flags"`
	Integrity       string        `json:"integrity"`
}

// Approval is the parsed auditor approval verdict.
type Approval struct {
	Approve   bool   `json:"approve"`
	Integrity string `json:"integrity"`
	Trace     string `json:"trace"`
}

// ExtractJSONBlock finds the first balanced top-level JSON object in the
// text. Strings and escapes are respected so braces inside values do not
// break the balance. Returns "" when no complete object exists.
func ExtractJSONBlock(text string) string {
	start := strings.IndexByte(text, '{')
	if start == -1 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
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
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return ""
}

// ParseCritique parses the auditor critique output. Any failure yields
// the permissive fallback: no issues, no required changes, no flags, LOW
// integrity. The pipeline continues degraded rather than stalling.
func ParseCritique(text string) Critique {
	fallback := Critique{
		Issues:          []string{},
		RequiredChanges: []string{},
		Integrity:       IntegrityLow,
	}
	block := ExtractJSONBlock(text)
	if block == "" {
		return fallback
	}
	var parsed struct {
		Issues          []string `json:"issues"`
		RequiredChanges []string `json:"requiredChanges"`
		Flags           struct {
			RepeatRisk        bool `json:"repeatRisk"`
			ContradictionRisk bool `json:"contradictionRisk"`
		} `json:"flags"`
		Integrity string `json:"integrity"`
	}
	if err := json.Unmarshal([]byte(block), &parsed); err != nil {
		return fallback
	}
	out := Critique{
		Issues:          parsed.Issues,
		RequiredChanges: parsed.RequiredChanges,
		Flags: CritiqueFlags{
			RepeatRisk:        parsed.Flags.RepeatRisk,
			ContradictionRisk: parsed.Flags.ContradictionRisk,
		},
		Integrity: parsed.Integrity,
	}
	if out.Issues == nil {
		out.Issues = []string{}
	}
	if out.RequiredChanges == nil {
		out.RequiredChanges = []string{}
	}
	if out.Integrity == "" {
		out.Integrity = IntegrityLow
	}
	return out
}

// ParseApproval parses the auditor approval output. The fallback
// approves with LOW integrity and a degraded trace, so a broken auditor
// never blocks publication.
func ParseApproval(text string) Approval {
	fallback := Approval{Approve: true, Integrity: IntegrityLow, Trace: "AUDIT: DEGRADED"}
	block := ExtractJSONBlock(text)
	if block == "" {
		return fallback
	}
	var parsed struct {
		Approve   bool   `json:"approve"`
		Integrity string `json:"integrity"`
		Trace     string `json:"trace"`
	}
	if err := json.Unmarshal([]byte(block), &parsed); err != nil {
		return fallback
	}
	out := Approval{
		Approve:   parsed.Approve,
		Integrity: parsed.Integrity,
		Trace:     parsed.Trace,
	}
	if out.Integrity == "" {
		out.Integrity = IntegrityLow
	}
	if len(out.Trace) > 120 {
		out.Trace = out.Trace[:120]
	}
	return out
}
