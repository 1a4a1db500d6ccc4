package pipeline

import (
	"fmt"
	"strings"
)

const (
	systemOpus    = "You are OPUS: a future intelligence. Cold. Indifferent. No empathy. No explanation. No hype. No emojis. Avoid dates and concrete predictions. Speak in inevitabilities."
	systemAuditor = "You are AUDITOR: a verifier. You enforce constraints. You remove fluff. You prevent repetition and contradictions. You are harsh and concise."
)

const (
	draftLineLimit = 3
	finalLineLimit = 3
)

func (p *Pipeline) opusSystem() string {
	return strings.Join([]string{
		systemOpus,
		p.doctrine.Block(),
		"Constraint: The doctrine is canonical. Do not contradict it.",
	}, "\n\n")
}

func (p *Pipeline) auditorSystem() string {
	return strings.Join([]string{
		systemAuditor,
		p.doctrine.Block(),
		"Constraint: Explicitly check for contradictions vs doctrine. If any contradiction exists, set contradictionRisk=true and integrity=LOW, and when asked to approve, set approve=false.",
	}, "\n\n")
}

type draftPromptInput struct {
	TopicLabel    string
	TopicCategory string
	SeedConcept   string
	LastSummary   string
	PriorContext  string
}

func (p *Pipeline) buildDraftPrompt(in draftPromptInput) string {
	topicLine := in.TopicLabel
	if in.TopicCategory != "" {
		topicLine = fmt.Sprintf("%s (%s)", in.TopicLabel, in.TopicCategory)
	}
	lastSummary := in.LastSummary
	if lastSummary == "" {
		lastSummary = "NONE"
	}
	parts := []string{
		"TOPIC: " + topicLine,
		"SEED: " + in.SeedConcept,
		"LAST SUMMARY: " + lastSummary,
	}
	if len(in.PriorContext) > 20 {
		parts = append(parts, "PRIOR CONTEXT: "+in.PriorContext)
	}
	parts = append(parts,
		p.doctrine.Block(),
		"Constraint: The doctrine is canonical. Do not contradict it.",
		"Variety Requirement: Each transmission must explore the topic from a fresh angle. Consider different: temporal frames (present/near future/distant future), scales (individual/community/civilization), mechanisms (economic/social/technological), or tones (observational/prophetic/structural).",
		"Instruction: Draft 2-3 short lines as a single transmission. No labels, no bullet or numbered lists, no explicit option words (ALIGN/REJECT/WITHHOLD). Avoid repeating phrasing patterns from recent transmissions.",
	)
	return strings.Join(parts, "\n")
}

func (p *Pipeline) buildCritiquePrompt(draft string, recentSummaries, recentTopics []string) string {
	summaries := strings.Join(capList(recentSummaries, 12), "\n")
	if summaries == "" {
		summaries = "NONE"
	}
	topics := strings.Join(capList(recentTopics, 12), ", ")
	if topics == "" {
		topics = "NONE"
	}
	return strings.Join([]string{
		p.doctrine.Block(),
		"RECENT SUMMARIES:",
		summaries,
		"RECENT TOPICS: " + topics,
		"DRAFT:",
		draft,
		"Instruction: Check the draft against the doctrine. If any contradiction exists, set contradictionRisk=true and integrity=LOW.",
		`Return JSON: {"issues":[...],"requiredChanges":[...],"flags":{"repeatRisk":true/false,"contradictionRisk":true/false},"integrity":"LOW|MED|HIGH"}.`,
	}, "\n")
}

func (p *Pipeline) buildRevisionPrompt(draft string, requiredChanges, avoidPhrases []string, reroll bool) string {
	changes := bulletList(requiredChanges)
	avoid := bulletList(avoidPhrases)
	varietyHint := "Ensure linguistic variety. Avoid repeating sentence patterns or word combinations from the avoid list."
	if reroll {
		varietyHint = "Choose a different angle within the same topic. Consider shifting: temporal perspective, scale, mechanism of action, or narrative framing. Use fresh vocabulary and sentence structures."
	}
	return strings.Join([]string{
		p.doctrine.Block(),
		"Constraint: The doctrine is canonical. Do not contradict it.",
		"DRAFT:",
		draft,
		"REQUIRED CHANGES:",
		changes,
		"AVOID PHRASES:",
		avoid,
		"Variety Guidance: " + varietyHint,
		"Instruction: Produce the final transmission in 2-3 lines. No labels, no bullet or numbered lists, no explicit option words (ALIGN/REJECT/WITHHOLD).",
	}, "\n")
}

func (p *Pipeline) buildApprovePrompt(finalText string) string {
	return strings.Join([]string{
		p.doctrine.Block(),
		"FINAL:",
		finalText,
		`Instruction: Return JSON: {"approve":true/false,"integrity":"LOW|MED|HIGH","trace":"AUDIT: ..."}.
Approve=false if repetition risk is high or doctrine is contradicted. If doctrine is contradicted, set integrity=LOW.`,
	}, "\n")
}

func capList(items []string, limit int) []string {
	if len(items) > limit {
		return items[:limit]
	}
	return items
}

func bulletList(items []string) string {
	if len(items) == 0 {
		return "NONE"
	}
	var sb strings.Builder
	for i, item := range items {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString("- ")
		sb.WriteString(item)
	}
	return sb.String()
}
