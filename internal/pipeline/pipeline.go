// Package pipeline runs the deliberation that produces each transmission:
// a primary draft, an auditor critique, a revision, an approval gate, and
// at most one reroll when the gate or the repeat detector objects. Every
// stage degrades instead of failing; a dead provider chain falls back to
// the newest stored transmission.
package pipeline

import (
	"context"
	"strings"

	"kairo/internal/config"
	"kairo/internal/logging"
	"kairo/internal/sampler"
	"kairo/internal/store"
	"kairo/internal/textgen"
)

// Speaker labels for deliberation turns.
const (
	SpeakerOpus    = "OPUS"
	SpeakerAuditor = "AUDITOR"
)

// OfflineTransmission is published when no provider output and no stored
// fallback exists.
const OfflineTransmission = "NO TRANSMISSION AVAILABLE"

// Turn is one visible step of the deliberation transcript.
type Turn struct {
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
}

// Result is a finished deliberation.
type Result struct {
	Transmission  string        `json:"transmission"`
	Trace         string        `json:"trace,omitempty"`
	Integrity     string        `json:"integrity"`
	RepeatRisk    bool          `json:"repeatRisk"`
	Deliberation  []Turn        `json:"deliberation"`
	AuditIssues   []string      `json:"auditIssues"`
	AuditFlags    CritiqueFlags `json:"auditFlags"`
	Topics        []string      `json:"topics"`
	TopicCategory string        `json:"topicCategory,omitempty"`
	TopicsVersion string        `json:"topicsVersion,omitempty"`
	SeedConcept   string        `json:"seedConcept"`
	SeedsVersion  string        `json:"seedConceptsVersion,omitempty"`
	ModelMeta     ModelMeta     `json:"modelMeta"`
}

// ModelMeta records which providers produced the transmission.
type ModelMeta struct {
	Primary string `json:"primary"`
	Auditor string `json:"auditor"`
}

// Pipeline orchestrates the deliberation stages.
type Pipeline struct {
	primary  textgen.Generator
	auditor  textgen.Generator
	sampler  *sampler.Sampler
	store    store.Store
	doctrine *Doctrine
	cfg      config.PipelineConfig
}

// New creates a pipeline. Primary and auditor may be the same generator;
// the auditor just runs colder.
func New(primary, auditor textgen.Generator, smp *sampler.Sampler, st store.Store, doctrine *Doctrine, cfg config.PipelineConfig) *Pipeline {
	return &Pipeline{
		primary:  primary,
		auditor:  auditor,
		sampler:  smp,
		store:    st,
		doctrine: doctrine,
		cfg:      cfg,
	}
}

// Doctrine exposes the pipeline's doctrine loader.
func (p *Pipeline) Doctrine() *Doctrine { return p.doctrine }

// generate asks a generator for text and swallows the error; a failed
// stage is an empty string, not a failed cycle.
func (p *Pipeline) generate(ctx context.Context, g textgen.Generator, system, prompt string, maxTokens int, temperature float64) string {
	text, err := g.Generate(ctx, textgen.Request{
		System:      system,
		Prompt:      prompt,
		MaxTokens:   maxTokens,
		Temperature: temperature,
	})
	if err != nil {
		logging.Pipeline("generation degraded: %v", err)
		return ""
	}
	return text
}

// Generate runs the full deliberation for one cycle. priorContext is the
// rolling memory string carried from the previous cycle state.
func (p *Pipeline) Generate(ctx context.Context, priorContext string) (*Result, error) {
	timer := logging.StartTimer(logging.CategoryPipeline, "deliberation")
	defer timer.Stop()

	memory, err := LoadMemory(ctx, p.store)
	if err != nil {
		return nil, err
	}
	pack, err := p.sampler.Pick(ctx)
	if err != nil {
		return nil, err
	}

	lastSummary := ""
	if len(memory.LastSummaries) > 0 {
		lastSummary = memory.LastSummaries[0]
	}

	var deliberation []Turn

	// Stage 1: draft.
	draft := ClampLines(p.generate(ctx, p.primary, p.opusSystem(), p.buildDraftPrompt(draftPromptInput{
		TopicLabel:    pack.TopicLabel,
		TopicCategory: pack.TopicCategory,
		SeedConcept:   pack.SeedConcept,
		LastSummary:   lastSummary,
		PriorContext:  priorContext,
	}), p.cfg.MaxPrimaryTokens, 0.7), draftLineLimit)
	if draft != "" {
		deliberation = append(deliberation, Turn{Speaker: SpeakerOpus, Text: draft})
	}

	// Stage 2: critique.
	critiqueRaw := p.generate(ctx, p.auditor, p.auditorSystem(),
		p.buildCritiquePrompt(draft, memory.LastSummaries, memory.LastTopics),
		p.cfg.MaxAuditorTokens, 0.2)
	critique := ParseCritique(critiqueRaw)
	deliberation = append(deliberation, Turn{
		Speaker: SpeakerAuditor,
		Text:    "ISSUES: " + joinOrNone(critique.Issues) + " | REQUIRED: " + joinOrNone(critique.RequiredChanges),
	})

	// Stage 3: revision.
	revision := StripPresentationLines(ClampLines(p.generate(ctx, p.primary, p.opusSystem(),
		p.buildRevisionPrompt(draft, critique.RequiredChanges, memory.AvoidPhrases(12), false),
		p.cfg.MaxRevisionTokens, 0.7), finalLineLimit))

	// Stage 4: approval gate.
	repeatGate := ComputeRepeatRisk(revision, memory, p.cfg.RepeatThreshold)
	approval := ParseApproval(p.generate(ctx, p.auditor, p.auditorSystem(),
		p.buildApprovePrompt(revision), p.cfg.MaxTraceTokens, 0.2))

	// Stage 5: at most one reroll.
	if (!approval.Approve || repeatGate.Risky) && revision != "" {
		deliberation = append(deliberation, Turn{Speaker: SpeakerAuditor, Text: "AUDIT: REROLL REQUESTED"})
		logging.Pipeline("reroll requested (approve=%v repeatScore=%.3f)", approval.Approve, repeatGate.Score)
		reroll := StripPresentationLines(ClampLines(p.generate(ctx, p.primary, p.opusSystem(),
			p.buildRevisionPrompt(draft, critique.RequiredChanges, memory.AvoidPhrases(24), true),
			p.cfg.MaxRevisionTokens, 0.7), finalLineLimit))
		if reroll != "" {
			revision = reroll
			repeatGate = ComputeRepeatRisk(revision, memory, p.cfg.RepeatThreshold)
			approval = ParseApproval(p.generate(ctx, p.auditor, p.auditorSystem(),
				p.buildApprovePrompt(revision), p.cfg.MaxTraceTokens, 0.2))
		}
	}

	if revision != "" {
		deliberation = append(deliberation, Turn{Speaker: SpeakerOpus, Text: revision})
	}
	approvalTrace := approval.Trace
	if approvalTrace == "" {
		if approval.Approve {
			approvalTrace = "AUDIT: OK"
		} else {
			approvalTrace = "AUDIT: DEGRADED"
		}
	}
	deliberation = append(deliberation, Turn{Speaker: SpeakerAuditor, Text: approvalTrace})

	meta := ModelMeta{Primary: p.primary.Name(), Auditor: p.auditor.Name()}

	// Offline fallback: republish the newest stored transmission.
	if revision == "" {
		fallback := ""
		if len(memory.LastFull) > 0 {
			fallback = StripPresentationLines(memory.LastFull[0])
		}
		if fallback == "" {
			fallback = OfflineTransmission
		}
		logging.Pipeline("providers offline, republishing fallback")
		return &Result{
			Transmission:  fallback,
			Trace:         "OPUS OFFLINE",
			Integrity:     IntegrityLow,
			RepeatRisk:    true,
			Deliberation:  deliberation,
			AuditIssues:   critique.Issues,
			AuditFlags:    critique.Flags,
			Topics:        []string{pack.TopicID},
			TopicCategory: pack.TopicCategory,
			TopicsVersion: pack.TopicsVersion,
			SeedConcept:   pack.SeedConcept,
			SeedsVersion:  pack.SeedConceptsVersion,
			ModelMeta:     meta,
		}, nil
	}

	integrity := approval.Integrity
	if integrity == "" {
		integrity = critique.Integrity
	}
	if integrity == "" {
		integrity = IntegrityLow
	}
	return &Result{
		Transmission:  revision,
		Trace:         approval.Trace,
		Integrity:     integrity,
		RepeatRisk:    repeatGate.Risky || critique.Flags.RepeatRisk,
		Deliberation:  deliberation,
		AuditIssues:   critique.Issues,
		AuditFlags:    critique.Flags,
		Topics:        []string{pack.TopicID},
		TopicCategory: pack.TopicCategory,
		TopicsVersion: pack.TopicsVersion,
		SeedConcept:   pack.SeedConcept,
		SeedsVersion:  pack.SeedConceptsVersion,
		ModelMeta:     meta,
	}, nil
}

// BuildCarryMemory folds the prior context, the consensus line and the
// deliberation text into the rolling memory string for the next cycle.
func BuildCarryMemory(prior, consensus, deliberationText string, maxChars int) string {
	combined := prior + " | " + consensus + " | " + deliberationText
	combined = whitespacePattern.ReplaceAllString(combined, " ")
	return ClampChars(strings.TrimSpace(combined), maxChars)
}

func joinOrNone(items []string) string {
	if len(items) == 0 {
		return "NONE"
	}
	out := items[0]
	for _, s := range items[1:] {
		out += "; " + s
	}
	return out
}
