package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"

	"kairo/internal/config"
	"kairo/internal/sampler"
	"kairo/internal/store"
	"kairo/internal/textgen"
)

// scriptedGenerator returns canned responses in call order.
type scriptedGenerator struct {
	name      string
	responses []string
	err       error
	calls     int
	prompts   []string
}

func (g *scriptedGenerator) Name() string { return g.name }

func (g *scriptedGenerator) Generate(ctx context.Context, req textgen.Request) (string, error) {
	g.prompts = append(g.prompts, req.Prompt)
	idx := g.calls
	g.calls++
	if g.err != nil {
		return "", g.err
	}
	if idx < len(g.responses) {
		return g.responses[idx], nil
	}
	return "", errors.New("script exhausted")
}

func testPipeline(t *testing.T, primary, auditor textgen.Generator) (*Pipeline, store.Store) {
	t.Helper()
	st := store.NewMemoryStore()
	t.Cleanup(func() { st.Close() })
	smp := sampler.New(st, sampler.NewConfigLoader("", ""))
	smp.SetSeed(7)
	cfg := config.DefaultConfig().Pipeline
	p := New(primary, auditor, smp, st, NewDoctrine(""), cfg)
	return p, st
}

const approveJSON = `{"approve":true,"integrity":"HIGH","trace":"AUDIT: clean"}`
const critiqueJSON = `{"issues":["weak"],"requiredChanges":["tighten"],"flags":{"repeatRisk":false,"contradictionRisk":false},"integrity":"MED"}`

func TestGenerateHappyPath(t *testing.T) {
	primary := &scriptedGenerator{name: "p", responses: []string{
		"draft line one\ndraft line two",
		"final line one\nfinal line two",
	}}
	auditor := &scriptedGenerator{name: "a", responses: []string{critiqueJSON, approveJSON}}
	p, _ := testPipeline(t, primary, auditor)

	res, err := p.Generate(context.Background(), "")
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if res.Transmission != "final line one\nfinal line two" {
		t.Errorf("transmission = %q", res.Transmission)
	}
	if res.Integrity != "HIGH" {
		t.Errorf("integrity = %q", res.Integrity)
	}
	if res.RepeatRisk {
		t.Error("unexpected repeat risk on empty memory")
	}
	if primary.calls != 2 {
		t.Errorf("primary called %d times, want 2 (no reroll)", primary.calls)
	}
	if auditor.calls != 2 {
		t.Errorf("auditor called %d times, want 2", auditor.calls)
	}
	if len(res.Topics) != 1 || res.Topics[0] == "" {
		t.Errorf("topics = %v", res.Topics)
	}
	// Transcript ends with the auditor's trace.
	last := res.Deliberation[len(res.Deliberation)-1]
	if last.Speaker != SpeakerAuditor || last.Text != "AUDIT: clean" {
		t.Errorf("final turn = %+v", last)
	}
}

func TestGenerateRerollsOnceOnRejection(t *testing.T) {
	primary := &scriptedGenerator{name: "p", responses: []string{
		"draft",
		"first revision",
		"second revision after reroll",
	}}
	auditor := &scriptedGenerator{name: "a", responses: []string{
		critiqueJSON,
		`{"approve":false,"integrity":"LOW","trace":"AUDIT: repetition"}`,
		approveJSON,
	}}
	p, _ := testPipeline(t, primary, auditor)

	res, err := p.Generate(context.Background(), "")
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if res.Transmission != "second revision after reroll" {
		t.Errorf("transmission = %q, want reroll output", res.Transmission)
	}
	if primary.calls != 3 {
		t.Errorf("primary called %d times, want 3 (exactly one reroll)", primary.calls)
	}
	var rerollTurns int
	for _, turn := range res.Deliberation {
		if turn.Text == "AUDIT: REROLL REQUESTED" {
			rerollTurns++
		}
	}
	if rerollTurns != 1 {
		t.Errorf("expected exactly one reroll marker, got %d", rerollTurns)
	}
}

func TestGenerateRerollOnRepeatRisk(t *testing.T) {
	st := store.NewMemoryStore()
	defer st.Close()
	ctx := context.Background()

	prior := "the lattice tightens around every ledger and every hand"
	if _, err := UpdateMemory(ctx, st, prior, []string{"finance"}); err != nil {
		t.Fatal(err)
	}

	primary := &scriptedGenerator{name: "p", responses: []string{
		"draft",
		prior, // first revision repeats the stored text verbatim
		"entirely new phrasing emerges without borrowed fragments here",
	}}
	auditor := &scriptedGenerator{name: "a", responses: []string{critiqueJSON, approveJSON, approveJSON}}
	smp := sampler.New(st, sampler.NewConfigLoader("", ""))
	smp.SetSeed(9)
	p := New(primary, auditor, smp, st, NewDoctrine(""), config.DefaultConfig().Pipeline)

	res, err := p.Generate(ctx, "")
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if res.Transmission == prior {
		t.Error("verbatim repeat survived the gate")
	}
	if primary.calls != 3 {
		t.Errorf("primary called %d times, want 3", primary.calls)
	}
	if res.RepeatRisk {
		t.Error("reroll output should clear the repeat flag")
	}
}

func TestGenerateOfflineFallback(t *testing.T) {
	dead := &scriptedGenerator{name: "dead", err: errors.New("provider down")}
	p, _ := testPipeline(t, dead, dead)

	res, err := p.Generate(context.Background(), "")
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if res.Transmission != OfflineTransmission {
		t.Errorf("transmission = %q, want offline marker", res.Transmission)
	}
	if res.Trace != "OPUS OFFLINE" {
		t.Errorf("trace = %q", res.Trace)
	}
	if res.Integrity != IntegrityLow {
		t.Errorf("integrity = %q", res.Integrity)
	}
	if !res.RepeatRisk {
		t.Error("offline result must force repeatRisk")
	}
}

func TestGenerateOfflineRepublishesStoredText(t *testing.T) {
	st := store.NewMemoryStore()
	defer st.Close()
	ctx := context.Background()
	if _, err := UpdateMemory(ctx, st, "older transmission survives", []string{"ai"}); err != nil {
		t.Fatal(err)
	}

	dead := &scriptedGenerator{name: "dead", err: errors.New("down")}
	smp := sampler.New(st, sampler.NewConfigLoader("", ""))
	smp.SetSeed(4)
	p := New(dead, dead, smp, st, NewDoctrine(""), config.DefaultConfig().Pipeline)

	res, err := p.Generate(ctx, "")
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if res.Transmission != "older transmission survives" {
		t.Errorf("transmission = %q, want stored fallback", res.Transmission)
	}
}

func TestGenerateStripsOptionWords(t *testing.T) {
	primary := &scriptedGenerator{name: "p", responses: []string{
		"draft",
		"ALIGN with this\nThe infrastructure hums.\nWITHHOLD judgment",
	}}
	auditor := &scriptedGenerator{name: "a", responses: []string{critiqueJSON, approveJSON}}
	p, _ := testPipeline(t, primary, auditor)

	res, err := p.Generate(context.Background(), "")
	if err != nil {
		t.Fatal(err)
	}
	if res.Transmission != "The infrastructure hums." {
		t.Errorf("transmission = %q", res.Transmission)
	}
}

func TestGeneratePriorContextInPrompt(t *testing.T) {
	primary := &scriptedGenerator{name: "p", responses: []string{"draft", "final"}}
	auditor := &scriptedGenerator{name: "a", responses: []string{critiqueJSON, approveJSON}}
	p, _ := testPipeline(t, primary, auditor)

	longPrior := "this prior context is definitely longer than twenty chars"
	if _, err := p.Generate(context.Background(), longPrior); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(primary.prompts[0], "PRIOR CONTEXT: "+longPrior) {
		t.Error("long prior context missing from draft prompt")
	}

	primary2 := &scriptedGenerator{name: "p", responses: []string{"draft", "final"}}
	auditor2 := &scriptedGenerator{name: "a", responses: []string{critiqueJSON, approveJSON}}
	p2, _ := testPipeline(t, primary2, auditor2)
	if _, err := p2.Generate(context.Background(), "short"); err != nil {
		t.Fatal(err)
	}
	if strings.Contains(primary2.prompts[0], "PRIOR CONTEXT") {
		t.Error("short prior context should be omitted")
	}
}

func TestUpdateMemoryCaps(t *testing.T) {
	st := store.NewMemoryStore()
	defer st.Close()
	ctx := context.Background()

	var m *Memory
	var err error
	for i := 0; i < 60; i++ {
		m, err = UpdateMemory(ctx, st, "transmission number "+string(rune('a'+i%26))+" with several words", []string{"t"})
		if err != nil {
			t.Fatal(err)
		}
	}
	if len(m.LastSummaries) != maxSummaries {
		t.Errorf("summaries = %d, want %d", len(m.LastSummaries), maxSummaries)
	}
	if len(m.LastFull) != maxFullTexts {
		t.Errorf("full texts = %d, want %d", len(m.LastFull), maxFullTexts)
	}
	if len(m.LastPhrases) > maxPhrases {
		t.Errorf("phrases = %d, cap %d", len(m.LastPhrases), maxPhrases)
	}
	// Newest first.
	if !strings.Contains(m.LastFull[0], string(rune('a'+59%26))) {
		t.Errorf("newest entry not first: %q", m.LastFull[0])
	}
}

func TestBuildCarryMemory(t *testing.T) {
	got := BuildCarryMemory("prior", "ALIGN", "OPUS: line", 800)
	if got != "prior | ALIGN | OPUS: line" {
		t.Errorf("BuildCarryMemory = %q", got)
	}
	long := BuildCarryMemory(repeatString("x ", 600), "c", "d", 100)
	if len(long) != 100 {
		t.Errorf("carry memory length = %d, want 100", len(long))
	}
}
