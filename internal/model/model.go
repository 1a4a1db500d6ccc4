// Package model defines the documents KAIRO persists and the vote
// options shared across packages.
package model

// Vote options.
const (
	StanceAlign    = "ALIGN"
	StanceReject   = "REJECT"
	StanceWithhold = "WITHHOLD"
)

// Stances lists the vote options in canonical order.
var Stances = []string{StanceAlign, StanceReject, StanceWithhold}

// ValidStance reports whether s is a known vote option.
func ValidStance(s string) bool {
	return s == StanceAlign || s == StanceReject || s == StanceWithhold
}

// StanceCounts is the vote tally for one cycle.
type StanceCounts struct {
	Align    int `json:"ALIGN"`
	Reject   int `json:"REJECT"`
	Withhold int `json:"WITHHOLD"`
}

// Get returns the count for one option.
func (c StanceCounts) Get(stance string) int {
	switch stance {
	case StanceAlign:
		return c.Align
	case StanceReject:
		return c.Reject
	case StanceWithhold:
		return c.Withhold
	}
	return 0
}

// Inc bumps the count for one option.
func (c *StanceCounts) Inc(stance string) {
	switch stance {
	case StanceAlign:
		c.Align++
	case StanceReject:
		c.Reject++
	case StanceWithhold:
		c.Withhold++
	}
}

// Total sums all option counts.
func (c StanceCounts) Total() int {
	return c.Align + c.Reject + c.Withhold
}

// ComputeIntegrity maps a tally to the display integrity level: a clear
// ALIGN lead reads HIGH, a clear REJECT lead (or silence) reads LOW,
// anything contested reads MED.
func ComputeIntegrity(c StanceCounts) string {
	if c.Align == 0 && c.Reject == 0 {
		return "LOW"
	}
	if c.Align >= c.Reject+2 {
		return "HIGH"
	}
	if c.Reject >= c.Align+2 {
		return "LOW"
	}
	return "MED"
}

// Turn is one deliberation transcript entry.
type Turn struct {
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
}

// AuditFlags are the auditor's persisted risk markers.
type AuditFlags struct {
	RepeatRisk        bool `json:"repeatRisk"`
	ContradictionRisk bool `json:"contradictionRisk"`
}

// ModelMeta records which providers produced a cycle's transmission.
type ModelMeta struct {
	Primary string `json:"primary"`
	Auditor string `json:"auditor"`
}

// Reward is the finalized winner selection for one cycle.
type Reward struct {
	Option      string       `json:"option"`
	Winners     []string     `json:"winners"`
	PoolPercent int          `json:"poolPercent"`
	At          string       `json:"at"`
	Finalized   bool         `json:"finalized"`
	VoteCounts  StanceCounts `json:"voteCounts"`
}

// Creator fee payout statuses.
const (
	FeesProcessing = "processing"
	FeesCompleted  = "completed"
	FeesSkipped    = "skipped"
	FeesFailed     = "failed"
)

// CreatorFees tracks the payout protocol state for one cycle.
type CreatorFees struct {
	Status           string   `json:"status"`
	Reason           string   `json:"reason,omitempty"`
	Message          string   `json:"message,omitempty"`
	StartedAt        string   `json:"startedAt,omitempty"`
	At               string   `json:"at,omitempty"`
	CompletedAt      string   `json:"completedAt,omitempty"`
	ClaimedLamports  int64    `json:"claimedLamports,omitempty"`
	PoolLamports     int64    `json:"poolLamports,omitempty"`
	PerWinner        int64    `json:"perWinnerLamports,omitempty"`
	WinnersCount     int      `json:"winnersCount,omitempty"`
	ClaimSignature   string   `json:"claimSignature,omitempty"`
	ClaimSource      string   `json:"claimSource,omitempty"`
	PayoutSignatures []string `json:"payoutSignatures,omitempty"`
}

// Cycle is the archived record of one transmission cycle.
type Cycle struct {
	CycleID             string       `json:"cycleId"`
	CycleIndex          int          `json:"cycleIndex"`
	At                  string       `json:"at"`
	Transmission        string       `json:"transmission"`
	Trace               string       `json:"trace,omitempty"`
	Integrity           string       `json:"integrity"`
	RepeatRisk          bool         `json:"repeatRisk"`
	Deliberation        []Turn       `json:"deliberation"`
	Topics              []string     `json:"topics"`
	TopicsVersion       string       `json:"topicsVersion,omitempty"`
	SeedConcept         string       `json:"seedConcept,omitempty"`
	SeedConceptsVersion string       `json:"seedConceptsVersion,omitempty"`
	DoctrineVersion     string       `json:"doctrineVersion,omitempty"`
	AuditIssues         []string     `json:"auditIssues,omitempty"`
	AuditFlags          AuditFlags   `json:"auditFlags"`
	ModelMeta           ModelMeta    `json:"modelMeta"`
	Seed                string       `json:"seed,omitempty"`
	Memory              string       `json:"memory,omitempty"`
	StanceCounts        StanceCounts `json:"stanceCounts"`
	CreatedBy           string       `json:"createdBy"`
	Version             string       `json:"version,omitempty"`
	Reward              *Reward      `json:"reward,omitempty"`
	CreatorFees         *CreatorFees `json:"creatorFees,omitempty"`
}

// State is the live cycle document the voting surface reads and writes.
type State struct {
	CycleID             string       `json:"cycleId"`
	CycleIndex          int          `json:"cycleIndex"`
	At                  string       `json:"at"`
	Transmission        string       `json:"transmission"`
	Trace               string       `json:"trace,omitempty"`
	Integrity           string       `json:"integrity"`
	RepeatRisk          bool         `json:"repeatRisk"`
	Deliberation        []Turn       `json:"deliberation"`
	Topics              []string     `json:"topics"`
	TopicsVersion       string       `json:"topicsVersion,omitempty"`
	SeedConcept         string       `json:"seedConcept,omitempty"`
	SeedConceptsVersion string       `json:"seedConceptsVersion,omitempty"`
	DoctrineVersion     string       `json:"doctrineVersion,omitempty"`
	ModelMeta           ModelMeta    `json:"modelMeta"`
	Seed                string       `json:"seed,omitempty"`
	Memory              string       `json:"memory,omitempty"`
	StanceCounts        StanceCounts `json:"stanceCounts"`
	Locked              bool         `json:"locked"`
	CycleEndsAt         string       `json:"cycleEndsAt,omitempty"`
	Reward              *Reward      `json:"reward,omitempty"`
}

// Stance is one recorded vote.
type Stance struct {
	CycleID   string `json:"cycleId"`
	ActorID   string `json:"actorId"`
	Stance    string `json:"stance"`
	At        string `json:"at"`
	UserAgent string `json:"userAgent,omitempty"`
}

// Lock is the per-window cycle creation lock document.
type Lock struct {
	Status      string `json:"status"`
	StartedAt   string `json:"startedAt,omitempty"`
	CompletedAt string `json:"completedAt,omitempty"`
	CycleID     string `json:"cycleId,omitempty"`
}

// Event types emitted to the audit stream.
const (
	EventCycleCreated    = "CYCLE_CREATED"
	EventStanceRecorded  = "STANCE_RECORDED"
	EventRewardSelected  = "REWARD_SELECTED"
	EventFeesDistributed = "CREATOR_FEES_DISTRIBUTED"
)

// Event is one audit stream record.
type Event struct {
	Type    string                 `json:"type"`
	CycleID string                 `json:"cycleId"`
	ActorID string                 `json:"actorId,omitempty"`
	At      string                 `json:"at"`
	Payload map[string]interface{} `json:"payload,omitempty"`
}
