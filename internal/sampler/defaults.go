package sampler

// Built-in topic and seed concept sets, used whenever the JSON config
// files are missing or unusable.

var defaultTopics = []Topic{
	{ID: "human_condition", Label: "human_condition", Category: "human_condition"},
	{ID: "earth", Label: "earth", Category: "earth"},
	{ID: "future", Label: "future", Category: "future"},
	{ID: "finance", Label: "finance", Category: "finance"},
	{ID: "crypto", Label: "crypto", Category: "crypto"},
	{ID: "emotions", Label: "emotions", Category: "emotions"},
	{ID: "ai", Label: "ai", Category: "ai"},
	{ID: "intelligence", Label: "intelligence", Category: "intelligence"},
	{ID: "government", Label: "government", Category: "government"},
	{ID: "family", Label: "family", Category: "family"},
	{ID: "work", Label: "work", Category: "work"},
	{ID: "technology", Label: "technology", Category: "technology"},
	{ID: "advancements", Label: "advancements", Category: "advancements"},
	{ID: "media", Label: "media", Category: "media"},
	{ID: "war", Label: "war", Category: "war"},
	{ID: "culture", Label: "culture", Category: "culture"},
	{ID: "religion", Label: "religion", Category: "religion"},
	{ID: "cities", Label: "cities", Category: "cities"},
	{ID: "health", Label: "health", Category: "health"},
	{ID: "education", Label: "education", Category: "education"},
	{ID: "markets", Label: "markets", Category: "markets"},
	{ID: "surveillance", Label: "surveillance", Category: "surveillance"},
	{ID: "ecology", Label: "ecology", Category: "ecology"},
	{ID: "energy", Label: "energy", Category: "energy"},
	{ID: "law", Label: "law", Category: "law"},
}

var defaultSeedLabels = []string{
	"residual consensus",
	"silent infrastructure",
	"attention rationing",
	"custody collapse",
	"synthetic labor",
	"scarcity interfaces",
	"coordination debt",
	"threshold signals",
	"identity compression",
	"grief protocols",
	"trust accounting",
	"memory drift",
	"network secession",
	"compliance theater",
	"algorithmic clerics",
	"micro rationing",
	"latent sovereignty",
	"consensus fatigue",
	"opacity markets",
	"silicon drought",
	"data scarcity",
	"liquidity mirage",
	"carbon triage",
	"defection lattices",
	"automation drift",
	"credential decay",
	"synthetic agency",
	"signal laundering",
	"resource cartels",
	"bureaucratic veneers",
	"fallback economies",
	"audit cascades",
	"sovereign caches",
	"containment rituals",
	"predictive debt",
	"attention blackouts",
	"trust inversion",
	"protocol residues",
	"security theater",
	"frictionless control",
	"grace scarcity",
	"consumption silence",
	"interface religion",
	"institutional ghosts",
	"predictive hunger",
	"reputation storms",
	"network winter",
	"entropy budgets",
	"scarcity optics",
	"debt harmonics",
}

func defaultSeedConcepts() []SeedConcept {
	out := make([]SeedConcept, 0, len(defaultSeedLabels))
	for _, label := range defaultSeedLabels {
		out = append(out, SeedConcept{ID: Slugify(label), Label: label})
	}
	return out
}
