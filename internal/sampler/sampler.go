// Package sampler picks the topic and seed concept for each transmission
// cycle. Both draws come from shuffled without-replacement bags persisted
// in the document store, so the rotation survives restarts and every
// entry appears once before any repeats.
package sampler

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"kairo/internal/logging"
	"kairo/internal/store"
)

const bagsKey = "config/bags"

// maxTopicAttempts bounds the variety scan before giving up and
// reshuffling the whole bag.
const maxTopicAttempts = 10

// categoryAvoidMinBag is the minimum remaining bag size for the
// same-category skip to apply. With fewer options left we take what
// the bag gives us.
const categoryAvoidMinBag = 5

// bagState is the persisted draw state.
type bagState struct {
	TopicsBagRemaining []string `json:"topicsBagRemaining"`
	SeedBagRemaining   []string `json:"seedBagRemaining"`
	LastTopic          string   `json:"lastTopic,omitempty"`
	LastTopicCategory  string   `json:"lastTopicCategory,omitempty"`
}

// SeedPack is one sampled topic/seed pairing handed to the pipeline.
type SeedPack struct {
	TopicID             string   `json:"topicId"`
	TopicLabel          string   `json:"topicLabel"`
	TopicCategory       string   `json:"topicCategory"`
	SeedConceptID       string   `json:"seedConceptId"`
	SeedConcept         string   `json:"seedConcept"`
	SeedConceptTags     []string `json:"seedConceptTags,omitempty"`
	TopicsVersion       string   `json:"topicsVersion,omitempty"`
	SeedConceptsVersion string   `json:"seedConceptsVersion,omitempty"`
}

// Sampler draws seed packs from the persisted bags.
type Sampler struct {
	store  store.Store
	loader *ConfigLoader

	mu  sync.Mutex
	rng *rand.Rand
}

// New creates a sampler over the given store and config loader.
func New(s store.Store, loader *ConfigLoader) *Sampler {
	return &Sampler{
		store:  s,
		loader: loader,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// SetSeed fixes the shuffle seed. Test hook.
func (s *Sampler) SetSeed(seed int64) {
	s.mu.Lock()
	s.rng = rand.New(rand.NewSource(seed))
	s.mu.Unlock()
}

func (s *Sampler) shuffle(items []string) []string {
	out := make([]string, len(items))
	copy(out, items)
	s.rng.Shuffle(len(out), func(i, j int) {
		out[i], out[j] = out[j], out[i]
	})
	return out
}

// initBags reconciles stored bag state with the active config: ids that
// left the config are dropped, and an empty bag is refilled with a fresh
// shuffle.
func (s *Sampler) initBags(state *bagState, topics []Topic, seeds []SeedConcept) *bagState {
	topicIDs := make([]string, len(topics))
	topicSet := make(map[string]bool, len(topics))
	for i, t := range topics {
		topicIDs[i] = t.ID
		topicSet[t.ID] = true
	}
	seedIDs := make([]string, len(seeds))
	seedSet := make(map[string]bool, len(seeds))
	for i, sc := range seeds {
		seedIDs[i] = sc.ID
		seedSet[sc.ID] = true
	}

	out := &bagState{}
	if state != nil {
		for _, id := range state.TopicsBagRemaining {
			if topicSet[id] {
				out.TopicsBagRemaining = append(out.TopicsBagRemaining, id)
			}
		}
		for _, id := range state.SeedBagRemaining {
			if seedSet[id] {
				out.SeedBagRemaining = append(out.SeedBagRemaining, id)
			}
		}
		out.LastTopic = state.LastTopic
		out.LastTopicCategory = state.LastTopicCategory
	}
	if len(out.TopicsBagRemaining) == 0 {
		out.TopicsBagRemaining = s.shuffle(topicIDs)
	}
	if len(out.SeedBagRemaining) == 0 {
		out.SeedBagRemaining = s.shuffle(seedIDs)
	}
	return out
}

// Pick draws the next topic and seed concept and persists the bag state.
func (s *Sampler) Pick(ctx context.Context) (*SeedPack, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	topicsCfg := s.loader.Topics()
	seedsCfg := s.loader.Seeds()
	if len(topicsCfg.Topics) == 0 || len(seedsCfg.SeedConcepts) == 0 {
		return nil, fmt.Errorf("sampler has no topics or seed concepts")
	}

	topicMap := make(map[string]Topic, len(topicsCfg.Topics))
	for _, t := range topicsCfg.Topics {
		topicMap[t.ID] = t
	}
	seedMap := make(map[string]SeedConcept, len(seedsCfg.SeedConcepts))
	for _, sc := range seedsCfg.SeedConcepts {
		seedMap[sc.ID] = sc
	}

	var stored bagState
	err := s.store.Get(ctx, bagsKey, &stored)
	var state *bagState
	switch {
	case err == nil:
		state = &stored
	case errors.Is(err, store.ErrNotFound):
		state = nil
	default:
		return nil, fmt.Errorf("failed to load bag state: %w", err)
	}
	bags := s.initBags(state, topicsCfg.Topics, seedsCfg.SeedConcepts)

	topicID := s.drawTopic(bags, topicsCfg.Topics, topicMap)
	topic, ok := topicMap[topicID]
	if !ok {
		topic = Topic{ID: topicID, Label: topicID, Category: "misc"}
	}
	bags.LastTopic = topicID
	bags.LastTopicCategory = topic.Category

	if len(bags.SeedBagRemaining) == 0 {
		seedIDs := make([]string, len(seedsCfg.SeedConcepts))
		for i, sc := range seedsCfg.SeedConcepts {
			seedIDs[i] = sc.ID
		}
		bags.SeedBagRemaining = s.shuffle(seedIDs)
	}
	seedID := bags.SeedBagRemaining[0]
	bags.SeedBagRemaining = bags.SeedBagRemaining[1:]

	if err := s.store.Set(ctx, bagsKey, bags); err != nil {
		return nil, fmt.Errorf("failed to save bag state: %w", err)
	}

	seed, ok := seedMap[seedID]
	if !ok {
		seed = SeedConcept{ID: seedID, Label: seedID}
	}
	logging.Sampler("picked topic %s (%s) seed %q", topic.ID, topic.Category, seed.Label)
	return &SeedPack{
		TopicID:             topic.ID,
		TopicLabel:          topic.Label,
		TopicCategory:       topic.Category,
		SeedConceptID:       seed.ID,
		SeedConcept:         seed.Label,
		SeedConceptTags:     seed.Tags,
		TopicsVersion:       topicsCfg.Version,
		SeedConceptsVersion: seedsCfg.Version,
	}, nil
}

// drawTopic scans the bag for a topic that differs from the last pick and,
// while the bag is comfortably full, from the last category too. A repeat
// of the last topic is discarded outright; a same-category candidate is
// pushed to the back so it stays in rotation. After ten attempts without
// a pick the bag reshuffles and the first draw wins.
func (s *Sampler) drawTopic(bags *bagState, topics []Topic, topicMap map[string]Topic) string {
	lastCategory := bags.LastTopicCategory

	attempts := 0
	for len(bags.TopicsBagRemaining) > 0 && attempts < maxTopicAttempts {
		candidate := bags.TopicsBagRemaining[0]
		bags.TopicsBagRemaining = bags.TopicsBagRemaining[1:]

		if candidate == bags.LastTopic {
			attempts++
			continue
		}
		category := "misc"
		if meta, ok := topicMap[candidate]; ok {
			category = meta.Category
		}
		if lastCategory != "" && category == lastCategory && len(bags.TopicsBagRemaining) > categoryAvoidMinBag {
			bags.TopicsBagRemaining = append(bags.TopicsBagRemaining, candidate)
			attempts++
			continue
		}
		return candidate
	}

	ids := make([]string, len(topics))
	for i, t := range topics {
		ids[i] = t.ID
	}
	bags.TopicsBagRemaining = s.shuffle(ids)
	topicID := bags.TopicsBagRemaining[0]
	bags.TopicsBagRemaining = bags.TopicsBagRemaining[1:]
	return topicID
}
