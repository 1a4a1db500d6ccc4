package sampler

import (
	"encoding/json"
	"os"
	"regexp"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"kairo/internal/logging"
)

// Topic is one subject KAIRO can transmit about.
type Topic struct {
	ID       string   `json:"id"`
	Label    string   `json:"label"`
	Category string   `json:"category"`
	Tags     []string `json:"tags,omitempty"`
}

// SeedConcept is a short phrase that anchors a transmission.
type SeedConcept struct {
	ID    string   `json:"id"`
	Label string   `json:"label"`
	Tags  []string `json:"tags,omitempty"`
}

// TopicsConfig is the parsed topics.json.
type TopicsConfig struct {
	Topics  []Topic `json:"topics"`
	Version string  `json:"version,omitempty"`
}

// SeedConceptsConfig is the parsed seedConcepts.json.
type SeedConceptsConfig struct {
	SeedConcepts []SeedConcept `json:"seedConcepts"`
	Version      string        `json:"version,omitempty"`
}

var slugPattern = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify turns free text into a lowercase underscore id.
func Slugify(text string) string {
	s := slugPattern.ReplaceAllString(strings.ToLower(text), "_")
	return strings.Trim(s, "_")
}

type rawTopicEntry struct {
	ID       string   `json:"id"`
	Key      string   `json:"key"`
	Label    string   `json:"label"`
	Category string   `json:"category"`
	Tags     []string `json:"tags"`
}

func normalizeTopicEntry(e rawTopicEntry) (Topic, bool) {
	id := strings.TrimSpace(firstNonEmpty(e.ID, e.Key, e.Label))
	if id == "" {
		return Topic{}, false
	}
	label := strings.TrimSpace(firstNonEmpty(e.Label, e.ID, e.Key, id))
	category := strings.TrimSpace(e.Category)
	if category == "" {
		category = "misc"
	}
	return Topic{ID: id, Label: label, Category: category, Tags: cleanTags(e.Tags)}, true
}

type rawSeedEntry struct {
	ID    string   `json:"id"`
	Key   string   `json:"key"`
	Label string   `json:"label"`
	Tags  []string `json:"tags"`
}

func normalizeSeedEntry(e rawSeedEntry) (SeedConcept, bool) {
	id := strings.TrimSpace(firstNonEmpty(e.ID, e.Label, e.Key))
	label := strings.TrimSpace(firstNonEmpty(e.Label, e.ID, e.Key, id))
	if id == "" && label == "" {
		return SeedConcept{}, false
	}
	if id == "" {
		id = Slugify(label)
	}
	if label == "" {
		label = id
	}
	return SeedConcept{ID: id, Label: label, Tags: cleanTags(e.Tags)}, true
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func cleanTags(tags []string) []string {
	var out []string
	for _, t := range tags {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// ConfigLoader caches topics.json and seedConcepts.json and falls back
// to the built-in lists when a file is absent or unparseable. An
// fsnotify watcher invalidates the cache on edits so a restart is not
// needed to pick up new topics.
type ConfigLoader struct {
	topicsPath string
	seedsPath  string

	mu          sync.Mutex
	topics      *TopicsConfig
	seeds       *SeedConceptsConfig
	watcher     *fsnotify.Watcher
	watcherDone chan struct{}
}

// NewConfigLoader creates a loader for the given file paths.
func NewConfigLoader(topicsPath, seedsPath string) *ConfigLoader {
	return &ConfigLoader{topicsPath: topicsPath, seedsPath: seedsPath}
}

// Watch starts invalidating the cache when either config file changes.
// Safe to skip; the loader works without it.
func (l *ConfigLoader) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	for _, p := range []string{l.topicsPath, l.seedsPath} {
		if p == "" {
			continue
		}
		// Watching a missing file fails; that just means defaults stay.
		if err := watcher.Add(p); err != nil {
			logging.Sampler("not watching %s: %v", p, err)
		}
	}

	l.mu.Lock()
	l.watcher = watcher
	l.watcherDone = make(chan struct{})
	done := l.watcherDone
	l.mu.Unlock()

	go func() {
		defer close(done)
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove) != 0 {
					logging.Sampler("config change detected: %s", ev.Name)
					l.Invalidate()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logging.Get(logging.CategorySampler).Warn("config watcher: %v", err)
			}
		}
	}()
	return nil
}

// Close stops the watcher if running.
func (l *ConfigLoader) Close() error {
	l.mu.Lock()
	watcher, done := l.watcher, l.watcherDone
	l.watcher, l.watcherDone = nil, nil
	l.mu.Unlock()
	if watcher == nil {
		return nil
	}
	err := watcher.Close()
	<-done
	return err
}

// Invalidate drops the cached configs.
func (l *ConfigLoader) Invalidate() {
	l.mu.Lock()
	l.topics = nil
	l.seeds = nil
	l.mu.Unlock()
}

// Topics returns the active topics config.
func (l *ConfigLoader) Topics() *TopicsConfig {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.topics != nil {
		return l.topics
	}
	l.topics = l.loadTopics()
	return l.topics
}

// Seeds returns the active seed concepts config.
func (l *ConfigLoader) Seeds() *SeedConceptsConfig {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.seeds != nil {
		return l.seeds
	}
	l.seeds = l.loadSeeds()
	return l.seeds
}

func (l *ConfigLoader) loadTopics() *TopicsConfig {
	if l.topicsPath != "" {
		if data, err := os.ReadFile(l.topicsPath); err == nil {
			var parsed struct {
				Topics  []rawTopicEntry `json:"topics"`
				Version string          `json:"version"`
			}
			if err := json.Unmarshal(data, &parsed); err == nil {
				var topics []Topic
				for _, raw := range parsed.Topics {
					if t, ok := normalizeTopicEntry(raw); ok {
						topics = append(topics, t)
					}
				}
				if len(topics) > 0 {
					return &TopicsConfig{Topics: topics, Version: parsed.Version}
				}
			} else {
				logging.Sampler("topics config parse failed, using defaults: %v", err)
			}
		}
	}
	topics := make([]Topic, len(defaultTopics))
	copy(topics, defaultTopics)
	return &TopicsConfig{Topics: topics}
}

func (l *ConfigLoader) loadSeeds() *SeedConceptsConfig {
	if l.seedsPath != "" {
		if data, err := os.ReadFile(l.seedsPath); err == nil {
			var parsed struct {
				SeedConcepts []rawSeedEntry `json:"seedConcepts"`
				Version      string         `json:"version"`
			}
			if err := json.Unmarshal(data, &parsed); err == nil {
				var seeds []SeedConcept
				for _, raw := range parsed.SeedConcepts {
					if s, ok := normalizeSeedEntry(raw); ok {
						seeds = append(seeds, s)
					}
				}
				if len(seeds) > 0 {
					return &SeedConceptsConfig{SeedConcepts: seeds, Version: parsed.Version}
				}
			} else {
				logging.Sampler("seed concepts config parse failed, using defaults: %v", err)
			}
		}
	}
	return &SeedConceptsConfig{SeedConcepts: defaultSeedConcepts()}
}
