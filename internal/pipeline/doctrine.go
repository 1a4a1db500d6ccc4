package pipeline

import (
	"os"
	"regexp"
	"strings"
	"sync"
)

// DefaultDoctrineVersion is reported when the doctrine file carries no
// Version header.
const DefaultDoctrineVersion = "v1"

var doctrineVersionPattern = regexp.MustCompile(`(?mi)^Version:\s*(.+)$`)

// Doctrine is the canonical text every prompt embeds. The file is read
// once and cached; Reload drops the cache.
type Doctrine struct {
	path string

	mu      sync.Mutex
	loaded  bool
	text    string
	version string
}

// NewDoctrine creates a doctrine loader for the given file path.
func NewDoctrine(path string) *Doctrine {
	return &Doctrine{path: path}
}

func (d *Doctrine) load() {
	if d.loaded {
		return
	}
	d.loaded = true
	data, err := os.ReadFile(d.path)
	if err != nil {
		d.text = ""
		return
	}
	d.text = strings.TrimSpace(string(data))
	if m := doctrineVersionPattern.FindStringSubmatch(d.text); m != nil {
		d.version = strings.TrimSpace(m[1])
	}
}

// Text returns the doctrine body, empty if the file is missing.
func (d *Doctrine) Text() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.load()
	return d.text
}

// Version returns the doctrine version from the file's Version header.
func (d *Doctrine) Version() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.load()
	if d.version != "" {
		return d.version
	}
	return DefaultDoctrineVersion
}

// Block renders the doctrine section embedded in every prompt.
func (d *Doctrine) Block() string {
	text := d.Text()
	if text == "" {
		return "DOCTRINE: NONE"
	}
	return "DOCTRINE:\n" + text
}

// Reload drops the cache so the next read hits the file again.
func (d *Doctrine) Reload() {
	d.mu.Lock()
	d.loaded = false
	d.text = ""
	d.version = ""
	d.mu.Unlock()
}
