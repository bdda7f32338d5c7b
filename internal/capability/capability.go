// Package capability provides the static catalog of roles (modes) that can
// accept delegated tasks: declaration parsing, the registry build step, and
// the read-only registry the orchestration core consumes.
package capability

import (
	"fmt"
	"os"
	"regexp"

	"github.com/forgecrew/foreman/internal/storage/dirstore"
)

// Classification orders capabilities by seniority for ranking and escalation.
type Classification string

const (
	ClassWorker      Classification = "worker"
	ClassLead        Classification = "lead"
	ClassDirector    Classification = "director"
	ClassCoordinator Classification = "coordinator"
	ClassAssistant   Classification = "assistant"
)

// Rank returns the ranking priority of a classification (higher = preferred).
func (c Classification) Rank() int {
	switch c {
	case ClassCoordinator:
		return 4
	case ClassDirector:
		return 3
	case ClassLead:
		return 2
	case ClassWorker:
		return 1
	case ClassAssistant:
		return 0
	default:
		return -1
	}
}

func (c Classification) valid() bool {
	return c.Rank() >= 0
}

// Capability is one declared role: an identifier, a tag set describing what it
// can do, file-access scopes, and an ordered escalation chain.
type Capability struct {
	ID             string         `json:"id" toml:"id"`
	Classification Classification `json:"classification" toml:"classification"`
	Tags           []string       `json:"capability_tags" toml:"capability_tags"`
	ReadScope      []string       `json:"read_scope,omitempty" toml:"read_scope"`
	WriteScope     []string       `json:"write_scope,omitempty" toml:"write_scope"`
	EscalateTo     []string       `json:"escalate_to,omitempty" toml:"escalate_to"`
}

// HasTag reports whether the capability declares the given tag.
func (c *Capability) HasTag(tag string) bool {
	for _, t := range c.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Covers reports whether the capability's tag set is a superset of tags.
func (c *Capability) Covers(tags []string) bool {
	for _, tag := range tags {
		if !c.HasTag(tag) {
			return false
		}
	}
	return true
}

// Overlap counts how many of the requested tags the capability declares.
func (c *Capability) Overlap(tags []string) int {
	n := 0
	for _, tag := range tags {
		if c.HasTag(tag) {
			n++
		}
	}
	return n
}

var slugRe = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*$`)

// Validate checks a single declaration for internal consistency.
// Cross-capability checks (unique ids, escalate_to resolution) happen at build time.
func (c *Capability) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("capability id is required")
	}
	if !slugRe.MatchString(c.ID) {
		return fmt.Errorf("capability %q: id must be a lowercase slug", c.ID)
	}
	if !c.Classification.valid() {
		return fmt.Errorf("capability %q: unknown classification %q", c.ID, c.Classification)
	}
	if len(c.Tags) == 0 {
		return fmt.Errorf("capability %q: at least one capability tag is required", c.ID)
	}
	seen := make(map[string]bool, len(c.Tags))
	for _, tag := range c.Tags {
		if seen[tag] {
			return fmt.Errorf("capability %q: duplicate tag %q", c.ID, tag)
		}
		seen[tag] = true
	}
	return nil
}

// LoadDeclaration reads a capability declaration: a markdown file with TOML
// front matter. The body is role prose the core does not interpret.
func LoadDeclaration(path string) (*Capability, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read declaration %s: %w", path, err)
	}

	var c Capability
	if _, err := dirstore.DecodeDoc(data, &c); err != nil {
		return nil, fmt.Errorf("parse declaration %s: %w", path, err)
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate declaration %s: %w", path, err)
	}

	return &c, nil
}
