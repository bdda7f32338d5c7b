package capability

import (
	"fmt"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
)

// Registry is the read-only in-memory capability table. Built once per run
// from the serialized artifact; immutable afterwards. A new registry is loaded
// explicitly when capabilities change.
type Registry struct {
	caps map[string]*Capability
}

// NewRegistry builds a registry from a capability list.
// Fails on duplicate ids or escalation references to unknown capabilities.
func NewRegistry(caps []*Capability) (*Registry, error) {
	r := &Registry{caps: make(map[string]*Capability, len(caps))}

	for _, c := range caps {
		if _, exists := r.caps[c.ID]; exists {
			return nil, fmt.Errorf("duplicate capability id %q", c.ID)
		}
		r.caps[c.ID] = c
	}

	for _, c := range caps {
		for _, target := range c.EscalateTo {
			if _, ok := r.caps[target]; !ok {
				return nil, fmt.Errorf("capability %q: escalate_to references unknown capability %q", c.ID, target)
			}
			if target == c.ID {
				return nil, fmt.Errorf("capability %q: cannot escalate to itself", c.ID)
			}
		}
	}

	return r, nil
}

// Get returns the capability with the given id, or ErrCapabilityNotFound.
func (r *Registry) Get(id string) (*Capability, error) {
	c, ok := r.caps[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCapabilityNotFound, id)
	}
	return c, nil
}

// All returns all capabilities sorted by id.
func (r *Registry) All() []*Capability {
	result := make([]*Capability, 0, len(r.caps))
	for _, c := range r.caps {
		result = append(result, c)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].ID < result[j].ID
	})
	return result
}

// Len returns the number of registered capabilities.
func (r *Registry) Len() int {
	return len(r.caps)
}

// Find resolves an abstract need to a ranked list of capability ids.
//
// Ranking: exact tag-set superset matches first, then tag overlap count
// descending, then classification priority (coordinator > director > lead >
// worker > assistant), then lexical id order for determinism. When a
// classification preference is given, capabilities of that classification sort
// ahead of the rest. An empty tag set yields an empty list, never an error;
// "no match" is the caller's concern.
func (r *Registry) Find(tags []string, pref Classification) []string {
	if len(tags) == 0 {
		return nil
	}

	type ranked struct {
		id       string
		covers   bool
		overlap  int
		prefHit  bool
		classRnk int
	}

	var matches []ranked
	for id, c := range r.caps {
		overlap := c.Overlap(tags)
		if overlap == 0 {
			continue
		}
		matches = append(matches, ranked{
			id:       id,
			covers:   c.Covers(tags),
			overlap:  overlap,
			prefHit:  pref != "" && c.Classification == pref,
			classRnk: c.Classification.Rank(),
		})
	}

	sort.Slice(matches, func(i, j int) bool {
		a, b := matches[i], matches[j]
		if a.prefHit != b.prefHit {
			return a.prefHit
		}
		if a.covers != b.covers {
			return a.covers
		}
		if a.overlap != b.overlap {
			return a.overlap > b.overlap
		}
		if a.classRnk != b.classRnk {
			return a.classRnk > b.classRnk
		}
		return a.id < b.id
	})

	ids := make([]string, len(matches))
	for i, m := range matches {
		ids[i] = m.id
	}
	return ids
}

// ValidateScope checks a requested file path against the capability's declared
// scope globs. write selects write_scope over read_scope. Unknown capability
// ids and unmatched paths are both out of scope.
func (r *Registry) ValidateScope(id, path string, write bool) bool {
	c, ok := r.caps[id]
	if !ok {
		return false
	}

	scope := c.ReadScope
	if write {
		scope = c.WriteScope
	}

	for _, pattern := range scope {
		ok, err := doublestar.Match(pattern, path)
		if err != nil {
			continue // malformed pattern never grants access
		}
		if ok {
			return true
		}
	}
	return false
}
