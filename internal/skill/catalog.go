package skill

import (
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Catalog maps skill names to records in insertion order. It is not safe for
// concurrent use; the registry serializes access.
type Catalog struct {
	skills *orderedmap.OrderedMap[string, *Skill]
}

// NewCatalog creates an empty Catalog ready for use.
func NewCatalog() *Catalog {
	return &Catalog{skills: orderedmap.New[string, *Skill]()}
}

// Add inserts s. Replacing an existing name keeps its position.
func (c *Catalog) Add(s *Skill) {
	c.skills.Set(s.Name, s)
}

// Get returns a skill by name, or nil if not found.
func (c *Catalog) Get(name string) *Skill {
	s, _ := c.skills.Get(name)
	return s
}

// Has reports whether name is in the catalog.
func (c *Catalog) Has(name string) bool {
	_, ok := c.skills.Get(name)
	return ok
}

// Delete removes name and reports whether it was present.
func (c *Catalog) Delete(name string) bool {
	_, ok := c.skills.Delete(name)
	return ok
}

// Len returns the number of skills.
func (c *Catalog) Len() int { return c.skills.Len() }

// Names returns skill names in insertion order.
func (c *Catalog) Names() []string {
	out := make([]string, 0, c.skills.Len())
	for p := c.skills.Oldest(); p != nil; p = p.Next() {
		out = append(out, p.Key)
	}
	return out
}

// Skills returns the records in insertion order.
func (c *Catalog) Skills() []*Skill {
	out := make([]*Skill, 0, c.skills.Len())
	for p := c.skills.Oldest(); p != nil; p = p.Next() {
		out = append(out, p.Value)
	}
	return out
}

// Filter returns the catalog a registry in mode should expose. Basic keeps
// only the names in basic; every other mode keeps everything.
func (c *Catalog) Filter(mode Mode, basic []string) *Catalog {
	out := NewCatalog()
	if mode != ModeBasic {
		for p := c.skills.Oldest(); p != nil; p = p.Next() {
			out.Add(p.Value)
		}
		return out
	}
	keep := make(map[string]struct{}, len(basic))
	for _, n := range basic {
		keep[n] = struct{}{}
	}
	for p := c.skills.Oldest(); p != nil; p = p.Next() {
		if _, ok := keep[p.Key]; ok {
			out.Add(p.Value)
		}
	}
	return out
}

// RestrictTo drops every skill not named in candidates and returns the
// candidates that were not in the catalog.
func (c *Catalog) RestrictTo(candidates []string) []string {
	want := make(map[string]struct{}, len(candidates))
	var missing []string
	for _, n := range candidates {
		want[n] = struct{}{}
		if !c.Has(n) {
			missing = append(missing, n)
		}
	}
	for _, n := range c.Names() {
		if _, ok := want[n]; !ok {
			c.Delete(n)
		}
	}
	return missing
}
