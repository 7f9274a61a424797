package params

import (
	"fmt"
	"strings"
)

// Group accumulates lookups for a named parameter group where either every
// attribute must be present or none. A partial group is a hard validation
// failure reporting what was found and what was expected, so an incomplete
// device configuration is never silently applied.
type Group struct {
	src     Source
	ns      string
	found   []string
	missing []string
}

func NewGroup(src Source, ns string) *Group {
	return &Group{src: src, ns: ns}
}

func (g *Group) key(name string) string {
	if g.ns == "" {
		return name
	}
	return g.ns + "." + name
}

func (g *Group) record(name string, ok bool) {
	if ok {
		g.found = append(g.found, g.key(name))
	} else {
		g.missing = append(g.missing, g.key(name))
	}
}

func (g *Group) Int(name string, dst *int) *Group {
	v, ok := g.src.Int(g.key(name))
	if ok {
		*dst = v
	}
	g.record(name, ok)
	return g
}

func (g *Group) Float(name string, dst *float64) *Group {
	v, ok := g.src.Float(g.key(name))
	if ok {
		*dst = v
	}
	g.record(name, ok)
	return g
}

func (g *Group) Bool(name string, dst *bool) *Group {
	v, ok := g.src.Bool(g.key(name))
	if ok {
		*dst = v
	}
	g.record(name, ok)
	return g
}

// AllOrNone reports whether the full group is present. A partial group
// returns an error listing found and expected keys.
func (g *Group) AllOrNone() (bool, error) {
	if len(g.missing) == 0 {
		return true, nil
	}
	if len(g.found) == 0 {
		return false, nil
	}
	return false, fmt.Errorf("expected all or none of parameter group %q: found [%s], missing [%s]",
		g.ns, strings.Join(g.found, ", "), strings.Join(g.missing, ", "))
}
