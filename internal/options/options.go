// Package options builds the named transformation option profiles from the
// transformerOptions.* configuration keys.
//
// An option element is either a Value (a named option) or a Group of elements. A profile is a
// named root Group referenced by workers; its own required flag carries no meaning, only the
// flags of the elements below it do.
package options

import (
	"slices"
	"strings"

	"github.com/darkace1998/content-transformer/internal/config"
)

// Configuration keys read by Build.
const (
	KeyRootGroups     = "transformerOptions.rootGroups"
	KeyElementPrefix  = "transformerOptions.element."
	suffixRequired    = ".required"
	suffixSubElements = ".elements"
)

// Element is either a Value or a *Group.
type Element interface {
	ElementName() string
	IsRequired() bool
	isElement()
}

// Value is a single named option.
type Value struct {
	Name     string
	Required bool
}

func (v Value) ElementName() string { return v.Name }
func (v Value) IsRequired() bool    { return v.Required }
func (Value) isElement()            {}

// Group is an ordered set of elements. Children are unique by name.
type Group struct {
	Name     string
	Required bool
	Elements []Element
}

func (g *Group) ElementName() string { return g.Name }
func (g *Group) IsRequired() bool    { return g.Required }
func (*Group) isElement()            {}

// Values returns every Value reachable from g, depth first, in declaration order.
func (g *Group) Values() []Value {
	var out []Value
	var walk func(*Group)
	walk = func(grp *Group) {
		for _, el := range grp.Elements {
			switch e := el.(type) {
			case Value:
				out = append(out, e)
			case *Group:
				walk(e)
			}
		}
	}
	walk(g)
	return out
}

// Schema holds the built profiles. It is immutable once Build returns.
type Schema struct {
	profiles map[string]*Group
	names    []string
}

// Profile returns the root group registered under name.
func (s *Schema) Profile(name string) (*Group, bool) {
	g, ok := s.profiles[name]
	return g, ok
}

// Has reports whether a profile named name exists.
func (s *Schema) Has(name string) bool {
	_, ok := s.profiles[name]
	return ok
}

// Names returns the profile names in sorted order.
func (s *Schema) Names() []string {
	return slices.Clone(s.names)
}

// Build materializes every profile listed in transformerOptions.rootGroups. It fails with a
// *config.ConfigurationError on a cyclic element reference or a root that is not a group.
func Build(props *config.Properties) (*Schema, error) {
	b := &builder{
		props:  props,
		built:  make(map[string]Element),
		onPath: make(map[string]bool),
	}
	s := &Schema{profiles: make(map[string]*Group)}

	for _, name := range props.List(KeyRootGroups) {
		if _, dup := s.profiles[name]; dup {
			continue
		}
		el, err := b.element(name)
		if err != nil {
			return nil, err
		}
		g, ok := el.(*Group)
		if !ok {
			return nil, config.Errorf(KeyElementPrefix+name+suffixSubElements,
				"root option group %s has no elements and resolves to a single value", name)
		}
		s.profiles[name] = g
		s.names = append(s.names, name)
	}
	slices.Sort(s.names)
	return s, nil
}

// builder resolves element names recursively. path and onPath hold the chain of elements
// currently being resolved; built caches finished elements so shared sub-trees are resolved once.
type builder struct {
	props  *config.Properties
	built  map[string]Element
	path   []string
	onPath map[string]bool
}

func (b *builder) element(name string) (Element, error) {
	if b.onPath[name] {
		start := slices.Index(b.path, name)
		cycle := append(slices.Clone(b.path[start:]), name)
		return nil, config.Errorf(KeyElementPrefix+name+suffixSubElements,
			"cyclic option element reference: %s", strings.Join(cycle, " -> "))
	}
	if el, ok := b.built[name]; ok {
		return el, nil
	}

	required := b.props.Bool(KeyElementPrefix+name+suffixRequired, false)
	children := b.props.List(KeyElementPrefix + name + suffixSubElements)
	if len(children) == 0 {
		v := Value{Name: name, Required: required}
		b.built[name] = v
		return v, nil
	}

	b.path = append(b.path, name)
	b.onPath[name] = true
	defer func() {
		b.path = b.path[:len(b.path)-1]
		delete(b.onPath, name)
	}()

	g := &Group{Name: name, Required: required}
	seen := make(map[string]bool, len(children))
	for _, child := range children {
		if seen[child] {
			continue
		}
		seen[child] = true
		el, err := b.element(child)
		if err != nil {
			return nil, err
		}
		g.Elements = append(g.Elements, el)
	}
	b.built[name] = g
	return g, nil
}
