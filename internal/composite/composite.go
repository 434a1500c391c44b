// Package composite holds the pipeline and failover worker descriptors. They are never run in
// this process; they are exported for an orchestrator that knows the full set of workers.
package composite

import (
	"slices"

	"github.com/darkace1998/content-transformer/internal/capability"
	"github.com/darkace1998/content-transformer/internal/config"
)

// Configuration keys listing the composite names.
const (
	KeyPipelines = "pipelineTransformers"
	KeyFailovers = "failoverTransformers"
)

// maxDependencyDepth bounds the recursive exportability check.
const maxDependencyDepth = 64

// Config is a *Pipeline or a *Failover.
type Config interface {
	ConfigName() string
	Capabilities() capability.State
}

// Step is one stage of a pipeline. Intermediate is the mimetype the step produces; it is empty
// for the last step, whose output type is the requested target.
type Step struct {
	Transformer  string
	Intermediate string
}

// Pipeline chains workers through intermediate mimetypes.
type Pipeline struct {
	capability.State
	Steps []Step
	// LocalDependencies name the workers this node must provide for the pipeline to be exported.
	LocalDependencies []string
}

func (p *Pipeline) ConfigName() string             { return p.Name }
func (p *Pipeline) Capabilities() capability.State { return p.State }

// Failover lists workers to try in order.
type Failover struct {
	capability.State
	Transformers []string
}

func (f *Failover) ConfigName() string             { return f.Name }
func (f *Failover) Capabilities() capability.State { return f.State }

// Store holds the loaded composites. It is immutable after Load.
type Store struct {
	configs map[string]Config
	names   []string
}

// Load reads every composite named in pipelineTransformers and failoverTransformers.
// Malformed definitions are reported as *config.ConfigurationError.
func Load(props *config.Properties) (*Store, error) {
	s := &Store{configs: make(map[string]Config)}

	for _, name := range props.List(KeyFailovers) {
		f, err := readFailover(props, name)
		if err != nil {
			return nil, err
		}
		if err := s.add(f, KeyFailovers); err != nil {
			return nil, err
		}
	}
	for _, name := range props.List(KeyPipelines) {
		p, err := readPipeline(props, name)
		if err != nil {
			return nil, err
		}
		if err := s.add(p, KeyPipelines); err != nil {
			return nil, err
		}
	}
	slices.Sort(s.names)
	return s, nil
}

func (s *Store) add(c Config, key string) error {
	if _, dup := s.configs[c.ConfigName()]; dup {
		return config.Errorf(key, "composite transformer %s is defined more than once", c.ConfigName())
	}
	s.configs[c.ConfigName()] = c
	s.names = append(s.names, c.ConfigName())
	return nil
}

func readPipeline(props *config.Properties, name string) (*Pipeline, error) {
	st, err := capability.Read(props, capability.PrefixPipeline, name)
	if err != nil {
		return nil, err
	}

	prefix := capability.PrefixPipeline + "." + name + "."
	workers := props.List(prefix + "transformerNames")
	intermediates := props.List(prefix + "intermediateTypes")
	if len(workers) < 2 || len(workers) != len(intermediates)+1 {
		return nil, config.Errorf(prefix+"transformerNames",
			"pipeline %s needs at least two transformers and exactly one intermediate type less (got %d transformers, %d intermediate types)",
			name, len(workers), len(intermediates))
	}

	p := &Pipeline{
		State:             st,
		Steps:             make([]Step, len(workers)),
		LocalDependencies: props.List(prefix + "localDependencies"),
	}
	for i, w := range workers {
		p.Steps[i].Transformer = w
		if i < len(intermediates) {
			p.Steps[i].Intermediate = intermediates[i]
		}
	}
	return p, nil
}

func readFailover(props *config.Properties, name string) (*Failover, error) {
	st, err := capability.Read(props, capability.PrefixFailover, name)
	if err != nil {
		return nil, err
	}

	key := capability.PrefixFailover + "." + name + ".transformers"
	workers := props.List(key)
	if len(workers) == 0 {
		return nil, config.Errorf(key, "failover %s lists no transformers", name)
	}
	return &Failover{State: st, Transformers: workers}, nil
}

// Get returns the composite registered under name.
func (s *Store) Get(name string) (Config, bool) {
	c, ok := s.configs[name]
	return c, ok
}

// Names returns the composite names in sorted order.
func (s *Store) Names() []string {
	return slices.Clone(s.names)
}

// Exportable reports whether composite name may be advertised by this node. Failovers always
// may. A pipeline may when each local dependency is a local worker (isLocal) or an exportable
// composite.
func (s *Store) Exportable(name string, isLocal func(string) bool) bool {
	return s.exportable(name, isLocal, 0)
}

func (s *Store) exportable(name string, isLocal func(string) bool, depth int) bool {
	if depth > maxDependencyDepth {
		return false
	}
	c, ok := s.configs[name]
	if !ok {
		return isLocal(name)
	}
	p, ok := c.(*Pipeline)
	if !ok {
		return true
	}
	for _, dep := range p.LocalDependencies {
		if _, known := s.configs[dep]; !known && !isLocal(dep) {
			return false
		}
		if !s.exportable(dep, isLocal, depth+1) {
			return false
		}
	}
	return true
}
