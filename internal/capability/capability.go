// Package capability reads the option profiles and supported source/target transformations a
// worker declares under its configuration prefix.
package capability

import (
	"cmp"
	"math"
	"slices"
	"strings"

	"github.com/darkace1998/content-transformer/internal/config"
)

// Defaults applied when a worker does not configure priority or size limits.
const (
	DefaultPriority      = 50
	UnlimitedSourceBytes = -1
)

// Configuration key prefixes of the worker kinds.
const (
	PrefixTransformer       = "transformer"
	PrefixMetadataExtracter = "metadataExtracter"
	PrefixPipeline          = "pipelineTransformer"
	PrefixFailover          = "failoverTransformer"
)

const targetMimetypesSuffix = ".targetMimetypes"

// SupportedTransformation declares that a worker converts SourceMimetype to TargetMimetype.
// MaxSourceSizeBytes < 0 means unbounded. Lower Priority values win.
type SupportedTransformation struct {
	SourceMimetype     string `json:"sourceMediaType"`
	TargetMimetype     string `json:"targetMediaType"`
	MaxSourceSizeBytes int64  `json:"maxSourceSizeBytes"`
	Priority           int    `json:"priority"`
}

// Accepts reports whether a source of size bytes is within the size limit.
func (s SupportedTransformation) Accepts(size int64) bool {
	return s.MaxSourceSizeBytes < 0 || s.MaxSourceSizeBytes >= size
}

// Compare orders transformations by source and then target mimetype.
func Compare(a, b SupportedTransformation) int {
	if c := cmp.Compare(a.SourceMimetype, b.SourceMimetype); c != 0 {
		return c
	}
	return cmp.Compare(a.TargetMimetype, b.TargetMimetype)
}

// State is what a worker declares about itself in configuration.
type State struct {
	Name            string
	OptionProfiles  []string
	Transformations []SupportedTransformation
}

// Read collects the declaration of worker name under <prefix>.<name>.
//
// Sources come from sourceMimetypes (paired with the global targetMimetypes) and from any
// <source>.targetMimetypes key. For each pair the values of <source>.<target>.*, then
// *.<target>.*, then <source>.*, then default.* apply. Pairs marked supported=false are
// skipped.
func Read(props *config.Properties, prefix, name string) (State, error) {
	base := prefix + "." + name + "."
	st := State{
		Name:           name,
		OptionProfiles: props.List(base + "transformerOptions"),
	}

	r := reader{props: props, base: base, seen: make(map[[2]string]bool)}
	var err error
	if r.defaultPriority, err = props.Int(base+"default.priority", DefaultPriority, math.MinInt32, math.MaxInt32); err != nil {
		return State{}, err
	}
	if r.defaultMaxSize, err = props.Int64(base+"default.maxSourceSizeBytes", UnlimitedSourceBytes, -1, math.MaxInt64); err != nil {
		return State{}, err
	}

	globalSources := props.List(base + "sourceMimetypes")
	globalTargetsKey := base + "targetMimetypes"
	globalTargets := props.List(globalTargetsKey)

	for _, source := range globalSources {
		if err := r.readSource(source, globalTargets, &st); err != nil {
			return State{}, err
		}
	}

	for _, key := range props.KeysWithPrefix(base) {
		if key == globalTargetsKey || !strings.HasSuffix(key, targetMimetypesSuffix) {
			continue
		}
		source := strings.TrimSuffix(strings.TrimPrefix(key, base), targetMimetypesSuffix)
		if source == "" || source == "*" || slices.Contains(globalSources, source) {
			continue
		}
		if err := r.readSource(source, nil, &st); err != nil {
			return State{}, err
		}
	}

	slices.SortStableFunc(st.Transformations, Compare)
	return st, nil
}

type reader struct {
	props           *config.Properties
	base            string
	defaultPriority int
	defaultMaxSize  int64
	seen            map[[2]string]bool
}

func (r *reader) readSource(source string, fallbackTargets []string, st *State) error {
	sourcePrefix := r.base + source
	wildcardPrefix := r.base + "*"

	targets := r.props.List(sourcePrefix + targetMimetypesSuffix)
	if len(targets) == 0 {
		targets = fallbackTargets
	}

	sourcePriority, hasSourcePriority, err := r.props.LookupInt(sourcePrefix+".priority", math.MinInt32, math.MaxInt32)
	if err != nil {
		return err
	}
	sourceMaxSize, hasSourceMaxSize, err := r.props.LookupInt64(sourcePrefix+".maxSourceSizeBytes", -1, math.MaxInt64)
	if err != nil {
		return err
	}

	for _, target := range targets {
		key := [2]string{source, target}
		if r.seen[key] {
			continue
		}

		terminal := sourcePrefix + "." + target
		wildcard := wildcardPrefix + "." + target
		supported := r.props.Bool(terminal+".supported", r.props.Bool(wildcard+".supported", true))
		if !supported {
			continue
		}

		priority := r.defaultPriority
		if hasSourcePriority {
			priority = sourcePriority
		}
		p, ok, err := r.first(math.MinInt32, math.MaxInt32, terminal+".priority", wildcard+".priority")
		if err != nil {
			return err
		}
		if ok {
			priority = int(p)
		}

		maxSize := r.defaultMaxSize
		if hasSourceMaxSize {
			maxSize = sourceMaxSize
		}
		m, ok, err := r.first(-1, math.MaxInt64, terminal+".maxSourceSizeBytes", wildcard+".maxSourceSizeBytes")
		if err != nil {
			return err
		}
		if ok {
			maxSize = m
		}

		r.seen[key] = true
		st.Transformations = append(st.Transformations, SupportedTransformation{
			SourceMimetype:     source,
			TargetMimetype:     target,
			MaxSourceSizeBytes: maxSize,
			Priority:           priority,
		})
	}
	return nil
}

// first returns the value of the first key that is set.
func (r *reader) first(lo, hi int64, keys ...string) (int64, bool, error) {
	for _, k := range keys {
		n, ok, err := r.props.LookupInt64(k, lo, hi)
		if err != nil || ok {
			return n, ok, err
		}
	}
	return 0, false, nil
}
