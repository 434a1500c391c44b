package registry

import (
	"slices"
	"strings"

	"github.com/darkace1998/content-transformer/internal/options"
)

// FindTransformer selects the worker for converting a source of sourceSize bytes from
// sourceMimetype to targetMimetype with the provided options. Metadata extracters are found by
// passing ExtractTarget as target.
//
// Candidates for the exact pair are filtered by size limit and option compatibility; the
// lowest priority wins and equal priorities go to the earliest registration.
func (r *Registry) FindTransformer(sourceMimetype string, sourceSize int64, targetMimetype string, provided map[string]string) (string, bool) {
	candidates := r.index[pair{sourceMimetype, targetMimetype}]
	if len(candidates) == 0 {
		return "", false
	}

	compatible := make(map[*registration]bool)
	for _, c := range candidates {
		if !c.supported.Accepts(sourceSize) {
			continue
		}
		ok, checked := compatible[c.owner]
		if !checked {
			ok = r.supportsOptions(c.owner, provided)
			compatible[c.owner] = ok
		}
		if ok {
			return c.owner.name, true
		}
	}
	return "", false
}

// supportsOptions reports whether every effectively required option of the worker has a
// value (provided or default) and every provided option is known to the worker.
func (r *Registry) supportsOptions(owner *registration, provided map[string]string) bool {
	known := r.optionFields(owner.profiles, provided)

	for name, required := range known {
		if required && isBlank(provided[name]) && r.defaultOption(owner.name, name) == "" {
			return false
		}
	}
	for name, value := range provided {
		if isBlank(value) || r.nonSelector[name] {
			continue
		}
		if _, ok := known[name]; !ok {
			return false
		}
	}
	return true
}

// optionFields flattens the values reachable from profiles into name -> effectively required.
// A value is effectively required when it is flagged required and every group between it and
// the profile root is required, or when its enclosing group is present in provided. The
// profile root's own flag is ignored.
func (r *Registry) optionFields(profiles []string, provided map[string]string) map[string]bool {
	fields := make(map[string]bool)
	var collect func(el options.Element, trigger bool)
	collect = func(el options.Element, trigger bool) {
		switch e := el.(type) {
		case options.Value:
			fields[e.Name] = fields[e.Name] || (e.Required && trigger)
		case *options.Group:
			childTrigger := (trigger && e.Required) || isPresent(e, provided)
			for _, child := range e.Elements {
				collect(child, childTrigger)
			}
		}
	}

	for _, name := range profiles {
		root, ok := r.schema.Profile(name)
		if !ok {
			continue
		}
		for _, child := range root.Elements {
			collect(child, true)
		}
	}
	return fields
}

func isPresent(g *options.Group, provided map[string]string) bool {
	for _, v := range g.Values() {
		if !isBlank(provided[v.Name]) {
			return true
		}
	}
	return false
}

func isBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}

func (r *Registry) defaultOption(worker, option string) string {
	return r.props.String(KeyDefaultOptionPrefix+worker+"."+option, "")
}

// DefaultOptions returns the configured non-blank defaults of the options reachable from the
// worker's profiles.
func (r *Registry) DefaultOptions(worker string) (map[string]string, error) {
	profiles, err := r.profilesOf(worker)
	if err != nil {
		return nil, err
	}

	defaults := make(map[string]string)
	for name := range r.optionFields(profiles, nil) {
		if v := r.defaultOption(worker, name); v != "" {
			defaults[name] = v
		}
	}
	return defaults, nil
}

// EffectiveOptions overlays the non-blank provided options on the worker's defaults.
func (r *Registry) EffectiveOptions(worker string, provided map[string]string) (map[string]string, error) {
	effective, err := r.DefaultOptions(worker)
	if err != nil {
		return nil, err
	}
	for name, value := range provided {
		if !isBlank(value) {
			effective[name] = value
		}
	}
	return effective, nil
}

func (r *Registry) profilesOf(worker string) ([]string, error) {
	t, isTransformer := r.transformers[worker]
	e, isExtracter := r.extracters[worker]
	switch {
	case isTransformer && isExtracter:
		set := make(map[string]bool)
		var profiles []string
		for _, p := range slices.Concat(t.OptionProfiles(), e.OptionProfiles()) {
			if !set[p] {
				set[p] = true
				profiles = append(profiles, p)
			}
		}
		return profiles, nil
	case isTransformer:
		return t.OptionProfiles(), nil
	case isExtracter:
		return e.OptionProfiles(), nil
	default:
		return nil, &NotFoundError{Kind: "transformer", Name: worker}
	}
}
