package transformer

import (
	"log/slog"
	"maps"
	"slices"
	"strings"

	"github.com/darkace1998/content-transformer/internal/capability"
	"github.com/darkace1998/content-transformer/internal/config"
	"github.com/darkace1998/content-transformer/internal/registry"
)

// Workers are the transformers and metadata extracters configured for this engine.
type Workers struct {
	Transformers []registry.Transformer
	Extracters   []registry.MetadataExtracter
}

type transformerFactory func(props *config.Properties, state capability.State) (registry.Transformer, error)

type extracterFactory func(props *config.Properties, name string, profiles, sources []string) (registry.MetadataExtracter, error)

var transformerTypes = map[string]transformerFactory{
	"markdown": func(_ *config.Properties, st capability.State) (registry.Transformer, error) {
		return NewMarkdown(st), nil
	},
	"html-markdown": func(_ *config.Properties, st capability.State) (registry.Transformer, error) {
		return NewHTMLMarkdown(st), nil
	},
	"command": func(p *config.Properties, st capability.State) (registry.Transformer, error) {
		return NewCommand(p, st)
	},
	"remote": func(p *config.Properties, st capability.State) (registry.Transformer, error) {
		return NewRemote(p, st)
	},
}

var extracterTypes = map[string]extracterFactory{
	"html": func(_ *config.Properties, name string, profiles, sources []string) (registry.MetadataExtracter, error) {
		return NewHTMLMetadata(name, profiles, sources), nil
	},
	"ffprobe": func(p *config.Properties, name string, profiles, sources []string) (registry.MetadataExtracter, error) {
		return NewProbe(p, name, profiles, sources), nil
	},
}

// Build instantiates the workers listed in application.transformers and
// application.metadataExtracters. Each worker's <prefix>.<name>.type selects its
// implementation.
func Build(props *config.Properties) (*Workers, error) {
	w := &Workers{}

	for _, name := range props.List(config.KeyTransformers) {
		typeKey := capability.PrefixTransformer + "." + name + ".type"
		factory, err := lookupType(transformerTypes, props, typeKey, name)
		if err != nil {
			return nil, err
		}
		state, err := capability.Read(props, capability.PrefixTransformer, name)
		if err != nil {
			return nil, err
		}
		if len(state.Transformations) == 0 {
			slog.Warn("Transformer declares no supported transformations", "transformer", name)
		}
		t, err := factory(props, state)
		if err != nil {
			return nil, err
		}
		w.Transformers = append(w.Transformers, t)
	}

	for _, name := range props.List(config.KeyMetadataExtracters) {
		base := capability.PrefixMetadataExtracter + "." + name + "."
		factory, err := lookupType(extracterTypes, props, base+"type", name)
		if err != nil {
			return nil, err
		}
		profiles := props.List(base + "transformerOptions")
		sources := props.List(base + "sourceMimetypes")
		if len(sources) == 0 {
			slog.Warn("Metadata extracter declares no source mimetypes", "extracter", name)
		}
		e, err := factory(props, name, profiles, sources)
		if err != nil {
			return nil, err
		}
		w.Extracters = append(w.Extracters, e)
	}
	return w, nil
}

func lookupType[F any](types map[string]F, props *config.Properties, key, name string) (F, error) {
	var zero F
	typ := props.String(key, "")
	if typ == "" {
		return zero, config.Errorf(key, "%s has no type", name)
	}
	factory, ok := types[typ]
	if !ok {
		return zero, config.Errorf(key, "%s has unknown type %s (known: %s)", name, typ,
			strings.Join(slices.Sorted(maps.Keys(types)), ", "))
	}
	return factory, nil
}
