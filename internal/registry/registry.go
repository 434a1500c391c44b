// Package registry holds the registered transformers and metadata extracters, selects the
// worker for a request and exports the engine's capabilities.
//
// Registration happens during startup, before requests are served. After that the registry is
// only read, so lookups take no locks.
package registry

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/darkace1998/content-transformer/internal/capability"
	"github.com/darkace1998/content-transformer/internal/composite"
	"github.com/darkace1998/content-transformer/internal/config"
	"github.com/darkace1998/content-transformer/internal/options"
)

// ExtractTarget is the pseudo target mimetype under which metadata extraction is requested
// and advertised.
const ExtractTarget = "alfresco-metadata-extract"

// KeyDefaultOptionPrefix prefixes per-worker option defaults:
// transformerDefaultOptions.<worker>.<option>.
const KeyDefaultOptionPrefix = "transformerDefaultOptions."

var defaultNonSelectorParameters = []string{"sourceEncoding", "transformName", "alfresco.transform-name-parameter"}

// ErrNotFound is matched by every *NotFoundError.
var ErrNotFound = errors.New("not found")

// NotFoundError reports a lookup of a worker name nobody registered.
type NotFoundError struct {
	Kind string
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no %s registered with the name %s", e.Kind, e.Name)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// Request describes one transformation or extraction.
type Request struct {
	SourceFile     string
	SourceMimetype string
	TargetFile     string
	TargetMimetype string
	Options        map[string]string
}

// Worker is the part of the contract shared by transformers and extracters.
type Worker interface {
	Name() string
	OptionProfiles() []string
}

// Transformer converts a source file into a target file.
type Transformer interface {
	Worker
	SupportedTransformations() []capability.SupportedTransformation
	Transform(ctx context.Context, req *Request) error
}

// MetadataExtracter reads metadata out of a source file.
type MetadataExtracter interface {
	Worker
	SupportedSourceMimetypes() []string
	ExtractMetadata(ctx context.Context, req *Request) (map[string]any, error)
}

type pair struct {
	source string
	target string
}

// registration is one registered worker as seen by the selection algorithm.
type registration struct {
	name     string
	profiles []string
}

type candidate struct {
	owner     *registration
	supported capability.SupportedTransformation
}

// Registry indexes the workers by the source/target pairs they support.
type Registry struct {
	schema       *options.Schema
	props        *config.Properties
	composites   *composite.Store
	nonSelector  map[string]bool
	transformers map[string]Transformer
	extracters   map[string]MetadataExtracter
	index        map[pair][]candidate
}

// New creates a registry over a built option schema. composites may be nil.
func New(schema *options.Schema, props *config.Properties, composites *composite.Store) (*Registry, error) {
	nonSelector := props.List(config.KeyNonSelectorParameters)
	if _, set := props.Lookup(config.KeyNonSelectorParameters); !set {
		nonSelector = defaultNonSelectorParameters
	}

	r := &Registry{
		schema:       schema,
		props:        props,
		composites:   composites,
		nonSelector:  make(map[string]bool, len(nonSelector)),
		transformers: make(map[string]Transformer),
		extracters:   make(map[string]MetadataExtracter),
		index:        make(map[pair][]candidate),
	}
	for _, name := range nonSelector {
		r.nonSelector[name] = true
	}

	if composites != nil {
		for _, name := range composites.Names() {
			c, _ := composites.Get(name)
			if err := r.checkProfiles("composite transformer", name, c.Capabilities().OptionProfiles); err != nil {
				return nil, err
			}
		}
	}
	return r, nil
}

func (r *Registry) checkProfiles(kind, name string, profiles []string) error {
	for _, p := range profiles {
		if !r.schema.Has(p) {
			return config.Errorf("", "%s %s references unknown option profile %s", kind, name, p)
		}
	}
	return nil
}

func (r *Registry) isComposite(name string) bool {
	if r.composites == nil {
		return false
	}
	_, ok := r.composites.Get(name)
	return ok
}

// RegisterTransformer validates the transformer's profile references and indexes its
// supported transformations.
func (r *Registry) RegisterTransformer(t Transformer) error {
	name := t.Name()
	if _, dup := r.transformers[name]; dup || r.isComposite(name) {
		return config.Errorf("", "transformer %s is registered more than once", name)
	}
	if err := r.checkProfiles("transformer", name, t.OptionProfiles()); err != nil {
		return err
	}

	r.transformers[name] = t
	owner := &registration{name: name, profiles: slices.Clone(t.OptionProfiles())}
	for _, st := range t.SupportedTransformations() {
		r.add(owner, st)
	}
	return nil
}

// RegisterMetadataExtracter validates the extracter's profile references and indexes it under
// (source, ExtractTarget) for each supported source mimetype.
func (r *Registry) RegisterMetadataExtracter(e MetadataExtracter) error {
	name := e.Name()
	if _, dup := r.extracters[name]; dup {
		return config.Errorf("", "metadata extracter %s is registered more than once", name)
	}
	if err := r.checkProfiles("metadata extracter", name, e.OptionProfiles()); err != nil {
		return err
	}

	r.extracters[name] = e
	owner := &registration{name: name, profiles: slices.Clone(e.OptionProfiles())}
	for _, source := range e.SupportedSourceMimetypes() {
		r.add(owner, extractTransformation(source))
	}
	return nil
}

func extractTransformation(source string) capability.SupportedTransformation {
	return capability.SupportedTransformation{
		SourceMimetype:     source,
		TargetMimetype:     ExtractTarget,
		MaxSourceSizeBytes: capability.UnlimitedSourceBytes,
		Priority:           capability.DefaultPriority,
	}
}

// add keeps each candidate list ordered by priority; equal priorities stay in registration order.
func (r *Registry) add(owner *registration, st capability.SupportedTransformation) {
	key := pair{st.SourceMimetype, st.TargetMimetype}
	list := append(r.index[key], candidate{owner: owner, supported: st})
	slices.SortStableFunc(list, func(a, b candidate) int {
		return cmp.Compare(a.supported.Priority, b.supported.Priority)
	})
	r.index[key] = list
}

// Transformer returns the transformer registered under name.
func (r *Registry) Transformer(name string) (Transformer, error) {
	t, ok := r.transformers[name]
	if !ok {
		return nil, &NotFoundError{Kind: "transformer", Name: name}
	}
	return t, nil
}

// MetadataExtracter returns the extracter registered under name.
func (r *Registry) MetadataExtracter(name string) (MetadataExtracter, error) {
	e, ok := r.extracters[name]
	if !ok {
		return nil, &NotFoundError{Kind: "metadata extracter", Name: name}
	}
	return e, nil
}

// TransformerNames returns the registered transformer names in sorted order.
func (r *Registry) TransformerNames() []string {
	return slices.Sorted(maps.Keys(r.transformers))
}

// MetadataExtracterNames returns the registered extracter names in sorted order.
func (r *Registry) MetadataExtracterNames() []string {
	return slices.Sorted(maps.Keys(r.extracters))
}
