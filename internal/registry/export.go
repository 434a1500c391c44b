package registry

import (
	"cmp"
	"encoding/json"
	"fmt"
	"io"
	"slices"

	"github.com/darkace1998/content-transformer/internal/capability"
	"github.com/darkace1998/content-transformer/internal/composite"
	"github.com/darkace1998/content-transformer/internal/options"
)

// TransformConfig is the capability document served to clients deciding where to send work.
type TransformConfig struct {
	TransformOptions map[string][]OptionElement `json:"transformOptions"`
	Transformers     []TransformerDescriptor    `json:"transformers"`
}

// TransformerDescriptor describes one local worker or exportable composite.
type TransformerDescriptor struct {
	TransformerName              string                               `json:"transformerName"`
	TransformerPipeline          []PipelineStep                       `json:"transformerPipeline,omitempty"`
	TransformerFailover          []string                             `json:"transformerFailover,omitempty"`
	TransformOptions             []string                             `json:"transformOptions"`
	SupportedSourceAndTargetList []capability.SupportedTransformation `json:"supportedSourceAndTargetList"`
}

// PipelineStep is a pipeline stage; TargetMediaType is null for the last stage.
type PipelineStep struct {
	TransformerName string  `json:"transformerName"`
	TargetMediaType *string `json:"targetMediaType"`
}

// OptionElement wraps an option element for JSON encoding as {"value":{...}} or {"group":{...}}.
type OptionElement struct {
	options.Element
}

type valueJSON struct {
	Name     string `json:"name"`
	Required bool   `json:"required,omitempty"`
}

type groupJSON struct {
	Required         bool            `json:"required,omitempty"`
	TransformOptions []OptionElement `json:"transformOptions"`
}

func (o OptionElement) MarshalJSON() ([]byte, error) {
	switch e := o.Element.(type) {
	case options.Value:
		return json.Marshal(map[string]valueJSON{"value": {Name: e.Name, Required: e.Required}})
	case *options.Group:
		return json.Marshal(map[string]groupJSON{"group": {Required: e.Required, TransformOptions: wrapElements(e.Elements)}})
	default:
		return nil, fmt.Errorf("unsupported option element %T", o.Element)
	}
}

func wrapElements(elements []options.Element) []OptionElement {
	out := make([]OptionElement, len(elements))
	for i, el := range elements {
		out[i] = OptionElement{el}
	}
	return out
}

// ExportConfig assembles the capability document from the current registry state. It has no
// side effects and may be called concurrently.
func (r *Registry) ExportConfig() *TransformConfig {
	doc := &TransformConfig{
		TransformOptions: make(map[string][]OptionElement),
		Transformers:     []TransformerDescriptor{},
	}
	for _, name := range r.schema.Names() {
		root, _ := r.schema.Profile(name)
		doc.TransformOptions[name] = wrapElements(root.Elements)
	}

	for name, t := range r.transformers {
		d := TransformerDescriptor{
			TransformerName:              name,
			TransformOptions:             slices.Clone(t.OptionProfiles()),
			SupportedSourceAndTargetList: slices.Clone(t.SupportedTransformations()),
		}
		if e, ok := r.extracters[name]; ok {
			d.TransformOptions = appendMissing(d.TransformOptions, e.OptionProfiles()...)
			d.SupportedSourceAndTargetList = append(d.SupportedSourceAndTargetList, extractList(e)...)
		}
		doc.Transformers = append(doc.Transformers, normalize(d))
	}

	for name, e := range r.extracters {
		if _, merged := r.transformers[name]; merged {
			continue
		}
		doc.Transformers = append(doc.Transformers, normalize(TransformerDescriptor{
			TransformerName:              name,
			TransformOptions:             slices.Clone(e.OptionProfiles()),
			SupportedSourceAndTargetList: extractList(e),
		}))
	}

	if r.composites != nil {
		for _, name := range r.composites.Names() {
			if !r.composites.Exportable(name, r.isLocalTransformer) {
				continue
			}
			c, _ := r.composites.Get(name)
			doc.Transformers = append(doc.Transformers, normalize(compositeDescriptor(c)))
		}
	}

	slices.SortFunc(doc.Transformers, func(a, b TransformerDescriptor) int {
		return cmp.Compare(a.TransformerName, b.TransformerName)
	})
	return doc
}

// WriteConfig encodes the capability document as JSON.
func (r *Registry) WriteConfig(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(r.ExportConfig()); err != nil {
		return fmt.Errorf("failed to encode transform config: %w", err)
	}
	return nil
}

func (r *Registry) isLocalTransformer(name string) bool {
	_, ok := r.transformers[name]
	return ok
}

func compositeDescriptor(c composite.Config) TransformerDescriptor {
	st := c.Capabilities()
	d := TransformerDescriptor{
		TransformerName:              c.ConfigName(),
		TransformOptions:             slices.Clone(st.OptionProfiles),
		SupportedSourceAndTargetList: slices.Clone(st.Transformations),
	}
	switch cc := c.(type) {
	case *composite.Pipeline:
		for _, step := range cc.Steps {
			ps := PipelineStep{TransformerName: step.Transformer}
			if step.Intermediate != "" {
				target := step.Intermediate
				ps.TargetMediaType = &target
			}
			d.TransformerPipeline = append(d.TransformerPipeline, ps)
		}
	case *composite.Failover:
		d.TransformerFailover = slices.Clone(cc.Transformers)
	}
	return d
}

func extractList(e MetadataExtracter) []capability.SupportedTransformation {
	var list []capability.SupportedTransformation
	for _, source := range e.SupportedSourceMimetypes() {
		list = append(list, extractTransformation(source))
	}
	return list
}

func appendMissing(list []string, items ...string) []string {
	for _, item := range items {
		if !slices.Contains(list, item) {
			list = append(list, item)
		}
	}
	return list
}

// normalize makes the encoding independent of registration and map order.
func normalize(d TransformerDescriptor) TransformerDescriptor {
	if d.TransformOptions == nil {
		d.TransformOptions = []string{}
	}
	slices.Sort(d.TransformOptions)
	d.TransformOptions = slices.Compact(d.TransformOptions)
	if d.SupportedSourceAndTargetList == nil {
		d.SupportedSourceAndTargetList = []capability.SupportedTransformation{}
	}
	slices.SortStableFunc(d.SupportedSourceAndTargetList, capability.Compare)
	return d
}
