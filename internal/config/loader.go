package config

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/magiconair/properties"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// EnvPrefix marks environment variables that override properties. TENV_application.host
// overrides application.host.
const EnvPrefix = "TENV_"

//go:embed defaults.properties
var defaultProperties []byte

// Defaults returns the built-in default properties.
func Defaults() (*Properties, error) {
	p, err := parseProperties(defaultProperties)
	if err != nil {
		return nil, fmt.Errorf("failed to parse built-in defaults: %w", err)
	}
	return p, nil
}

// Load assembles the effective configuration: built-in defaults, then each file in order,
// then TENV_ environment variables, then explicit overrides.
func Load(files []string, overrides map[string]string) (*Properties, error) {
	p, err := Defaults()
	if err != nil {
		return nil, err
	}
	for _, file := range files {
		fp, err := LoadFile(file)
		if err != nil {
			return nil, err
		}
		p.Merge(fp)
	}
	p.Merge(FromEnviron(os.Environ()))
	p.Merge(FromMap(overrides))
	return p, nil
}

// LoadFile reads one configuration file. The format follows the file extension:
// .properties, .yaml/.yml or .json/.jsonc.
func LoadFile(path string) (*Properties, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var p *Properties
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".properties":
		p, err = parseProperties(data)
	case ".yaml", ".yml":
		p, err = parseYAML(data)
	case ".json", ".jsonc":
		p, err = parseJSON(data)
	default:
		return nil, fmt.Errorf("unsupported config file format %q: %s", ext, path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return p, nil
}

// FromEnviron picks the TENV_ prefixed entries out of an environment listing.
func FromEnviron(environ []string) *Properties {
	p := NewProperties()
	for _, kv := range environ {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(name, EnvPrefix) || len(name) == len(EnvPrefix) {
			continue
		}
		p.Set(strings.TrimPrefix(name, EnvPrefix), value)
	}
	return p
}

func parseProperties(data []byte) (*Properties, error) {
	l := &properties.Loader{Encoding: properties.UTF8, DisableExpansion: true}
	pp, err := l.LoadBytes(data)
	if err != nil {
		return nil, err
	}
	p := NewProperties()
	for _, k := range pp.Keys() {
		v, _ := pp.Get(k)
		p.Set(k, v)
	}
	return p, nil
}

func parseYAML(data []byte) (*Properties, error) {
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	p := NewProperties()
	flatten(p, "", doc)
	return p, nil
}

func parseJSON(data []byte) (*Properties, error) {
	var doc map[string]any
	if err := json.Unmarshal(jsonc.ToJSON(data), &doc); err != nil {
		return nil, err
	}
	p := NewProperties()
	flatten(p, "", doc)
	return p, nil
}

// flatten turns nested documents into dotted keys. Sequences of scalars become comma lists.
func flatten(p *Properties, prefix string, v any) {
	join := func(k string) string {
		if prefix == "" {
			return k
		}
		return prefix + "." + k
	}

	switch t := v.(type) {
	case map[string]any:
		for _, k := range slices.Sorted(maps.Keys(t)) {
			flatten(p, join(k), t[k])
		}
	case map[any]any:
		for k, child := range t {
			flatten(p, join(fmt.Sprint(k)), child)
		}
	case []any:
		items := make([]string, 0, len(t))
		for _, item := range t {
			items = append(items, scalar(item))
		}
		if prefix != "" {
			p.Set(prefix, strings.Join(items, ","))
		}
	default:
		if prefix != "" {
			p.Set(prefix, scalar(t))
		}
	}
}

func scalar(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprint(t)
	}
}
