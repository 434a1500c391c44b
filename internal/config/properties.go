// Package config provides the flat, dot-keyed property namespace the engine is configured
// through, the loaders that fill it, and a typed view of the application settings.
package config

import (
	"maps"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Properties is a flat string-keyed configuration namespace. It is filled once during
// startup and only read afterwards, so it carries no locking.
type Properties struct {
	values map[string]string
}

// NewProperties creates an empty property set.
func NewProperties() *Properties {
	return &Properties{values: make(map[string]string)}
}

// FromMap creates a property set holding a copy of m.
func FromMap(m map[string]string) *Properties {
	p := NewProperties()
	for k, v := range m {
		p.Set(k, v)
	}
	return p
}

// Set stores value under key, replacing any earlier value.
func (p *Properties) Set(key, value string) {
	p.values[strings.TrimSpace(key)] = value
}

// Merge copies every property of other into p; values of other win.
func (p *Properties) Merge(other *Properties) {
	if other == nil {
		return
	}
	maps.Copy(p.values, other.values)
}

// Len returns the number of properties.
func (p *Properties) Len() int {
	return len(p.values)
}

// Keys returns all property names in sorted order.
func (p *Properties) Keys() []string {
	return slices.Sorted(maps.Keys(p.values))
}

// KeysWithPrefix returns the sorted property names starting with prefix.
func (p *Properties) KeysWithPrefix(prefix string) []string {
	var keys []string
	for k := range p.values {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	return keys
}

// Lookup returns the trimmed value of key and whether it is set.
func (p *Properties) Lookup(key string) (string, bool) {
	v, ok := p.values[key]
	if !ok {
		return "", false
	}
	return strings.TrimSpace(v), true
}

// String returns the trimmed value of key, or def when key is not set.
func (p *Properties) String(key, def string) string {
	if v, ok := p.Lookup(key); ok {
		return v
	}
	return def
}

// Bool returns true only if key is set to "true" (case-insensitive); def when key is unset or blank.
func (p *Properties) Bool(key string, def bool) bool {
	v, ok := p.Lookup(key)
	if !ok || v == "" {
		return def
	}
	return strings.EqualFold(v, "true")
}

// List splits a comma-separated value into trimmed, non-blank items.
func (p *Properties) List(key string) []string {
	v, ok := p.Lookup(key)
	if !ok {
		return nil
	}
	return SplitList(v)
}

// SplitList splits a comma-separated string, trimming items and dropping blank ones.
func SplitList(v string) []string {
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// LookupInt64 parses key as an integer within [lo, hi]. The boolean is false when key is
// unset or blank.
func (p *Properties) LookupInt64(key string, lo, hi int64) (int64, bool, error) {
	v, ok := p.Lookup(key)
	if !ok || v == "" {
		return 0, false, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, false, &ConfigurationError{Key: key, Message: "value " + strconv.Quote(v) + " is not an integer", Err: err}
	}
	if n < lo || n > hi {
		return 0, false, Errorf(key, "value %d is outside [%d, %d]", n, lo, hi)
	}
	return n, true, nil
}

// LookupInt is LookupInt64 for int-sized values.
func (p *Properties) LookupInt(key string, lo, hi int) (int, bool, error) {
	n, ok, err := p.LookupInt64(key, int64(lo), int64(hi))
	return int(n), ok, err
}

// Int64 returns the integer value of key, or def when it is unset.
func (p *Properties) Int64(key string, def, lo, hi int64) (int64, error) {
	n, ok, err := p.LookupInt64(key, lo, hi)
	if err != nil || !ok {
		return def, err
	}
	return n, nil
}

// Int returns the integer value of key, or def when it is unset.
func (p *Properties) Int(key string, def, lo, hi int) (int, error) {
	n, ok, err := p.LookupInt(key, lo, hi)
	if err != nil || !ok {
		return def, err
	}
	return n, nil
}

// Millis reads key as a non-negative number of milliseconds.
func (p *Properties) Millis(key string, def time.Duration) (time.Duration, error) {
	n, ok, err := p.LookupInt64(key, 0, math.MaxInt64/int64(time.Millisecond))
	if err != nil || !ok {
		return def, err
	}
	return time.Duration(n) * time.Millisecond, nil
}
