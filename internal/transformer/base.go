// Package transformer contains the built-in transformers and metadata extracters and the
// factory that instantiates them from configuration.
package transformer

import (
	"fmt"
	"os"
	"strings"

	"github.com/darkace1998/content-transformer/internal/capability"
)

// Base carries the configured declaration of a transformer.
type Base struct {
	state capability.State
}

func NewBase(state capability.State) Base {
	return Base{state: state}
}

func (b *Base) Name() string             { return b.state.Name }
func (b *Base) OptionProfiles() []string { return b.state.OptionProfiles }
func (b *Base) SupportedTransformations() []capability.SupportedTransformation {
	return b.state.Transformations
}

// ExtracterBase carries the configured declaration of a metadata extracter.
type ExtracterBase struct {
	name     string
	profiles []string
	sources  []string
}

func NewExtracterBase(name string, profiles, sources []string) ExtracterBase {
	return ExtracterBase{name: name, profiles: profiles, sources: sources}
}

func (b *ExtracterBase) Name() string                       { return b.name }
func (b *ExtracterBase) OptionProfiles() []string           { return b.profiles }
func (b *ExtracterBase) SupportedSourceMimetypes() []string { return b.sources }

// InvalidOptionError reports an option value a worker cannot use.
type InvalidOptionError struct {
	Name  string
	Value string
}

func (e *InvalidOptionError) Error() string {
	return fmt.Sprintf("invalid value %q for option %s", e.Value, e.Name)
}

func boolOption(opts map[string]string, name string) bool {
	return strings.EqualFold(strings.TrimSpace(opts[name]), "true")
}

func stringOption(opts map[string]string, name, def string) string {
	if v := strings.TrimSpace(opts[name]); v != "" {
		return v
	}
	return def
}

// writeTarget writes content to the target file of a request.
func writeTarget(path string, content []byte) error {
	if err := os.WriteFile(path, content, 0o600); err != nil {
		return fmt.Errorf("failed to write target file: %w", err)
	}
	return nil
}

// ValidateOutput checks that a transformation produced a non-empty regular file and returns
// its size.
func ValidateOutput(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, fmt.Errorf("target file does not exist: %s", path)
		}
		return 0, fmt.Errorf("failed to stat target file: %w", err)
	}

	if info.IsDir() {
		return 0, fmt.Errorf("target path is a directory, not a file: %s", path)
	}

	if info.Size() == 0 {
		return 0, fmt.Errorf("target file is empty: %s", path)
	}

	return info.Size(), nil
}
