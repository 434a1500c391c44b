package transformer

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/darkace1998/content-transformer/internal/capability"
	"github.com/darkace1998/content-transformer/internal/config"
	"github.com/darkace1998/content-transformer/internal/registry"
)

const (
	defaultArguments = "${source} ${target}"
	optionVarPrefix  = "option."
	maxStderrInError = 2048
)

// Command runs an external program per transformation, e.g. ffmpeg or libreoffice.
//
// transformer.<name>.command names the executable and transformer.<name>.arguments its
// whitespace separated arguments. Arguments may reference ${source}, ${target},
// ${sourceMimetype}, ${targetMimetype} and ${option.<name>}; an argument referencing an option
// without a value is left out. Use --flag=${option.<name>} for flags that take a value.
type Command struct {
	Base
	path string
	args []string
}

// NewCommand creates a command transformer from its configuration.
func NewCommand(props *config.Properties, state capability.State) (*Command, error) {
	base := capability.PrefixTransformer + "." + state.Name + "."
	path := props.String(base+"command", "")
	if path == "" {
		return nil, config.Errorf(base+"command", "command transformer %s has no command", state.Name)
	}
	return &Command{
		Base: NewBase(state),
		path: path,
		args: strings.Fields(props.String(base+"arguments", defaultArguments)),
	}, nil
}

// Transform runs the command and checks that it produced a non-empty target file
func (c *Command) Transform(ctx context.Context, req *registry.Request) error {
	if err := os.MkdirAll(filepath.Dir(req.TargetFile), 0o750); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	args := c.buildArguments(req)

	// #nosec G204 - executable and argument templates come from configuration
	cmd := exec.CommandContext(ctx, c.path, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	slog.Debug("Executing transformer command", "transformer", c.Name(), "command", c.path, "args", args)

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("%s interrupted: %w", c.Name(), ctxErr)
		}
		return fmt.Errorf("%s failed: %w: %s", c.Name(), err, stderrTail(stderr.Bytes()))
	}

	if _, err := ValidateOutput(req.TargetFile); err != nil {
		return fmt.Errorf("%s produced no output: %w", c.Name(), err)
	}
	return nil
}

// buildArguments expands the argument templates for req
func (c *Command) buildArguments(req *registry.Request) []string {
	args := make([]string, 0, len(c.args))
	for _, tmpl := range c.args {
		missing := false
		arg := os.Expand(tmpl, func(key string) string {
			switch key {
			case "source":
				return req.SourceFile
			case "target":
				return req.TargetFile
			case "sourceMimetype":
				return req.SourceMimetype
			case "targetMimetype":
				return req.TargetMimetype
			}
			if name, ok := strings.CutPrefix(key, optionVarPrefix); ok {
				v := strings.TrimSpace(req.Options[name])
				if v == "" {
					missing = true
				}
				return v
			}
			return "${" + key + "}"
		})
		if !missing {
			args = append(args, arg)
		}
	}
	return args
}

func stderrTail(b []byte) string {
	b = bytes.TrimSpace(b)
	if len(b) > maxStderrInError {
		b = b[len(b)-maxStderrInError:]
	}
	return string(b)
}
