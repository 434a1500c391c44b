// Package main implements the transformd entry point: a content transformation engine that
// converts uploaded files between mimetypes and extracts their metadata over HTTP.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/darkace1998/content-transformer/internal/config"
	"github.com/darkace1998/content-transformer/internal/coordinator"
	"github.com/darkace1998/content-transformer/internal/logger"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := rootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "transformd",
		Short: "Content transformation engine",
		Long: `transformd converts documents between mimetypes and extracts their metadata.

Configuration is layered: built-in defaults, then each --config file in order,
then TENV_<key> environment variables, then --set overrides.`,
		SilenceUsage: true,
	}

	cmd.AddCommand(serveCmd(), validateCmd(), configCmd(), versionCmd())
	return cmd
}

// configFlags are the configuration sources shared by all engine commands.
type configFlags struct {
	files     []string
	overrides []string
}

func (f *configFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringArrayVarP(&f.files, "config", "c", nil,
		"Configuration file (.properties, .yaml, .yml, .json, .jsonc); repeatable, later files win")
	cmd.Flags().StringArrayVar(&f.overrides, "set", nil, "Override one property as key=value; repeatable")
}

func (f *configFlags) load() (*config.Properties, error) {
	overrides, err := parseOverrides(f.overrides)
	if err != nil {
		return nil, err
	}
	props, err := config.Load(f.files, overrides)
	if err != nil {
		return nil, err
	}
	if _, set := props.Lookup(config.KeyVersion); !set {
		props.Set(config.KeyVersion, version)
	}
	return props, nil
}

// parseOverrides turns key=value pairs into a map; the value may itself contain '='.
func parseOverrides(pairs []string) (map[string]string, error) {
	out := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --set %q, expected key=value", pair)
		}
		out[key] = value
	}
	return out, nil
}

func serveCmd() *cobra.Command {
	var flags configFlags
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the transformation engine HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			props, err := flags.load()
			if err != nil {
				return err
			}
			settings, err := config.NewSettings(props)
			if err != nil {
				return err
			}
			logger.Init(settings.Logging.Level, settings.Logging.Format)

			engine, err := coordinator.Boot(props)
			if err != nil {
				slog.Error("Failed to boot transformation engine", "error", err)
				return err
			}
			slog.Info("Transformation engine ready",
				"version", settings.Version,
				"host", settings.Host,
				"addr", settings.Address)
			return engine.Run(cmd.Context())
		},
	}
	flags.register(cmd)
	return cmd
}

// bootQuietly boots the engine with logging limited to warnings on stderr, keeping stdout for
// the command's output.
func bootQuietly(cmd *cobra.Command, flags *configFlags) (*coordinator.Engine, error) {
	props, err := flags.load()
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger.New(cmd.ErrOrStderr(), "warn", props.String(config.KeyLogFormat, logger.FormatText)))
	return coordinator.Boot(props)
}

func validateCmd() *cobra.Command {
	var flags configFlags
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration without serving",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			engine, err := bootQuietly(cmd, &flags)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "Configuration is valid: %d transformers (%s), %d metadata extracters (%s)\n",
				len(engine.Registry.TransformerNames()), strings.Join(engine.Registry.TransformerNames(), ", "),
				len(engine.Registry.MetadataExtracterNames()), strings.Join(engine.Registry.MetadataExtracterNames(), ", "))
			return err
		},
	}
	flags.register(cmd)
	return cmd
}

func configCmd() *cobra.Command {
	var flags configFlags
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the transform configuration this engine would export",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			engine, err := bootQuietly(cmd, &flags)
			if err != nil {
				return err
			}
			return engine.Registry.WriteConfig(cmd.OutOrStdout())
		},
	}
	flags.register(cmd)
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "transformd version %s\n", version)
			return err
		},
	}
}
