package cmd

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/p0-security/p0cli-sub002/pkg/p0/config"
)

type Config struct {
	ConfigPath   string
	OutputWriter io.Writer
}

type runtimeState struct {
	configPath      string
	cfg             *config.Config
	outputFormat    string
	serverOverride  string
	tokenOverride   string
	storageOverride string
	quiet           bool
	verbose         bool
	writer          io.Writer
	log             *zap.Logger
}

type runtimeKey struct{}

func DefaultConfig() Config {
	return Config{
		ConfigPath:   config.DefaultConfigPath(),
		OutputWriter: os.Stdout,
	}
}

func NewRootCommand(cfg Config) *cobra.Command {
	rt := &runtimeState{configPath: cfg.ConfigPath, writer: cfg.OutputWriter}

	root := &cobra.Command{
		Use:           "p0",
		Short:         "Just-in-time access to cloud resources",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if rt.writer == nil {
				rt.writer = os.Stdout
			}
			if rt.configPath == "" {
				rt.configPath = config.DefaultConfigPath()
			}
			if rt.outputFormat == "" {
				rt.outputFormat = os.Getenv("P0_OUTPUT")
			}
			if rt.serverOverride == "" {
				rt.serverOverride = os.Getenv("P0_SERVER")
			}
			if rt.tokenOverride == "" {
				rt.tokenOverride = os.Getenv("P0_TOKEN")
			}
			if !rt.quiet {
				rt.quiet = strings.EqualFold(os.Getenv("P0_QUIET"), "true")
			}
			if !rt.verbose {
				rt.verbose = strings.EqualFold(os.Getenv("P0_VERBOSE"), "true")
			}
			rt.log = buildLogger(rt.verbose)

			if cmd.Name() == "version" || cmd.Name() == "init" {
				return nil
			}
			cfg, err := config.Load(rt.configPath)
			if err != nil {
				return err
			}
			rt.cfg = cfg
			return nil
		},
	}

	root.PersistentFlags().StringVar(&rt.configPath, "config", rt.configPath, "Path to config file")
	root.PersistentFlags().StringVarP(&rt.outputFormat, "output", "o", "", "Output format: text, json, yaml")
	root.PersistentFlags().StringVar(&rt.serverOverride, "server", "", "Server override (bypass config)")
	root.PersistentFlags().StringVar(&rt.tokenOverride, "token", "", "Bearer token override")
	root.PersistentFlags().StringVar(&rt.storageOverride, "credential-storage", "", "Credential storage backend: keychain or file")
	root.PersistentFlags().BoolVarP(&rt.quiet, "quiet", "q", false, "Suppress progress output")
	root.PersistentFlags().BoolVarP(&rt.verbose, "verbose", "v", false, "Enable verbose logging")

	root.SetContext(context.WithValue(context.Background(), runtimeKey{}, rt))

	root.AddCommand(
		NewConfigCommand(),
		NewLoginCommand(),
		NewRequestCommand(),
		NewSSHCommand(),
		NewSCPCommand(),
		NewVersionCommand(),
	)

	return root
}

func getRuntime(cmd *cobra.Command) (*runtimeState, error) {
	rt, ok := cmd.Context().Value(runtimeKey{}).(*runtimeState)
	if !ok || rt == nil {
		return nil, errors.New("runtime not initialized")
	}
	return rt, nil
}

// buildLogger writes human-oriented log lines to stderr so structured
// output on stdout stays clean.
func buildLogger(verbose bool) *zap.Logger {
	level := zapcore.WarnLevel
	if verbose {
		level = zapcore.DebugLevel
	}
	encoderCfg := zap.NewDevelopmentEncoderConfig()
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderCfg),
		zapcore.Lock(os.Stderr),
		level,
	)
	return zap.New(core)
}

func (rt *runtimeState) Writer() io.Writer {
	if rt.writer != nil {
		return rt.writer
	}
	return os.Stdout
}

func (rt *runtimeState) OutputFormat() string {
	if rt.outputFormat != "" {
		return rt.outputFormat
	}
	if rt.cfg != nil && rt.cfg.Settings.OutputFormat != "" {
		return rt.cfg.Settings.OutputFormat
	}
	return "text"
}

func (rt *runtimeState) CredentialStorage() string {
	if rt.storageOverride != "" {
		return rt.storageOverride
	}
	if rt.cfg != nil && rt.cfg.Settings.CredentialStorage != "" {
		return rt.cfg.Settings.CredentialStorage
	}
	return "file"
}

func (rt *runtimeState) resolveServer() string {
	if rt.serverOverride != "" {
		return rt.serverOverride
	}
	if rt.cfg != nil {
		return rt.cfg.Server
	}
	return ""
}
