// Package cli implements the rowmap command line tool.
package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rpattn/rowmap/internal/config"
	"github.com/rpattn/rowmap/internal/logging"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// version is set at build time via ldflags.
var version = "dev"

type rootOptions struct {
	ConfigFile string
	LogLevel   string
	LogFormat  string
}

// app carries state shared by subcommands.
type app struct {
	v      *viper.Viper
	logger zerolog.Logger
}

// Execute runs the root command and exits with a code derived from the error.
func Execute() {
	root := newRootCommand()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", errorMessage(err))
		os.Exit(exitCodeForError(err))
	}
}

func newRootCommand() *cobra.Command {
	opts := rootOptions{}
	a := &app{v: viper.New(), logger: zerolog.Nop()}

	cmd := &cobra.Command{
		Use:           "rowmap",
		Short:         "Fingerprint tabular headers and map rows into entities",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.initConfig(opts.ConfigFile); err != nil {
				return err
			}
			a.logger = logging.New(logging.Config{
				Level:  a.v.GetString("log.level"),
				Format: a.v.GetString("log.format"),
			}, cmd.ErrOrStderr())
			return nil
		},
	}
	cmd.PersistentFlags().StringVar(&opts.ConfigFile, "config", "", "Config file path")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "info", "Log level")
	cmd.PersistentFlags().StringVar(&opts.LogFormat, "log-format", logging.FormatConsole, "Log format (console or json)")
	_ = a.v.BindPFlag("log.level", cmd.PersistentFlags().Lookup("log-level"))
	_ = a.v.BindPFlag("log.format", cmd.PersistentFlags().Lookup("log-format"))

	cmd.AddCommand(newFingerprintCommand(a))
	cmd.AddCommand(newMapCommand(a))
	return cmd
}

func (a *app) initConfig(configFile string) error {
	a.v.SetEnvPrefix(config.EnvPrefix)
	a.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	a.v.AutomaticEnv()

	if configFile == "" {
		return nil
	}
	a.v.SetConfigFile(configFile)
	if err := a.v.ReadInConfig(); err != nil {
		return errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("failed to read config file").
			WithCause(err)
	}
	return nil
}

// resolveString prefers an explicitly set flag, then config or env.
func (a *app) resolveString(cmd *cobra.Command, value, key, flagName string) string {
	if flagChanged(cmd, flagName) {
		return value
	}
	if a.v.IsSet(key) {
		return a.v.GetString(key)
	}
	return value
}

func (a *app) resolveInt(cmd *cobra.Command, value int, key, flagName string) int {
	if flagChanged(cmd, flagName) {
		return value
	}
	if a.v.IsSet(key) {
		return a.v.GetInt(key)
	}
	return value
}

func flagChanged(cmd *cobra.Command, name string) bool {
	if cmd == nil {
		return false
	}
	flag := cmd.Flags().Lookup(name)
	return flag != nil && flag.Changed
}

func exitCodeForError(err error) int {
	switch errbuilder.CodeOf(err) {
	case errbuilder.CodeInvalidArgument:
		return 2
	case errbuilder.CodeFailedPrecondition:
		return 3
	case errbuilder.CodeNotFound:
		return 4
	case errbuilder.CodeInternal:
		return 5
	default:
		return 1
	}
}

func errorMessage(err error) string {
	var builder *errbuilder.ErrBuilder
	if errors.As(err, &builder) && strings.TrimSpace(builder.Msg) != "" {
		return builder.Msg
	}
	return err.Error()
}

func invalidArgument(msg string, cause error) error {
	b := errbuilder.New().
		WithCode(errbuilder.CodeInvalidArgument).
		WithMsg(msg)
	if cause != nil {
		return b.WithCause(cause)
	}
	return b
}

func readInput(path string, stdin io.Reader) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(stdin)
	}
	return os.ReadFile(path)
}
