package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/ggonzalez94/defi-actions/internal/cache"
	"github.com/ggonzalez94/defi-actions/internal/config"
	clierr "github.com/ggonzalez94/defi-actions/internal/errors"
	"github.com/ggonzalez94/defi-actions/internal/execution"
	"github.com/ggonzalez94/defi-actions/internal/execution/simulate"
	"github.com/ggonzalez94/defi-actions/internal/id"
	"github.com/ggonzalez94/defi-actions/internal/logging"
	"github.com/ggonzalez94/defi-actions/internal/model"
	"github.com/ggonzalez94/defi-actions/internal/out"
	"github.com/ggonzalez94/defi-actions/internal/policy"
	"github.com/ggonzalez94/defi-actions/internal/schema"
	"github.com/ggonzalez94/defi-actions/internal/version"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type Runner struct {
	stdout io.Writer
	stderr io.Writer
	// logs receives zap output when no log file is configured. It is kept
	// apart from stderr so the error envelope can be parsed on its own.
	logs io.Writer
	now  func() time.Time

	// newServices and newValidator are swapped in tests to point clients at local servers.
	newServices  func(config.Settings, cache.Backend, *zap.Logger) (*services, error)
	newValidator func(context.Context, id.Chain, string, *zap.Logger) (simulate.Validator, error)
}

func NewRunner() *Runner {
	r := NewRunnerWithWriters(os.Stdout, os.Stderr)
	r.logs = os.Stderr
	return r
}

func NewRunnerWithWriters(stdout, stderr io.Writer) *Runner {
	return &Runner{
		stdout:       stdout,
		stderr:       stderr,
		logs:         io.Discard,
		now:          time.Now,
		newServices:  newServices,
		newValidator: newValidator,
	}
}

type runtimeState struct {
	runner    *Runner
	flags     config.GlobalFlags
	settings  config.Settings
	log       *zap.Logger
	backend   cache.Backend
	svc       *services
	root      *cobra.Command
	requestID string

	lastCommand   string
	lastWarnings  []string
	lastProviders []model.ProviderStatus
	lastPartial   bool
}

func (r *Runner) Run(args []string) int {
	state := &runtimeState{runner: r, log: zap.NewNop(), requestID: execution.NewRequestID()}
	root := state.newRootCommand()
	state.root = root
	root.SetArgs(args)
	root.SetOut(r.stdout)
	root.SetErr(r.stderr)
	root.SilenceUsage = true
	root.SilenceErrors = true

	err := normalizeRunError(root.Execute())
	if err != nil {
		state.renderError(err)
	}
	state.close()
	return clierr.ExitCode(err)
}

func (s *runtimeState) close() {
	if s.backend != nil {
		_ = s.backend.Close()
	}
	_ = s.log.Sync()
}

func (s *runtimeState) newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   version.CLIName,
		Short: "Build, validate and resolve DeFi action batches",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "help" {
				return nil
			}
			settings, err := config.Load(s.flags)
			if err != nil {
				return clierr.Wrap(clierr.CodeUsage, "load configuration", err)
			}
			s.settings = settings

			log, err := logging.Build(logging.Options{
				Level:  settings.LogLevel,
				Format: settings.LogFormat,
				File:   settings.LogFile,
				Stderr: s.runner.logs,
			})
			if err != nil {
				return clierr.Wrap(clierr.CodeUsage, "configure logging", err)
			}
			path := trimRootPath(cmd.CommandPath())
			s.lastCommand = path
			s.log = log.With(zap.String("request_id", s.requestID), zap.String("command", path))

			if err := policy.CheckCommandAllowed(settings.EnableCommands, path); err != nil {
				return err
			}
			if !needsServices(path) {
				return nil
			}
			if settings.CacheEnabled && s.backend == nil {
				backend, err := s.openBackend()
				if err != nil {
					return err
				}
				s.backend = backend
			}
			if s.svc == nil {
				svc, err := s.runner.newServices(settings, s.backend, s.log)
				if err != nil {
					return err
				}
				s.svc = svc
			}
			return nil
		},
	}
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return clierr.Wrap(clierr.CodeUsage, "parse flags", err)
	})

	cmd.PersistentFlags().BoolVar(&s.flags.JSON, "json", false, "Output JSON (default)")
	cmd.PersistentFlags().BoolVar(&s.flags.Plain, "plain", false, "Output plain text")
	cmd.PersistentFlags().StringVar(&s.flags.Select, "select", "", "Select fields from data (comma-separated)")
	cmd.PersistentFlags().BoolVar(&s.flags.ResultsOnly, "results-only", false, "Output only data payload")
	cmd.PersistentFlags().StringVar(&s.flags.EnableCommands, "enable-commands", "", "Allowlist command paths (comma-separated)")
	cmd.PersistentFlags().StringVar(&s.flags.EnableProtocols, "enable-protocols", "", "Allowlist protocols builds may target (comma-separated)")
	cmd.PersistentFlags().StringVar(&s.flags.Timeout, "timeout", "", "Provider request timeout")
	cmd.PersistentFlags().IntVar(&s.flags.Retries, "retries", -1, "Retries per provider request")
	cmd.PersistentFlags().StringVar(&s.flags.MaxStale, "max-stale", "", "Maximum stale fallback window after TTL expiry")
	cmd.PersistentFlags().BoolVar(&s.flags.NoStale, "no-stale", false, "Reject stale cache entries")
	cmd.PersistentFlags().BoolVar(&s.flags.NoCache, "no-cache", false, "Disable cache reads and writes")
	cmd.PersistentFlags().StringVar(&s.flags.LogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&s.flags.ConfigPath, "config", "", "Path to config file")

	cmd.AddCommand(s.newBuildCommand())
	cmd.AddCommand(s.newSimulateCommand())
	cmd.AddCommand(s.newPositionsCommand())
	cmd.AddCommand(s.newResolveChainCommand())
	cmd.AddCommand(s.newProtocolsCommand())
	cmd.AddCommand(s.newChainsCommand())
	cmd.AddCommand(s.newSchemaCommand())
	cmd.AddCommand(newVersionCommand())

	return cmd
}

// openBackend prefers the shared redis cache when one is configured.
func (s *runtimeState) openBackend() (cache.Backend, error) {
	limit := s.settings.MaxStale
	if s.settings.NoStale {
		limit = 0
	}
	if s.settings.RedisAddr != "" {
		s.log.Debug("using redis cache", zap.String("addr", s.settings.RedisAddr))
		return cache.StaleLimit{Backend: cache.NewRedis(s.settings.RedisAddr, ""), Limit: limit}, nil
	}
	store, err := cache.Open(s.settings.CachePath, s.settings.CacheLockPath)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "open cache", err)
	}
	return cache.StaleLimit{Backend: store, Limit: limit}, nil
}

func newVersionCommand() *cobra.Command {
	var long bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print CLI version",
		Run: func(cmd *cobra.Command, args []string) {
			if long {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), version.Long())
				return
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), version.CLIVersion)
		},
	}
	cmd.Flags().BoolVar(&long, "long", false, "Print extended build metadata")
	return cmd
}

func (s *runtimeState) newSchemaCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "schema [command path]",
		Short: "Print machine-readable command schema",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := schema.Build(s.root, strings.Join(args, " "))
			if err != nil {
				return clierr.Wrap(clierr.CodeUsage, "build schema", err)
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), data, nil, nil, false)
		},
	}
}

func (s *runtimeState) emitSuccess(commandPath string, data any, warnings []string, providers []model.ProviderStatus, partial bool) error {
	s.lastWarnings = warnings
	s.lastProviders = providers
	s.lastPartial = partial
	env := model.Envelope{
		Version:  model.EnvelopeVersion,
		Success:  true,
		Data:     data,
		Warnings: warnings,
		Meta:     s.meta(commandPath, providers, partial),
	}
	return out.Render(s.runner.stdout, env, s.settings)
}

func (s *runtimeState) meta(commandPath string, providers []model.ProviderStatus, partial bool) model.EnvelopeMeta {
	return model.EnvelopeMeta{
		RequestID: s.requestID,
		Timestamp: s.runner.now().UTC(),
		Command:   commandPath,
		Providers: providers,
		Partial:   partial,
	}
}

func (s *runtimeState) renderError(err error) {
	commandPath := s.lastCommand
	if commandPath == "" {
		commandPath = version.CLIName
	}
	s.log.Debug("command failed", zap.Error(err))

	settings := s.settings
	if settings.OutputMode == "" {
		settings.OutputMode = "json"
	}
	settings.ResultsOnly = false
	settings.SelectFields = nil
	env := model.Envelope{
		Version:  model.EnvelopeVersion,
		Success:  false,
		Data:     []any{},
		Error:    errorBody(err),
		Warnings: s.lastWarnings,
		Meta:     s.meta(commandPath, s.lastProviders, s.lastPartial),
	}
	_ = out.Render(s.runner.stderr, env, settings)
}

func errorBody(err error) *model.ErrorBody {
	body := &model.ErrorBody{Code: clierr.ExitCode(err), Type: errorType(err), Message: err.Error()}
	if cErr, ok := clierr.As(err); ok {
		body.Message = cErr.Error()
		body.Details = cErr.Details
	}
	return body
}

func errorType(err error) string {
	cErr, ok := clierr.As(err)
	if !ok {
		return "internal_error"
	}
	switch cErr.Code {
	case clierr.CodeUsage:
		return "usage_error"
	case clierr.CodeAuth:
		return "auth_error"
	case clierr.CodeRateLimited:
		return "rate_limited"
	case clierr.CodeUnavailable:
		return "provider_unavailable"
	case clierr.CodeUnsupported:
		return "unsupported"
	case clierr.CodeStale:
		return "stale_data"
	case clierr.CodePartialStrict:
		return "partial_results"
	case clierr.CodeBlocked:
		return "command_blocked"
	case clierr.CodeConfig:
		return "config_error"
	case clierr.CodeInsufficient:
		return "insufficient"
	case clierr.CodeSimulation:
		return "simulation_failed"
	default:
		return "internal_error"
	}
}

func statusFromErr(err error) string {
	if err == nil {
		return "ok"
	}
	if cErr, ok := clierr.As(err); ok {
		switch cErr.Code {
		case clierr.CodeAuth:
			return "auth_error"
		case clierr.CodeRateLimited:
			return "rate_limited"
		case clierr.CodeUnavailable:
			return "unavailable"
		}
	}
	return "error"
}

func providerStatus(name string, start time.Time, err error) model.ProviderStatus {
	return model.ProviderStatus{Name: name, Status: statusFromErr(err), LatencyMS: time.Since(start).Milliseconds()}
}

func trimRootPath(path string) string {
	parts := strings.Fields(path)
	if len(parts) <= 1 {
		return path
	}
	return strings.Join(parts[1:], " ")
}

func needsServices(commandPath string) bool {
	switch strings.Join(strings.Fields(strings.ToLower(commandPath)), " ") {
	case "", version.CLIName, "version", "schema":
		return false
	default:
		return true
	}
}

func normalizeRunError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := clierr.As(err); ok {
		return err
	}
	if isLikelyUsageError(err) {
		return clierr.Wrap(clierr.CodeUsage, "invalid command input", err)
	}
	return clierr.Wrap(clierr.CodeInternal, "execute command", err)
}

func isLikelyUsageError(err error) bool {
	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	patterns := []string{
		"unknown command",
		"unknown flag",
		"required flag(s)",
		"flag needs an argument",
		"requires at least",
		"requires exactly",
		"accepts ",
		"invalid argument",
		"invalid args",
	}
	for _, p := range patterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}
