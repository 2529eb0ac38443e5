package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	claude "github.com/agentpipe/claudewire"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "claudewire",
		Short:         "Drive the Claude CLI over its control protocol",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.AddCommand(runCmd(), replayCmd(), versionCmd())

	if err := rootCmd.Execute(); err != nil {
		errColor.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	return cfg.Build()
}

// ---------------------------------------------------------------------------
// runCmd
// ---------------------------------------------------------------------------

func runCmd() *cobra.Command {
	var (
		configPath     string
		model          string
		cliPath        string
		permissionMode string
		sessionID      string
		maxTurns       int
		debug          bool
	)

	cmd := &cobra.Command{
		Use:   "run [flags] PROMPT",
		Short: "Send a prompt and stream the reply",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := claude.LoadConfig(configPath)
			if err != nil {
				return err
			}
			if model != "" {
				cfg.Model = model
			}
			if cliPath != "" {
				cfg.CLIPath = cliPath
			}
			if permissionMode != "" {
				cfg.PermissionMode = claude.PermissionMode(permissionMode)
			}
			if maxTurns > 0 {
				cfg.MaxTurns = maxTurns
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			logger, err := newLogger(debug)
			if err != nil {
				return fmt.Errorf("building logger: %w", err)
			}
			defer func() { _ = logger.Sync() }()

			if sessionID == "" {
				sessionID = uuid.NewString()
			}
			return runPrompt(cmd.Context(), cfg, logger, sessionID, strings.Join(args, " "))
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Config file (.toml, .yaml or .yml)")
	cmd.Flags().StringVarP(&model, "model", "m", "", "Model to use")
	cmd.Flags().StringVar(&cliPath, "cli-path", "", "Path to the claude executable")
	cmd.Flags().StringVar(&permissionMode, "permission-mode", "", "default, acceptEdits, plan or bypassPermissions")
	cmd.Flags().StringVar(&sessionID, "session", "", "Session id for the prompt (random when empty)")
	cmd.Flags().IntVar(&maxTurns, "max-turns", 0, "Maximum agent turns")
	cmd.Flags().BoolVar(&debug, "debug", false, "Log protocol traffic at debug level")
	return cmd
}

func runPrompt(parent context.Context, cfg *claude.Config, logger *zap.Logger, sessionID, prompt string) error {
	if parent == nil {
		parent = context.Background()
	}
	opts := append(cfg.Options(),
		claude.WithLogger(logger),
		claude.WithStderr(func(line string) { logger.Debug("cli stderr", zap.String("line", line)) }),
	)
	client := claude.NewClient(opts...)
	defer client.Close()

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("connecting to claude: %w", err)
	}
	if err := client.QueryWithSession(ctx, prompt, sessionID); err != nil {
		return fmt.Errorf("sending prompt: %w", err)
	}

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer cancel()
		var last error
		for msg, err := range client.ReceiveResponse(gctx) {
			if err != nil {
				renderError(err)
				last = err
				continue
			}
			renderMessage(msg)
			last = nil
		}
		if claude.CategoryOf(last) == claude.CategoryProcess {
			return last
		}
		return nil
	})

	g.Go(func() error {
		interrupted := false
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-sigCh:
				if interrupted {
					infoColor.Fprintln(os.Stderr, "[claudewire] closing")
					return client.Close()
				}
				interrupted = true
				infoColor.Fprintln(os.Stderr, "[claudewire] interrupting, press Ctrl-C again to quit")
				if err := client.Interrupt(gctx); err != nil {
					logger.Warn("interrupt failed", zap.Error(err))
				}
			}
		}
	})

	if err := g.Wait(); err != nil {
		return err
	}
	stats := client.Stats()
	logger.Debug("session finished",
		zap.Int64("frames", stats.Frames),
		zap.Int64("bytes", stats.Bytes),
		zap.Int64("decode_errors", stats.DecodeErrors))
	return nil
}

// ---------------------------------------------------------------------------
// replayCmd
// ---------------------------------------------------------------------------

func replayCmd() *cobra.Command {
	var maxBuffer int
	cmd := &cobra.Command{
		Use:   "replay FILE",
		Short: "Decode a captured CLI transcript and report protocol drift",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("opening transcript: %w", err)
			}
			defer f.Close()

			var opts []claude.Option
			if maxBuffer > 0 {
				opts = append(opts, claude.WithMaxBufferSize(maxBuffer))
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			sum, err := claude.Replay(ctx, f, func(msg claude.Message, err error) {
				if err != nil {
					renderError(err)
					return
				}
				renderMessage(msg)
			}, opts...)
			renderSummary(sum)
			return err
		},
	}
	cmd.Flags().IntVar(&maxBuffer, "max-buffer-size", 0, "Maximum line size in bytes")
	return cmd
}

// ---------------------------------------------------------------------------
// versionCmd
// ---------------------------------------------------------------------------

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("claudewire", claude.Version)
		},
	}
}
