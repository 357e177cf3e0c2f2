package terminal

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"vision_automation/application/memory"
	"vision_automation/application/normalize"
	"vision_automation/domain/entities"
	"vision_automation/infrastructure/config"
)

type options struct {
	configPath string
	contextID  string
	confirm    bool
	keepGoing  bool
}

// NewRootCommand - the vision CLI
func NewRootCommand() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "vision",
		Short: "Drive a remote-desktop client by what is on screen",
		Long: `vision locates UI elements in screenshots of a remote-desktop client and clicks or
types into them, validating every action by watching the screen change.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "vision.yaml", "Configuration file")
	root.PersistentFlags().StringVar(&opts.contextID, "context", "default", "Application context that scopes memory and templates")

	actCmd := &cobra.Command{
		Use:   "act <action> <label> [= value]",
		Short: "Resolve and perform one step",
		Example: `  vision act click Submit
  vision act type Username = alice
  vision act click OK #1`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAct(cmd.Context(), opts, strings.Join(args, " "), cmd.OutOrStdout())
		},
	}
	actCmd.Flags().BoolVar(&opts.confirm, "yes", false, "Run destructive steps without asking for confirmation")

	runCmd := &cobra.Command{
		Use:   "run <step>...",
		Short: "Run several steps as one run and write its analytics",
		Example: `  vision run "click Login" "type Username = alice" "click Submit"`,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSteps(cmd.Context(), opts, args, cmd.OutOrStdout())
		},
	}
	runCmd.Flags().BoolVar(&opts.keepGoing, "continue", false, "Keep going after a failed step")
	runCmd.Flags().BoolVar(&opts.confirm, "yes", false, "Run destructive steps without asking for confirmation")

	resolveCmd := &cobra.Command{
		Use:   "resolve <label> [#index]",
		Short: "Show where a label resolves without acting",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runResolve(cmd.Context(), opts, strings.Join(args, " "), cmd.OutOrStdout())
		},
	}

	replCmd := &cobra.Command{
		Use:   "repl",
		Short: "Interactive session, one step per line",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runREPL(cmd.Context(), opts, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	memoryCmd := &cobra.Command{
		Use:   "memory",
		Short: "Inspect or edit remembered coordinates",
	}
	memoryCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List remembered targets of the context",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMemory(opts, func(store *memory.Store) error {
				recs, err := store.List(cmd.Context(), opts.contextID)
				if err != nil {
					return err
				}
				writeRecords(cmd.OutOrStdout(), recs)
				return nil
			})
		},
	})
	memoryCmd.AddCommand(&cobra.Command{
		Use:   "invalidate <screen_id> <label>",
		Short: "Forget the coordinates of a target on one screen",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := entities.MemoryKey{
				ContextID: opts.contextID,
				ScreenID:  args[0],
				Target:    normalize.Normalize(strings.Join(args[1:], " ")),
			}
			return withMemory(opts, func(store *memory.Store) error {
				if err := store.Invalidate(cmd.Context(), key); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Forgot %q on %s\n", key.Target, key.ScreenID)
				return nil
			})
		},
	})

	root.AddCommand(actCmd, runCmd, resolveCmd, replCmd, memoryCmd)
	return root
}

// Execute - runs the CLI until done or interrupted
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return NewRootCommand().ExecuteContext(ctx)
}

func loadConfig(opts *options) (*config.Config, *logrus.Logger, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, NewLogger(cfg.Logging), nil
}

func withApp(ctx context.Context, opts *options, fn func(*App) error) error {
	cfg, logger, err := loadConfig(opts)
	if err != nil {
		return err
	}
	app, err := NewApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer app.Close()
	return fn(app)
}

func withMemory(opts *options, fn func(*memory.Store) error) error {
	cfg, logger, err := loadConfig(opts)
	if err != nil {
		return err
	}
	store, err := OpenMemory(cfg.Memory, logger)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(store)
}

func runAct(ctx context.Context, opts *options, line string, w io.Writer) error {
	spec, err := ParseStep(line)
	if err != nil {
		return err
	}
	spec.Confirmed = opts.confirm
	return withApp(ctx, opts, func(app *App) error {
		out, err := app.Agent().ResolveAndAct(ctx, spec, opts.contextID)
		if err != nil {
			return err
		}
		writeOutcome(w, out)
		return nil
	})
}

func runSteps(ctx context.Context, opts *options, lines []string, w io.Writer) error {
	steps, err := ParseSteps(lines)
	if err != nil {
		return err
	}
	for i := range steps {
		steps[i].Confirmed = opts.confirm
	}
	return withApp(ctx, opts, func(app *App) error {
		report, err := app.Agent().Run(ctx, entities.RunRequest{
			ContextID:         opts.contextID,
			Steps:             steps,
			ContinueOnFailure: opts.keepGoing,
		})
		if err != nil {
			return err
		}
		summary := report.Summary()
		if rl := app.RunLog(); rl != nil {
			if summary, err = rl.WriteReport(report); err != nil {
				return err
			}
		}
		fmt.Fprintf(w, "Run %s %s: %d/%d steps, %d retries\n", report.RunID, report.Status,
			summary.Succeeded, summary.TotalSteps, summary.TotalRetries)
		if len(summary.FlakyTargets) > 0 {
			fmt.Fprintf(w, "Flaky targets: %s\n", strings.Join(summary.FlakyTargets, ", "))
		}
		if report.Status != entities.StatusSuccess {
			return fmt.Errorf("run %s", report.Status)
		}
		return nil
	})
}

func runResolve(ctx context.Context, opts *options, label string, w io.Writer) error {
	spec, err := ParseStep("click " + label)
	if err != nil {
		return err
	}
	return withApp(ctx, opts, func(app *App) error {
		st, res, err := app.Agent().Inspect(ctx, spec, opts.contextID)
		if st != nil {
			fmt.Fprintf(w, "Screen %s, %d elements\n", st.ScreenID, len(st.Elements))
		}
		if err != nil {
			return err
		}
		fmt.Fprintln(w, describeMatch(res))
		return nil
	})
}

func runREPL(ctx context.Context, opts *options, in io.Reader, w io.Writer) error {
	return withApp(ctx, opts, func(app *App) error {
		return NewTerminalInterface(app.Agent(), app.Memory(), opts.contextID, in, w, app.logger).Run(ctx)
	})
}
