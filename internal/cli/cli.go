// Package cli is the fravik command line: the HTTP server plus operator
// commands that work directly against the configured store.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/khjohns/Fravik-utslippsfribyggeplass/internal/app"
	"github.com/khjohns/Fravik-utslippsfribyggeplass/internal/config"
	"github.com/khjohns/Fravik-utslippsfribyggeplass/internal/logging"
	"github.com/khjohns/Fravik-utslippsfribyggeplass/internal/service"
)

type runtime struct {
	configPath string
	logLevel   string

	cfg    *config.Config
	logger *zap.Logger
	flush  func()
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	rt := &runtime{}

	root := &cobra.Command{
		Use:           "fravik",
		Short:         "Intake and routing of exemption requests for emission-free construction sites",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(rt.configPath)
			if err != nil {
				return err
			}
			if rt.logLevel != "" {
				cfg.Logging.Level = rt.logLevel
			}
			logger, flush, err := logging.New(cfg.Logging)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			rt.cfg, rt.logger, rt.flush = cfg, logger, flush
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if rt.flush != nil {
				rt.flush()
			}
		},
	}
	root.PersistentFlags().StringVarP(&rt.configPath, "config", "c", "", "config file (default ./config.yaml or /etc/fravik/config.yaml)")
	root.PersistentFlags().StringVar(&rt.logLevel, "log-level", "", "override logging.level")

	root.AddCommand(rt.serveCmd(), rt.getCmd(), rt.reprocessCmd())
	return root
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func (rt *runtime) open(ctx context.Context) (*app.App, error) {
	return app.New(ctx, rt.cfg, rt.logger)
}

func (rt *runtime) serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := rt.open(ctx)
			if err != nil {
				return err
			}
			defer a.Close()
			return a.Serve(ctx)
		},
	}
}

func (rt *runtime) getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <submission-id>",
		Short: "Print the stored payload of a submission",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := rt.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			sub, err := a.Retrieval.Get(cmd.Context(), args[0])
			if errors.Is(err, service.ErrSubmissionNotFound) {
				return fmt.Errorf("submission %s not found", args[0])
			}
			if err != nil {
				return err
			}
			return printJSON(cmd, sub.Payload)
		},
	}
}

func (rt *runtime) reprocessCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reprocess <submission-id>",
		Short: "Render a stored submission again and repeat its notification",
		Long: `Reprocess loads the stored record, renders its summary document and runs
the notification for its current state. Files uploaded with the original
request are not kept and are not sent again.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := rt.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			rc, err := a.Intake.Reprocess(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, rc)
		},
	}
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
