package buildtasks

import (
	"context"
	"errors"
	"fmt"
	"time"

	logging "github.com/ipfs/go-log/v2"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/multierr"
	"go.uber.org/zap/zapcore"

	"github.com/storacha/deal-ingester/cmd/cli/flags"
	"github.com/storacha/deal-ingester/pkg/config"
	appcfg "github.com/storacha/deal-ingester/pkg/config/app"
	"github.com/storacha/deal-ingester/pkg/fx/app"
	"github.com/storacha/deal-ingester/pkg/health"
	"github.com/storacha/deal-ingester/pkg/pipeline"
	"github.com/storacha/deal-ingester/pkg/stats"
)

var log = logging.Logger("cmd/build")

const shutdownTimeout = 5 * time.Second

var Cmd = &cobra.Command{
	Use:   "build",
	Short: "Build retrieval tasks from a deals file",
	Args:  cobra.NoArgs,
	RunE:  buildTasks,
}

func init() {
	cobra.CheckErr(flags.SetupBuildFlags(Cmd.Flags()))
}

func buildTasks(cmd *cobra.Command, _ []string) (err error) {
	ctx := cmd.Context()

	userCfg, err := config.Load[config.IngesterConfig]()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	appCfg, err := userCfg.ToAppConfig()
	if err != nil {
		return fmt.Errorf("parsing config: %w", err)
	}

	checker := health.NewChecker()
	var (
		p  *pipeline.Pipeline
		st *stats.Stats
	)
	fxApp := fx.New(
		// if a panic occurs during operation, recover from it and exit (somewhat) gracefully.
		fx.RecoverFromPanics(),
		// provide fx with our logger for its events logged at debug level.
		// any fx errors will still be logged at the error level.
		fx.WithLogger(func() fxevent.Logger {
			el := &fxevent.ZapLogger{Logger: log.Desugar()}
			el.UseLogLevel(zapcore.DebugLevel)
			return el
		}),
		app.IngesterModules(appCfg, checker),
		fx.Populate(&p, &st),
	)

	// ensure the application was initialized correctly
	if err := fxApp.Err(); err != nil {
		return fmt.Errorf("initializing deal-ingester: %w", err)
	}
	if err := fxApp.Start(ctx); err != nil {
		return fmt.Errorf("starting deal-ingester: %w", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if serr := fxApp.Stop(stopCtx); serr != nil {
			err = multierr.Append(err, fmt.Errorf("stopping deal-ingester: %w", serr))
		}
		_ = log.Sync()
	}()

	runErr := run(ctx, cmd, appCfg, p)
	markFinished(checker, runErr)

	switch {
	case errors.Is(runErr, pipeline.ErrAborted):
		log.Infow("run aborted", "cause", context.Cause(ctx))
		fmt.Fprintln(cmd.OutOrStdout(), "Aborted.")
		st.Snapshot().Report(cmd.OutOrStdout(), appCfg.Output)
		return nil
	case runErr != nil:
		return runErr
	}

	st.Snapshot().Report(cmd.OutOrStdout(), appCfg.Output)

	if appCfg.Server.Enabled {
		cmd.Printf("Serving %s on %s:%d until interrupted\n", appCfg.Output, appCfg.Server.Host, appCfg.Server.Port)
		<-ctx.Done()
		log.Info("received shutdown signal, beginning graceful shutdown")
	}
	return nil
}

// markFinished records on checker how the run ended.
func markFinished(checker *health.Checker, runErr error) {
	switch {
	case runErr == nil:
		checker.SetDone()
	case errors.Is(runErr, pipeline.ErrAborted):
		checker.SetAborted()
	default:
		checker.SetFailed()
	}
}

func run(ctx context.Context, cmd *cobra.Command, cfg appcfg.AppConfig, p *pipeline.Pipeline) (err error) {
	var opts []pipeline.InputOption
	if cfg.Progress {
		opts = append(opts, pipeline.WithProgress(cmd.ErrOrStderr()))
	}
	in, err := pipeline.OpenInput(cfg.Input, opts...)
	if err != nil {
		return err
	}
	defer multierr.AppendInvoke(&err, multierr.Close(in))

	out, err := pipeline.CreateOutput(cfg.Output)
	if err != nil {
		return err
	}
	defer multierr.AppendInvoke(&err, multierr.Close(out))

	log.Infow("building retrieval tasks", "input", cfg.Input, "output", cfg.Output, "indexer", cfg.Indexer.URL.String())
	return p.Run(ctx, in, out)
}
