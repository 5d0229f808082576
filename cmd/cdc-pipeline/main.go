// Command cdc-pipeline is the CLI entry point: it loads configuration,
// builds the pipeline's collaborators, and runs the outer driver loop
// (internal/app) until terminated by a signal.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/KimMachineGun/automemlimit"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/giuliano-altobelli/cdc-pipeline/internal/app"
	"github.com/giuliano-altobelli/cdc-pipeline/internal/config"
	"github.com/giuliano-altobelli/cdc-pipeline/internal/kinesisclient"
	"github.com/giuliano-altobelli/cdc-pipeline/internal/logging"
	"github.com/giuliano-altobelli/cdc-pipeline/internal/pgconn"
)

func main() {
	os.Exit(run())
}

// run returns the process exit code: 0 on a clean shutdown (signal or
// otherwise cancelled), non-zero on fatal misconfiguration.
func run() int {
	configPath := flag.String("config", "", "path to a TOML configuration file")
	flag.Parse()

	log := logging.New(nil)

	// GOMAXPROCS defaults to the host's CPU count, which overshoots in a
	// cgroup-limited container; match it to the container's CPU quota.
	// GOMEMLIMIT is set as a side effect of importing automemlimit.
	if _, err := maxprocs.Set(maxprocs.Logger(func(format string, args ...interface{}) {
		log.Debug().Msgf(format, args...)
	})); err != nil {
		log.Warn().Err(err).Msg("failed to set GOMAXPROCS")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Error().Err(err).Msg("invalid configuration")
		return 1
	}

	kinesis, err := kinesisclient.New(cfg.AWSRegion)
	if err != nil {
		log.Error().Err(err).Msg("failed to build kinesis client")
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps := app.Deps{
		DialQuery: func(ctx context.Context) (app.QueryConn, error) {
			return pgconn.Connect(ctx, cfg.PostgresConninfo)
		},
		DialReplication: func(ctx context.Context) (app.ReplConn, error) {
			return pgconn.ConnectReplication(ctx, cfg.PostgresConninfo)
		},
		Kinesis: kinesis,
		Log:     logging.Component(log, "app"),
	}

	if err := app.Run(ctx, cfg, deps); err != nil {
		log.Error().Err(err).Msg("fatal error")
		return 1
	}
	return 0
}
