// Package app implements the outer driver loop from spec.md §4.8's
// "Outer driver" note: wait_for_leadership → ensure_slot →
// resolve_slot_start_lsn → run_leader_pipeline, looping on any
// non-cancellation error and exiting cleanly on cancellation. It is
// kept separate from cmd/cdc-pipeline so the loop itself is testable
// against fakes, the same split the teacher's library packages use
// between logic and the thin main.go wrappers in other_examples.
package app

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/giuliano-altobelli/cdc-pipeline/internal/cdcerr"
	"github.com/giuliano-altobelli/cdc-pipeline/internal/config"
	"github.com/giuliano-altobelli/cdc-pipeline/internal/kinesisclient"
	"github.com/giuliano-altobelli/cdc-pipeline/internal/leader"
	"github.com/giuliano-altobelli/cdc-pipeline/internal/partitionkey"
	"github.com/giuliano-altobelli/cdc-pipeline/internal/publisher"
	"github.com/giuliano-altobelli/cdc-pipeline/internal/replication"
	"github.com/giuliano-altobelli/cdc-pipeline/internal/slot"
	"github.com/giuliano-altobelli/cdc-pipeline/internal/supervisor"
)

// QueryConn is the narrow plain-connection surface the outer driver
// needs for leader election and slot management: the same method set
// as leader.Conn, so a QueryDialer's result can be handed to
// leader.WaitForLeadership as a leader.Conn.
type QueryConn interface {
	Exec(ctx context.Context, sql string) error
	QueryRow(ctx context.Context, sql string) ([]string, error)
	Close(ctx context.Context) error
}

// ReplConn is the replication-mode connection surface: frame transport
// plus START_REPLICATION plus Close.
type ReplConn interface {
	replication.Transport
	replication.Starter
	Close(ctx context.Context) error
}

// QueryDialer opens a fresh plain connection, e.g. internal/pgconn.Connect.
type QueryDialer func(ctx context.Context) (QueryConn, error)

// ReplicationDialer opens a fresh replication-mode connection, e.g.
// internal/pgconn.ConnectReplication.
type ReplicationDialer func(ctx context.Context) (ReplConn, error)

// Deps bundles the outer driver's external collaborators so tests can
// substitute fakes for every network-facing dependency.
type Deps struct {
	DialQuery       QueryDialer
	DialReplication ReplicationDialer
	Kinesis         kinesisclient.Client
	Log             zerolog.Logger
}

// Run executes the outer driver loop until ctx is cancelled. It
// returns nil on clean cancellation and a non-nil error only for
// conditions the loop cannot recover from by re-entering leader
// election (there are none today; Run always loops on a non-cancellation
// leader-cycle error, matching spec.md §7's propagation policy, but the
// signature stays error-returning so a future fatal-and-stop condition
// doesn't require a breaking change).
func Run(ctx context.Context, cfg *config.Config, deps Deps) error {
	policy := buildPolicy(cfg)

	dialForLock := func(ctx context.Context) (leader.Conn, error) {
		return deps.DialQuery(ctx)
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		session, err := leader.WaitForLeadership(ctx, dialForLock, cfg.LeaderLockKey, cfg.StandbyRetryInterval())
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		deps.Log.Info().Msg("leadership_acquired")

		err = runCycle(ctx, cfg, deps, session, policy)
		switch {
		case err == nil:
			// Clean (cancelled) end of a cycle with leadership still
			// held; fall through to re-check ctx.Err() at the loop top.
		case errors.Is(err, context.Canceled):
			return nil
		default:
			var lost *cdcerr.LeadershipLostError
			if errors.As(err, &lost) {
				deps.Log.Warn().Err(err).Msg("leadership_lost")
			} else {
				deps.Log.Error().Err(err).Msg("leader_cycle_failed")
			}
		}
	}
}

// runCycle runs one full ensure-slot/resolve-start-lsn/run-pipeline
// cycle under a single held leadership session.
func runCycle(ctx context.Context, cfg *config.Config, deps Deps, session *leader.Session, policy *partitionkey.Policy) error {
	qconn, err := deps.DialQuery(ctx)
	if err != nil {
		deps.closeSession(session)
		return err
	}

	created, err := slot.Ensure(ctx, qconn, cfg.ReplicationSlot, cfg.OutputPlugin)
	if err != nil {
		qconn.Close(ctx)
		deps.closeSession(session)
		return err
	}
	deps.Log.Info().Bool("created", created).Str("slot", cfg.ReplicationSlot).Msg("slot_ensured")

	startLSN, err := slot.ResolveStartLSN(ctx, qconn, cfg.ReplicationSlot)
	qconn.Close(ctx)
	if err != nil {
		deps.closeSession(session)
		return err
	}
	deps.Log.Info().Str("start_lsn", startLSN.String()).Msg("start_lsn_resolved")

	replConn, err := deps.DialReplication(ctx)
	if err != nil {
		deps.closeSession(session)
		return err
	}

	params := supervisor.Params{
		Session: session,

		Transport:        replConn,
		Starter:          replConn,
		SlotName:         cfg.ReplicationSlot,
		PluginOptionsSQL: cfg.Wal2JSONOptionsSQL,

		InitialFrontier:  startLSN,
		QueueMaxMessages: cfg.InflightMaxMessages,
		QueueMaxBytes:    cfg.InflightMaxBytes,

		ReplicationConfig: replication.Config{FeedbackInterval: cfg.FeedbackInterval()},
		PublisherConfig: publisher.Config{
			BatchMaxRecords:  cfg.KinesisBatchMaxRecords,
			BatchMaxBytes:    cfg.KinesisBatchMaxBytes,
			BatchMaxDelay:    cfg.KinesisBatchMaxDelay(),
			RetryBaseDelay:   cfg.KinesisRetryBaseDelay(),
			RetryMaxDelay:    cfg.KinesisRetryMaxDelay(),
			RetryMaxAttempts: cfg.KinesisRetryMaxAttempts,
		},
		WatchdogInterval: watchdogInterval(cfg),

		Policy:        policy,
		KinesisClient: deps.Kinesis,
		KinesisStream: cfg.KinesisStream,

		Log: deps.Log,
	}

	err = supervisor.RunLeaderPipeline(ctx, params)
	replConn.Close(context.Background())
	return err
}

// closeSession closes session, logging (not swallowing) any error,
// since a session generally only fails to close if the connection was
// already gone, which is itself worth a record.
func (d Deps) closeSession(session *leader.Session) {
	if err := session.Close(context.Background()); err != nil {
		d.Log.Warn().Err(err).Msg("error closing leader session")
	}
}

// watchdogInterval reuses standby_retry_interval_s for the leadership
// liveness check cadence: both are "how often do we poll the advisory
// lock's connection" in spirit, and spec.md §6 doesn't name a separate
// config key for the watchdog.
func watchdogInterval(cfg *config.Config) time.Duration {
	d := cfg.StandbyRetryInterval()
	if d <= 0 {
		d = 5 * time.Second
	}
	return d
}

func buildPolicy(cfg *config.Config) *partitionkey.Policy {
	return &partitionkey.Policy{
		Mode:              cfg.PartitionKeyMode,
		StaticValue:       cfg.PartitionKeyStaticValue,
		Fallback:          cfg.PartitionKeyFallback,
		RoundRobinBuckets: cfg.PartitionKeyRRBuckets,
	}
}
