package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/rds"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/edvin/backup/internal/backup"
	"github.com/edvin/backup/internal/catalog"
	"github.com/edvin/backup/internal/config"
	"github.com/edvin/backup/internal/db"
	"github.com/edvin/backup/internal/logging"
	"github.com/edvin/backup/internal/metrics"
	"github.com/edvin/backup/internal/model"
	"github.com/edvin/backup/internal/notify"
	"github.com/edvin/backup/internal/restore"
	"github.com/edvin/backup/internal/retry"
)

func main() {
	var (
		mode          = flag.String("mode", "run", "operation: run, sweep, list, validate, restore, status, history")
		kinds         = flag.String("kinds", "", "comma-separated resource kinds to operate on (default: all)")
		filterSpec    = flag.String("filter", "", "conjunctive tag filter as key=value,key=value")
		backupID      = flag.String("backup-id", "", "backup record id (validate, restore)")
		target        = flag.String("target", "", "restore target hint (restore)")
		handleJSON    = flag.String("handle", "", "restore handle JSON (status)")
		maxAge        = flag.Duration("max-age", 0, "only list backups newer than this (list)")
		runID         = flag.String("run-id", "", "run id to inspect (history)")
		limit         = flag.Int("limit", 20, "page size for run history (history)")
		cursor        = flag.String("cursor", "", "run id to page from (history)")
		migrate       = flag.Bool("migrate", false, "run catalog migrations before starting")
		migrationsDir = flag.String("migrations-dir", "migrations", "path to goose migrations")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.NewLogger(cfg)

	if err := cfg.Validate(*mode); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	if *migrate {
		if cfg.DatabaseURL == "" {
			logger.Fatal().Msg("-migrate requires DATABASE_URL")
		}
		if err := db.RunMigrations(cfg.DatabaseURL, *migrationsDir); err != nil {
			logger.Fatal().Err(err).Msg("catalog migrations failed")
		}
		logger.Info().Msg("catalog migrations applied")
	}

	ctx := context.Background()
	instruments := metrics.NewInstruments(prometheus.DefaultRegisterer)

	if cfg.MetricsListenAddr != "" {
		srv := metrics.NewServer(cfg.MetricsListenAddr)
		go func() {
			logger.Info().Str("addr", cfg.MetricsListenAddr).Msg("metrics server listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error().Err(err).Msg("metrics server failed")
			}
		}()
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load aws configuration")
	}

	policy := retry.Policy{
		MaxAttempts:    cfg.RetryMaxAttempts,
		BaseDelay:      cfg.RetryBaseDelay,
		Jitter:         cfg.RetryJitter,
		AttemptTimeout: cfg.CallTimeout,
	}
	retention := retentionPolicy(cfg)

	ec2Client := ec2.NewFromConfig(awsCfg)
	rdsClient := rds.NewFromConfig(awsCfg)
	s3Client := s3.NewFromConfig(awsCfg)
	snsClient := sns.NewFromConfig(awsCfg)

	enumerators := []backup.Enumerator{
		backup.NewComputeEnumerator(ec2Client, policy),
		backup.NewDatabaseEnumerator(rdsClient, policy),
		backup.NewObjectStoreEnumerator(s3Client, policy, cfg.BackupBucket),
	}
	objectStore := backup.NewObjectStoreAdapter(logger, s3Client, policy, cfg.BackupBucket, cfg.AWSRegion)
	adapters := []backup.Adapter{
		backup.NewComputeAdapter(logger, ec2Client, policy),
		backup.NewDatabaseAdapter(logger, rdsClient, policy),
		objectStore,
	}

	var store backup.RunStore
	var runCatalog *catalog.Store
	if cfg.DatabaseURL != "" {
		pool, err := db.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to catalog database")
		}
		defer pool.Close()
		runCatalog = catalog.NewStore(pool)
		store = runCatalog
	}

	notifier := notify.NewPublisher(logger, snsClient, cfg.SNSTopicARN)
	sweeper := backup.NewSweeper(logger, adapters, instruments)
	manager := backup.NewManager(logger, enumerators, adapters, sweeper, store, notifier, instruments, cfg.WorkerBudget, retention)

	executors := []restore.Executor{
		restore.NewComputeExecutor(logger, ec2Client, policy),
		restore.NewDatabaseExecutor(logger, rdsClient, policy),
		restore.NewObjectStoreExecutor(logger, s3Client, policy, cfg.BackupBucket),
	}
	restorer := restore.NewManager(logger, adapters, executors, notifier, instruments)

	switch *mode {
	case "run":
		if err := objectStore.EnsureBackupBucket(ctx); err != nil {
			logger.Fatal().Err(err).Msg("failed to prepare backup bucket")
		}
		runKinds, err := parseKinds(*kinds)
		if err != nil {
			logger.Fatal().Err(err).Msg("invalid -kinds")
		}
		run, err := manager.Run(ctx, backup.RunOptions{Kinds: runKinds, Filter: parseFilter(*filterSpec)})
		if err != nil {
			logger.Error().Err(err).Msg("backup run failed")
		}
		printJSON(logger, run)
		if err != nil {
			os.Exit(1)
		}

	case "sweep":
		deleted, err := sweeper.Sweep(ctx, retention)
		if err != nil {
			logger.Error().Err(err).Msg("retention sweep incomplete")
		}
		printJSON(logger, map[string]any{"deleted": deleted})

	case "list":
		kind, err := singleKind(*kinds)
		if err != nil {
			logger.Fatal().Err(err).Msg("invalid -kinds")
		}
		records, err := restorer.ListAvailable(ctx, kind, parseFilter(*filterSpec), *maxAge)
		if err != nil {
			logger.Fatal().Err(err).Msg("listing backups failed")
		}
		printJSON(logger, records)

	case "validate":
		if *backupID == "" {
			logger.Fatal().Msg("-backup-id is required for validate")
		}
		result, err := restorer.ValidateBackup(ctx, *backupID)
		if err != nil {
			logger.Fatal().Err(err).Msg("validation failed")
		}
		printJSON(logger, result)
		if !result.Valid {
			os.Exit(1)
		}

	case "restore":
		if *backupID == "" {
			logger.Fatal().Msg("-backup-id is required for restore")
		}
		outcome, err := restorer.Restore(ctx, model.RestoreRequest{BackupRecordID: *backupID, TargetHint: *target})
		if err != nil {
			logger.Error().Err(err).Msg("restore failed")
		}
		printJSON(logger, outcome)
		if err != nil {
			os.Exit(1)
		}

	case "status":
		if *handleJSON == "" {
			logger.Fatal().Msg("-handle is required for status")
		}
		var handle model.RestoreHandle
		if err := json.Unmarshal([]byte(*handleJSON), &handle); err != nil {
			logger.Fatal().Err(err).Msg("invalid -handle")
		}
		outcome, err := restorer.CheckStatus(ctx, handle)
		if err != nil {
			logger.Fatal().Err(err).Msg("status check failed")
		}
		printJSON(logger, outcome)

	case "history":
		if *runID != "" {
			run, err := runCatalog.GetRun(ctx, *runID)
			if err != nil {
				logger.Fatal().Err(err).Msg("loading run failed")
			}
			printJSON(logger, run)
			return
		}
		runs, hasMore, err := runCatalog.ListRuns(ctx, *limit, *cursor)
		if err != nil {
			logger.Fatal().Err(err).Msg("listing runs failed")
		}
		printJSON(logger, map[string]any{"runs": runs, "has_more": hasMore})
	}
}

func retentionPolicy(cfg *config.Config) model.RetentionPolicy {
	overrides := map[model.ResourceKind]int{}
	if cfg.ComputeRetentionDays > 0 {
		overrides[model.KindCompute] = cfg.ComputeRetentionDays
	}
	if cfg.DatabaseRetentionDays > 0 {
		overrides[model.KindDatabase] = cfg.DatabaseRetentionDays
	}
	if cfg.ObjectStoreRetentionDays > 0 {
		overrides[model.KindObjectStore] = cfg.ObjectStoreRetentionDays
	}
	return model.RetentionPolicy{RetentionDays: cfg.RetentionDays, PerKindOverride: overrides}
}

func parseKinds(spec string) ([]model.ResourceKind, error) {
	if spec == "" {
		return nil, nil
	}
	var out []model.ResourceKind
	for _, part := range strings.Split(spec, ",") {
		kind := model.ResourceKind(strings.TrimSpace(part))
		if !kind.Valid() {
			return nil, fmt.Errorf("unknown resource kind %q", part)
		}
		out = append(out, kind)
	}
	return out, nil
}

func singleKind(spec string) (model.ResourceKind, error) {
	kinds, err := parseKinds(spec)
	if err != nil {
		return "", err
	}
	if len(kinds) != 1 {
		return "", fmt.Errorf("exactly one kind is required, got %d", len(kinds))
	}
	return kinds[0], nil
}

func parseFilter(spec string) backup.Filter {
	filter := backup.Filter{}
	for _, pair := range strings.Split(spec, ",") {
		if pair == "" {
			continue
		}
		key, value, found := strings.Cut(pair, "=")
		if !found {
			continue
		}
		filter[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	return filter
}

func printJSON(logger zerolog.Logger, v any) {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(v); err != nil {
		logger.Error().Err(err).Msg("failed to encode output")
	}
}
