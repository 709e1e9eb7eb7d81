package restore

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/rds"
	rdstypes "github.com/aws/aws-sdk-go-v2/service/rds/types"
	"github.com/rs/zerolog"

	"github.com/edvin/backup/internal/model"
	"github.com/edvin/backup/internal/platform"
	"github.com/edvin/backup/internal/retry"
)

// DatabaseAPI is the slice of the RDS API the database restore path uses.
type DatabaseAPI interface {
	RestoreDBInstanceFromDBSnapshot(ctx context.Context, params *rds.RestoreDBInstanceFromDBSnapshotInput, optFns ...func(*rds.Options)) (*rds.RestoreDBInstanceFromDBSnapshotOutput, error)
	DescribeDBInstances(ctx context.Context, params *rds.DescribeDBInstancesInput, optFns ...func(*rds.Options)) (*rds.DescribeDBInstancesOutput, error)
}

// DatabaseExecutor restores RDS instances from manual snapshots. Provisioning
// takes minutes, so Restore only issues the request and status polls report
// progress until the instance is available.
type DatabaseExecutor struct {
	logger zerolog.Logger
	api    DatabaseAPI
	policy retry.Policy
}

func NewDatabaseExecutor(logger zerolog.Logger, api DatabaseAPI, policy retry.Policy) *DatabaseExecutor {
	return &DatabaseExecutor{
		logger: logger.With().Str("component", "database-restore").Logger(),
		api:    api,
		policy: policy,
	}
}

func (e *DatabaseExecutor) Kind() model.ResourceKind { return model.KindDatabase }

func (e *DatabaseExecutor) Restore(ctx context.Context, record *model.BackupRecord, targetHint string) model.RestoreOutcome {
	now := time.Now().UTC()
	target := targetHint
	if target == "" {
		target = platform.NewName("restored-db-")
	}

	err := e.policy.Do(ctx, "restore db instance", func(ctx context.Context) error {
		_, err := e.api.RestoreDBInstanceFromDBSnapshot(ctx, &rds.RestoreDBInstanceFromDBSnapshotInput{
			DBInstanceIdentifier: aws.String(target),
			DBSnapshotIdentifier: aws.String(record.ID),
			Tags: []rdstypes.Tag{
				{Key: aws.String(model.TagRestoredBy), Value: aws.String(record.ID)},
				{Key: aws.String(model.TagRestoreDate), Value: aws.String(now.Format(time.RFC3339))},
			},
		})
		return err
	})
	if err != nil {
		e.logger.Error().Err(err).Str("snapshot", record.ID).Str("target", target).Msg("restore request failed")
		return model.RestoreOutcome{State: model.RestoreFailed, Error: err.Error()}
	}

	e.logger.Info().Str("snapshot", record.ID).Str("target", target).Msg("db restore started")
	return model.RestoreOutcome{
		State: model.RestoreInProgress,
		Handle: &model.RestoreHandle{
			Kind:           model.KindDatabase,
			TargetID:       target,
			BackupRecordID: record.ID,
			StartedAt:      now,
		},
	}
}

func (e *DatabaseExecutor) CheckStatus(ctx context.Context, handle model.RestoreHandle) model.RestoreOutcome {
	out, err := retry.DoValue(ctx, e.policy, "describe restored db instance", func(ctx context.Context) (*rds.DescribeDBInstancesOutput, error) {
		return e.api.DescribeDBInstances(ctx, &rds.DescribeDBInstancesInput{
			DBInstanceIdentifier: aws.String(handle.TargetID),
		})
	})
	if err != nil {
		if retry.IsNotFound(err) {
			return model.RestoreOutcome{State: model.RestoreFailed, Error: fmt.Sprintf("restored instance %s no longer exists", handle.TargetID)}
		}
		return model.RestoreOutcome{State: model.RestoreFailed, Error: err.Error()}
	}
	if len(out.DBInstances) == 0 {
		return model.RestoreOutcome{State: model.RestoreFailed, Error: fmt.Sprintf("restored instance %s no longer exists", handle.TargetID)}
	}

	status := aws.ToString(out.DBInstances[0].DBInstanceStatus)
	switch status {
	case "available":
		return model.RestoreOutcome{
			State:     model.RestoreCompleted,
			TargetRef: &model.ResourceRef{Kind: model.KindDatabase, ID: handle.TargetID},
		}
	case "failed", "incompatible-restore", "incompatible-parameters":
		return model.RestoreOutcome{
			State: model.RestoreFailed,
			Error: fmt.Sprintf("restored instance %s entered status %s", handle.TargetID, status),
		}
	default:
		return model.RestoreOutcome{State: model.RestoreInProgress, Handle: &handle}
	}
}
