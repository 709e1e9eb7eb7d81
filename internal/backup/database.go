package backup

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/rds"
	rdstypes "github.com/aws/aws-sdk-go-v2/service/rds/types"
	"github.com/rs/zerolog"

	"github.com/edvin/backup/internal/model"
	"github.com/edvin/backup/internal/retry"
)

// DatabaseAPI is the subset of the RDS client the database kind uses.
type DatabaseAPI interface {
	DescribeDBInstances(ctx context.Context, params *rds.DescribeDBInstancesInput, optFns ...func(*rds.Options)) (*rds.DescribeDBInstancesOutput, error)
	CreateDBSnapshot(ctx context.Context, params *rds.CreateDBSnapshotInput, optFns ...func(*rds.Options)) (*rds.CreateDBSnapshotOutput, error)
	DescribeDBSnapshots(ctx context.Context, params *rds.DescribeDBSnapshotsInput, optFns ...func(*rds.Options)) (*rds.DescribeDBSnapshotsOutput, error)
	DeleteDBSnapshot(ctx context.Context, params *rds.DeleteDBSnapshotInput, optFns ...func(*rds.Options)) (*rds.DeleteDBSnapshotOutput, error)
}

// DatabaseEnumerator lists RDS instances matching a tag filter.
type DatabaseEnumerator struct {
	api    DatabaseAPI
	policy retry.Policy
}

func NewDatabaseEnumerator(api DatabaseAPI, policy retry.Policy) *DatabaseEnumerator {
	return &DatabaseEnumerator{api: api, policy: policy}
}

func (e *DatabaseEnumerator) Kind() model.ResourceKind { return model.KindDatabase }

func (e *DatabaseEnumerator) List(ctx context.Context, filter Filter) ([]model.ResourceRef, error) {
	return retry.DoValue(ctx, e.policy, "describe db instances", func(ctx context.Context) ([]model.ResourceRef, error) {
		var refs []model.ResourceRef
		paginator := rds.NewDescribeDBInstancesPaginator(e.api, &rds.DescribeDBInstancesInput{})
		for paginator.HasMorePages() {
			page, err := paginator.NextPage(ctx)
			if err != nil {
				return nil, err
			}
			for _, db := range page.DBInstances {
				tags := rdsTagMap(db.TagList)
				if !filter.Matches(tags) {
					continue
				}
				refs = append(refs, model.ResourceRef{
					Kind: model.KindDatabase,
					ID:   aws.ToString(db.DBInstanceIdentifier),
					Tags: tags,
				})
			}
		}
		return refs, nil
	})
}

// DatabaseAdapter backs up RDS instances as manual DB snapshots. Snapshot
// creation is asynchronous: records start in_progress and complete on a
// later catalog listing or status poll.
type DatabaseAdapter struct {
	logger zerolog.Logger
	api    DatabaseAPI
	policy retry.Policy
}

func NewDatabaseAdapter(logger zerolog.Logger, api DatabaseAPI, policy retry.Policy) *DatabaseAdapter {
	return &DatabaseAdapter{
		logger: logger.With().Str("component", "database-adapter").Logger(),
		api:    api,
		policy: policy,
	}
}

func (a *DatabaseAdapter) Kind() model.ResourceKind { return model.KindDatabase }

func (a *DatabaseAdapter) Execute(ctx context.Context, ref model.ResourceRef) model.BackupRecord {
	now := time.Now().UTC()
	snapshotID := fmt.Sprintf("%s-backup-%s", ref.ID, now.Format("20060102150405"))
	tags := backupTags(ref.ID, now)

	out, err := retry.DoValue(ctx, a.policy, "create db snapshot", func(ctx context.Context) (*rds.CreateDBSnapshotOutput, error) {
		return a.api.CreateDBSnapshot(ctx, &rds.CreateDBSnapshotInput{
			DBSnapshotIdentifier: aws.String(snapshotID),
			DBInstanceIdentifier: aws.String(ref.ID),
			Tags:                 rdsTags(tags),
		})
	})
	if err != nil {
		a.logger.Error().Err(err).Str("db", ref.ID).Msg("db snapshot creation failed")
		return failedRecord(ref, now, err)
	}

	record := model.BackupRecord{
		ID:          snapshotID,
		ResourceRef: ref,
		CreatedAt:   now,
		State:       model.BackupInProgress,
		Tags:        tags,
	}
	if out.DBSnapshot != nil && aws.ToString(out.DBSnapshot.Status) == "available" {
		record.State = model.BackupCompleted
		record.SizeBytes = allocatedStorageBytes(out.DBSnapshot.AllocatedStorage)
	}

	a.logger.Info().Str("db", ref.ID).Str("snapshot", snapshotID).Msg("created db snapshot")
	return record
}

func (a *DatabaseAdapter) Describe(ctx context.Context, record *model.BackupRecord) (ArtifactStatus, error) {
	out, err := retry.DoValue(ctx, a.policy, "describe db snapshot", func(ctx context.Context) (*rds.DescribeDBSnapshotsOutput, error) {
		return a.api.DescribeDBSnapshots(ctx, &rds.DescribeDBSnapshotsInput{
			DBSnapshotIdentifier: aws.String(record.ID),
		})
	})
	if err != nil {
		if retry.IsNotFound(err) {
			return ArtifactStatus{Exists: false}, nil
		}
		return ArtifactStatus{}, fmt.Errorf("describe db snapshot %s: %w", record.ID, err)
	}
	if len(out.DBSnapshots) == 0 {
		return ArtifactStatus{Exists: false}, nil
	}

	snap := out.DBSnapshots[0]
	status := aws.ToString(snap.Status)
	return ArtifactStatus{
		Exists:    true,
		State:     status,
		Completed: status == "available",
		SizeBytes: allocatedStorageBytes(snap.AllocatedStorage),
	}, nil
}

func (a *DatabaseAdapter) Delete(ctx context.Context, record *model.BackupRecord) error {
	err := a.policy.Do(ctx, "delete db snapshot", func(ctx context.Context) error {
		_, err := a.api.DeleteDBSnapshot(ctx, &rds.DeleteDBSnapshotInput{
			DBSnapshotIdentifier: aws.String(record.ID),
		})
		return err
	})
	if err != nil {
		if retry.IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("delete db snapshot %s: %w", record.ID, err)
	}
	return nil
}

func (a *DatabaseAdapter) ListRecords(ctx context.Context) ([]model.BackupRecord, error) {
	input := &rds.DescribeDBSnapshotsInput{
		SnapshotType: aws.String("manual"),
	}

	return retry.DoValue(ctx, a.policy, "list db snapshots", func(ctx context.Context) ([]model.BackupRecord, error) {
		var records []model.BackupRecord
		paginator := rds.NewDescribeDBSnapshotsPaginator(a.api, input)
		for paginator.HasMorePages() {
			page, err := paginator.NextPage(ctx)
			if err != nil {
				return nil, err
			}
			for _, snap := range page.DBSnapshots {
				tags := rdsTagMap(snap.TagList)
				if tags[model.TagManagedBy] != model.ManagedByValue {
					continue
				}
				records = append(records, dbSnapshotRecord(snap, tags))
			}
		}
		return records, nil
	})
}

func dbSnapshotRecord(snap rdstypes.DBSnapshot, tags map[string]string) model.BackupRecord {
	record := model.BackupRecord{
		ID: aws.ToString(snap.DBSnapshotIdentifier),
		ResourceRef: model.ResourceRef{
			Kind: model.KindDatabase,
			ID:   aws.ToString(snap.DBInstanceIdentifier),
		},
		CreatedAt: aws.ToTime(snap.SnapshotCreateTime),
		Tags:      tags,
	}

	switch aws.ToString(snap.Status) {
	case "available":
		record.State = model.BackupCompleted
		record.SizeBytes = allocatedStorageBytes(snap.AllocatedStorage)
	case "failed", "error":
		record.State = model.BackupFailed
	default:
		record.State = model.BackupInProgress
	}
	return record
}

func allocatedStorageBytes(allocatedGiB *int32) *int64 {
	if allocatedGiB == nil || *allocatedGiB == 0 {
		return nil
	}
	size := int64(*allocatedGiB) * gib
	return &size
}

func rdsTags(tags map[string]string) []rdstypes.Tag {
	out := make([]rdstypes.Tag, 0, len(tags))
	for k, v := range tags {
		out = append(out, rdstypes.Tag{Key: aws.String(k), Value: aws.String(v)})
	}
	return out
}

func rdsTagMap(tags []rdstypes.Tag) map[string]string {
	out := make(map[string]string, len(tags))
	for _, t := range tags {
		out[aws.ToString(t.Key)] = aws.ToString(t.Value)
	}
	return out
}
