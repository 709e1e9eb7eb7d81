package backup

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/rs/zerolog"

	"github.com/edvin/backup/internal/model"
	"github.com/edvin/backup/internal/retry"
)

// ComputeAPI is the subset of the EC2 client the compute kind uses.
type ComputeAPI interface {
	DescribeInstances(ctx context.Context, params *ec2.DescribeInstancesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error)
	CreateSnapshots(ctx context.Context, params *ec2.CreateSnapshotsInput, optFns ...func(*ec2.Options)) (*ec2.CreateSnapshotsOutput, error)
	DescribeSnapshots(ctx context.Context, params *ec2.DescribeSnapshotsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeSnapshotsOutput, error)
	DeleteSnapshot(ctx context.Context, params *ec2.DeleteSnapshotInput, optFns ...func(*ec2.Options)) (*ec2.DeleteSnapshotOutput, error)
}

// ComputeEnumerator lists running EC2 instances matching a tag filter.
type ComputeEnumerator struct {
	api    ComputeAPI
	policy retry.Policy
}

func NewComputeEnumerator(api ComputeAPI, policy retry.Policy) *ComputeEnumerator {
	return &ComputeEnumerator{api: api, policy: policy}
}

func (e *ComputeEnumerator) Kind() model.ResourceKind { return model.KindCompute }

func (e *ComputeEnumerator) List(ctx context.Context, filter Filter) ([]model.ResourceRef, error) {
	input := &ec2.DescribeInstancesInput{
		Filters: []ec2types.Filter{
			{Name: aws.String("instance-state-name"), Values: []string{"running"}},
		},
	}
	for k, v := range filter {
		input.Filters = append(input.Filters, ec2types.Filter{
			Name:   aws.String("tag:" + k),
			Values: []string{v},
		})
	}

	return retry.DoValue(ctx, e.policy, "describe instances", func(ctx context.Context) ([]model.ResourceRef, error) {
		var refs []model.ResourceRef
		paginator := ec2.NewDescribeInstancesPaginator(e.api, input)
		for paginator.HasMorePages() {
			page, err := paginator.NextPage(ctx)
			if err != nil {
				return nil, err
			}
			for _, reservation := range page.Reservations {
				for _, instance := range reservation.Instances {
					refs = append(refs, model.ResourceRef{
						Kind: model.KindCompute,
						ID:   aws.ToString(instance.InstanceId),
						Tags: ec2TagMap(instance.Tags),
					})
				}
			}
		}
		return refs, nil
	})
}

// ComputeAdapter backs up EC2 instances as EBS snapshots of all attached
// volumes.
type ComputeAdapter struct {
	logger zerolog.Logger
	api    ComputeAPI
	policy retry.Policy
}

func NewComputeAdapter(logger zerolog.Logger, api ComputeAPI, policy retry.Policy) *ComputeAdapter {
	return &ComputeAdapter{
		logger: logger.With().Str("component", "compute-adapter").Logger(),
		api:    api,
		policy: policy,
	}
}

func (a *ComputeAdapter) Kind() model.ResourceKind { return model.KindCompute }

func (a *ComputeAdapter) Execute(ctx context.Context, ref model.ResourceRef) model.BackupRecord {
	now := time.Now().UTC()
	tags := backupTags(ref.ID, now)

	out, err := retry.DoValue(ctx, a.policy, "create snapshots", func(ctx context.Context) (*ec2.CreateSnapshotsOutput, error) {
		return a.api.CreateSnapshots(ctx, &ec2.CreateSnapshotsInput{
			InstanceSpecification: &ec2types.InstanceSpecification{
				InstanceId:        aws.String(ref.ID),
				ExcludeBootVolume: aws.Bool(false),
			},
			Description: aws.String(fmt.Sprintf("automated backup of %s at %s", ref.ID, now.Format(time.RFC3339))),
			TagSpecifications: []ec2types.TagSpecification{{
				ResourceType: ec2types.ResourceTypeSnapshot,
				Tags:         ec2Tags(tags),
			}},
		})
	})
	if err != nil {
		a.logger.Error().Err(err).Str("instance", ref.ID).Msg("snapshot creation failed")
		return failedRecord(ref, now, err)
	}
	if len(out.Snapshots) == 0 {
		err := fmt.Errorf("no snapshots created for instance %s", ref.ID)
		a.logger.Error().Err(err).Str("instance", ref.ID).Msg("snapshot creation failed")
		return failedRecord(ref, now, err)
	}

	// The first snapshot is the record; additional volume snapshots carry
	// the same source tag and surface through ListRecords on their own.
	snap := out.Snapshots[0]
	record := model.BackupRecord{
		ID:          aws.ToString(snap.SnapshotId),
		ResourceRef: ref,
		CreatedAt:   now,
		State:       model.BackupInProgress,
		Tags:        tags,
	}
	if snap.State == ec2types.SnapshotStateCompleted {
		record.State = model.BackupCompleted
		record.SizeBytes = volumeSizeBytes(snap.VolumeSize)
	}

	a.logger.Info().
		Str("instance", ref.ID).
		Str("snapshot", record.ID).
		Int("volumes", len(out.Snapshots)).
		Msg("created instance snapshots")
	return record
}

func (a *ComputeAdapter) Describe(ctx context.Context, record *model.BackupRecord) (ArtifactStatus, error) {
	out, err := retry.DoValue(ctx, a.policy, "describe snapshot", func(ctx context.Context) (*ec2.DescribeSnapshotsOutput, error) {
		return a.api.DescribeSnapshots(ctx, &ec2.DescribeSnapshotsInput{
			SnapshotIds: []string{record.ID},
		})
	})
	if err != nil {
		if retry.IsNotFound(err) {
			return ArtifactStatus{Exists: false}, nil
		}
		return ArtifactStatus{}, fmt.Errorf("describe snapshot %s: %w", record.ID, err)
	}
	if len(out.Snapshots) == 0 {
		return ArtifactStatus{Exists: false}, nil
	}

	snap := out.Snapshots[0]
	return ArtifactStatus{
		Exists:    true,
		State:     string(snap.State),
		Completed: snap.State == ec2types.SnapshotStateCompleted,
		SizeBytes: volumeSizeBytes(snap.VolumeSize),
	}, nil
}

func (a *ComputeAdapter) Delete(ctx context.Context, record *model.BackupRecord) error {
	err := a.policy.Do(ctx, "delete snapshot", func(ctx context.Context) error {
		_, err := a.api.DeleteSnapshot(ctx, &ec2.DeleteSnapshotInput{
			SnapshotId: aws.String(record.ID),
		})
		return err
	})
	if err != nil {
		if retry.IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("delete snapshot %s: %w", record.ID, err)
	}
	return nil
}

func (a *ComputeAdapter) ListRecords(ctx context.Context) ([]model.BackupRecord, error) {
	input := &ec2.DescribeSnapshotsInput{
		OwnerIds: []string{"self"},
		Filters: []ec2types.Filter{
			{Name: aws.String("tag:" + model.TagManagedBy), Values: []string{model.ManagedByValue}},
		},
	}

	return retry.DoValue(ctx, a.policy, "list snapshots", func(ctx context.Context) ([]model.BackupRecord, error) {
		var records []model.BackupRecord
		paginator := ec2.NewDescribeSnapshotsPaginator(a.api, input)
		for paginator.HasMorePages() {
			page, err := paginator.NextPage(ctx)
			if err != nil {
				return nil, err
			}
			for _, snap := range page.Snapshots {
				records = append(records, snapshotRecord(snap))
			}
		}
		return records, nil
	})
}

func snapshotRecord(snap ec2types.Snapshot) model.BackupRecord {
	tags := ec2TagMap(snap.Tags)
	record := model.BackupRecord{
		ID: aws.ToString(snap.SnapshotId),
		ResourceRef: model.ResourceRef{
			Kind: model.KindCompute,
			ID:   tags[model.TagSourceID],
		},
		CreatedAt: aws.ToTime(snap.StartTime),
		Tags:      tags,
	}

	switch snap.State {
	case ec2types.SnapshotStateCompleted:
		record.State = model.BackupCompleted
		record.SizeBytes = volumeSizeBytes(snap.VolumeSize)
	case ec2types.SnapshotStateError:
		record.State = model.BackupFailed
	default:
		record.State = model.BackupInProgress
	}
	return record
}

func volumeSizeBytes(volumeSizeGiB *int32) *int64 {
	if volumeSizeGiB == nil {
		return nil
	}
	size := int64(*volumeSizeGiB) * gib
	return &size
}

func ec2Tags(tags map[string]string) []ec2types.Tag {
	out := make([]ec2types.Tag, 0, len(tags))
	for k, v := range tags {
		out = append(out, ec2types.Tag{Key: aws.String(k), Value: aws.String(v)})
	}
	return out
}

func ec2TagMap(tags []ec2types.Tag) map[string]string {
	out := make(map[string]string, len(tags))
	for _, t := range tags {
		out[aws.ToString(t.Key)] = aws.ToString(t.Value)
	}
	return out
}
