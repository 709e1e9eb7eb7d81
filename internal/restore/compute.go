package restore

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/rs/zerolog"

	"github.com/edvin/backup/internal/model"
	"github.com/edvin/backup/internal/platform"
	"github.com/edvin/backup/internal/retry"
)

const defaultInstanceType = ec2types.InstanceTypeT3Micro

// ComputeAPI is the slice of the EC2 API the compute restore path uses.
type ComputeAPI interface {
	RegisterImage(ctx context.Context, params *ec2.RegisterImageInput, optFns ...func(*ec2.Options)) (*ec2.RegisterImageOutput, error)
	DescribeImages(ctx context.Context, params *ec2.DescribeImagesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeImagesOutput, error)
	RunInstances(ctx context.Context, params *ec2.RunInstancesInput, optFns ...func(*ec2.Options)) (*ec2.RunInstancesOutput, error)
	DescribeInstances(ctx context.Context, params *ec2.DescribeInstancesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error)
}

// ComputeExecutor restores EC2 instances from EBS snapshots: register an AMI
// over the snapshot, then launch an instance from it once the image is
// available. Both steps are asynchronous on the provider side, so the
// executor hands back a handle and finishes the launch during status polls.
type ComputeExecutor struct {
	logger zerolog.Logger
	api    ComputeAPI
	policy retry.Policy
}

func NewComputeExecutor(logger zerolog.Logger, api ComputeAPI, policy retry.Policy) *ComputeExecutor {
	return &ComputeExecutor{
		logger: logger.With().Str("component", "compute-restore").Logger(),
		api:    api,
		policy: policy,
	}
}

func (e *ComputeExecutor) Kind() model.ResourceKind { return model.KindCompute }

// Restore registers an AMI backed by the record's snapshot and returns an
// in-progress outcome whose handle targets the new image.
func (e *ComputeExecutor) Restore(ctx context.Context, record *model.BackupRecord, targetHint string) model.RestoreOutcome {
	now := time.Now().UTC()

	out, err := retry.DoValue(ctx, e.policy, "register image", func(ctx context.Context) (*ec2.RegisterImageOutput, error) {
		return e.api.RegisterImage(ctx, &ec2.RegisterImageInput{
			Name:               aws.String(platform.NewName("restore-")),
			Description:        aws.String("restored from snapshot " + record.ID),
			Architecture:       ec2types.ArchitectureValuesX8664,
			RootDeviceName:     aws.String("/dev/sda1"),
			VirtualizationType: aws.String("hvm"),
			BlockDeviceMappings: []ec2types.BlockDeviceMapping{{
				DeviceName: aws.String("/dev/sda1"),
				Ebs: &ec2types.EbsBlockDevice{
					SnapshotId:          aws.String(record.ID),
					VolumeType:          ec2types.VolumeTypeGp3,
					DeleteOnTermination: aws.Bool(true),
				},
			}},
		})
	})
	if err != nil {
		e.logger.Error().Err(err).Str("snapshot", record.ID).Msg("image registration failed")
		return model.RestoreOutcome{State: model.RestoreFailed, Error: err.Error()}
	}

	imageID := aws.ToString(out.ImageId)
	e.logger.Info().Str("snapshot", record.ID).Str("image", imageID).Msg("registered restore image")

	return model.RestoreOutcome{
		State: model.RestoreInProgress,
		Handle: &model.RestoreHandle{
			Kind:           model.KindCompute,
			TargetID:       imageID,
			BackupRecordID: record.ID,
			StartedAt:      now,
			TargetHint:     targetHint,
		},
	}
}

// CheckStatus advances the restore: while the image is pending it reports
// in_progress; once available it launches the instance, unless an earlier
// poll already did. Repeated polls therefore launch at most one instance.
func (e *ComputeExecutor) CheckStatus(ctx context.Context, handle model.RestoreHandle) model.RestoreOutcome {
	images, err := retry.DoValue(ctx, e.policy, "describe image", func(ctx context.Context) (*ec2.DescribeImagesOutput, error) {
		return e.api.DescribeImages(ctx, &ec2.DescribeImagesInput{ImageIds: []string{handle.TargetID}})
	})
	if err != nil {
		if retry.IsNotFound(err) {
			return model.RestoreOutcome{State: model.RestoreFailed, Error: fmt.Sprintf("restore image %s no longer exists", handle.TargetID)}
		}
		return model.RestoreOutcome{State: model.RestoreFailed, Error: err.Error()}
	}
	if len(images.Images) == 0 {
		return model.RestoreOutcome{State: model.RestoreFailed, Error: fmt.Sprintf("restore image %s no longer exists", handle.TargetID)}
	}

	switch images.Images[0].State {
	case ec2types.ImageStateAvailable:
		return e.ensureInstance(ctx, handle)
	case ec2types.ImageStateFailed, ec2types.ImageStateError, ec2types.ImageStateInvalid:
		return model.RestoreOutcome{
			State: model.RestoreFailed,
			Error: fmt.Sprintf("restore image %s entered state %s", handle.TargetID, images.Images[0].State),
		}
	default:
		return model.RestoreOutcome{State: model.RestoreInProgress, Handle: &handle}
	}
}

// ensureInstance launches the restored instance exactly once. The restored-from
// tag ties the instance to the backup record and makes the check idempotent.
func (e *ComputeExecutor) ensureInstance(ctx context.Context, handle model.RestoreHandle) model.RestoreOutcome {
	existing, err := retry.DoValue(ctx, e.policy, "describe restored instances", func(ctx context.Context) (*ec2.DescribeInstancesOutput, error) {
		return e.api.DescribeInstances(ctx, &ec2.DescribeInstancesInput{
			Filters: []ec2types.Filter{
				{Name: aws.String("tag:" + model.TagRestoredBy), Values: []string{handle.BackupRecordID}},
				{Name: aws.String("instance-state-name"), Values: []string{"pending", "running"}},
			},
		})
	})
	if err != nil {
		return model.RestoreOutcome{State: model.RestoreFailed, Error: err.Error()}
	}

	for _, reservation := range existing.Reservations {
		for _, instance := range reservation.Instances {
			targetRef := &model.ResourceRef{Kind: model.KindCompute, ID: aws.ToString(instance.InstanceId)}
			if instance.State != nil && instance.State.Name == ec2types.InstanceStateNameRunning {
				return model.RestoreOutcome{State: model.RestoreCompleted, TargetRef: targetRef}
			}
			return model.RestoreOutcome{State: model.RestoreInProgress, TargetRef: targetRef, Handle: &handle}
		}
	}

	instanceType := defaultInstanceType
	if handle.TargetHint != "" {
		instanceType = ec2types.InstanceType(handle.TargetHint)
	}

	launched, err := retry.DoValue(ctx, e.policy, "launch restored instance", func(ctx context.Context) (*ec2.RunInstancesOutput, error) {
		return e.api.RunInstances(ctx, &ec2.RunInstancesInput{
			ImageId:      aws.String(handle.TargetID),
			InstanceType: instanceType,
			MinCount:     aws.Int32(1),
			MaxCount:     aws.Int32(1),
			TagSpecifications: []ec2types.TagSpecification{{
				ResourceType: ec2types.ResourceTypeInstance,
				Tags: []ec2types.Tag{
					{Key: aws.String(model.TagRestoredBy), Value: aws.String(handle.BackupRecordID)},
					{Key: aws.String(model.TagRestoreDate), Value: aws.String(time.Now().UTC().Format(time.RFC3339))},
				},
			}},
		})
	})
	if err != nil {
		e.logger.Error().Err(err).Str("image", handle.TargetID).Msg("instance launch failed")
		return model.RestoreOutcome{State: model.RestoreFailed, Error: err.Error()}
	}

	instanceID := ""
	if len(launched.Instances) > 0 {
		instanceID = aws.ToString(launched.Instances[0].InstanceId)
	}
	e.logger.Info().Str("image", handle.TargetID).Str("instance", instanceID).Msg("launched restored instance")

	return model.RestoreOutcome{
		State:     model.RestoreInProgress,
		TargetRef: &model.ResourceRef{Kind: model.KindCompute, ID: instanceID},
		Handle:    &handle,
	}
}
