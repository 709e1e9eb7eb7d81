package restore

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/rds"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/mock"

	"github.com/edvin/backup/internal/backup"
	"github.com/edvin/backup/internal/model"
)

// ---------- Mock Adapter ----------

// mockAdapter implements the backup.Adapter interface for testing.
type mockAdapter struct {
	mock.Mock
	kind model.ResourceKind
}

func (m *mockAdapter) Kind() model.ResourceKind { return m.kind }

func (m *mockAdapter) Execute(ctx context.Context, ref model.ResourceRef) model.BackupRecord {
	args := m.Called(ctx, ref)
	return args.Get(0).(model.BackupRecord)
}

func (m *mockAdapter) Describe(ctx context.Context, record *model.BackupRecord) (backup.ArtifactStatus, error) {
	args := m.Called(ctx, record)
	return args.Get(0).(backup.ArtifactStatus), args.Error(1)
}

func (m *mockAdapter) Delete(ctx context.Context, record *model.BackupRecord) error {
	args := m.Called(ctx, record)
	return args.Error(0)
}

func (m *mockAdapter) ListRecords(ctx context.Context) ([]model.BackupRecord, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.BackupRecord), args.Error(1)
}

// ---------- Mock Executor ----------

// mockExecutor implements the Executor interface for testing.
type mockExecutor struct {
	mock.Mock
	kind model.ResourceKind
}

func (m *mockExecutor) Kind() model.ResourceKind { return m.kind }

func (m *mockExecutor) Restore(ctx context.Context, record *model.BackupRecord, targetHint string) model.RestoreOutcome {
	args := m.Called(ctx, record, targetHint)
	return args.Get(0).(model.RestoreOutcome)
}

func (m *mockExecutor) CheckStatus(ctx context.Context, handle model.RestoreHandle) model.RestoreOutcome {
	args := m.Called(ctx, handle)
	return args.Get(0).(model.RestoreOutcome)
}

// ---------- Mock Notifier ----------

// mockNotifier implements the Notifier interface for testing.
type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) PublishRestoreOutcome(ctx context.Context, backupID string, outcome model.RestoreOutcome) {
	m.Called(ctx, backupID, outcome)
}

// ---------- Mock ComputeAPI ----------

// mockComputeAPI implements the ComputeAPI interface for testing.
type mockComputeAPI struct {
	mock.Mock
}

func (m *mockComputeAPI) RegisterImage(ctx context.Context, params *ec2.RegisterImageInput, optFns ...func(*ec2.Options)) (*ec2.RegisterImageOutput, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ec2.RegisterImageOutput), args.Error(1)
}

func (m *mockComputeAPI) DescribeImages(ctx context.Context, params *ec2.DescribeImagesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeImagesOutput, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ec2.DescribeImagesOutput), args.Error(1)
}

func (m *mockComputeAPI) RunInstances(ctx context.Context, params *ec2.RunInstancesInput, optFns ...func(*ec2.Options)) (*ec2.RunInstancesOutput, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ec2.RunInstancesOutput), args.Error(1)
}

func (m *mockComputeAPI) DescribeInstances(ctx context.Context, params *ec2.DescribeInstancesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ec2.DescribeInstancesOutput), args.Error(1)
}

// ---------- Mock DatabaseAPI ----------

// mockDatabaseAPI implements the DatabaseAPI interface for testing.
type mockDatabaseAPI struct {
	mock.Mock
}

func (m *mockDatabaseAPI) RestoreDBInstanceFromDBSnapshot(ctx context.Context, params *rds.RestoreDBInstanceFromDBSnapshotInput, optFns ...func(*rds.Options)) (*rds.RestoreDBInstanceFromDBSnapshotOutput, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*rds.RestoreDBInstanceFromDBSnapshotOutput), args.Error(1)
}

func (m *mockDatabaseAPI) DescribeDBInstances(ctx context.Context, params *rds.DescribeDBInstancesInput, optFns ...func(*rds.Options)) (*rds.DescribeDBInstancesOutput, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*rds.DescribeDBInstancesOutput), args.Error(1)
}

// ---------- Mock ObjectStoreAPI ----------

// mockObjectStoreAPI implements the ObjectStoreAPI interface for testing.
type mockObjectStoreAPI struct {
	mock.Mock
}

func (m *mockObjectStoreAPI) ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*s3.ListObjectsV2Output), args.Error(1)
}

func (m *mockObjectStoreAPI) CopyObject(ctx context.Context, params *s3.CopyObjectInput, optFns ...func(*s3.Options)) (*s3.CopyObjectOutput, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*s3.CopyObjectOutput), args.Error(1)
}
