package backup

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog"

	"github.com/edvin/backup/internal/model"
	"github.com/edvin/backup/internal/retry"
)

// ObjectStoreAPI is the subset of the S3 client the object-store kind uses.
type ObjectStoreAPI interface {
	ListBuckets(ctx context.Context, params *s3.ListBucketsInput, optFns ...func(*s3.Options)) (*s3.ListBucketsOutput, error)
	GetBucketTagging(ctx context.Context, params *s3.GetBucketTaggingInput, optFns ...func(*s3.Options)) (*s3.GetBucketTaggingOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	CopyObject(ctx context.Context, params *s3.CopyObjectInput, optFns ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObjects(ctx context.Context, params *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	CreateBucket(ctx context.Context, params *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
	PutBucketVersioning(ctx context.Context, params *s3.PutBucketVersioningInput, optFns ...func(*s3.Options)) (*s3.PutBucketVersioningOutput, error)
	PutBucketLifecycleConfiguration(ctx context.Context, params *s3.PutBucketLifecycleConfigurationInput, optFns ...func(*s3.Options)) (*s3.PutBucketLifecycleConfigurationOutput, error)
}

const (
	objectStorePrefix = "s3/"
	manifestName      = "manifest.json"
)

// objectManifest records one bucket backup under its dated prefix. It is the
// durable catalog entry for object-store backups.
type objectManifest struct {
	Prefix       string            `json:"prefix"`
	SourceBucket string            `json:"source_bucket"`
	CreatedAt    time.Time         `json:"created_at"`
	ObjectCount  int               `json:"object_count"`
	SizeBytes    int64             `json:"size_bytes"`
	Tags         map[string]string `json:"tags,omitempty"`
}

// ObjectStoreEnumerator lists S3 buckets matching a tag filter. The backup
// bucket itself is never a backup target.
type ObjectStoreEnumerator struct {
	api          ObjectStoreAPI
	policy       retry.Policy
	backupBucket string
}

func NewObjectStoreEnumerator(api ObjectStoreAPI, policy retry.Policy, backupBucket string) *ObjectStoreEnumerator {
	return &ObjectStoreEnumerator{api: api, policy: policy, backupBucket: backupBucket}
}

func (e *ObjectStoreEnumerator) Kind() model.ResourceKind { return model.KindObjectStore }

func (e *ObjectStoreEnumerator) List(ctx context.Context, filter Filter) ([]model.ResourceRef, error) {
	out, err := retry.DoValue(ctx, e.policy, "list buckets", func(ctx context.Context) (*s3.ListBucketsOutput, error) {
		return e.api.ListBuckets(ctx, &s3.ListBucketsInput{})
	})
	if err != nil {
		return nil, err
	}

	var refs []model.ResourceRef
	for _, bucket := range out.Buckets {
		name := aws.ToString(bucket.Name)
		if name == e.backupBucket {
			continue
		}

		tags, err := e.bucketTags(ctx, name)
		if err != nil {
			return nil, err
		}
		if !filter.Matches(tags) {
			continue
		}
		refs = append(refs, model.ResourceRef{
			Kind: model.KindObjectStore,
			ID:   name,
			Tags: tags,
		})
	}
	return refs, nil
}

func (e *ObjectStoreEnumerator) bucketTags(ctx context.Context, bucket string) (map[string]string, error) {
	out, err := retry.DoValue(ctx, e.policy, "get bucket tagging", func(ctx context.Context) (*s3.GetBucketTaggingOutput, error) {
		return e.api.GetBucketTagging(ctx, &s3.GetBucketTaggingInput{Bucket: aws.String(bucket)})
	})
	if err != nil {
		// Untagged buckets report NoSuchTagSet.
		if retry.IsNotFound(err) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("get tags for bucket %s: %w", bucket, err)
	}

	tags := make(map[string]string, len(out.TagSet))
	for _, t := range out.TagSet {
		tags[aws.ToString(t.Key)] = aws.ToString(t.Value)
	}
	return tags, nil
}

// ObjectStoreAdapter backs up S3 buckets by copying their objects into a
// dated prefix of the backup bucket, with a JSON manifest per backup.
type ObjectStoreAdapter struct {
	logger       zerolog.Logger
	api          ObjectStoreAPI
	policy       retry.Policy
	backupBucket string
	region       string
}

func NewObjectStoreAdapter(logger zerolog.Logger, api ObjectStoreAPI, policy retry.Policy, backupBucket, region string) *ObjectStoreAdapter {
	return &ObjectStoreAdapter{
		logger:       logger.With().Str("component", "objectstore-adapter").Logger(),
		api:          api,
		policy:       policy,
		backupBucket: backupBucket,
		region:       region,
	}
}

func (a *ObjectStoreAdapter) Kind() model.ResourceKind { return model.KindObjectStore }

// EnsureBackupBucket creates the backup bucket on first use, with versioning
// and archival storage-class transitions. Expiration is left to the
// retention sweeper so the catalog never diverges from the bucket.
func (a *ObjectStoreAdapter) EnsureBackupBucket(ctx context.Context) error {
	err := a.policy.Do(ctx, "head backup bucket", func(ctx context.Context) error {
		_, err := a.api.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(a.backupBucket)})
		return err
	})
	if err == nil {
		return nil
	}
	if !retry.IsNotFound(err) {
		return fmt.Errorf("head backup bucket %s: %w", a.backupBucket, err)
	}

	createInput := &s3.CreateBucketInput{Bucket: aws.String(a.backupBucket)}
	if a.region != "us-east-1" {
		createInput.CreateBucketConfiguration = &s3types.CreateBucketConfiguration{
			LocationConstraint: s3types.BucketLocationConstraint(a.region),
		}
	}
	err = a.policy.Do(ctx, "create backup bucket", func(ctx context.Context) error {
		_, err := a.api.CreateBucket(ctx, createInput)
		return err
	})
	if err != nil {
		return fmt.Errorf("create backup bucket %s: %w", a.backupBucket, err)
	}

	err = a.policy.Do(ctx, "enable backup bucket versioning", func(ctx context.Context) error {
		_, err := a.api.PutBucketVersioning(ctx, &s3.PutBucketVersioningInput{
			Bucket: aws.String(a.backupBucket),
			VersioningConfiguration: &s3types.VersioningConfiguration{
				Status: s3types.BucketVersioningStatusEnabled,
			},
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("enable versioning on %s: %w", a.backupBucket, err)
	}

	err = a.policy.Do(ctx, "set backup bucket lifecycle", func(ctx context.Context) error {
		_, err := a.api.PutBucketLifecycleConfiguration(ctx, &s3.PutBucketLifecycleConfigurationInput{
			Bucket: aws.String(a.backupBucket),
			LifecycleConfiguration: &s3types.BucketLifecycleConfiguration{
				Rules: []s3types.LifecycleRule{{
					ID:     aws.String("backup-archival"),
					Status: s3types.ExpirationStatusEnabled,
					Filter: &s3types.LifecycleRuleFilter{Prefix: aws.String(objectStorePrefix)},
					Transitions: []s3types.Transition{
						{Days: aws.Int32(7), StorageClass: s3types.TransitionStorageClassGlacier},
						{Days: aws.Int32(30), StorageClass: s3types.TransitionStorageClassDeepArchive},
					},
				}},
			},
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("set lifecycle on %s: %w", a.backupBucket, err)
	}

	a.logger.Info().Str("bucket", a.backupBucket).Msg("created and configured backup bucket")
	return nil
}

func (a *ObjectStoreAdapter) Execute(ctx context.Context, ref model.ResourceRef) model.BackupRecord {
	now := time.Now().UTC()
	prefix := path.Join(objectStorePrefix, ref.ID, now.Format("20060102T150405Z"))
	tags := backupTags(ref.ID, now)
	tagging := taggingString(tags)

	var objectCount int
	var totalBytes int64

	err := a.policy.Do(ctx, "copy bucket objects", func(ctx context.Context) error {
		objectCount = 0
		totalBytes = 0
		paginator := s3.NewListObjectsV2Paginator(a.api, &s3.ListObjectsV2Input{
			Bucket: aws.String(ref.ID),
		})
		for paginator.HasMorePages() {
			page, err := paginator.NextPage(ctx)
			if err != nil {
				return err
			}
			for _, obj := range page.Contents {
				key := aws.ToString(obj.Key)
				_, err := a.api.CopyObject(ctx, &s3.CopyObjectInput{
					Bucket:           aws.String(a.backupBucket),
					Key:              aws.String(prefix + "/" + key),
					CopySource:       aws.String(copySource(ref.ID, key)),
					TaggingDirective: s3types.TaggingDirectiveReplace,
					Tagging:          aws.String(tagging),
				})
				if err != nil {
					return err
				}
				objectCount++
				totalBytes += aws.ToInt64(obj.Size)
			}
		}
		return nil
	})
	if err != nil {
		a.logger.Error().Err(err).Str("bucket", ref.ID).Msg("bucket backup failed")
		return failedRecord(ref, now, err)
	}

	manifest := objectManifest{
		Prefix:       prefix,
		SourceBucket: ref.ID,
		CreatedAt:    now,
		ObjectCount:  objectCount,
		SizeBytes:    totalBytes,
		Tags:         tags,
	}
	if err := a.putManifest(ctx, manifest); err != nil {
		a.logger.Error().Err(err).Str("bucket", ref.ID).Msg("manifest write failed")
		return failedRecord(ref, now, err)
	}

	a.logger.Info().
		Str("bucket", ref.ID).
		Str("prefix", prefix).
		Int("objects", objectCount).
		Int64("bytes", totalBytes).
		Msg("backed up bucket")

	return model.BackupRecord{
		ID:          prefix,
		ResourceRef: ref,
		CreatedAt:   now,
		State:       model.BackupCompleted,
		SizeBytes:   &totalBytes,
		Tags:        tags,
	}
}

func (a *ObjectStoreAdapter) Describe(ctx context.Context, record *model.BackupRecord) (ArtifactStatus, error) {
	if _, err := a.getManifest(ctx, record.ID); err != nil {
		if retry.IsNotFound(err) {
			return ArtifactStatus{Exists: false}, nil
		}
		return ArtifactStatus{}, fmt.Errorf("read manifest for %s: %w", record.ID, err)
	}

	// Size is recomputed from the live listing so drift against the
	// manifest is caught by validation.
	var listedBytes int64
	err := a.policy.Do(ctx, "list backup prefix", func(ctx context.Context) error {
		listedBytes = 0
		paginator := s3.NewListObjectsV2Paginator(a.api, &s3.ListObjectsV2Input{
			Bucket: aws.String(a.backupBucket),
			Prefix: aws.String(record.ID + "/"),
		})
		for paginator.HasMorePages() {
			page, err := paginator.NextPage(ctx)
			if err != nil {
				return err
			}
			for _, obj := range page.Contents {
				if strings.HasSuffix(aws.ToString(obj.Key), "/"+manifestName) {
					continue
				}
				listedBytes += aws.ToInt64(obj.Size)
			}
		}
		return nil
	})
	if err != nil {
		return ArtifactStatus{}, fmt.Errorf("list backup prefix %s: %w", record.ID, err)
	}

	return ArtifactStatus{
		Exists:    true,
		State:     "stored",
		Completed: true,
		SizeBytes: &listedBytes,
	}, nil
}

func (a *ObjectStoreAdapter) Delete(ctx context.Context, record *model.BackupRecord) error {
	return a.policy.Do(ctx, "delete backup prefix", func(ctx context.Context) error {
		paginator := s3.NewListObjectsV2Paginator(a.api, &s3.ListObjectsV2Input{
			Bucket: aws.String(a.backupBucket),
			Prefix: aws.String(record.ID + "/"),
		})
		for paginator.HasMorePages() {
			page, err := paginator.NextPage(ctx)
			if err != nil {
				return err
			}
			if len(page.Contents) == 0 {
				continue
			}
			objects := make([]s3types.ObjectIdentifier, len(page.Contents))
			for i, obj := range page.Contents {
				objects[i] = s3types.ObjectIdentifier{Key: obj.Key}
			}
			_, err = a.api.DeleteObjects(ctx, &s3.DeleteObjectsInput{
				Bucket: aws.String(a.backupBucket),
				Delete: &s3types.Delete{Objects: objects},
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func (a *ObjectStoreAdapter) ListRecords(ctx context.Context) ([]model.BackupRecord, error) {
	var manifestKeys []string
	err := a.policy.Do(ctx, "list backup manifests", func(ctx context.Context) error {
		manifestKeys = manifestKeys[:0]
		paginator := s3.NewListObjectsV2Paginator(a.api, &s3.ListObjectsV2Input{
			Bucket: aws.String(a.backupBucket),
			Prefix: aws.String(objectStorePrefix),
		})
		for paginator.HasMorePages() {
			page, err := paginator.NextPage(ctx)
			if err != nil {
				return err
			}
			for _, obj := range page.Contents {
				key := aws.ToString(obj.Key)
				if strings.HasSuffix(key, "/"+manifestName) {
					manifestKeys = append(manifestKeys, key)
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	records := make([]model.BackupRecord, 0, len(manifestKeys))
	for _, key := range manifestKeys {
		prefix := strings.TrimSuffix(key, "/"+manifestName)
		manifest, err := a.getManifest(ctx, prefix)
		if err != nil {
			if retry.IsNotFound(err) {
				continue
			}
			return nil, fmt.Errorf("read manifest %s: %w", key, err)
		}
		size := manifest.SizeBytes
		records = append(records, model.BackupRecord{
			ID: manifest.Prefix,
			ResourceRef: model.ResourceRef{
				Kind: model.KindObjectStore,
				ID:   manifest.SourceBucket,
			},
			CreatedAt: manifest.CreatedAt,
			State:     model.BackupCompleted,
			SizeBytes: &size,
			Tags:      manifest.Tags,
		})
	}
	return records, nil
}

func (a *ObjectStoreAdapter) putManifest(ctx context.Context, manifest objectManifest) error {
	body, err := json.Marshal(manifest)
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	return a.policy.Do(ctx, "put manifest", func(ctx context.Context) error {
		_, err := a.api.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(a.backupBucket),
			Key:         aws.String(manifest.Prefix + "/" + manifestName),
			Body:        strings.NewReader(string(body)),
			ContentType: aws.String("application/json"),
		})
		return err
	})
}

func (a *ObjectStoreAdapter) getManifest(ctx context.Context, prefix string) (objectManifest, error) {
	out, err := retry.DoValue(ctx, a.policy, "get manifest", func(ctx context.Context) (*s3.GetObjectOutput, error) {
		return a.api.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(a.backupBucket),
			Key:    aws.String(prefix + "/" + manifestName),
		})
	})
	if err != nil {
		return objectManifest{}, err
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return objectManifest{}, fmt.Errorf("read manifest body: %w", err)
	}
	var manifest objectManifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return objectManifest{}, fmt.Errorf("decode manifest: %w", err)
	}
	return manifest, nil
}

func taggingString(tags map[string]string) string {
	values := url.Values{}
	for k, v := range tags {
		values.Set(k, v)
	}
	return values.Encode()
}

// copySource formats a bucket/key pair for CopyObjectInput.CopySource,
// escaping reserved characters per key segment while keeping the path
// separators literal.
func copySource(bucket, key string) string {
	segments := strings.Split(key, "/")
	for i, segment := range segments {
		segments[i] = url.PathEscape(segment)
	}
	return bucket + "/" + strings.Join(segments, "/")
}
