package restore

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog"

	"github.com/edvin/backup/internal/model"
	"github.com/edvin/backup/internal/retry"
)

const objectManifestName = "manifest.json"

// ObjectStoreAPI is the slice of the S3 API the object store restore path
// uses.
type ObjectStoreAPI interface {
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	CopyObject(ctx context.Context, params *s3.CopyObjectInput, optFns ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
}

// ObjectStoreExecutor copies a dated backup prefix back into a live bucket.
// The copy is server-side and synchronous, so Restore completes in one call
// and never hands back a handle.
type ObjectStoreExecutor struct {
	logger       zerolog.Logger
	api          ObjectStoreAPI
	policy       retry.Policy
	backupBucket string
}

func NewObjectStoreExecutor(logger zerolog.Logger, api ObjectStoreAPI, policy retry.Policy, backupBucket string) *ObjectStoreExecutor {
	return &ObjectStoreExecutor{
		logger:       logger.With().Str("component", "objectstore-restore").Logger(),
		api:          api,
		policy:       policy,
		backupBucket: backupBucket,
	}
}

func (e *ObjectStoreExecutor) Kind() model.ResourceKind { return model.KindObjectStore }

func (e *ObjectStoreExecutor) Restore(ctx context.Context, record *model.BackupRecord, targetHint string) model.RestoreOutcome {
	sourceBucket, err := bucketFromRecordID(record.ID)
	if err != nil {
		return model.RestoreOutcome{State: model.RestoreFailed, Error: err.Error()}
	}
	target := targetHint
	if target == "" {
		target = sourceBucket
	}

	tagging := restoreTagging(record.ID, time.Now().UTC())
	prefix := record.ID + "/"
	var copied int

	paginator := s3.NewListObjectsV2Paginator(e.api, &s3.ListObjectsV2Input{
		Bucket: aws.String(e.backupBucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := retry.DoValue(ctx, e.policy, "list backup objects", func(ctx context.Context) (*s3.ListObjectsV2Output, error) {
			return paginator.NextPage(ctx)
		})
		if err != nil {
			return model.RestoreOutcome{State: model.RestoreFailed, Error: err.Error()}
		}

		for _, object := range page.Contents {
			key := aws.ToString(object.Key)
			relative := strings.TrimPrefix(key, prefix)
			if relative == objectManifestName {
				continue
			}

			err := e.policy.Do(ctx, "copy object back", func(ctx context.Context) error {
				_, err := e.api.CopyObject(ctx, &s3.CopyObjectInput{
					Bucket:            aws.String(target),
					Key:               aws.String(relative),
					CopySource:        aws.String(copySource(e.backupBucket, key)),
					TaggingDirective:  s3types.TaggingDirectiveReplace,
					Tagging:           aws.String(tagging),
					MetadataDirective: s3types.MetadataDirectiveCopy,
				})
				return err
			})
			if err != nil {
				e.logger.Error().Err(err).Str("key", key).Str("target", target).Msg("object copy-back failed")
				return model.RestoreOutcome{State: model.RestoreFailed, Error: err.Error()}
			}
			copied++
		}
	}

	e.logger.Info().Str("backup", record.ID).Str("target", target).Int("objects", copied).Msg("bucket restore completed")
	return model.RestoreOutcome{
		State:     model.RestoreCompleted,
		TargetRef: &model.ResourceRef{Kind: model.KindObjectStore, ID: target},
	}
}

// CheckStatus exists to satisfy the executor contract; object store restores
// finish synchronously, so the handle's target is final.
func (e *ObjectStoreExecutor) CheckStatus(_ context.Context, handle model.RestoreHandle) model.RestoreOutcome {
	return model.RestoreOutcome{
		State:     model.RestoreCompleted,
		TargetRef: &model.ResourceRef{Kind: model.KindObjectStore, ID: handle.TargetID},
	}
}

// bucketFromRecordID extracts the source bucket from an object store record
// id of the form s3/<bucket>/<timestamp>.
func bucketFromRecordID(recordID string) (string, error) {
	parts := strings.SplitN(recordID, "/", 3)
	if len(parts) != 3 || parts[0] != "s3" || parts[1] == "" {
		return "", fmt.Errorf("malformed object store record id %q", recordID)
	}
	return parts[1], nil
}

func restoreTagging(recordID string, now time.Time) string {
	values := url.Values{}
	values.Set(model.TagRestoredBy, recordID)
	values.Set(model.TagRestoreDate, now.Format(time.RFC3339))
	return values.Encode()
}

// copySource formats a bucket/key pair for CopyObjectInput.CopySource,
// escaping reserved characters per key segment while keeping the path
// separators literal. Matches the backup path's convention.
func copySource(bucket, key string) string {
	segments := strings.Split(key, "/")
	for i, segment := range segments {
		segments[i] = url.PathEscape(segment)
	}
	return bucket + "/" + strings.Join(segments, "/")
}
