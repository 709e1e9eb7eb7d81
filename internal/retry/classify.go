package retry

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/aws/smithy-go"
)

// Class buckets an error for retry purposes.
type Class int

const (
	// ClassRetryable covers throttling and transient service failures.
	// Unknown errors default here.
	ClassRetryable Class = iota
	// ClassFatalPermission covers authorization denials. Never retried.
	ClassFatalPermission
	// ClassFatalNotFound covers absent resources and records. Never retried.
	ClassFatalNotFound
)

func (c Class) String() string {
	switch c {
	case ClassFatalPermission:
		return "fatal_permission"
	case ClassFatalNotFound:
		return "fatal_not_found"
	default:
		return "retryable"
	}
}

// AWS API error codes that indicate throttling or transient unavailability.
var retryableCodes = map[string]bool{
	"Throttling":                true,
	"ThrottlingException":       true,
	"RequestLimitExceeded":      true,
	"TooManyRequestsException":  true,
	"SlowDown":                  true,
	"RequestThrottled":          true,
	"RequestThrottledException": true,
	"ServiceUnavailable":        true,
	"RequestTimeout":            true,
	"RequestTimeoutException":   true,
	"InternalError":             true,
	"InternalFailure":           true,
	"ServiceFailure":            true,
}

// AWS API error codes that indicate an authorization denial.
var permissionCodes = map[string]bool{
	"AccessDenied":          true,
	"AccessDeniedException": true,
	"UnauthorizedOperation": true,
	"UnauthorizedAccess":    true,
	"AuthFailure":           true,
	"InvalidClientTokenId":  true,
	"ExpiredToken":          true,
	"ExpiredTokenException": true,
}

// Classify buckets err by structured AWS error code, never by message text.
// Authorization and not-found are always fatal; everything else, including
// timeouts and unknown errors, is retryable by default.
func Classify(err error) Class {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		switch {
		case permissionCodes[code]:
			return ClassFatalPermission
		case isNotFoundCode(code):
			return ClassFatalNotFound
		case retryableCodes[code]:
			return ClassRetryable
		}
		return ClassRetryable
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ClassRetryable
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return ClassRetryable
	}
	return ClassRetryable
}

// isNotFoundCode matches the NotFound code families used across EC2
// ("InvalidSnapshot.NotFound"), RDS ("DBSnapshotNotFound(Fault)") and S3
// ("NoSuchBucket", "NoSuchKey").
func isNotFoundCode(code string) bool {
	return strings.Contains(code, "NotFound") || strings.HasPrefix(code, "NoSuch")
}
