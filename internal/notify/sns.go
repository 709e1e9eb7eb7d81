// Package notify publishes run and restore summaries to SNS. Delivery is
// fire-and-forget: failures are logged and never fail the operation that
// produced the summary.
package notify

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/rs/zerolog"

	"github.com/edvin/backup/internal/model"
)

// SNSAPI is the subset of the SNS client the publisher uses.
type SNSAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

type Publisher struct {
	logger   zerolog.Logger
	api      SNSAPI
	topicARN string
}

// NewPublisher creates a Publisher. An empty topic ARN disables publishing.
func NewPublisher(logger zerolog.Logger, api SNSAPI, topicARN string) *Publisher {
	return &Publisher{
		logger:   logger.With().Str("component", "notify").Logger(),
		api:      api,
		topicARN: topicARN,
	}
}

// PublishRunSummary announces the outcome of one backup run.
func (p *Publisher) PublishRunSummary(ctx context.Context, run *model.RunResult) {
	succeeded, failed := run.Totals()
	subject := "Backup run complete"
	if run.State == model.RunPartiallyFailed {
		subject = "Backup run partially failed"
	}
	message := fmt.Sprintf(
		"Run %s finished in state %s\nSucceeded: %d\nFailed: %d\nSwept: %d",
		run.RunID, run.State, succeeded, failed, len(run.SweptRecordIDs),
	)
	p.publish(ctx, subject, message)
}

// PublishRestoreOutcome announces the outcome of one restore attempt.
func (p *Publisher) PublishRestoreOutcome(ctx context.Context, backupID string, outcome model.RestoreOutcome) {
	target := ""
	if outcome.TargetRef != nil {
		target = outcome.TargetRef.ID
	}
	message := fmt.Sprintf("Restore of backup %s: %s", backupID, outcome.State)
	if target != "" {
		message += fmt.Sprintf("\nTarget: %s", target)
	}
	if outcome.Error != "" {
		message += fmt.Sprintf("\nError: %s", outcome.Error)
	}
	p.publish(ctx, "Backup restore "+string(outcome.State), message)
}

func (p *Publisher) publish(ctx context.Context, subject, message string) {
	if p.topicARN == "" {
		return
	}

	_, err := p.api.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(p.topicARN),
		Subject:  aws.String(subject),
		Message:  aws.String(message),
	})
	if err != nil {
		p.logger.Error().Err(err).Str("subject", subject).Msg("failed to publish notification")
		return
	}
	p.logger.Info().Str("subject", subject).Msg("notification published")
}
