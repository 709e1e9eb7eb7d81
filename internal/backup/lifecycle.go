package backup

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/edvin/backup/internal/metrics"
	"github.com/edvin/backup/internal/model"
)

// Sweeper deletes completed backup records past their retention window. It
// never deletes the sole completed record for a resource, and never touches
// records carrying the deletion-protection tag.
type Sweeper struct {
	logger      zerolog.Logger
	adapters    map[model.ResourceKind]Adapter
	instruments *metrics.Instruments
}

func NewSweeper(logger zerolog.Logger, adapters []Adapter, instruments *metrics.Instruments) *Sweeper {
	adapterByKind := make(map[model.ResourceKind]Adapter, len(adapters))
	for _, a := range adapters {
		adapterByKind[a.Kind()] = a
	}
	return &Sweeper{
		logger:      logger.With().Str("component", "retention-sweeper").Logger(),
		adapters:    adapterByKind,
		instruments: instruments,
	}
}

// Sweep applies the retention policy across all kinds and returns the ids of
// deleted records. Individual deletion failures are logged and skipped; a
// kind whose catalog cannot be listed is skipped and reported in the
// returned error. Sweeping an already-swept catalog deletes nothing.
func (s *Sweeper) Sweep(ctx context.Context, policy model.RetentionPolicy) ([]string, error) {
	now := time.Now().UTC()
	var deleted []string
	var listErrs []error

	for _, kind := range model.AllKinds {
		adapter, ok := s.adapters[kind]
		if !ok {
			continue
		}

		records, err := adapter.ListRecords(ctx)
		if err != nil {
			s.logger.Error().Err(err).Str("kind", string(kind)).Msg("catalog listing failed, skipping kind")
			listErrs = append(listErrs, fmt.Errorf("list %s records: %w", kind, err))
			continue
		}

		cutoff := now.AddDate(0, 0, -policy.DaysFor(kind))
		for _, record := range s.expired(records, cutoff) {
			if err := adapter.Delete(ctx, &record); err != nil {
				s.logger.Error().Err(err).Str("record", record.ID).Msg("deletion failed, skipping record")
				continue
			}
			s.logger.Info().
				Str("kind", string(kind)).
				Str("record", record.ID).
				Time("created_at", record.CreatedAt).
				Msg("deleted expired backup")
			s.instruments.SweepDeleted.WithLabelValues(string(kind)).Inc()
			deleted = append(deleted, record.ID)
		}
	}

	return deleted, errors.Join(listErrs...)
}

// expired selects the completed records older than cutoff that are safe to
// delete. When a resource would be left with no completed record at all, its
// most recent expired record is retained to prevent a zero-backup window.
func (s *Sweeper) expired(records []model.BackupRecord, cutoff time.Time) []model.BackupRecord {
	byResource := make(map[string][]model.BackupRecord)
	for _, record := range records {
		if record.State != model.BackupCompleted {
			continue
		}
		key := record.ResourceRef.ID
		byResource[key] = append(byResource[key], record)
	}

	var out []model.BackupRecord
	for _, group := range byResource {
		sort.Slice(group, func(i, j int) bool {
			return group[i].CreatedAt.After(group[j].CreatedAt)
		})

		var kept int
		var candidates []model.BackupRecord
		for _, record := range group {
			switch {
			case record.Protected():
				kept++
			case record.CreatedAt.After(cutoff):
				kept++
			default:
				candidates = append(candidates, record)
			}
		}

		// Newest-first ordering: when nothing survives the cutoff, the
		// first candidate is the most recent backup and must stay.
		if kept == 0 && len(candidates) > 0 {
			candidates = candidates[1:]
		}
		out = append(out, candidates...)
	}
	return out
}
