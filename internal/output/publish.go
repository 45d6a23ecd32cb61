package output

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/CU-BIC/S3/internal/logging"
	"github.com/CU-BIC/S3/internal/sampler"
)

// Event names carried by published messages.
const (
	EventBatchCommitted = "batch.committed"
	EventRunFinished    = "run.finished"
)

// Topics names the destinations of PublishSink. An empty topic disables
// that event.
type Topics struct {
	Batches string
	Runs    string
}

// BatchEvent announces one committed cycle.
type BatchEvent struct {
	Event       string    `json:"event"`
	RunID       string    `json:"run_id"`
	Sequence    int       `json:"sequence"`
	Accepted    int       `json:"accepted"`
	Rejected    int       `json:"rejected"`
	Panoramas   []string  `json:"panoramas"`
	Visited     int       `json:"visited"`
	PersistedAt time.Time `json:"persisted_at"`
}

// RunEvent announces the end of a run.
type RunEvent struct {
	Event      string            `json:"event"`
	RunID      string            `json:"run_id"`
	Status     sampler.RunStatus `json:"status"`
	Reason     string            `json:"reason,omitempty"`
	Processed  int               `json:"processed"`
	Rejected   int               `json:"rejected"`
	Panoramas  int               `json:"panoramas"`
	Visited    int               `json:"visited"`
	Batches    int               `json:"batches"`
	Rotations  int               `json:"rotations"`
	Rollbacks  int               `json:"rollbacks"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt time.Time         `json:"finished_at"`
}

// PublishSink announces commits and run completion on a Publisher.
type PublishSink struct {
	publisher sampler.Publisher
	topics    Topics
	logger    *zap.Logger
}

// NewPublishSink wires a publisher to the given topics.
func NewPublishSink(publisher sampler.Publisher, topics Topics, logger *zap.Logger) *PublishSink {
	return &PublishSink{publisher: publisher, topics: topics, logger: logging.OrNop(logger)}
}

// PersistBatch publishes a BatchEvent.
func (s *PublishSink) PersistBatch(ctx context.Context, record sampler.BatchRecord) error {
	if s.topics.Batches == "" {
		return nil
	}
	panos := make([]string, 0, len(record.Accepted))
	for _, c := range record.Accepted {
		if p, ok := c.Panorama(); ok {
			panos = append(panos, p.PanoID)
		}
	}
	evt := BatchEvent{
		Event:       EventBatchCommitted,
		RunID:       record.RunID,
		Sequence:    record.Sequence,
		Accepted:    len(record.Accepted),
		Rejected:    len(record.Rejected),
		Panoramas:   panos,
		Visited:     record.Visited,
		PersistedAt: record.PersistedAt,
	}
	id, err := s.publisher.Publish(ctx, s.topics.Batches, evt)
	if err != nil {
		return fmt.Errorf("publish batch %d: %w", record.Sequence, err)
	}
	s.logger.Debug("batch event published", zap.String("run_id", record.RunID), zap.Int("sequence", record.Sequence), zap.String("message_id", id))
	return nil
}

// Finalize publishes a RunEvent.
func (s *PublishSink) Finalize(ctx context.Context, summary sampler.Summary) error {
	if s.topics.Runs == "" {
		return nil
	}
	evt := RunEvent{
		Event:      EventRunFinished,
		RunID:      summary.RunID,
		Status:     summary.Status,
		Reason:     summary.Reason,
		Processed:  len(summary.Processed),
		Rejected:   len(summary.Rejected),
		Panoramas:  len(Panoramas(summary.Processed)),
		Visited:    summary.TotalVisited,
		Batches:    summary.Batches,
		Rotations:  summary.Rotations,
		Rollbacks:  summary.Rollbacks,
		StartedAt:  summary.StartedAt,
		FinishedAt: summary.FinishedAt,
	}
	id, err := s.publisher.Publish(ctx, s.topics.Runs, evt)
	if err != nil {
		return fmt.Errorf("publish run %s: %w", summary.RunID, err)
	}
	s.logger.Info("run event published", zap.String("run_id", summary.RunID), zap.String("message_id", id))
	return nil
}
