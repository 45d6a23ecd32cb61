package output

import (
	"context"
	"errors"

	"github.com/CU-BIC/S3/internal/sampler"
)

// MultiSink fans committed batches and the summary out to several sinks in
// order. A batch stops at the first failing sink so the cycle is replayed;
// Finalize reaches every sink and joins their errors.
type MultiSink []sampler.Sink

// NewMultiSink drops nil sinks.
func NewMultiSink(sinks ...sampler.Sink) MultiSink {
	out := make(MultiSink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

// PersistBatch forwards the record to each sink.
func (m MultiSink) PersistBatch(ctx context.Context, record sampler.BatchRecord) error {
	for _, s := range m {
		if err := s.PersistBatch(ctx, record); err != nil {
			return err
		}
	}
	return nil
}

// Finalize forwards the summary to each sink.
func (m MultiSink) Finalize(ctx context.Context, summary sampler.Summary) error {
	var errs []error
	for _, s := range m {
		if err := s.Finalize(ctx, summary); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
