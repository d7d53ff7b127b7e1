// Package sync drives batches of raw change-stream records through
// decode, transform, and destination write, isolating per-record failures
// so the batch runner redelivers only what actually failed.
package sync

import (
	"context"
	"fmt"
	"hash/fnv"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/unitsync/unitsync/pkg/metrics"
	"github.com/unitsync/unitsync/pkg/rules"
	"github.com/unitsync/unitsync/pkg/store"
	"github.com/unitsync/unitsync/pkg/stream"
	"github.com/unitsync/unitsync/pkg/transform"
)

// ConfigSource yields the transformation policy snapshot a batch is
// processed under.
type ConfigSource interface {
	Snapshot(ctx context.Context) (*rules.TransformationConfig, error)
}

type Options struct {
	// Workers bounds record-level parallelism. Defaults to 4; 1 means
	// strictly sequential processing.
	Workers int
	Logger  *zap.Logger
}

// Orchestrator runs the per-record pipeline for one batch at a time.
type Orchestrator struct {
	config      ConfigSource
	transformer *transform.Transformer
	store       store.Store
	workers     int
	logger      *zap.Logger
}

func NewOrchestrator(config ConfigSource, transformer *transform.Transformer, st store.Store, opts Options) *Orchestrator {
	workers := opts.Workers
	if workers <= 0 {
		workers = 4
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		config:      config,
		transformer: transformer,
		store:       st,
		workers:     workers,
		logger:      logger,
	}
}

// ProcessBatch decodes, transforms, and writes every record of a raw
// batch payload. The configuration snapshot is fetched once per batch, so
// all records observe one consistent ruleset even if the provider
// refreshes mid-flight elsewhere.
//
// Records sharing a source key are routed to the same worker and
// processed in batch order, preserving sequence-token ordering per
// destination key. A non-nil error is returned only for a malformed batch
// envelope or a structural rules.ErrConfigUnavailable; in the latter case
// the returned result already marks every record failed.
func (o *Orchestrator) ProcessBatch(ctx context.Context, raw []byte) (*BatchResult, error) {
	records, err := stream.ParseBatch(raw)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	defer func() {
		metrics.BatchDuration.Observe(time.Since(start).Seconds())
	}()

	result := &BatchResult{Outcomes: make([]Outcome, len(records))}
	for i := range records {
		result.Outcomes[i].RecordID = recordID(&records[i], i)
	}

	cfg, err := o.config.Snapshot(ctx)
	if err != nil {
		o.logger.Error("no config snapshot, failing whole batch",
			zap.Int("records", len(records)),
			zap.Error(err))
		for i := range result.Outcomes {
			result.Outcomes[i].Status = StatusFailed
			result.Outcomes[i].Err = err
			metrics.RecordsProcessed.WithLabelValues(string(StatusFailed)).Inc()
		}
		return result, err
	}
	result.ConfigVersion = cfg.Version

	workers := o.workers
	if workers > len(records) {
		workers = len(records)
	}
	if workers < 1 {
		workers = 1
	}

	// Same-key records land in the same bucket and keep their batch order.
	buckets := make([][]int, workers)
	for i := range records {
		h := fnv.New32a()
		h.Write([]byte(records[i].PartitionKey()))
		w := int(h.Sum32()) % workers
		buckets[w] = append(buckets[w], i)
	}

	g := new(errgroup.Group)
	for _, bucket := range buckets {
		bucket := bucket
		g.Go(func() error {
			for _, i := range bucket {
				if ctx.Err() != nil {
					// Cancellation: completed records keep their status,
					// unprocessed ones fail and get redelivered.
					result.Outcomes[i].Status = StatusFailed
					result.Outcomes[i].Err = fmt.Errorf("batch cancelled: %w", ctx.Err())
					metrics.RecordsProcessed.WithLabelValues(string(StatusFailed)).Inc()
					continue
				}

				status, err := o.processRecord(ctx, cfg, &records[i])
				result.Outcomes[i].Status = status
				result.Outcomes[i].Err = err
				metrics.RecordsProcessed.WithLabelValues(string(status)).Inc()

				if err != nil {
					o.logger.Warn("record failed",
						zap.String("record", result.Outcomes[i].RecordID),
						zap.Error(err))
				}
			}
			return nil
		})
	}
	g.Wait()

	o.logger.Info("batch processed",
		zap.String("configVersion", cfg.Version),
		zap.Int("records", len(records)),
		zap.Int("failed", len(result.Failed())),
		zap.Duration("elapsed", time.Since(start)))
	return result, nil
}

// processRecord walks one record through decode, transform, and write.
// Every failure is returned, never swallowed; the caller records it in
// the batch result.
func (o *Orchestrator) processRecord(ctx context.Context, cfg *rules.TransformationConfig, raw *stream.RawRecord) (Status, error) {
	rec, err := stream.Decode(raw)
	if err != nil {
		return StatusFailed, err
	}

	dst, err := o.transformer.Apply(rec, cfg)
	if err != nil {
		return StatusFailed, err
	}
	if dst == nil {
		return StatusSkipped, nil
	}

	if rec.Operation == stream.OpRemove {
		err = o.store.Delete(ctx, dst)
	} else {
		err = o.store.Upsert(ctx, dst)
	}
	if err != nil {
		return StatusFailed, err
	}
	return StatusOK, nil
}

func recordID(raw *stream.RawRecord, index int) string {
	if raw.EventID != "" {
		return raw.EventID
	}
	if raw.Change.SequenceNumber != "" {
		return raw.Change.SequenceNumber
	}
	return strconv.Itoa(index)
}
