// Package worker re-evaluates care gaps when a patient's record changes.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/drfirst/go-caregap/internal/domain/caregap"
	"github.com/drfirst/go-caregap/internal/infrastructure/redpanda"
	"github.com/drfirst/go-caregap/internal/observability/metrics"
	"github.com/drfirst/go-caregap/pkg/workerpool"
)

// Publisher publishes a JSON event
type Publisher interface {
	PublishEvent(ctx context.Context, topic, key, eventType string, v interface{}) error
}

// Reevaluator turns records.updated messages into caregaps.evaluated events.
// Evaluations run on a worker pool, which retries transient load and publish
// failures.
type Reevaluator struct {
	source    caregap.RecordSource
	evaluator *caregap.Evaluator
	publisher Publisher
	metrics   *metrics.Metrics
	logger    *zap.Logger
	now       func() time.Time

	pool *workerpool.Pool[string]
}

// New creates a Reevaluator; call Start before handling messages. m may be nil.
func New(source caregap.RecordSource, evaluator *caregap.Evaluator, publisher Publisher, poolCfg workerpool.Config, m *metrics.Metrics, logger *zap.Logger) (*Reevaluator, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if evaluator == nil {
		evaluator = caregap.NewEvaluator()
	}

	r := &Reevaluator{
		source:    source,
		evaluator: evaluator,
		publisher: publisher,
		metrics:   m,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}

	pool, err := workerpool.New(poolCfg, r.evaluate, logger)
	if err != nil {
		return nil, fmt.Errorf("create worker pool: %w", err)
	}
	r.pool = pool
	return r, nil
}

// Start starts the worker pool
func (r *Reevaluator) Start() { r.pool.Start() }

// Stop drains the worker pool
func (r *Reevaluator) Stop() error { return r.pool.Stop() }

// Stats returns worker pool statistics
func (r *Reevaluator) Stats() workerpool.Stats { return r.pool.Stats() }

// Handle is a redpanda.MessageHandler. It returns an error only when the
// message should be dead-lettered.
func (r *Reevaluator) Handle(ctx context.Context, msg *redpanda.ConsumedMessage) error {
	if r.metrics != nil {
		r.metrics.KafkaMessagesConsumed.Inc()
	}

	evt, err := redpanda.DecodeRecordsUpdated(msg.Value)
	if err != nil {
		return err
	}

	result, err := r.pool.SubmitWait(ctx, &workerpool.Task[string]{
		ID:      fmt.Sprintf("%s/%d/%d", msg.Topic, msg.Partition, msg.Offset),
		Payload: evt.PatientID,
	})
	if err != nil {
		return fmt.Errorf("submit %s: %w", evt.PatientID, err)
	}
	if result.Err != nil {
		return fmt.Errorf("re-evaluate %s: %w", evt.PatientID, result.Err)
	}
	return nil
}

// evaluate is the worker pool function
func (r *Reevaluator) evaluate(ctx context.Context, task *workerpool.Task[string]) error {
	patientID := task.Payload
	start := time.Now()

	hc, err := r.source.LoadPatientContext(ctx, patientID)
	if errors.Is(err, caregap.ErrPatientNotFound) {
		// deleted or never imported; nothing to notify about
		r.logger.Warn("patient not found, skipping", zap.String("patient_id", patientID))
		return nil
	}
	if err != nil {
		if r.metrics != nil {
			r.metrics.RecordLoadFailures.WithLabelValues("worker").Inc()
		}
		return fmt.Errorf("load record: %w", err)
	}

	gaps := r.evaluator.EvaluateAll(hc)
	if r.metrics != nil {
		r.metrics.ObserveEvaluation(metrics.TriggerRecordUpdate, gaps, time.Since(start))
	}

	evt := redpanda.NewCareGapsEvaluated(patientID, gaps, r.now())
	if err := r.publisher.PublishEvent(ctx, redpanda.TopicCareGapsEvaluated, patientID, redpanda.EventCareGapsEvaluated, evt); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	if r.metrics != nil {
		r.metrics.KafkaMessagesProduced.Inc()
	}

	r.logger.Info("care gaps re-evaluated",
		zap.String("patient_id", patientID),
		zap.String("event_id", evt.EventID),
		zap.Int("due", len(evt.Due)),
	)
	return nil
}
