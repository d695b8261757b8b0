package integrations

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/tandemlab/tandem/internal/streaming"
	"github.com/tandemlab/tandem/pkg/schema"
)

// Recorder captures external side effects per execution. Safe for
// concurrent use; every recorded call receives the execution's next
// monotonic sequence number regardless of category.
type Recorder struct {
	mu     sync.RWMutex
	logs   map[string]*IntegrationLog
	seq    map[string]int
	hub    streaming.EventHub
	logger *slog.Logger
	now    func() time.Time
}

// NewRecorder creates a Recorder. hub may be nil to disable telemetry,
// logger nil falls back to slog.Default().
func NewRecorder(hub streaming.EventHub, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		logs:   make(map[string]*IntegrationLog),
		seq:    make(map[string]int),
		hub:    hub,
		logger: logger,
		now:    time.Now,
	}
}

// RecordAPICall appends an HTTP call to the execution's log and returns
// the stamped copy.
func (r *Recorder) RecordAPICall(ctx context.Context, executionID string, call APICall) (*APICall, error) {
	if executionID == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "execution id is required")
	}
	r.mu.Lock()
	log := r.logFor(executionID)
	call.Sequence = r.nextSeq(executionID)
	call.Timestamp = r.now().UTC()
	log.APICalls = append(log.APICalls, call)
	r.mu.Unlock()

	r.publish(ctx, executionID, CategoryAPI, call.Sequence, call.Method+" "+call.Endpoint)
	return &call, nil
}

// RecordDBOperation appends a database operation to the execution's log.
func (r *Recorder) RecordDBOperation(ctx context.Context, executionID string, op DBOperation) (*DBOperation, error) {
	if executionID == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "execution id is required")
	}
	r.mu.Lock()
	log := r.logFor(executionID)
	op.Sequence = r.nextSeq(executionID)
	op.Timestamp = r.now().UTC()
	log.DBOperations = append(log.DBOperations, op)
	r.mu.Unlock()

	r.publish(ctx, executionID, CategoryDB, op.Sequence, op.Operation+" "+op.Table)
	return &op, nil
}

// RecordServiceCall appends an external service call to the execution's log.
func (r *Recorder) RecordServiceCall(ctx context.Context, executionID string, call ServiceCall) (*ServiceCall, error) {
	if executionID == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "execution id is required")
	}
	r.mu.Lock()
	log := r.logFor(executionID)
	call.Sequence = r.nextSeq(executionID)
	call.Timestamp = r.now().UTC()
	log.ServiceCalls = append(log.ServiceCalls, call)
	r.mu.Unlock()

	r.publish(ctx, executionID, CategoryService, call.Sequence, call.Service+"."+call.Operation)
	return &call, nil
}

// RecordWebhook appends an outbound webhook delivery to the execution's log.
func (r *Recorder) RecordWebhook(ctx context.Context, executionID string, delivery WebhookDelivery) (*WebhookDelivery, error) {
	if executionID == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "execution id is required")
	}
	r.mu.Lock()
	log := r.logFor(executionID)
	delivery.Sequence = r.nextSeq(executionID)
	delivery.Timestamp = r.now().UTC()
	log.Webhooks = append(log.Webhooks, delivery)
	r.mu.Unlock()

	r.publish(ctx, executionID, CategoryWebhook, delivery.Sequence, delivery.Event+" "+delivery.URL)
	return &delivery, nil
}

// Log returns a copy of the execution's integration log. Executions that
// never recorded anything yield an empty log, not an error.
func (r *Recorder) Log(executionID string) *IntegrationLog {
	r.mu.RLock()
	defer r.mu.RUnlock()
	log, ok := r.logs[executionID]
	if !ok {
		return &IntegrationLog{ExecutionID: executionID}
	}
	return &IntegrationLog{
		ExecutionID:  executionID,
		APICalls:     append([]APICall(nil), log.APICalls...),
		DBOperations: append([]DBOperation(nil), log.DBOperations...),
		ServiceCalls: append([]ServiceCall(nil), log.ServiceCalls...),
		Webhooks:     append([]WebhookDelivery(nil), log.Webhooks...),
	}
}

// Executions lists execution ids with recorded side effects, sorted.
func (r *Recorder) Executions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.logs))
	for id := range r.logs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Clear drops the execution's log and resets its sequence counter.
func (r *Recorder) Clear(executionID string) {
	r.mu.Lock()
	delete(r.logs, executionID)
	delete(r.seq, executionID)
	r.mu.Unlock()
}

// logFor returns the execution's live log, creating it on first use.
// Callers hold r.mu.
func (r *Recorder) logFor(executionID string) *IntegrationLog {
	log, ok := r.logs[executionID]
	if !ok {
		log = &IntegrationLog{ExecutionID: executionID}
		r.logs[executionID] = log
	}
	return log
}

// nextSeq hands out the execution's next sequence number. Callers hold r.mu.
func (r *Recorder) nextSeq(executionID string) int {
	r.seq[executionID]++
	return r.seq[executionID]
}

func (r *Recorder) publish(ctx context.Context, executionID string, category Category, sequence int, ref string) {
	r.logger.Debug("integration recorded",
		slog.String("execution_id", executionID),
		slog.String("category", string(category)),
		slog.Int("sequence", sequence),
		slog.String("ref", ref),
	)
	streaming.Publish(ctx, r.hub, streaming.StreamEvent{
		EventType:   schema.EventIntegrationRecorded,
		ExecutionID: executionID,
		Payload: map[string]any{
			"category": string(category),
			"sequence": sequence,
			"ref":      ref,
		},
	})
}
