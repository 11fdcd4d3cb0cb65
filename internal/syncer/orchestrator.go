// Package syncer reconciles the local mutation queue with the remote
// authority: batching, outcome handling, retries and the background loop.
package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"tasksync/internal/conflict"
	"tasksync/internal/metrics"
	"tasksync/internal/models"

	"github.com/rs/zerolog"
)

const errNoResult = "no result returned for item"

// QueueStore is the part of the local store a sync run needs.
type QueueStore interface {
	Drain(ctx context.Context, maxRetries int) ([]models.QueueItem, error)
	CommitSynced(ctx context.Context, item models.QueueItem, serverID string, resolved *models.Task, syncedAt time.Time) error
	RecordFailure(ctx context.Context, item models.QueueItem, message string, permanent bool) error
}

// BatchSender delivers one batch to the remote.
type BatchSender interface {
	SendBatch(ctx context.Context, batch models.BatchSyncRequest) (*models.BatchSyncResponse, error)
}

// Orchestrator runs one sync pass at a time. It does not guard against
// concurrent calls; see Runner.
type Orchestrator struct {
	store      QueueStore
	sender     BatchSender
	resolver   *conflict.Resolver
	policy     RetryPolicy
	batchSize  int
	deadLetter DeadLetterSink
	logger     *zerolog.Logger
	now        func() time.Time
}

func NewOrchestrator(store QueueStore, sender BatchSender, resolver *conflict.Resolver, policy RetryPolicy, batchSize int, logger *zerolog.Logger) *Orchestrator {
	if batchSize <= 0 {
		batchSize = models.DefaultBatchSize
	}
	if policy.MaxRetries <= 0 {
		policy.MaxRetries = models.DefaultMaxRetries
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	if resolver == nil {
		resolver = conflict.NewResolver(conflict.TieBreakServer, logger)
	}
	return &Orchestrator{
		store:     store,
		sender:    sender,
		resolver:  resolver,
		policy:    policy,
		batchSize: batchSize,
		logger:    logger,
		now:       time.Now,
	}
}

// WithDeadLetter publishes permanently failed items to sink.
func (o *Orchestrator) WithDeadLetter(sink DeadLetterSink) *Orchestrator {
	o.deadLetter = sink
	return o
}

// Sync drains the queue and reconciles it batch by batch. Per-item and
// per-batch failures are reported in the result; a non-nil error means the
// run was aborted by a storage failure.
func (o *Orchestrator) Sync(ctx context.Context) (*models.SyncResult, error) {
	result := models.NewSyncResult()

	items, err := o.store.Drain(ctx, o.policy.MaxRetries)
	if err != nil {
		return o.abort(result, fmt.Errorf("drain queue: %w", err))
	}
	metrics.SetQueueDepth(len(items))

	if len(items) == 0 {
		result.Success = true
		metrics.IncSyncRun("empty")
		o.logger.Debug().Msg("sync queue empty")
		return result, nil
	}

	o.logger.Info().Int("items", len(items)).Int("batch_size", o.batchSize).Msg("sync started")

	for start := 0; start < len(items); start += o.batchSize {
		end := start + o.batchSize
		if end > len(items) {
			end = len(items)
		}
		if err := o.processBatch(ctx, items[start:end], result); err != nil {
			return o.abort(result, err)
		}
	}

	result.Success = result.FailedItems == 0 && len(result.Errors) == 0
	if result.Success {
		metrics.IncSyncRun("success")
	} else {
		metrics.IncSyncRun("partial")
	}

	o.logger.Info().
		Bool("success", result.Success).
		Int("synced", result.SyncedItems).
		Int("failed", result.FailedItems).
		Msg("sync finished")
	return result, nil
}

func (o *Orchestrator) abort(result *models.SyncResult, err error) (*models.SyncResult, error) {
	o.logger.Error().Err(err).Msg("sync aborted")
	metrics.IncSyncRun("aborted")

	result.Success = false
	result.Errors = []models.SyncError{{
		Operation: "sync",
		Error:     err.Error(),
		Timestamp: o.now().UTC(),
	}}
	return result, err
}

func (o *Orchestrator) processBatch(ctx context.Context, batch []models.QueueItem, result *models.SyncResult) error {
	req := models.BatchSyncRequest{Items: make([]models.BatchItem, len(batch))}
	for i, it := range batch {
		req.Items[i] = models.BatchItem{
			TaskID:    it.TaskID,
			Operation: it.Operation,
			Data:      json.RawMessage(it.Data),
		}
	}

	started := time.Now()
	resp, err := o.sender.SendBatch(ctx, req)
	if err != nil {
		metrics.ObserveBatch("failed", time.Since(started))
		o.logger.Warn().Err(err).Int("items", len(batch)).Msg("batch request failed")
		for _, it := range batch {
			if err := o.fail(ctx, it, err.Error(), result); err != nil {
				return err
			}
		}
		return nil
	}
	metrics.ObserveBatch("ok", time.Since(started))

	outcomes := matchOutcomes(batch, resp.ProcessedItems)
	for i, it := range batch {
		out := outcomes[i]
		if out == nil {
			if err := o.fail(ctx, it, errNoResult, result); err != nil {
				return err
			}
			continue
		}
		if err := o.handleOutcome(ctx, it, out, result); err != nil {
			return err
		}
	}
	return nil
}

// matchOutcomes pairs each submitted item with the outcome carrying its task
// id. Repeated task ids within a batch are matched in submission order.
func matchOutcomes(batch []models.QueueItem, processed []models.ProcessedItem) []*models.ProcessedItem {
	pending := make(map[string][]int, len(batch))
	for i, it := range batch {
		pending[it.TaskID] = append(pending[it.TaskID], i)
	}

	outcomes := make([]*models.ProcessedItem, len(batch))
	for i := range processed {
		idx := pending[processed[i].ClientID]
		if len(idx) == 0 {
			continue
		}
		outcomes[idx[0]] = &processed[i]
		pending[processed[i].ClientID] = idx[1:]
	}
	return outcomes
}

func (o *Orchestrator) handleOutcome(ctx context.Context, item models.QueueItem, out *models.ProcessedItem, result *models.SyncResult) error {
	switch out.Status {
	case models.ItemStatusSuccess:
		if err := o.store.CommitSynced(ctx, item, serverIDOf(out), nil, o.now().UTC()); err != nil {
			return fmt.Errorf("commit task %s: %w", item.TaskID, err)
		}
		result.SyncedItems++
		metrics.IncSyncItem("success")
		return nil

	case models.ItemStatusConflict:
		winner, err := o.resolve(item, out)
		if err != nil {
			return o.fail(ctx, item, err.Error(), result)
		}
		if err := o.store.CommitSynced(ctx, item, serverIDOf(out), winner, o.now().UTC()); err != nil {
			return fmt.Errorf("commit resolved task %s: %w", item.TaskID, err)
		}
		result.SyncedItems++
		metrics.IncSyncItem("conflict")
		return nil

	case models.ItemStatusError:
		msg := out.Error
		if msg == "" {
			msg = "remote rejected item"
		}
		return o.fail(ctx, item, msg, result)

	default:
		return o.fail(ctx, item, fmt.Sprintf("unknown item status %q", out.Status), result)
	}
}

func (o *Orchestrator) resolve(item models.QueueItem, out *models.ProcessedItem) (*models.Task, error) {
	var local models.Task
	if err := json.Unmarshal([]byte(item.Data), &local); err != nil {
		return nil, fmt.Errorf("decode local snapshot: %w", err)
	}
	if len(out.ResolvedData) == 0 {
		return nil, errors.New("conflict without resolved_data")
	}
	var server models.Task
	if err := json.Unmarshal(out.ResolvedData, &server); err != nil {
		return nil, fmt.Errorf("decode resolved_data: %w", err)
	}

	local.ID = item.TaskID
	server.ID = item.TaskID
	decision := o.resolver.Resolve(local, server)
	winner := decision.Winner
	return &winner, nil
}

// serverIDOf prefers the outcome's server_id and falls back to the one
// inside resolved_data.
func serverIDOf(out *models.ProcessedItem) string {
	if out.ServerID != "" {
		return out.ServerID
	}
	if len(out.ResolvedData) == 0 {
		return ""
	}
	var data struct {
		ServerID string `json:"server_id"`
	}
	if err := json.Unmarshal(out.ResolvedData, &data); err != nil {
		return ""
	}
	return data.ServerID
}

// fail applies the retry policy to one item and records the error entry.
// Only storage failures are returned.
func (o *Orchestrator) fail(ctx context.Context, item models.QueueItem, msg string, result *models.SyncResult) error {
	decision := o.policy.Evaluate(item.RetryCount)
	if err := o.store.RecordFailure(ctx, item, msg, decision.Permanent); err != nil {
		return fmt.Errorf("record failure for task %s: %w", item.TaskID, err)
	}

	result.FailedItems++
	result.Errors = append(result.Errors, models.SyncError{
		TaskID:    item.TaskID,
		Operation: string(item.Operation),
		Error:     msg,
		Timestamp: o.now().UTC(),
	})

	if !decision.Permanent {
		metrics.IncSyncItem("error")
		o.logger.Debug().Str("task_id", item.TaskID).Int("retry_count", decision.RetryCount).Str("error", msg).Msg("sync item failed")
		return nil
	}

	metrics.IncSyncItem("permanent")
	o.logger.Warn().
		Str("task_id", item.TaskID).
		Str("item_id", item.ID).
		Int("retry_count", decision.RetryCount).
		Str("error", msg).
		Msg("sync item permanently failed")

	if o.deadLetter != nil {
		item.RetryCount = decision.RetryCount
		if err := o.deadLetter.Push(ctx, item, msg); err != nil {
			o.logger.Error().Err(err).Str("item_id", item.ID).Msg("deadletter publish failed")
		}
	}
	return nil
}
