package offline

import (
	"context"
	"errors"
	"net/http"

	"github.com/erp/offline/internal/domain/offline"
	"github.com/erp/offline/internal/domain/shared"
	"github.com/erp/offline/internal/infrastructure/telemetry"
	"go.uber.org/zap"
)

type replayOutcome int

const (
	replaySucceeded replayOutcome = iota
	replayConflict
	replayDiscarded
	replayRetry
)

// classifyReplay maps the result of a replay to what happens to the operation.
//
// 409 and 412 mean the server holds a newer write: the local one loses.
// 404 on update or delete means the entity is gone, so there is nothing left
// to change. Other 4xx answers, except auth and throttling, will never
// succeed and are dropped, as are operations the client refuses to send.
// Anything else is retried later.
func classifyReplay(op offline.PendingOperation, err error) replayOutcome {
	if err == nil {
		return replaySucceeded
	}

	// a malformed operation is rejected before any request is made
	var domainErr *shared.DomainError
	if errors.As(err, &domainErr) {
		return replayDiscarded
	}

	var netErr *offline.NetworkError
	if !errors.As(err, &netErr) || netErr.StatusCode == 0 {
		return replayRetry
	}

	switch status := netErr.StatusCode; {
	case status == http.StatusConflict, status == http.StatusPreconditionFailed:
		return replayConflict
	case status == http.StatusNotFound && op.OperationType != offline.OperationCreate:
		return replayDiscarded
	case status == http.StatusUnauthorized, status == http.StatusForbidden,
		status == http.StatusRequestTimeout, status == http.StatusTooManyRequests:
		return replayRetry
	case status >= 400 && status < 500:
		return replayDiscarded
	default:
		return replayRetry
	}
}

// SyncPendingOperations replays queued operations in sequence order.
//
// A replayed operation is marked synced, then deleted. Conflicting and
// rejected operations are logged and deleted. The first retryable failure
// is recorded on the operation and stops the replay so later operations never
// overtake it. Only storage failures are returned.
func (m *CacheManager) SyncPendingOperations(ctx context.Context) (*SyncResult, error) {
	m.syncMu.Lock()
	defer m.syncMu.Unlock()

	ctx, span := telemetry.StartServiceSpan(ctx, "cache_manager", "sync_pending")
	defer span.End()

	ops, err := m.store.ListOperations(ctx)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	result := &SyncResult{}
	defer func() {
		m.metrics.RecordPending(ctx, result.Remaining)
		telemetry.SetAttributes(span,
			"replayed", result.Replayed,
			"conflicts", result.Conflicts,
			"discarded", result.Discarded,
			"remaining", result.Remaining,
		)
	}()

	for i, op := range ops {
		// left over when a previous run stopped between mark and delete
		if op.Synced {
			if err := m.store.DeleteOperation(ctx, op.ID); err != nil {
				result.Remaining = len(ops) - i
				return result, err
			}
			continue
		}

		logger := m.logger.With(
			zap.String("operation_id", op.ID.String()),
			zap.Int64("sequence", op.Sequence),
			zap.String("operation_type", string(op.OperationType)),
			zap.String("entity_type", op.EntityType.String()),
			zap.String("entity_id", op.EntityID),
		)

		replayErr := m.remote.Replay(ctx, op)
		switch classifyReplay(op, replayErr) {
		case replaySucceeded:
			if err := m.store.MarkOperationSynced(ctx, op.ID, m.now()); err != nil {
				result.Remaining = len(ops) - i
				return result, err
			}
			result.Replayed++
			m.metrics.RecordReplay(ctx, string(op.OperationType), telemetry.OutcomeReplayed)
			logger.Debug("Operation replayed")

		case replayConflict:
			result.Conflicts++
			m.metrics.RecordReplay(ctx, string(op.OperationType), telemetry.OutcomeConflict)
			logger.Warn("Replay conflict, keeping the server version", zap.Error(replayErr))

		case replayDiscarded:
			result.Discarded++
			m.metrics.RecordReplay(ctx, string(op.OperationType), telemetry.OutcomeDiscarded)
			logger.Warn("Replay rejected by the backend, discarding operation", zap.Error(replayErr))

		case replayRetry:
			m.metrics.RecordReplay(ctx, string(op.OperationType), telemetry.OutcomeFailed)
			result.Remaining = len(ops) - i
			result.LastError = replayErr.Error()
			logger.Warn("Replay stopped, will retry", zap.Int("remaining", result.Remaining), zap.Error(replayErr))
			if err := m.store.RecordOperationFailure(ctx, op.ID, replayErr.Error()); err != nil {
				return result, err
			}
			return result, nil
		}

		if err := m.store.DeleteOperation(ctx, op.ID); err != nil {
			// the operation stays; a synced one is cleaned up on the next run
			result.Remaining = len(ops) - i
			return result, err
		}
	}

	if len(ops) > 0 {
		m.logger.Info("Pending operations synced",
			zap.Int("replayed", result.Replayed),
			zap.Int("conflicts", result.Conflicts),
			zap.Int("discarded", result.Discarded),
		)
	}
	return result, nil
}
