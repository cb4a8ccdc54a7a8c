package handler

import (
	"errors"
	"net/http"
	"testing"

	offlineapp "github.com/erp/offline/internal/application/offline"
	"github.com/erp/offline/internal/domain/offline"
	"github.com/erp/offline/internal/interfaces/http/dto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOperationHandler_EnqueueAndList(t *testing.T) {
	env := newHandlerEnv(t)

	w := env.do(http.MethodPost, "/operations",
		`{"operation_type":"update","entity_type":"clients","entity_id":"c-1","payload":{"phone":"555-0101"}}`)
	requireStatus(t, w, http.StatusCreated)
	var first offline.PendingOperation
	decodeData(t, w, &first)
	assert.Equal(t, offline.OperationUpdate, first.OperationType)
	assert.Equal(t, offline.EntityTypeClient, first.EntityType)
	assert.JSONEq(t, `{"phone":"555-0101"}`, string(first.Payload))

	w = env.do(http.MethodPost, "/operations",
		`{"operation_type":"create","entity_type":"providers","payload":{"name":"New supplier"}}`)
	requireStatus(t, w, http.StatusCreated)
	var second offline.PendingOperation
	decodeData(t, w, &second)
	assert.Greater(t, second.Sequence, first.Sequence)

	w = env.do(http.MethodGet, "/operations", "")
	requireStatus(t, w, http.StatusOK)
	resp := decodeResponse(t, w)
	require.NotNil(t, resp.Meta)
	assert.Equal(t, int64(2), resp.Meta.Total)

	var ops []offline.PendingOperation
	decodeData(t, w, &ops)
	require.Len(t, ops, 2)
	assert.Equal(t, first.ID, ops[0].ID)
	assert.Equal(t, second.ID, ops[1].ID)
}

func TestOperationHandler_EnqueueValidation(t *testing.T) {
	env := newHandlerEnv(t)

	tests := []struct {
		name   string
		body   string
		code   string
		fields []string
	}{
		{
			name:   "missing fields",
			body:   `{}`,
			code:   dto.ErrCodeValidation,
			fields: []string{"operation_type", "entity_type"},
		},
		{
			name:   "unknown entity type",
			body:   `{"operation_type":"delete","entity_type":"invoices","entity_id":"i-1"}`,
			code:   dto.ErrCodeValidation,
			fields: []string{"entity_type"},
		},
		{
			name:   "update without id",
			body:   `{"operation_type":"update","entity_type":"clients","payload":{}}`,
			code:   dto.ErrCodeValidation,
			fields: []string{"entity_id"},
		},
		{
			name: "malformed json",
			body: `{"operation_type":`,
			code: dto.ErrCodeInvalidJSON,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(http.MethodPost, "/operations", tt.body)
			requireStatus(t, w, http.StatusBadRequest)
			resp := decodeResponse(t, w)
			assert.Equal(t, tt.code, resp.Error.Code)

			fields := make([]string, 0, len(resp.Error.Details))
			for _, d := range resp.Error.Details {
				fields = append(fields, d.Field)
			}
			for _, f := range tt.fields {
				assert.Contains(t, fields, f)
			}
		})
	}

	ops, err := env.manager.ListPendingOperations(t.Context())
	require.NoError(t, err)
	assert.Empty(t, ops, "rejected requests are not queued")
}

func TestOperationHandler_Sync(t *testing.T) {
	env := newHandlerEnv(t)
	requireStatus(t, env.do(http.MethodPost, "/operations",
		`{"operation_type":"delete","entity_type":"providers","entity_id":"p-1"}`), http.StatusCreated)
	requireStatus(t, env.do(http.MethodPost, "/operations",
		`{"operation_type":"update","entity_type":"providers","entity_id":"p-2","payload":{"name":"Renamed"}}`), http.StatusCreated)

	w := env.do(http.MethodPost, "/operations/sync", "")
	requireStatus(t, w, http.StatusOK)
	var result offlineapp.SyncResult
	decodeData(t, w, &result)
	assert.Equal(t, 2, result.Replayed)
	assert.Zero(t, result.Remaining)
	require.Len(t, env.remote.replayed, 2)
	assert.Equal(t, "p-1", env.remote.replayed[0].EntityID)

	w = env.do(http.MethodGet, "/status", "")
	requireStatus(t, w, http.StatusOK)
	var status offlineapp.CoordinatorStatus
	decodeData(t, w, &status)
	assert.Equal(t, offlineapp.StateUninitialized, status.State)
	assert.True(t, status.Online)
	require.NotNil(t, status.LastSync)
	assert.Equal(t, 2, status.LastSync.Replayed)
}

func TestOperationHandler_SyncStopsOnRetryableFailure(t *testing.T) {
	env := newHandlerEnv(t)
	requireStatus(t, env.do(http.MethodPost, "/operations",
		`{"operation_type":"delete","entity_type":"clients","entity_id":"c-1"}`), http.StatusCreated)
	env.remote.replayErr = &offline.NetworkError{Endpoint: "DELETE /clients/c-1", Err: errors.New("connection reset")}

	w := env.do(http.MethodPost, "/operations/sync", "")
	requireStatus(t, w, http.StatusOK)
	var result offlineapp.SyncResult
	decodeData(t, w, &result)
	assert.Zero(t, result.Replayed)
	assert.Equal(t, 1, result.Remaining)
	assert.Contains(t, result.LastError, "connection reset")
}

func TestOperationHandler_ClosedStore(t *testing.T) {
	env := newHandlerEnv(t)
	require.NoError(t, env.store.Close())

	w := env.do(http.MethodPost, "/operations/sync", "")
	requireStatus(t, w, http.StatusServiceUnavailable)
	assert.Equal(t, dto.ErrCodeStorage, decodeResponse(t, w).Error.Code)
}
