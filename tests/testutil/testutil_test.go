package testutil

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/erp/offline/internal/domain/offline"
	"github.com/erp/offline/internal/infrastructure/remote"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newRemote(t *testing.T, b *FakeBackend) *remote.Client {
	t.Helper()
	client, err := remote.NewClient(b.RemoteConfig(), zaptest.NewLogger(t))
	require.NoError(t, err)
	return client
}

func TestFakeBackend_PagedFetch(t *testing.T) {
	b := NewFakeBackend(t)
	b.SetProviders(Providers(5))
	b.SetClients(Clients(1))
	client := newRemote(t, b)
	ctx := ContextWithTimeout(t, 5*time.Second)

	providers, err := client.FetchProviders(ctx)
	require.NoError(t, err)
	require.Len(t, providers, 5, "three pages of two")
	assert.Equal(t, "p-5", providers[4].ID)

	clients, err := client.FetchClients(ctx)
	require.NoError(t, err)
	assert.Len(t, clients, 1)
}

func TestFakeBackend_Down(t *testing.T) {
	b := NewFakeBackend(t)
	client := newRemote(t, b)
	ctx := ContextWithTimeout(t, 5*time.Second)

	require.NoError(t, client.Health(ctx))

	b.SetDown(true)
	err := client.Health(ctx)
	var netErr *offline.NetworkError
	require.True(t, errors.As(err, &netErr))
	assert.Equal(t, http.StatusServiceUnavailable, netErr.StatusCode)
}

func TestFakeBackend_RecordsReplays(t *testing.T) {
	b := NewFakeBackend(t)
	client := newRemote(t, b)
	ctx := ContextWithTimeout(t, 5*time.Second)

	op, err := offline.NewPendingOperation(offline.OperationUpdate, offline.EntityTypeClient, "c-9",
		[]byte(`{"name":"Renamed"}`), time.Now())
	require.NoError(t, err)
	require.NoError(t, client.Replay(ctx, *op))

	b.SetReplayStatus(http.StatusConflict)
	err = client.Replay(ctx, *op)
	var netErr *offline.NetworkError
	require.True(t, errors.As(err, &netErr))
	assert.Equal(t, http.StatusConflict, netErr.StatusCode)

	replays := b.Replays()
	require.Len(t, replays, 2)
	assert.Equal(t, http.MethodPut, replays[0].Method)
	assert.Equal(t, "/clients/c-9", replays[0].Path)
	assert.JSONEq(t, `{"name":"Renamed"}`, string(replays[0].Body))
}

func TestAssertErrorResponse(t *testing.T) {
	b := NewFakeBackend(t)
	b.SetDown(true)

	w := Do(b.Server.Config.Handler, http.MethodGet, "/providers", "")
	AssertErrorResponse(t, w, http.StatusServiceUnavailable, "ERR_UNAVAILABLE")
}
