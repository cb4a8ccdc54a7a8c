// Package testutil provides helpers shared by the offline agent's tests: a
// fake ERP backend, reference data fixtures and assertions on the API envelope.
package testutil

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/erp/offline/internal/domain/offline"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// Providers returns n active providers with ids p-1..p-n
func Providers(n int) []offline.Provider {
	providers := make([]offline.Provider, n)
	for i := range providers {
		providers[i] = offline.Provider{
			ID:          fmt.Sprintf("p-%d", i+1),
			Code:        fmt.Sprintf("SUP%03d", i+1),
			Name:        fmt.Sprintf("Supplier %d", i+1),
			Status:      "active",
			CreditDays:  30,
			CreditLimit: decimal.NewFromInt(5000),
		}
	}
	return providers
}

// Clients returns n active clients with ids c-1..c-n
func Clients(n int) []offline.Client {
	clients := make([]offline.Client, n)
	for i := range clients {
		clients[i] = offline.Client{
			ID:          fmt.Sprintf("c-%d", i+1),
			Code:        fmt.Sprintf("CUS%03d", i+1),
			Name:        fmt.Sprintf("Customer %d", i+1),
			Status:      "active",
			CreditLimit: decimal.NewFromInt(800),
		}
	}
	return clients
}

// ContextWithTimeout creates a context that is cancelled when the test ends
// or after timeout, whichever comes first.
func ContextWithTimeout(t *testing.T, timeout time.Duration) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	t.Cleanup(cancel)
	return ctx
}
