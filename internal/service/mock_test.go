package service

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/svirmi/lifejar-payments/internal/gateway"
	"github.com/svirmi/lifejar-payments/internal/ledger"
	"github.com/svirmi/lifejar-payments/internal/model"
	"github.com/svirmi/lifejar-payments/internal/repository"
)

type MockGateway struct {
	InitiatePushFunc      func(ctx context.Context, req gateway.PushRequest) (*gateway.PushResult, error)
	InitiateRedirectFunc  func(ctx context.Context, req gateway.RedirectRequest) (*gateway.RedirectResult, error)
	VerifyTransactionFunc func(ctx context.Context, id string) (*gateway.Verification, error)
}

func (m *MockGateway) InitiatePush(ctx context.Context, req gateway.PushRequest) (*gateway.PushResult, error) {
	if m.InitiatePushFunc != nil {
		return m.InitiatePushFunc(ctx, req)
	}
	return &gateway.PushResult{Accepted: true, ProviderTransactionID: "PH-1"}, nil
}

func (m *MockGateway) InitiateRedirect(ctx context.Context, req gateway.RedirectRequest) (*gateway.RedirectResult, error) {
	if m.InitiateRedirectFunc != nil {
		return m.InitiateRedirectFunc(ctx, req)
	}
	return &gateway.RedirectResult{TrackingID: "trk-1", RedirectURL: "https://pay.test/checkout/trk-1"}, nil
}

func (m *MockGateway) VerifyTransaction(ctx context.Context, id string) (*gateway.Verification, error) {
	if m.VerifyTransactionFunc != nil {
		return m.VerifyTransactionFunc(ctx, id)
	}
	return &gateway.Verification{Status: gateway.StatusPending}, nil
}

type capturePublisher struct {
	mu     sync.Mutex
	topics []string
}

func (p *capturePublisher) Publish(_ context.Context, _ string, topic string, _ []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// seedStore returns a memory store holding an active KES jar "123" and an
// inactive jar "closed".
func seedStore(t *testing.T) *repository.MemoryStore {
	t.Helper()
	store := repository.NewMemoryStore()
	for _, j := range []model.Jar{
		{ID: "123", OwnerID: "u1", Title: "School fees", TargetAmount: decimal.NewFromInt(50000), Currency: "KES", IsActive: true},
		{ID: "closed", OwnerID: "u1", Title: "Old", TargetAmount: decimal.NewFromInt(100), Currency: "KES"},
	} {
		if err := store.CreateJar(context.Background(), &j); err != nil {
			t.Fatal(err)
		}
	}
	return store
}

func newLedger(store ledger.Store, pub *capturePublisher) *ledger.Ledger {
	return ledger.New(store, pub, discardLogger())
}
