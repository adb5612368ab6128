package repository

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/svirmi/lifejar-payments/internal/model"
)

func seedJar(t *testing.T, s *MemoryStore, id string) {
	t.Helper()
	err := s.CreateJar(context.Background(), &model.Jar{
		ID: id, OwnerID: "owner", Title: "t", TargetAmount: decimal.NewFromInt(1000), Currency: "KES", IsActive: true,
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestMemoryStoreContributionUniqueness(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seedJar(t, s, "j1")

	c := &model.Contribution{ID: "c1", JarID: "j1", Reference: "jar_j1_1", Amount: decimal.NewFromInt(5), Status: model.ContributionConfirmed}
	if err := s.InsertContribution(ctx, c); err != nil {
		t.Fatal(err)
	}
	dup := &model.Contribution{ID: "c2", JarID: "j1", Reference: "jar_j1_1", Amount: decimal.NewFromInt(5)}
	if err := s.InsertContribution(ctx, dup); !errors.Is(err, ErrDuplicateContribution) {
		t.Fatalf("err = %v, want ErrDuplicateContribution", err)
	}
	if err := s.DeleteContribution(ctx, dup); !errors.Is(err, ErrContributionNotFound) {
		t.Fatalf("deleting by a different id must not remove the original: %v", err)
	}
	if err := s.DeleteContribution(ctx, c); err != nil {
		t.Fatal(err)
	}
	if _, err := s.GetContributionByReference(ctx, "jar_j1_1"); !errors.Is(err, ErrContributionNotFound) {
		t.Fatalf("err = %v", err)
	}
}

func TestMemoryStoreInsertForMissingJar(t *testing.T) {
	s := NewMemoryStore()
	err := s.InsertContribution(context.Background(), &model.Contribution{ID: "c", JarID: "nope", Reference: "jar_nope_1"})
	if !errors.Is(err, ErrJarNotFound) {
		t.Fatalf("err = %v", err)
	}
}

func TestMemoryStoreIncrement(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seedJar(t, s, "j1")

	if err := s.IncrementJarAmount(ctx, "j1", decimal.RequireFromString("10.50")); err != nil {
		t.Fatal(err)
	}
	if err := s.IncrementJarAmount(ctx, "j1", decimal.RequireFromString("0.25")); err != nil {
		t.Fatal(err)
	}
	j, _ := s.GetJar(ctx, "j1")
	if !j.CurrentAmount.Equal(decimal.RequireFromString("10.75")) {
		t.Errorf("current = %s", j.CurrentAmount)
	}
	if err := s.DeleteJar(ctx, "j1"); err != nil {
		t.Fatal(err)
	}
	if err := s.IncrementJarAmount(ctx, "j1", decimal.NewFromInt(1)); !errors.Is(err, ErrJarNotFound) {
		t.Fatalf("err = %v", err)
	}
}

func TestMemoryStorePendingPayments(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	p := &model.PendingPayment{ID: "jar_j1_1", JarID: "j1", Amount: decimal.NewFromInt(3), Status: model.PaymentInitiated, Channel: model.ChannelRedirect}
	if err := s.CreatePendingPayment(ctx, p); err != nil {
		t.Fatal(err)
	}
	if err := s.CreatePendingPayment(ctx, p); !errors.Is(err, ErrDuplicatePendingPayment) {
		t.Fatalf("err = %v", err)
	}
	if err := s.UpdatePendingPaymentStatus(ctx, "jar_j1_1", model.PaymentSuccess, "TX1"); err != nil {
		t.Fatal(err)
	}
	got, _ := s.GetPendingPayment(ctx, "jar_j1_1")
	if got.Status != model.PaymentSuccess || got.ProviderTransactionID != "TX1" {
		t.Errorf("got %+v", got)
	}
	if err := s.UpdatePendingPaymentStatus(ctx, "missing", model.PaymentFailed, ""); !errors.Is(err, ErrPendingPaymentNotFound) {
		t.Fatalf("err = %v", err)
	}
}

func TestMemoryStoreSuccessIsTerminal(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	s.CreatePendingPayment(ctx, &model.PendingPayment{ID: "jar_j1_2", JarID: "j1", Amount: decimal.NewFromInt(3), Status: model.PaymentSuccess})

	if err := s.UpdatePendingPaymentStatus(ctx, "jar_j1_2", model.PaymentFailed, "TX2"); !errors.Is(err, ErrPaymentSettled) {
		t.Fatalf("err = %v, want ErrPaymentSettled", err)
	}
	got, _ := s.GetPendingPayment(ctx, "jar_j1_2")
	if got.Status != model.PaymentSuccess || got.ProviderTransactionID != "" {
		t.Errorf("got %+v", got)
	}
	if err := s.UpdatePendingPaymentStatus(ctx, "jar_j1_2", model.PaymentSuccess, "TX2"); err != nil {
		t.Fatal(err)
	}
}
