package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/svirmi/lifejar-payments/internal/correlation"
	"github.com/svirmi/lifejar-payments/internal/events"
	"github.com/svirmi/lifejar-payments/internal/model"
	"github.com/svirmi/lifejar-payments/internal/repository"
)

const testSecret = "whsec_test"

type webhookFixture struct {
	store *repository.MemoryStore
	svc   *WebhookService
	pub   *capturePublisher
}

func newWebhookFixture(t *testing.T, secret, env string) *webhookFixture {
	t.Helper()
	store := seedStore(t)
	pub := &capturePublisher{}
	svc := NewWebhookService(store, newLedger(store, pub), NewSignatureVerifier(secret, env, discardLogger()), pub, discardLogger())
	return &webhookFixture{store: store, svc: svc, pub: pub}
}

func signed(n model.WebhookNotification) model.WebhookNotification {
	n.Signature = SignNotification(testSecret, n)
	return n
}

func notification(ref, status string, amount int64) model.WebhookNotification {
	return model.WebhookNotification{
		TransactionID: "tx-" + ref,
		Status:        status,
		Amount:        decimal.NewFromInt(amount),
		Currency:      "KES",
		Reference:     ref,
	}
}

func (f *webhookFixture) jarAmount(t *testing.T) decimal.Decimal {
	t.Helper()
	jar, err := f.store.GetJar(context.Background(), "123")
	if err != nil {
		t.Fatal(err)
	}
	return jar.CurrentAmount
}

func (f *webhookFixture) contributions(t *testing.T) []model.Contribution {
	t.Helper()
	list, err := f.store.ListContributions(context.Background(), "123")
	if err != nil {
		t.Fatal(err)
	}
	return list
}

func TestWebhookSuccessThenRedelivery(t *testing.T) {
	f := newWebhookFixture(t, testSecret, "production")
	n := signed(notification("jar_123_999", "success", 500))

	out, err := f.svc.HandleNotification(context.Background(), n)
	if err != nil || out != OutcomeApplied {
		t.Fatalf("first delivery: %v, %v", out, err)
	}
	out, err = f.svc.HandleNotification(context.Background(), n)
	if err != nil || out != OutcomeDuplicate {
		t.Fatalf("second delivery: %v, %v", out, err)
	}

	if got := f.contributions(t); len(got) != 1 || !got[0].Amount.Equal(decimal.NewFromInt(500)) {
		t.Errorf("contributions = %+v", got)
	}
	if !f.jarAmount(t).Equal(decimal.NewFromInt(500)) {
		t.Errorf("current = %s", f.jarAmount(t))
	}
}

func TestWebhookFailedPayment(t *testing.T) {
	f := newWebhookFixture(t, testSecret, "production")

	out, err := f.svc.HandleNotification(context.Background(), signed(notification("jar_123_1000", "failed", 0)))
	if err != nil || out != OutcomePaymentFailed {
		t.Fatalf("got %v, %v", out, err)
	}
	if len(f.contributions(t)) != 0 || !f.jarAmount(t).IsZero() {
		t.Error("failed payment must not touch the ledger")
	}
	p, err := f.store.GetPendingPayment(context.Background(), "jar_123_1000")
	if err != nil {
		t.Fatalf("failed payment should be recorded: %v", err)
	}
	if p.Status != model.PaymentFailed || p.JarID != "123" {
		t.Errorf("pending = %+v", p)
	}
	if len(f.pub.topics) != 1 || f.pub.topics[0] != events.TopicPaymentFailed {
		t.Errorf("topics = %v", f.pub.topics)
	}
}

func TestWebhookFailedUpdatesExistingPending(t *testing.T) {
	f := newWebhookFixture(t, testSecret, "production")
	f.store.CreatePendingPayment(context.Background(), &model.PendingPayment{
		ID: "jar_123_7", JarID: "123", Amount: decimal.NewFromInt(10), ContributorName: "Wanjiru",
		Channel: model.ChannelPush, Status: model.PaymentInitiated,
	})

	if _, err := f.svc.HandleNotification(context.Background(), signed(notification("jar_123_7", "CANCELLED", 10))); err != nil {
		t.Fatal(err)
	}
	p, _ := f.store.GetPendingPayment(context.Background(), "jar_123_7")
	if p.Status != model.PaymentFailed || p.ContributorName != "Wanjiru" {
		t.Errorf("pending = %+v", p)
	}
}

func TestWebhookPendingWritesNothing(t *testing.T) {
	f := newWebhookFixture(t, testSecret, "production")

	out, err := f.svc.HandleNotification(context.Background(), signed(notification("jar_123_5", "pending", 100)))
	if err != nil || out != OutcomePending {
		t.Fatalf("got %v, %v", out, err)
	}
	if _, err := f.store.GetPendingPayment(context.Background(), "jar_123_5"); !errors.Is(err, repository.ErrPendingPaymentNotFound) {
		t.Error("pending notification must not write")
	}
	if len(f.contributions(t)) != 0 {
		t.Error("pending notification must not apply")
	}
}

func TestWebhookAuthenticityGate(t *testing.T) {
	tests := []struct {
		name   string
		secret string
		env    string
		mutate func(*model.WebhookNotification)
	}{
		{"missing signature", testSecret, "production", func(n *model.WebhookNotification) { n.Signature = "" }},
		{"wrong signature", testSecret, "production", func(n *model.WebhookNotification) { n.Signature = SignNotification("other", *n) }},
		{"tampered amount", testSecret, "production", func(n *model.WebhookNotification) { n.Amount = decimal.NewFromInt(50000) }},
		{"not hex", testSecret, "production", func(n *model.WebhookNotification) { n.Signature = "zzzz" }},
		{"no secret in production", "", "production", func(*model.WebhookNotification) {}},
		{"missing signature without secret", "", "development", func(n *model.WebhookNotification) { n.Signature = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newWebhookFixture(t, tt.secret, tt.env)
			n := signed(notification("jar_123_42", "success", 500))
			tt.mutate(&n)

			_, err := f.svc.HandleNotification(context.Background(), n)
			if !errors.Is(err, ErrAuthenticity) {
				t.Fatalf("err = %v, want ErrAuthenticity", err)
			}
			if len(f.contributions(t)) != 0 || !f.jarAmount(t).IsZero() {
				t.Fatal("ledger mutated by unauthenticated webhook")
			}
		})
	}
}

func TestWebhookSignaturePrefixAccepted(t *testing.T) {
	f := newWebhookFixture(t, testSecret, "production")
	n := notification("jar_123_43", "success", 20)
	n.Signature = "sha256=" + SignNotification(testSecret, n)

	if out, err := f.svc.HandleNotification(context.Background(), n); err != nil || out != OutcomeApplied {
		t.Fatalf("got %v, %v", out, err)
	}
}

func TestWebhookNoSecretOutsideProduction(t *testing.T) {
	f := newWebhookFixture(t, "", "development")
	n := notification("jar_123_44", "success", 20)
	n.Signature = "anything"

	if out, err := f.svc.HandleNotification(context.Background(), n); err != nil || out != OutcomeApplied {
		t.Fatalf("got %v, %v", out, err)
	}
}

func TestWebhookReferenceErrors(t *testing.T) {
	f := newWebhookFixture(t, testSecret, "production")

	for _, ref := range []string{"", "payment_123_1", "jar_123", "jar__1", "jar_nope_1"} {
		_, err := f.svc.HandleNotification(context.Background(), signed(notification(ref, "success", 10)))
		var re *ReferenceError
		if !errors.As(err, &re) {
			t.Errorf("%q: err = %v, want ReferenceError", ref, err)
		}
	}

	_, err := f.svc.HandleNotification(context.Background(), signed(notification("jar_123", "success", 10)))
	var de *correlation.DecodeError
	if !errors.As(err, &de) {
		t.Errorf("decode failure should be preserved: %v", err)
	}
	_, err = f.svc.HandleNotification(context.Background(), signed(notification("jar_nope_1", "success", 10)))
	if !errors.Is(err, repository.ErrJarNotFound) {
		t.Errorf("unknown jar should wrap ErrJarNotFound: %v", err)
	}
	if len(f.contributions(t)) != 0 {
		t.Error("ledger mutated")
	}
}

func TestWebhookValidation(t *testing.T) {
	f := newWebhookFixture(t, testSecret, "production")

	zero := signed(notification("jar_123_50", "success", 0))
	usd := notification("jar_123_51", "success", 10)
	usd.Currency = "USD"
	usd = signed(usd)

	for _, n := range []model.WebhookNotification{zero, usd} {
		_, err := f.svc.HandleNotification(context.Background(), n)
		var ve *ValidationError
		if !errors.As(err, &ve) {
			t.Errorf("%s: err = %v, want ValidationError", n.Reference, err)
		}
	}
}

func TestWebhookRejectsSubCentAmounts(t *testing.T) {
	f := newWebhookFixture(t, testSecret, "production")

	replayed := signed(notification("jar_123_52", "success", 500))
	replayed.Amount = decimal.RequireFromString("500.004")
	tiny := notification("jar_123_53", "success", 0)
	tiny.Amount = decimal.RequireFromString("0.001")
	tiny = signed(tiny)

	for _, n := range []model.WebhookNotification{replayed, tiny} {
		_, err := f.svc.HandleNotification(context.Background(), n)
		var ve *ValidationError
		if !errors.As(err, &ve) || ve.Field != "amount" {
			t.Errorf("%s: err = %v, want ValidationError on amount", n.Reference, err)
		}
	}
	if len(f.contributions(t)) != 0 || !f.jarAmount(t).IsZero() {
		t.Error("ledger mutated")
	}
}

func TestWebhookLateFailureAfterSuccess(t *testing.T) {
	tests := []struct {
		name        string
		withPending bool
	}{
		{"with pending payment", true},
		{"without pending payment", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newWebhookFixture(t, testSecret, "production")
			ctx := context.Background()
			if tt.withPending {
				f.store.CreatePendingPayment(ctx, &model.PendingPayment{
					ID: "jar_123_777", JarID: "123", Amount: decimal.NewFromInt(500), ContributorName: "Achieng",
					Channel: model.ChannelPush, Status: model.PaymentInitiated,
				})
			}

			if out, err := f.svc.HandleNotification(ctx, signed(notification("jar_123_777", "success", 500))); err != nil || out != OutcomeApplied {
				t.Fatalf("success: %v, %v", out, err)
			}
			out, err := f.svc.HandleNotification(ctx, signed(notification("jar_123_777", "failed", 500)))
			if err != nil || out != OutcomeDuplicate {
				t.Fatalf("late failure: %v, %v", out, err)
			}

			p, err := f.store.GetPendingPayment(ctx, "jar_123_777")
			switch {
			case tt.withPending && (err != nil || p.Status != model.PaymentSuccess):
				t.Errorf("pending = %+v, %v", p, err)
			case !tt.withPending && !errors.Is(err, repository.ErrPendingPaymentNotFound):
				t.Errorf("no failed record expected, got %+v, %v", p, err)
			}
			if len(f.contributions(t)) != 1 || !f.jarAmount(t).Equal(decimal.NewFromInt(500)) {
				t.Errorf("current = %s", f.jarAmount(t))
			}
			for _, topic := range f.pub.topics {
				if topic == events.TopicPaymentFailed {
					t.Error("payment.failed published for a confirmed payment")
				}
			}
		})
	}
}

func TestWebhookCurrencyAliasAndDefault(t *testing.T) {
	f := newWebhookFixture(t, testSecret, "production")

	ksh := notification("jar_123_60", "success", 10)
	ksh.Currency = "ksh"
	empty := notification("jar_123_61", "success", 15)
	empty.Currency = ""

	for _, n := range []model.WebhookNotification{signed(ksh), signed(empty)} {
		if _, err := f.svc.HandleNotification(context.Background(), n); err != nil {
			t.Fatalf("%s: %v", n.Reference, err)
		}
	}
	for _, c := range f.contributions(t) {
		if c.Currency != "KES" {
			t.Errorf("currency = %q", c.Currency)
		}
	}
	if !f.jarAmount(t).Equal(decimal.NewFromInt(25)) {
		t.Errorf("current = %s", f.jarAmount(t))
	}
}

func TestWebhookAttributionFromPendingPayment(t *testing.T) {
	f := newWebhookFixture(t, testSecret, "production")
	ctx := context.Background()
	f.store.CreatePendingPayment(ctx, &model.PendingPayment{
		ID: "jar_123_70", JarID: "123", Amount: decimal.NewFromInt(300), ContributorName: "Achieng",
		ContributorEmail: "a@example.com", Channel: model.ChannelRedirect, Status: model.PaymentInitiated,
	})

	if _, err := f.svc.HandleNotification(ctx, signed(notification("jar_123_70", "COMPLETED", 300))); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.HandleNotification(ctx, signed(notification("jar_123_71", "success", 5))); err != nil {
		t.Fatal(err)
	}

	named, _ := f.store.GetContributionByReference(ctx, "jar_123_70")
	if named.ContributorName != "Achieng" || named.IsAnonymous || named.ContributorEmail != "a@example.com" {
		t.Errorf("named = %+v", named)
	}
	anon, _ := f.store.GetContributionByReference(ctx, "jar_123_71")
	if anon.ContributorName != model.AnonymousContributor || !anon.IsAnonymous {
		t.Errorf("anon = %+v", anon)
	}
	p, _ := f.store.GetPendingPayment(ctx, "jar_123_70")
	if p.Status != model.PaymentSuccess || p.ProviderTransactionID != "tx-jar_123_70" {
		t.Errorf("pending = %+v", p)
	}
}

func TestWebhookConcurrentDeliveries(t *testing.T) {
	f := newWebhookFixture(t, testSecret, "production")
	a := signed(notification("jar_123_a", "success", 120))
	b := signed(notification("jar_123_b", "success", 380))

	var wg sync.WaitGroup
	for _, n := range []model.WebhookNotification{a, b, a, b} {
		wg.Add(1)
		go func(n model.WebhookNotification) {
			defer wg.Done()
			if _, err := f.svc.HandleNotification(context.Background(), n); err != nil {
				t.Error(err)
			}
		}(n)
	}
	wg.Wait()

	if got := f.contributions(t); len(got) != 2 {
		t.Fatalf("contributions = %d, want 2", len(got))
	}
	if !f.jarAmount(t).Equal(decimal.NewFromInt(500)) {
		t.Errorf("current = %s, want 500", f.jarAmount(t))
	}
}

func TestSignNotificationAmountFormatting(t *testing.T) {
	a := notification("jar_123_1", "success", 500)
	b := a
	b.Amount = decimal.RequireFromString("500.00")
	if SignNotification(testSecret, a) != SignNotification(testSecret, b) {
		t.Error("equal amounts must sign identically")
	}
}
