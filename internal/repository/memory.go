package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/svirmi/lifejar-payments/internal/model"
)

// MemoryStore is a process-local Store. The mutex plays the role the row
// lock and unique index play in Postgres, so the same races are covered.
type MemoryStore struct {
	mu            sync.Mutex
	jars          map[string]model.Jar
	contributions map[string]model.Contribution // keyed by reference
	payments      map[string]model.PendingPayment
	now           func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jars:          make(map[string]model.Jar),
		contributions: make(map[string]model.Contribution),
		payments:      make(map[string]model.PendingPayment),
		now:           time.Now,
	}
}

func (s *MemoryStore) CreateJar(_ context.Context, jar *model.Jar) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jars[jar.ID]; ok {
		return ErrDuplicateJar
	}
	now := s.now().UTC()
	jar.CreatedAt, jar.UpdatedAt = now, now
	s.jars[jar.ID] = *jar
	return nil
}

func (s *MemoryStore) GetJar(_ context.Context, id string) (*model.Jar, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jars[id]
	if !ok {
		return nil, ErrJarNotFound
	}
	return &j, nil
}

func (s *MemoryStore) DeleteJar(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jars[id]; !ok {
		return ErrJarNotFound
	}
	delete(s.jars, id)
	for ref, c := range s.contributions {
		if c.JarID == id {
			delete(s.contributions, ref)
		}
	}
	return nil
}

func (s *MemoryStore) IncrementJarAmount(_ context.Context, jarID string, amount decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jars[jarID]
	if !ok {
		return ErrJarNotFound
	}
	j.CurrentAmount = j.CurrentAmount.Add(amount)
	j.UpdatedAt = s.now().UTC()
	s.jars[jarID] = j
	return nil
}

func (s *MemoryStore) InsertContribution(_ context.Context, c *model.Contribution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jars[c.JarID]; !ok {
		return ErrJarNotFound
	}
	if _, ok := s.contributions[c.Reference]; ok {
		return ErrDuplicateContribution
	}
	c.CreatedAt = s.now().UTC()
	s.contributions[c.Reference] = *c
	return nil
}

func (s *MemoryStore) DeleteContribution(_ context.Context, c *model.Contribution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.contributions[c.Reference]
	if !ok || existing.ID != c.ID {
		return ErrContributionNotFound
	}
	delete(s.contributions, c.Reference)
	return nil
}

func (s *MemoryStore) GetContributionByReference(_ context.Context, reference string) (*model.Contribution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contributions[reference]
	if !ok {
		return nil, ErrContributionNotFound
	}
	return &c, nil
}

func (s *MemoryStore) ListContributions(_ context.Context, jarID string) ([]model.Contribution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Contribution
	for _, c := range s.contributions {
		if c.JarID == jarID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) CreatePendingPayment(_ context.Context, p *model.PendingPayment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.payments[p.ID]; ok {
		return ErrDuplicatePendingPayment
	}
	now := s.now().UTC()
	p.CreatedAt, p.UpdatedAt = now, now
	s.payments[p.ID] = *p
	return nil
}

func (s *MemoryStore) GetPendingPayment(_ context.Context, id string) (*model.PendingPayment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[id]
	if !ok {
		return nil, ErrPendingPaymentNotFound
	}
	return &p, nil
}

func (s *MemoryStore) UpdatePendingPaymentStatus(_ context.Context, id string, status model.PendingPaymentStatus, providerTransactionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[id]
	if !ok {
		return ErrPendingPaymentNotFound
	}
	if p.Status == model.PaymentSuccess && status != model.PaymentSuccess {
		return ErrPaymentSettled
	}
	p.Status = status
	if providerTransactionID != "" {
		p.ProviderTransactionID = providerTransactionID
	}
	p.UpdatedAt = s.now().UTC()
	s.payments[id] = p
	return nil
}
