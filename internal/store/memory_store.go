package store

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/jhologic12/eshop-mvp/domain"
)

// MemoryStore implements every store interface with in-memory storage.
// A single lock guards all maps, so CommitCheckout is atomic with respect to
// every other operation.
type MemoryStore struct {
	mu       sync.RWMutex
	products map[string]domain.Product    // productID -> product
	carts    map[string][]domain.CartLine // userID -> lines in insertion order
	orders   []domain.OrderOutcome
	attempts []domain.PaymentAttempt
	cases    map[string]domain.ReconciliationCase
	outbox   []*domain.OutboxEvent
	nextID   int64
	now      func() time.Time
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		products: make(map[string]domain.Product),
		carts:    make(map[string][]domain.CartLine),
		cases:    make(map[string]domain.ReconciliationCase),
		now:      time.Now,
	}
}

// Cart

func (s *MemoryStore) ListLines(_ context.Context, userID string) ([]domain.CartLine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.carts[userID]), nil
}

func (s *MemoryStore) AddLine(_ context.Context, line domain.CartLine) error {
	if line.Quantity <= 0 {
		return ErrInvalidQuantity
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	lines := s.carts[line.UserID]
	if i := indexOfLine(lines, line.ProductID); i >= 0 {
		lines[i].Quantity += line.Quantity
		return nil
	}
	if line.AddedAt.IsZero() {
		line.AddedAt = s.now()
	}
	s.carts[line.UserID] = append(lines, line)
	return nil
}

func (s *MemoryStore) SetQuantity(_ context.Context, userID, productID string, quantity int) error {
	if quantity <= 0 {
		return ErrInvalidQuantity
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	lines := s.carts[userID]
	i := indexOfLine(lines, productID)
	if i < 0 {
		return ErrLineNotFound
	}
	lines[i].Quantity = quantity
	return nil
}

func (s *MemoryStore) DeleteLine(_ context.Context, userID, productID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteLineLocked(userID, productID)
}

func (s *MemoryStore) ClearCart(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.carts, userID)
	return nil
}

func (s *MemoryStore) deleteLineLocked(userID, productID string) error {
	lines := s.carts[userID]
	i := indexOfLine(lines, productID)
	if i < 0 {
		return ErrLineNotFound
	}
	lines = slices.Delete(lines, i, i+1)
	if len(lines) == 0 {
		delete(s.carts, userID)
		return nil
	}
	s.carts[userID] = lines
	return nil
}

func indexOfLine(lines []domain.CartLine, productID string) int {
	return slices.IndexFunc(lines, func(l domain.CartLine) bool {
		return l.ProductID == productID
	})
}

// Catalog

func (s *MemoryStore) GetProduct(_ context.Context, id string) (domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.products[id]
	if !ok {
		return domain.Product{}, ErrProductNotFound
	}
	return p, nil
}

func (s *MemoryStore) GetProducts(_ context.Context, ids []string) (map[string]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make(map[string]domain.Product, len(ids))
	for _, id := range ids {
		if p, ok := s.products[id]; ok {
			result[id] = p
		}
	}
	return result, nil
}

func (s *MemoryStore) ListProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		result = append(result, p)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

func (s *MemoryStore) UpsertProduct(_ context.Context, p domain.Product) error {
	if p.Stock < 0 {
		return fmt.Errorf("product %s: stock must not be negative", p.ID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[p.ID] = p
	return nil
}

func (s *MemoryStore) DeleteProduct(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.products[id]; !ok {
		return ErrProductNotFound
	}
	delete(s.products, id)
	return nil
}

func (s *MemoryStore) DecrementIfSufficient(_ context.Context, productID string, qty int) (bool, error) {
	if qty <= 0 {
		return false, ErrInvalidQuantity
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[productID]
	if !ok {
		return false, ErrProductNotFound
	}
	if p.Stock < qty {
		return false, nil
	}
	p.Stock -= qty
	s.products[productID] = p
	return true, nil
}

// Orders

func (s *MemoryStore) AppendOrder(_ context.Context, o domain.OrderOutcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendOrderLocked(o)
}

func (s *MemoryStore) appendOrderLocked(o domain.OrderOutcome) error {
	for _, existing := range s.orders {
		if existing.ID == o.ID {
			return ErrOrderExists
		}
	}
	o.Lines = slices.Clone(o.Lines)
	o.Adjustments = slices.Clone(o.Adjustments)
	s.orders = append(s.orders, o)
	return nil
}

func (s *MemoryStore) GetOrder(_ context.Context, id string) (domain.OrderOutcome, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, o := range s.orders {
		if o.ID == id {
			return o, nil
		}
	}
	return domain.OrderOutcome{}, ErrOrderNotFound
}

func (s *MemoryStore) ListOrders(_ context.Context, userID string) ([]domain.OrderOutcome, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []domain.OrderOutcome
	for i := len(s.orders) - 1; i >= 0; i-- {
		if s.orders[i].UserID == userID {
			result = append(result, s.orders[i])
		}
	}
	return result, nil
}

// CommitCheckout validates every line before touching anything, then applies
// all changes under the same lock.
func (s *MemoryStore) CommitCheckout(_ context.Context, c domain.CheckoutCommit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// First pass: validate all lines have sufficient stock and are still in the cart
	lines := s.carts[c.UserID]
	for _, l := range c.Lines {
		if l.Quantity <= 0 {
			return ErrInvalidQuantity
		}
		p, exists := s.products[l.ProductID]
		if !exists {
			return fmt.Errorf("%w: %s", ErrProductNotFound, l.ProductID)
		}
		if p.Stock < l.Quantity {
			return fmt.Errorf("%w: product %s has %d, requested %d", ErrInsufficientStock, l.ProductID, p.Stock, l.Quantity)
		}
		if indexOfLine(lines, l.ProductID) < 0 {
			return fmt.Errorf("%w: product %s no longer in cart", ErrCartChanged, l.ProductID)
		}
	}
	for _, o := range s.orders {
		if o.ID == c.Outcome.ID {
			return ErrOrderExists
		}
	}

	// Second pass: debit stock, consume cart lines, record order and event
	for _, l := range c.Lines {
		p := s.products[l.ProductID]
		p.Stock -= l.Quantity
		s.products[l.ProductID] = p
		_ = s.deleteLineLocked(c.UserID, l.ProductID)
	}
	_ = s.appendOrderLocked(c.Outcome)
	s.enqueueLocked(c.Event)
	return nil
}

// Payment attempts

func (s *MemoryStore) RecordAttempt(_ context.Context, a domain.PaymentAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts = append(s.attempts, a)
	return nil
}

func (s *MemoryStore) ListAttempts(_ context.Context, f domain.AttemptFilter) ([]domain.PaymentAttempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []domain.PaymentAttempt
	for i := len(s.attempts) - 1; i >= 0; i-- {
		a := s.attempts[i]
		if f.UserID != "" && a.UserID != f.UserID {
			continue
		}
		if f.Success != nil && a.Success != *f.Success {
			continue
		}
		result = append(result, a)
	}
	return result, nil
}

// Reconciliation

func (s *MemoryStore) OpenCase(_ context.Context, c domain.ReconciliationCase, event domain.OutboxEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cases[c.ID] = c
	s.enqueueLocked(event)
	return nil
}

func (s *MemoryStore) GetCase(_ context.Context, id string) (domain.ReconciliationCase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.cases[id]
	if !ok {
		return domain.ReconciliationCase{}, ErrCaseNotFound
	}
	return c, nil
}

func (s *MemoryStore) ResolveCase(_ context.Context, id string, status domain.ReconciliationStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cases[id]
	if !ok {
		return ErrCaseNotFound
	}
	c.Status = status
	c.UpdatedAt = s.now()
	s.cases[id] = c
	return nil
}

// Outbox

func (s *MemoryStore) enqueueLocked(e domain.OutboxEvent) {
	s.nextID++
	e.ID = s.nextID
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.now()
	}
	e.Payload = slices.Clone(e.Payload)
	s.outbox = append(s.outbox, &e)
}

func (s *MemoryStore) GetUnprocessedEvents(_ context.Context, limit int) ([]*domain.OutboxEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []*domain.OutboxEvent
	for _, e := range s.outbox {
		if e.ProcessedAt != nil {
			continue
		}
		copied := *e
		result = append(result, &copied)
		if len(result) == limit {
			break
		}
	}
	return result, nil
}

func (s *MemoryStore) MarkEventAsProcessed(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.outbox {
		if e.ID == id {
			now := s.now()
			e.ProcessedAt = &now
			return nil
		}
	}
	return fmt.Errorf("outbox event %d not found", id)
}
