package memory

import (
	"context"
	"sort"
	"sync"

	callbackRepo "hospital/database/repository/callback"
	"hospital/models"
)

// UnmatchedCallbackStore implements callbackRepo.UnmatchedCallbackRepository in memory.
type UnmatchedCallbackStore struct {
	mu         sync.Mutex
	byCheckout map[string]*models.UnmatchedCallback
}

func NewUnmatchedCallbackStore() *UnmatchedCallbackStore {
	return &UnmatchedCallbackStore{byCheckout: make(map[string]*models.UnmatchedCallback)}
}

var _ callbackRepo.UnmatchedCallbackRepository = (*UnmatchedCallbackStore)(nil)

func (s *UnmatchedCallbackStore) Record(_ context.Context, cb *models.UnmatchedCallback) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.byCheckout[cb.CheckoutRequestID]; ok {
		existing.Deliveries++
		existing.LastReceivedAt = cb.ReceivedAt
		return nil
	}
	stored := *cb
	stored.Deliveries = 1
	stored.LastReceivedAt = cb.ReceivedAt
	s.byCheckout[cb.CheckoutRequestID] = &stored
	return nil
}

func (s *UnmatchedCallbackStore) ListRecent(_ context.Context, limit int64) ([]models.UnmatchedCallback, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.UnmatchedCallback, 0, len(s.byCheckout))
	for _, cb := range s.byCheckout {
		out = append(out, *cb)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ReceivedAt.After(out[j].ReceivedAt) })
	if limit > 0 && int64(len(out)) > limit {
		out = out[:limit]
	}
	return out, nil
}
