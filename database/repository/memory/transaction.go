package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	transactionRepo "hospital/database/repository/transaction"
	"hospital/models"
)

// TransactionStore implements transactionRepo.TransactionRepository in memory.
type TransactionStore struct {
	mu   sync.RWMutex
	byID map[string]*models.Transaction
}

// NewTransactionStore creates an empty in-memory transaction store.
func NewTransactionStore() *TransactionStore {
	return &TransactionStore{byID: make(map[string]*models.Transaction)}
}

var _ transactionRepo.TransactionRepository = (*TransactionStore)(nil)

func (s *TransactionStore) Insert(_ context.Context, tx *models.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.byID {
		if existing.InvoiceID == tx.InvoiceID && existing.Status == models.TransactionStatusPending {
			return transactionRepo.ErrPendingExists
		}
	}

	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now()
	}
	tx.UpdatedAt = tx.CreatedAt
	s.byID[tx.ID] = cloneTransaction(tx)
	return nil
}

func (s *TransactionStore) GetByID(_ context.Context, id string) (*models.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, ok := s.byID[id]
	if !ok {
		return nil, transactionRepo.ErrNotFound
	}
	return cloneTransaction(tx), nil
}

func (s *TransactionStore) GetByCheckoutID(_ context.Context, merchantRequestID, checkoutRequestID string) (*models.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, tx := range s.byID {
		if tx.CheckoutRequestID != checkoutRequestID || checkoutRequestID == "" {
			continue
		}
		if merchantRequestID != "" && tx.MerchantRequestID != merchantRequestID {
			continue
		}
		return cloneTransaction(tx), nil
	}
	return nil, transactionRepo.ErrNotFound
}

func (s *TransactionStore) LatestForInvoice(ctx context.Context, invoiceID string) (*models.Transaction, error) {
	txs, _ := s.ListForInvoice(ctx, invoiceID)
	if len(txs) == 0 {
		return nil, transactionRepo.ErrNotFound
	}
	return &txs[0], nil
}

func (s *TransactionStore) ListForInvoice(_ context.Context, invoiceID string) ([]models.Transaction, error) {
	return s.list(func(tx *models.Transaction) bool { return tx.InvoiceID == invoiceID }, true, 0), nil
}

func (s *TransactionStore) ListPendingBefore(_ context.Context, cutoff time.Time, limit int64) ([]models.Transaction, error) {
	return s.list(func(tx *models.Transaction) bool {
		return tx.Status == models.TransactionStatusPending && tx.CreatedAt.Before(cutoff)
	}, false, limit), nil
}

func (s *TransactionStore) ListUnsettledBefore(_ context.Context, cutoff time.Time, limit int64) ([]models.Transaction, error) {
	return s.list(func(tx *models.Transaction) bool {
		return tx.NeedsSettlement() && tx.ResolvedAt != nil && tx.ResolvedAt.Before(cutoff)
	}, false, limit), nil
}

func (s *TransactionStore) list(match func(*models.Transaction) bool, newestFirst bool, limit int64) []models.Transaction {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Transaction
	for _, tx := range s.byID {
		if match(tx) {
			out = append(out, *cloneTransaction(tx))
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if newestFirst {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && int64(len(out)) > limit {
		out = out[:limit]
	}
	return out
}

func (s *TransactionStore) SetGatewayIDs(_ context.Context, id, merchantRequestID, checkoutRequestID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.byID[id]
	if !ok {
		return transactionRepo.ErrNotFound
	}
	tx.MerchantRequestID = merchantRequestID
	tx.CheckoutRequestID = checkoutRequestID
	tx.UpdatedAt = time.Now()
	return nil
}

func (s *TransactionStore) MarkInvoiceSettled(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.byID[id]
	if !ok {
		return transactionRepo.ErrNotFound
	}
	tx.InvoiceSettledAt = &at
	tx.UpdatedAt = at
	return nil
}

func (s *TransactionStore) ResolvePending(_ context.Context, id string, res models.TransactionResolution) (*models.Transaction, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.byID[id]
	if !ok {
		return nil, false, transactionRepo.ErrNotFound
	}
	if tx.Status != models.TransactionStatusPending {
		return cloneTransaction(tx), false, nil
	}

	tx.Status = res.Status
	tx.ResolvedBy = res.Source
	resolvedAt := res.ResolvedAt
	tx.ResolvedAt = &resolvedAt
	tx.UpdatedAt = resolvedAt
	if res.ResultCode != nil {
		code := *res.ResultCode
		tx.ResultCode = &code
	}
	if res.ResultDesc != "" {
		tx.ResultDesc = res.ResultDesc
	}
	if res.ReceiptNumber != "" {
		tx.ReceiptNumber = res.ReceiptNumber
	}
	if len(res.Metadata) > 0 {
		tx.Metadata = res.Metadata
	}
	return cloneTransaction(tx), true, nil
}

func cloneTransaction(tx *models.Transaction) *models.Transaction {
	out := *tx
	if tx.ResultCode != nil {
		code := *tx.ResultCode
		out.ResultCode = &code
	}
	if tx.ResolvedAt != nil {
		at := *tx.ResolvedAt
		out.ResolvedAt = &at
	}
	if tx.InvoiceSettledAt != nil {
		at := *tx.InvoiceSettledAt
		out.InvoiceSettledAt = &at
	}
	return &out
}
