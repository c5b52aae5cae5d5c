package callbackRepo

import (
	"context"

	"hospital/models"
)

// UnmatchedCallbackRepository keeps gateway callbacks that matched no transaction.
type UnmatchedCallbackRepository interface {
	// Record stores cb once per checkout id. A redelivery only bumps the
	// delivery count and LastReceivedAt.
	Record(ctx context.Context, cb *models.UnmatchedCallback) error
	// ListRecent returns stored callbacks, newest first.
	ListRecent(ctx context.Context, limit int64) ([]models.UnmatchedCallback, error)
}
