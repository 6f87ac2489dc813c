package storage

import (
	"context"

	"poolctl/internal/model"
)

// Journal defines a sink for mined transaction records.
type Journal interface {
	PutTxBatch(ctx context.Context, records []model.TxRecord) error
}
