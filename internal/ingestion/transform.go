package ingestion

import (
	"context"
	"errors"

	"github.com/citypulse/ingestgw/internal/models"
)

// ErrTransformNotSupported is returned by transformers that cannot execute
// stored scripts. The pipeline stores the records untransformed and reports
// the skip to the caller.
var ErrTransformNotSupported = errors.New("transformation scripts are not supported")

// Transformer applies an endpoint's transformation script to a batch.
type Transformer interface {
	Transform(ctx context.Context, script string, records []models.Record) ([]models.Record, error)
}

// UnsupportedTransformer never executes scripts.
type UnsupportedTransformer struct{}

// Transform always reports ErrTransformNotSupported.
func (UnsupportedTransformer) Transform(ctx context.Context, script string, records []models.Record) ([]models.Record, error) {
	return nil, ErrTransformNotSupported
}
