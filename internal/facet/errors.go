package facet

import "errors"

var (
	ErrUnknownOp     = errors.New("facet: unknown operation")
	ErrNotBatchable  = errors.New("facet: operation not allowed in a batch")
	ErrEmptyBatch    = errors.New("facet: empty batch")
	ErrInvalidRoute  = errors.New("facet: invalid reward route")
	ErrNoRewards     = errors.New("facet: no rewards to process")
	ErrZeroAmount    = errors.New("facet: zero amount")
	ErrBatchTooLarge = errors.New("facet: too many batch steps")
)
