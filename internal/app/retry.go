package app

import (
	"context"

	"quiz-attempt-engine/internal/domain"
)

// submitTry bounds the self-repair of stale sequence checks to one retry.
type submitTry int

const (
	firstTry submitTry = iota
	retrying
)

// withSequenceRepair runs submit. When the service rejects it for a stale
// sequence check, repair refreshes the tokens and submit runs once more.
func withSequenceRepair(ctx context.Context, submit, repair func(context.Context) error) error {
	return trySubmit(ctx, submit, repair, firstTry)
}

func trySubmit(ctx context.Context, submit, repair func(context.Context) error, try submitTry) error {
	err := submit(ctx)
	if err == nil || !domain.IsSequenceCheckError(err) || try == retrying {
		return err
	}
	if repairErr := repair(ctx); repairErr != nil {
		return err
	}
	return trySubmit(ctx, submit, repair, retrying)
}
