package entity

import "context"

// Complete marks a tracked entity as completed (post-de-SPAC merger). When
// the filing names a successor ticker or CIK for the combined company, it is
// recorded in issued_to rather than overwriting cik: cik is the identity the
// entity was tracked under and must stay stable for audit history and
// lookup-by-identifier to remain meaningful.
func Complete(ctx context.Context, repo Repository, ticker, source, filingRef string, successorIdentifier string) error {
	if err := repo.Mutate(ctx, ticker, "status", StatusCompleted, source, filingRef, ChangeTypeFilingExtraction); err != nil {
		return err
	}
	if successorIdentifier == "" {
		return nil
	}
	return repo.Mutate(ctx, ticker, "issued_to", successorIdentifier, source, filingRef, ChangeTypeFilingExtraction)
}

// Liquidate marks a tracked entity as liquidated.
func Liquidate(ctx context.Context, repo Repository, ticker, source, filingRef string) error {
	if err := repo.Mutate(ctx, ticker, "is_liquidating", true, source, filingRef, ChangeTypeFilingExtraction); err != nil {
		return err
	}
	return repo.Mutate(ctx, ticker, "status", StatusLiquidated, source, filingRef, ChangeTypeFilingExtraction)
}
