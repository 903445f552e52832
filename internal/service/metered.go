package service

import (
	"context"
	"fmt"

	"pointledger/internal/model"
)

// RunMetered debits the feature cost and runs action only after the debit
// succeeded. When the balance is short the action is never invoked and the
// rejected result is returned with a nil error. Points stay spent if the
// action fails.
func RunMetered(ctx context.Context, svc LedgerService, catalog *Catalog, req model.DebitRequest, action func(context.Context) error) (*model.DebitResult, error) {
	cost, err := catalog.Cost(req.Feature)
	if err != nil {
		return nil, err
	}
	req.Amount = cost

	res, err := svc.TryDebit(ctx, req)
	if err != nil {
		return nil, err
	}
	if !res.Success {
		return res, nil
	}

	if err := action(ctx); err != nil {
		return res, fmt.Errorf("metered action %s: %w", req.Feature, err)
	}
	return res, nil
}
