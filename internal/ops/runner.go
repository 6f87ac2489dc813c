// Package ops runs operational scripts: fixed sequences of transactions
// against deployed pools, repeated a number of times.
package ops

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"poolctl/internal/chain"
	"poolctl/internal/model"
	"poolctl/internal/storage"
)

// ErrSkipStep is returned by a step builder when there is nothing to submit.
var ErrSkipStep = errors.New("skip step")

// Step reads chain state and builds exactly one transaction.
type Step struct {
	Name  string
	Build func(ctx context.Context, from common.Address) (chain.Call, error)
}

// Plan is a script: its steps run in order, Iterations times.
type Plan struct {
	Name       string
	Iterations int
	Steps      []Step
}

// Runner submits plans one transaction at a time and journals every receipt.
type Runner struct {
	sender  chain.Sender
	journal storage.Journal
	chainID uint64
	logger  *zap.Logger
	now     func() time.Time
}

// NewRunner builds a Runner. A nil journal keeps nothing.
func NewRunner(sender chain.Sender, journal storage.Journal, chainID uint64, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		sender:  sender,
		journal: journal,
		chainID: chainID,
		logger:  logger,
		now:     time.Now,
	}
}

// Run executes the plan. The first failing step aborts the run; the records of
// the transactions mined so far are returned with the error.
func (r *Runner) Run(ctx context.Context, plan Plan) ([]model.TxRecord, error) {
	if r.sender == nil {
		return nil, fmt.Errorf("sender is nil")
	}
	if plan.Iterations <= 0 {
		return nil, fmt.Errorf("%s: iterations must be greater than zero", plan.Name)
	}
	if len(plan.Steps) == 0 {
		return nil, fmt.Errorf("%s: plan has no steps", plan.Name)
	}

	from := r.sender.From()
	var out []model.TxRecord
	for i := 1; i <= plan.Iterations; i++ {
		for _, step := range plan.Steps {
			select {
			case <-ctx.Done():
				return out, ctx.Err()
			default:
			}

			record, err := r.runStep(ctx, plan.Name, i, step, from)
			if record != nil {
				out = append(out, *record)
			}
			if err != nil {
				return out, fmt.Errorf("%s iteration %d step %s: %w", plan.Name, i, step.Name, err)
			}
		}
		r.logger.Info("iteration complete", zap.String("script", plan.Name), zap.Int("iteration", i), zap.Int("of", plan.Iterations))
	}
	return out, nil
}

func (r *Runner) runStep(ctx context.Context, script string, iteration int, step Step, from common.Address) (*model.TxRecord, error) {
	call, err := step.Build(ctx, from)
	if errors.Is(err, ErrSkipStep) {
		r.logger.Info("step skipped", zap.String("script", script), zap.Int("iteration", iteration), zap.String("step", step.Name))
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("build: %w", err)
	}

	submittedAt := r.now()
	receipt, sendErr := r.sender.Send(ctx, call)
	if receipt == nil {
		return nil, sendErr
	}

	record := buildTxRecord(r.chainID, script, iteration, step.Name, from, call, receipt, submittedAt)
	if r.journal != nil {
		if err := r.journal.PutTxBatch(ctx, []model.TxRecord{record}); err != nil {
			return &record, multierr.Combine(sendErr, fmt.Errorf("journal: %w", err))
		}
	}
	return &record, sendErr
}
