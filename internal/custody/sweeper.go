package custody

import (
	"context"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jmerrifield20/renderledger/internal/registry/model"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// SweepConfig holds recovery sweep configuration.
type SweepConfig struct {
	Interval    time.Duration
	BatchSize   int
	Concurrency int
}

// OutputStore is the subset of the output repository the sweeper needs.
type OutputStore interface {
	ListUnsettledOutputs(ctx context.Context, limit int) ([]*model.Output, error)
	UpdateOutputCustody(ctx context.Context, id uuid.UUID, custody model.CustodyState) error
}

// RepairRecordFunc is an optional callback invoked once per repaired output.
type RepairRecordFunc func(to model.CustodyState, ok bool)

// Sweeper reconciles outputs whose verdict was recorded but whose artifact
// was never moved out of pending, for example after a crash between the
// status update and the relocation.
type Sweeper struct {
	outputs  OutputStore
	custody  *Manager
	cfg      SweepConfig
	onRepair RepairRecordFunc
	logger   *zap.Logger
}

// NewSweeper creates a Sweeper.
func NewSweeper(outputs OutputStore, custody *Manager, cfg SweepConfig, logger *zap.Logger) *Sweeper {
	if cfg.Interval == 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 100
	}
	if cfg.Concurrency == 0 {
		cfg.Concurrency = 4
	}
	return &Sweeper{
		outputs: outputs,
		custody: custody,
		cfg:     cfg,
		logger:  logger,
	}
}

// SetRepairRecord configures the metrics callback.
func (s *Sweeper) SetRepairRecord(fn RepairRecordFunc) {
	s.onRepair = fn
}

// Start runs the sweep loop until quit is signalled.
func (s *Sweeper) Start(quit <-chan os.Signal) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Interval)
			if _, err := s.SweepOnce(ctx); err != nil {
				s.logger.Error("custody sweep", zap.Error(err))
			}
			cancel()
		case <-quit:
			return
		}
	}
}

// SweepOnce repairs one batch of unsettled outputs and returns how many were
// settled.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	outputs, err := s.outputs.ListUnsettledOutputs(ctx, s.cfg.BatchSize)
	if err != nil {
		return 0, err
	}
	if len(outputs) == 0 {
		return 0, nil
	}

	results := make([]bool, len(outputs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for i, o := range outputs {
		i, o := i, o
		g.Go(func() error {
			results[i] = s.repair(gctx, o)
			return nil
		})
	}
	_ = g.Wait()

	settled := 0
	for _, ok := range results {
		if ok {
			settled++
		}
	}
	s.logger.Info("custody sweep complete",
		zap.Int("unsettled", len(outputs)),
		zap.Int("settled", settled),
	)
	return settled, nil
}

func (s *Sweeper) repair(ctx context.Context, o *model.Output) bool {
	to := model.CustodyFor(o.Status)
	if to == model.CustodyPending {
		return false
	}

	err := s.custody.Relocate(o.Filename, to)
	if err == nil {
		err = s.outputs.UpdateOutputCustody(ctx, o.ID, to)
	}
	if s.onRepair != nil {
		s.onRepair(to, err == nil)
	}
	if err != nil {
		s.logger.Warn("custody sweep: repair failed",
			zap.String("output_id", o.ID.String()),
			zap.String("session_id", o.SessionID),
			zap.Error(err),
		)
		return false
	}
	s.logger.Info("custody sweep: repaired",
		zap.String("output_id", o.ID.String()),
		zap.String("to", string(to)),
	)
	return true
}
