package checkout

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Sweeper expires pending payments whose window closed, whether or not anyone is
// still watching them.
type Sweeper struct {
	svc      *Service
	interval time.Duration
	batch    int
	log      *zap.Logger
	done     chan struct{}
}

func NewSweeper(svc *Service, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Sweeper{svc: svc, interval: interval, batch: 100, log: svc.log.Named("sweeper"), done: make(chan struct{})}
}

// Run sweeps until ctx ends. Call it once.
func (w *Sweeper) Run(ctx context.Context) {
	defer close(w.done)
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n, err := w.SweepOnce(ctx); err != nil {
				w.log.Warn("sweep", zap.Error(err))
			} else if n > 0 {
				w.log.Info("sweep expired orders", zap.Int("count", n))
			}
		}
	}
}

// SweepOnce compensates one batch of overdue payments and returns how many it voided.
// Failures are logged and picked up again on the next tick.
func (w *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	var ids []string
	err := w.svc.db.SelectContext(ctx, &ids, w.svc.db.Rebind(`
		SELECT order_id FROM payments
		WHERE status = 'pending' AND expires_at <= ?
		ORDER BY expires_at
		LIMIT ?`), w.svc.now(), w.batch)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		res, err := w.svc.Compensate(ctx, id, ReasonTimeout)
		if err != nil {
			continue // logged by Compensate
		}
		if res.Compensated {
			n++
		}
	}
	return n, nil
}

// Done is closed once Run has returned.
func (w *Sweeper) Done() <-chan struct{} { return w.done }
