package service

import (
	"context"
	"fmt"
	"time"

	"github.com/itskernel/backend/daemon/manager"
	"github.com/itskernel/backend/internal/observability"
)

// StartLedgerGCLoop drops receipts older than retention every interval until
// ctx is cancelled.
func StartLedgerGCLoop(ctx context.Context, ledger *manager.Ledger, retention, interval time.Duration, logger *observability.Logger) {
	if ledger == nil || retention <= 0 || interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				removed, err := ledger.GC(retention)
				if err != nil {
					logger.Error(err, "ledger gc failed")
					continue
				}
				if removed > 0 {
					logger.Info(fmt.Sprintf("ledger gc removed %d receipts", removed))
				}
			}
		}
	}()
}
