package workflow

import (
	"context"
	"errors"
	"time"

	"github.com/bsm/redislock"

	"bitbucket.org/kalbooks/preorder_backend/config"
)

// ErrRunInProgress means another process holds the reconciliation lock for
// this period.
var ErrRunInProgress = errors.New("reconciliation run already in progress")

// AcquireRunLock takes the single-writer lock for one reporting period.
// Without redis configured (local dry runs) the lock degrades to a no-op.
func AcquireRunLock(ctx context.Context, period string, ttl time.Duration) (*redislock.Lock, error) {
	locker := config.GetRedisLock()
	if locker == nil {
		return nil, nil
	}
	lock, err := locker.Obtain(ctx, "reconcile:"+period, ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, ErrRunInProgress
	}
	if err != nil {
		return nil, err
	}
	return lock, nil
}
