package credcache

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/sethvargo/go-retry"
)

// withLock runs fn while holding the exclusive lock file next to the cache.
// Acquisition polls: O_CREATE|O_EXCL either wins or the attempt is retried
// on a constant interval until the lock timeout elapses. The lock protects
// against other processes sharing the same credential file.
func (c *FileCache) withLock(ctx context.Context, fn func() error) error {
	ctx, cancel := context.WithTimeout(ctx, c.lockTimeout)
	defer cancel()

	lockPath := c.path + ".lock"

	err := retry.Do(ctx, retry.NewConstant(c.lockPoll), func(ctx context.Context) error {
		f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
		if err != nil {
			if os.IsExist(err) {
				return retry.RetryableError(err)
			}
			return err
		}
		return f.Close()
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || os.IsExist(err) {
			return fmt.Errorf("%w: %s", ErrLockTimeout, lockPath)
		}
		return fmt.Errorf("acquire cache lock: %w", err)
	}

	defer func() {
		if rmErr := os.Remove(lockPath); rmErr != nil {
			c.log.Warn(context.Background(), "failed to release cache lock", "path", lockPath, "error", rmErr)
		}
	}()

	return fn()
}
