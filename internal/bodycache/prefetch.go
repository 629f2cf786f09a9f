package bodycache

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// Prefetch warms the body cache with the most recent headers of every folder
// of an account that have no live body. Fetches are spaced by the configured
// delay. It returns how many bodies were fetched.
func (c *Cache) Prefetch(ctx context.Context, accountID int64) (int, error) {
	ids, err := c.store.RecentWithoutBody(ctx, accountID, c.cfg.PrefetchCount)
	if err != nil {
		return 0, err
	}

	logger := c.logger.WithField("account_id", accountID)
	fetched := 0
	for i, id := range ids {
		if i > 0 && c.cfg.PrefetchDelay > 0 {
			t := time.NewTimer(c.cfg.PrefetchDelay)
			select {
			case <-ctx.Done():
				t.Stop()
				return fetched, ctx.Err()
			case <-t.C:
			}
		}
		if _, err := c.FetchBody(ctx, id); err != nil {
			if ctx.Err() != nil {
				return fetched, ctx.Err()
			}
			logger.WithError(err).WithField("email_id", id).Warn("Prefetch failed")
			continue
		}
		fetched++
	}

	if len(ids) > 0 {
		logger.WithFields(logrus.Fields{
			"candidates": len(ids),
			"fetched":    fetched,
		}).Info("Prefetch complete")
	}
	return fetched, nil
}
