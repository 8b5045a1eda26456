package transfer

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/stanstork/pgtransfer/internal/repository"
)

// copier moves rows in batches of at most batchSize. Each batch is committed
// on the destination before the next is read, so a failure keeps earlier batches.
type copier struct {
	src       repository.TableRepository
	dst       repository.TableRepository
	plan      *plan
	batchSize int
	stop      *stopToken
	clock     func() time.Time
	onBatch   func(rows int, elapsed time.Duration)

	batches int
}

// run copies up to total rows and returns how many were written. The stop
// flag is read after every committed batch.
func (c *copier) run(ctx context.Context, total int64) (int64, error) {
	var (
		copied int64
		after  []any
	)
	for copied < total {
		limit := int(min(int64(c.batchSize), total-copied))
		started := c.clock()

		batch, err := c.src.FetchBatch(ctx, c.plan.batchQuery(limit, after, copied))
		if err != nil {
			return copied, errors.Wrapf(err, "batch %d", c.batches+1)
		}
		if len(batch.Rows) == 0 {
			break
		}

		n, err := c.dst.WriteBatch(ctx, repository.BatchWrite{
			Table:      c.plan.dest,
			Columns:    c.plan.names,
			Rows:       batch.Rows,
			UpsertKeys: c.plan.upsertKeys,
		})
		if err != nil {
			return copied, errors.Wrapf(err, "batch %d", c.batches+1)
		}
		copied += n
		after = batch.LastKey
		c.batches++
		if c.onBatch != nil {
			c.onBatch(int(n), c.clock().Sub(started))
		}

		if c.stop.Stopped() {
			return copied, ErrCancelled
		}
		if int64(len(batch.Rows)) < int64(limit) {
			break
		}
	}
	return copied, nil
}
