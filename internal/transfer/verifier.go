package transfer

import (
	"context"

	"github.com/pkg/errors"
	"github.com/stanstork/pgtransfer/internal/models"
	"github.com/stanstork/pgtransfer/internal/repository"
	"golang.org/x/sync/errgroup"
)

type verification struct {
	SourceCount int64
	DestCount   int64
	Matched     bool
}

// verify recounts both sides concurrently. The destination is counted
// unfiltered in full mode since it was truncated first.
func verify(ctx context.Context, src, dst repository.TableRepository, p *plan, mode models.TransferMode, tolerance int64) (verification, error) {
	var res verification
	destFilter := p.filter
	if mode == models.TransferModeFull {
		destFilter = nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		n, err := src.CountRows(gctx, p.source, p.filter)
		if err != nil {
			return errors.Wrap(err, "verify source")
		}
		res.SourceCount = n
		return nil
	})
	g.Go(func() error {
		n, err := dst.CountRows(gctx, p.dest, destFilter)
		if err != nil {
			return errors.Wrap(err, "verify destination")
		}
		res.DestCount = n
		return nil
	})
	if err := g.Wait(); err != nil {
		return verification{}, err
	}

	diff := res.SourceCount - res.DestCount
	if diff < 0 {
		diff = -diff
	}
	res.Matched = diff <= tolerance
	return res, nil
}
