package knn

import (
	"context"
	"runtime"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// Fragment is one partition's candidates for one query. Of, K and Presort
// travel with the fragment so a reducer needs no configuration of its own.
type Fragment struct {
	Query     int64            `msgpack:"q"`
	Partition int              `msgpack:"p"`
	Of        int              `msgpack:"of"`
	K         int              `msgpack:"k"`
	Presort   bool             `msgpack:"presort"`
	Sorted    bool             `msgpack:"sorted"`
	Neighbors NeighborSequence `msgpack:"n"`
}

// Scan evaluates every (query, reference) pair of p and returns one unsorted
// fragment per query, in query order. Queries are scanned concurrently, at
// most parallelism at a time (NumCPU when <= 0); the first error cancels the
// scan.
func Scan(ctx context.Context, p *Partition, parallelism int) ([]Fragment, error) {
	if parallelism <= 0 {
		parallelism = runtime.NumCPU()
	}

	refs := make([][]float64, len(p.References))
	for i, ref := range p.References {
		f, err := NormalizeFeatures(ref.Features, p.Ranges)
		if err != nil {
			return nil, errors.Wrapf(err, "partition %d, reference %d", p.Index, ref.ID)
		}
		refs[i] = f
	}

	out := make([]Fragment, len(p.Queries))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(parallelism)
	for qi := range p.Queries {
		qi := qi
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			q := p.Queries[qi]
			qf, err := NormalizeFeatures(q.Features, p.Ranges)
			if err != nil {
				return errors.Wrapf(err, "partition %d, query %d", p.Index, q.ID)
			}

			neighbors := make(NeighborSequence, len(p.References))
			for ri, ref := range p.References {
				n, err := neighborOf(qf, ref, refs[ri])
				if err != nil {
					return errors.Wrapf(err, "partition %d, query %d", p.Index, q.ID)
				}
				neighbors[ri] = n
			}
			out[qi] = Fragment{
				Query:     q.ID,
				Partition: p.Index,
				Of:        p.Of,
				K:         p.K,
				Presort:   p.Strategy == PreSortedMerge,
				Neighbors: neighbors,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
