package datastore

import (
	"context"
	"math"

	"github.com/jrife/arbor/future"
	"github.com/jrife/arbor/shard"
	"github.com/jrife/arbor/tree"
)

type readRecord struct {
	path   tree.Path
	result *future.Future[shard.ReadResult]
}

// participant is one shard's part of a transaction
type participant struct {
	txnID string
	shard *shard.Shard
	mods  []tree.Modification
	reads []readRecord
}

func (p *participant) Name() string {
	return p.shard.Name()
}

// request builds the commit request once the transaction's reads
// of this shard completed. Reads that failed observed nothing and
// are left out. The base revision is the oldest one observed.
func (p *participant) request(ctx context.Context) (shard.CommitRequest, error) {
	request := shard.CommitRequest{TransactionID: p.txnID, Modifications: p.mods}
	base := int64(math.MaxInt64)

	for _, read := range p.reads {
		select {
		case <-read.result.Done():
		case <-ctx.Done():
			return request, ctx.Err()
		}

		result, err := read.result.Get(ctx)

		if err != nil {
			continue
		}

		request.Reads = append(request.Reads, read.path)
		base = min(base, result.Revision)
	}

	if len(request.Reads) > 0 {
		request.BaseRevision = base
	}

	return request, nil
}

func (p *participant) CanCommit(ctx context.Context) *future.Future[bool] {
	f, resolve := future.New[bool]()

	go func() {
		request, err := p.request(ctx)

		if err != nil {
			resolve(false, err)

			return
		}

		resolve(p.shard.CanCommit(ctx, request).Get(ctx))
	}()

	return f
}

func (p *participant) PreCommit(ctx context.Context) *future.Future[struct{}] {
	return p.shard.PreCommit(ctx, p.txnID)
}

func (p *participant) Commit(ctx context.Context) *future.Future[struct{}] {
	return p.shard.Commit(ctx, p.txnID)
}

func (p *participant) Abort(ctx context.Context) *future.Future[struct{}] {
	return p.shard.Abort(ctx, p.txnID)
}
