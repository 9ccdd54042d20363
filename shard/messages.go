package shard

import (
	"context"

	"github.com/jrife/arbor/future"
	"github.com/jrife/arbor/tree"
	"github.com/jrife/arbor/utils/log"
	"go.uber.org/zap"
)

// message is a request processed by the shard goroutine.
// fail is called instead of handle if the shard stops first.
type message interface {
	handle(shard *Shard)
	fail(err error)
}

type schemaMessage struct {
	ctx     context.Context
	schema  *tree.SchemaContext
	resolve future.Resolver[struct{}]
}

func (msg *schemaMessage) handle(shard *Shard) {
	shard.applySchema(msg.schema)
	msg.resolve(struct{}{}, nil)
}

func (msg *schemaMessage) fail(err error) {
	msg.resolve(struct{}{}, err)
}

type readMessage struct {
	ctx     context.Context
	path    tree.Path
	resolve future.Resolver[ReadResult]
}

func (msg *readMessage) handle(shard *Shard) {
	if err := msg.ctx.Err(); err != nil {
		msg.fail(err)

		return
	}

	if !shard.ready() {
		msg.fail(ErrNotReady)

		return
	}

	result, err := shard.read(msg.path)

	if err != nil {
		log.WithContext(msg.ctx, shard.logger).Error("read failed", zap.Stringer("path", msg.path), zap.Error(err))
	}

	msg.resolve(result, err)
}

func (msg *readMessage) fail(err error) {
	msg.resolve(ReadResult{}, err)
}

type rootsMessage struct {
	ctx     context.Context
	limit   int
	resolve future.Resolver[[]tree.Path]
}

func (msg *rootsMessage) handle(shard *Shard) {
	if err := msg.ctx.Err(); err != nil {
		msg.fail(err)

		return
	}

	if !shard.ready() {
		msg.fail(ErrNotReady)

		return
	}

	logger := log.WithContext(msg.ctx, shard.logger).With(zap.String("operation", "roots"))
	roots, err := shard.roots(logger, msg.limit)

	if err != nil {
		logger.Error("could not list roots", zap.Error(err))
	}

	msg.resolve(roots, err)
}

func (msg *rootsMessage) fail(err error) {
	msg.resolve(nil, err)
}

type snapshotMessage struct {
	ctx     context.Context
	resolve future.Resolver[Snapshot]
}

func (msg *snapshotMessage) handle(shard *Shard) {
	if err := msg.ctx.Err(); err != nil {
		msg.fail(err)

		return
	}

	if !shard.ready() {
		msg.fail(ErrNotReady)

		return
	}

	logger := log.WithContext(msg.ctx, shard.logger).With(zap.String("operation", "snapshot"))
	snapshot, err := shard.snapshot(logger)

	if err != nil {
		logger.Error("could not take snapshot", zap.Error(err))
	}

	msg.resolve(snapshot, err)
}

func (msg *snapshotMessage) fail(err error) {
	msg.resolve(Snapshot{}, err)
}

type canCommitMessage struct {
	ctx     context.Context
	request CommitRequest
	resolve future.Resolver[bool]
}

func (msg *canCommitMessage) handle(shard *Shard) {
	shard.enqueueCommit(msg)
}

func (msg *canCommitMessage) fail(err error) {
	msg.resolve(false, err)
}

type preCommitMessage struct {
	ctx     context.Context
	txnID   string
	resolve future.Resolver[struct{}]
}

func (msg *preCommitMessage) handle(shard *Shard) {
	msg.resolve(struct{}{}, shard.preCommit(msg.ctx, msg.txnID))
}

func (msg *preCommitMessage) fail(err error) {
	msg.resolve(struct{}{}, err)
}

type commitMessage struct {
	ctx     context.Context
	txnID   string
	resolve future.Resolver[struct{}]
}

func (msg *commitMessage) handle(shard *Shard) {
	msg.resolve(struct{}{}, shard.commit(msg.ctx, msg.txnID))
}

func (msg *commitMessage) fail(err error) {
	msg.resolve(struct{}{}, err)
}

type abortMessage struct {
	ctx     context.Context
	txnID   string
	resolve future.Resolver[struct{}]
}

func (msg *abortMessage) handle(shard *Shard) {
	shard.abort(msg.ctx, msg.txnID)
	msg.resolve(struct{}{}, nil)
}

func (msg *abortMessage) fail(err error) {
	msg.resolve(struct{}{}, err)
}

type expireMessage struct {
	commit *pendingCommit
}

func (msg *expireMessage) handle(shard *Shard) {
	shard.expire(msg.commit)
}

func (msg *expireMessage) fail(err error) {
}
