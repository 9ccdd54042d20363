package shard

import (
	"context"
	"fmt"
	"time"

	"github.com/jrife/arbor/future"
	"github.com/jrife/arbor/storage/kv"
	"github.com/jrife/arbor/tree"
	"github.com/jrife/arbor/utils/log"
	"go.uber.org/zap"
)

type commitPhase int

const (
	phaseQueued commitPhase = iota
	phaseVoted
	phaseStaged
)

func (phase commitPhase) String() string {
	switch phase {
	case phaseQueued:
		return "queued"
	case phaseVoted:
		return "voted"
	case phaseStaged:
		return "staged"
	}

	return fmt.Sprintf("commitPhase(%d)", int(phase))
}

// pendingCommit is an entry of the commit queue. Only
// the head of the queue ever gets past phaseQueued.
type pendingCommit struct {
	ctx     context.Context
	request CommitRequest
	vote    future.Resolver[bool]
	phase   commitPhase
	changes []kv.KV
	votedAt time.Time
}

func (commit *pendingCommit) fail(err error) {
	if commit.phase == phaseQueued {
		commit.vote(false, err)
	}
}

func (shard *Shard) commitLogger(ctx context.Context, operation string, txnID string) *zap.Logger {
	return log.WithContext(ctx, shard.logger).With(zap.String("operation", operation), zap.String("txn", txnID))
}

func (shard *Shard) enqueueCommit(msg *canCommitMessage) {
	txnID := msg.request.TransactionID

	if !shard.ready() {
		msg.fail(ErrNotReady)

		return
	}

	if _, existing := shard.find(txnID); existing != nil {
		msg.fail(fmt.Errorf("%w: transaction %s is already queued", ErrInvalidState, txnID))

		return
	}

	shard.queue.Add(&pendingCommit{ctx: msg.ctx, request: msg.request, vote: msg.resolve})
	shard.metrics.queueDepth.WithLabelValues(shard.name).Set(float64(shard.queue.Size()))
	shard.commitLogger(msg.ctx, "canCommit", txnID).Debug("commit queued", zap.Int("position", shard.queue.Size()-1))
	shard.advance()
}

// advance lets the head of the commit queue vote. Commits that
// vote no leave the queue and the next one gets its turn.
func (shard *Shard) advance() {
	for {
		head := shard.head()

		if head == nil {
			shard.stopExpiry()
			shard.setState(StateReady)

			return
		}

		if head.phase != phaseQueued {
			return
		}

		logger := shard.commitLogger(head.ctx, "canCommit", head.request.TransactionID)

		if err := head.ctx.Err(); err != nil {
			logger.Debug("dropping commit abandoned by its coordinator", zap.Error(err))
			shard.drop(head)
			shard.metrics.aborts.WithLabelValues(shard.name, "abandoned").Inc()
			head.vote(false, err)

			continue
		}

		if reason := shard.history.conflict(head.request); reason != "" {
			logger.Info("voting no", zap.String("reason", reason))
			shard.drop(head)
			shard.metrics.votes.WithLabelValues(shard.name, "no").Inc()
			head.vote(false, nil)

			continue
		}

		head.phase = phaseVoted
		head.votedAt = time.Now()
		shard.setState(StateCanCommitPending)
		shard.armExpiry(head)
		shard.metrics.votes.WithLabelValues(shard.name, "yes").Inc()
		logger.Debug("voting yes", zap.Int64("revision", shard.revision))
		head.vote(true, nil)

		return
	}
}

func (shard *Shard) preCommit(ctx context.Context, txnID string) error {
	if !shard.ready() {
		return ErrNotReady
	}

	commit, err := shard.active(txnID, phaseVoted)

	if err != nil {
		return err
	}

	logger := shard.commitLogger(ctx, "preCommit", txnID)

	for _, mod := range commit.request.Modifications {
		if err := shard.schema.Validate(mod); err != nil {
			logger.Warn("dropping invalid commit", zap.Stringer("modification", mod), zap.Error(err))
			shard.drop(commit)
			shard.metrics.aborts.WithLabelValues(shard.name, "invalid").Inc()
			shard.advance()

			return fmt.Errorf("could not validate %s: %w", mod, err)
		}
	}

	changes, err := shard.stage(commit.request.Modifications)

	if err != nil {
		logger.Error("could not stage commit", zap.Error(err))
		shard.drop(commit)
		shard.metrics.aborts.WithLabelValues(shard.name, "invalid").Inc()
		shard.advance()

		return fmt.Errorf("could not stage modifications: %w", err)
	}

	commit.changes = changes
	commit.phase = phaseStaged
	shard.setState(StatePreCommitPending)
	shard.armExpiry(commit)
	logger.Debug("commit staged", zap.Int("changes", len(changes)))

	return nil
}

// stage computes the kv updates mods make on top of the committed
// state without applying them. While a commit is staged no other
// commit can change the committed state so they stay valid.
func (shard *Shard) stage(mods []tree.Modification) ([]kv.KV, error) {
	txn, err := shard.partition.Begin(false)

	if err != nil {
		return nil, fmt.Errorf("could not begin transaction: %w", err)
	}

	defer txn.Rollback()

	overlay := kv.NewOverlay(txn)
	store := tree.NewStore(overlay)

	for _, mod := range mods {
		if err := store.Apply(mod); err != nil {
			return nil, fmt.Errorf("could not apply %s: %w", mod, err)
		}
	}

	return overlay.Changes(), nil
}

func (shard *Shard) commit(ctx context.Context, txnID string) error {
	if !shard.ready() {
		return ErrNotReady
	}

	commit, err := shard.active(txnID, phaseStaged)

	if err != nil {
		return err
	}

	logger := shard.commitLogger(ctx, "commit", txnID)
	shard.setState(StateCommitting)

	if len(commit.changes) == 0 {
		logger.Debug("nothing to apply")
		shard.drop(commit)
		shard.metrics.commits.WithLabelValues(shard.name, "empty").Inc()
		shard.advance()

		return nil
	}

	revision := shard.revision + 1

	if err := shard.apply(commit.changes, revision); err != nil {
		logger.Error("could not apply staged commit", zap.Error(err))
		shard.drop(commit)
		shard.metrics.commits.WithLabelValues(shard.name, "failed").Inc()
		shard.advance()

		return fmt.Errorf("could not commit transaction %s: %w", txnID, err)
	}

	paths := make([]tree.Path, len(commit.request.Modifications))

	for i, mod := range commit.request.Modifications {
		paths[i] = mod.Path
	}

	shard.revision = revision
	shard.history.record(revision, paths)
	shard.drop(commit)
	shard.metrics.commits.WithLabelValues(shard.name, "committed").Inc()
	shard.metrics.commitDuration.WithLabelValues(shard.name).Observe(time.Since(commit.votedAt).Seconds())
	logger.Debug("committed", zap.Int64("revision", revision))
	shard.advance()

	return nil
}

func (shard *Shard) apply(changes []kv.KV, revision int64) error {
	txn, err := shard.partition.Begin(true)

	if err != nil {
		return fmt.Errorf("could not begin transaction: %w", err)
	}

	defer txn.Rollback()

	if err := kv.Apply(txn, changes); err != nil {
		return err
	}

	if err := txn.SetMetadata(encodeRevision(revision)); err != nil {
		return fmt.Errorf("could not update revision: %w", err)
	}

	if err := txn.Commit(); err != nil {
		return fmt.Errorf("could not commit: %w", err)
	}

	return nil
}

func (shard *Shard) abort(ctx context.Context, txnID string) {
	logger := shard.commitLogger(ctx, "abort", txnID)
	index, commit := shard.find(txnID)

	if commit == nil {
		logger.Debug("nothing to abort")

		return
	}

	if index == 0 {
		shard.setState(StateAborting)
	}

	shard.drop(commit)
	shard.metrics.aborts.WithLabelValues(shard.name, "requested").Inc()
	logger.Debug("commit aborted", zap.Stringer("phase", commit.phase))

	if commit.phase == phaseQueued {
		commit.vote(false, ErrAborted)
	}

	shard.advance()
}

func (shard *Shard) expire(commit *pendingCommit) {
	if shard.head() != commit {
		return
	}

	shard.commitLogger(commit.ctx, "expire", commit.request.TransactionID).Warn(
		"aborting commit that made no progress",
		zap.Stringer("phase", commit.phase),
		zap.Duration("timeout", shard.commitTimeout),
	)
	shard.setState(StateAborting)
	shard.drop(commit)
	shard.rememberExpired(commit.request.TransactionID)
	shard.metrics.aborts.WithLabelValues(shard.name, "expired").Inc()
	shard.advance()
}

func (shard *Shard) rememberExpired(txnID string) {
	shard.expired.Put(txnID, struct{}{})

	if shard.expired.Size() <= expiredHistory {
		return
	}

	oldest := shard.expired.Iterator()

	if oldest.First() {
		shard.expired.Remove(oldest.Key())
	}
}

// active returns the commit of txnID if it is at the head
// of the queue and in phase
func (shard *Shard) active(txnID string, phase commitPhase) (*pendingCommit, error) {
	index, commit := shard.find(txnID)

	if commit == nil {
		if _, expired := shard.expired.Get(txnID); expired {
			return nil, fmt.Errorf("%w: %s", ErrExpired, txnID)
		}

		return nil, fmt.Errorf("%w: %s", ErrUnknownTransaction, txnID)
	}

	if index != 0 || commit.phase != phase {
		return nil, fmt.Errorf("%w: transaction %s is %s", ErrInvalidState, txnID, commit.phase)
	}

	return commit, nil
}

func (shard *Shard) head() *pendingCommit {
	value, ok := shard.queue.Get(0)

	if !ok {
		return nil
	}

	return value.(*pendingCommit)
}

func (shard *Shard) find(txnID string) (int, *pendingCommit) {
	index, value := shard.queue.Find(func(index int, value interface{}) bool {
		return value.(*pendingCommit).request.TransactionID == txnID
	})

	if index < 0 {
		return -1, nil
	}

	return index, value.(*pendingCommit)
}

func (shard *Shard) drop(commit *pendingCommit) {
	index, _ := shard.queue.Find(func(index int, value interface{}) bool {
		return value.(*pendingCommit) == commit
	})

	if index < 0 {
		return
	}

	shard.queue.Remove(index)

	if index == 0 {
		shard.stopExpiry()
	}

	shard.metrics.queueDepth.WithLabelValues(shard.name).Set(float64(shard.queue.Size()))
}

func (shard *Shard) armExpiry(commit *pendingCommit) {
	shard.stopExpiry()
	shard.expiry = time.AfterFunc(shard.commitTimeout, func() {
		shard.send(context.Background(), &expireMessage{commit: commit})
	})
}

func (shard *Shard) stopExpiry() {
	if shard.expiry != nil {
		shard.expiry.Stop()
		shard.expiry = nil
	}
}
