// Package commit coordinates the three-phase commit of one
// transaction across the shards it touched. Phases run in
// order and each is bounded by the caller's context. Votes
// are collected one participant at a time in name order.
// The later phases contact every participant in parallel.
// No phase is ever retried.
package commit

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jrife/arbor/future"
	"github.com/jrife/arbor/utils/log"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Phase names a step of the commit protocol
type Phase string

const (
	// PhaseCanCommit asks every participant to vote
	PhaseCanCommit Phase = "canCommit"
	// PhasePreCommit asks every participant to stage its changes
	PhasePreCommit Phase = "preCommit"
	// PhaseCommit asks every participant to apply its staged changes
	PhaseCommit Phase = "commit"
	// PhaseAbort asks every participant to drop its changes
	PhaseAbort Phase = "abort"
)

// Participant is one shard's side of a transaction's commit
type Participant interface {
	Name() string
	CanCommit(ctx context.Context) *future.Future[bool]
	PreCommit(ctx context.Context) *future.Future[struct{}]
	Commit(ctx context.Context) *future.Future[struct{}]
	// Abort must have no effect on a participant
	// that holds nothing for the transaction
	Abort(ctx context.Context) *future.Future[struct{}]
}

type cohortState int

const (
	stateNew cohortState = iota
	stateCanCommitting
	stateCanCommitted
	statePreCommitting
	statePreCommitted
	stateCommitting
	stateCommitted
	stateFailed
	stateAborted
)

// Cohort drives the commit of one transaction. Its
// participants are fixed when it is created.
type Cohort struct {
	txnID        string
	participants []Participant
	logger       *zap.Logger
	metrics      *Metrics

	mu      sync.Mutex
	state   cohortState
	aborted *future.Future[struct{}]
}

// NewCohort creates a cohort for transaction txnID. Participants
// are ordered by name.
func NewCohort(txnID string, participants []Participant, logger *zap.Logger, metrics *Metrics) *Cohort {
	participants = append([]Participant{}, participants...)
	sort.SliceStable(participants, func(i, j int) bool {
		return participants[i].Name() < participants[j].Name()
	})

	if logger == nil {
		logger = zap.NewNop()
	}

	if metrics == nil {
		metrics = NewMetrics()
	}

	return &Cohort{
		txnID:        txnID,
		participants: participants,
		logger:       logger.With(zap.String("txn", txnID)),
		metrics:      metrics,
	}
}

// TransactionID returns the ID of the transaction being committed
func (cohort *Cohort) TransactionID() string {
	return cohort.txnID
}

// Participants returns the names of the participants
func (cohort *Cohort) Participants() []string {
	names := make([]string, len(cohort.participants))

	for i, participant := range cohort.participants {
		names[i] = participant.Name()
	}

	return names
}

// CanCommit collects a vote from each participant. It resolves to
// true only if the vote is unanimous. Otherwise it resolves to false
// with a *VoteRejectedError or a *PhaseTimeoutError and every
// participant is told to abort in the background.
func (cohort *Cohort) CanCommit(ctx context.Context) *future.Future[bool] {
	if err := cohort.transition(stateNew, stateCanCommitting); err != nil {
		return future.Resolved(false, err)
	}

	f, resolve := future.New[bool]()

	go func() {
		err := cohort.canCommit(ctx)

		if err != nil {
			cohort.abortAll(ctx, PhaseCanCommit)
			resolve(false, err)

			return
		}

		cohort.setState(stateCanCommitted)
		resolve(true, nil)
	}()

	return f
}

// PreCommit asks every participant to stage its changes. It may only
// be called once CanCommit resolved to true. If any participant fails
// every participant is told to abort.
func (cohort *Cohort) PreCommit(ctx context.Context) *future.Future[struct{}] {
	if err := cohort.transition(stateCanCommitted, statePreCommitting); err != nil {
		return future.Failed[struct{}](err)
	}

	f, resolve := future.New[struct{}]()

	go func() {
		err := cohort.preCommit(ctx)

		if err != nil {
			cohort.abortAll(ctx, PhasePreCommit)
			resolve(struct{}{}, err)

			return
		}

		cohort.setState(statePreCommitted)
		resolve(struct{}{}, nil)
	}()

	return f
}

// Commit asks every participant to apply its staged changes. It may
// only be called once PreCommit succeeded. Failures are reported as a
// *PartialCommitError and are not retried.
func (cohort *Cohort) Commit(ctx context.Context) *future.Future[struct{}] {
	if err := cohort.transition(statePreCommitted, stateCommitting); err != nil {
		return future.Failed[struct{}](err)
	}

	f, resolve := future.New[struct{}]()

	go func() {
		err := cohort.commit(ctx)

		if err != nil {
			cohort.setState(stateFailed)
			resolve(struct{}{}, err)

			return
		}

		cohort.setState(stateCommitted)
		resolve(struct{}{}, nil)
	}()

	return f
}

// Abort tells every participant to drop the transaction. It may be
// called before Commit. Once the cohort aborted, for whatever reason,
// Abort returns the future of that abort.
func (cohort *Cohort) Abort(ctx context.Context) *future.Future[struct{}] {
	cohort.mu.Lock()
	defer cohort.mu.Unlock()

	switch cohort.state {
	case stateAborted:
		return cohort.aborted
	case stateNew, stateCanCommitted, statePreCommitted:
		return cohort.abortLocked(ctx, PhaseAbort)
	}

	return future.Failed[struct{}](fmt.Errorf("%w: cannot abort transaction %s now", ErrProtocolViolation, cohort.txnID))
}

func (cohort *Cohort) transition(from, to cohortState) error {
	cohort.mu.Lock()
	defer cohort.mu.Unlock()

	if cohort.state != from {
		return fmt.Errorf("%w: transaction %s", ErrProtocolViolation, cohort.txnID)
	}

	cohort.state = to

	return nil
}

func (cohort *Cohort) setState(state cohortState) {
	cohort.mu.Lock()
	defer cohort.mu.Unlock()

	cohort.state = state
}

func (cohort *Cohort) phaseLogger(ctx context.Context, phase Phase) *zap.Logger {
	return log.WithContext(ctx, cohort.logger).With(zap.String("operation", string(phase)))
}

func (cohort *Cohort) observe(phase Phase, start time.Time) {
	cohort.metrics.phaseDuration.WithLabelValues(string(phase)).Observe(time.Since(start).Seconds())
}

// canCommit asks for one vote at a time in participant order and
// stops at the first participant that does not vote yes. A shard
// only lets the head of its commit queue vote and the head keeps
// its place until it commits or aborts. Every cohort queues on
// shards in the same order, so no two cohorts can each hold a head
// the other is queued behind.
func (cohort *Cohort) canCommit(ctx context.Context) error {
	defer cohort.observe(PhaseCanCommit, time.Now())

	logger := cohort.phaseLogger(ctx, PhaseCanCommit)

	for _, participant := range cohort.participants {
		vote, err := participant.CanCommit(ctx).Get(ctx)

		switch {
		case err == nil && vote:
			continue
		case err == nil:
			logger.Info("vote rejected", zap.String("rejected", participant.Name()))
			cohort.metrics.outcomes.WithLabelValues("rejected").Inc()

			return &VoteRejectedError{TransactionID: cohort.txnID, Shards: []string{participant.Name()}}
		case errors.Is(err, context.DeadlineExceeded) && ctx.Err() != nil:
			logger.Warn("vote timed out", zap.String("unanswered", participant.Name()))
			cohort.metrics.outcomes.WithLabelValues("timed_out").Inc()

			return &PhaseTimeoutError{TransactionID: cohort.txnID, Phase: PhaseCanCommit, Shards: []string{participant.Name()}}
		case ctx.Err() != nil:
			return fmt.Errorf("could not collect votes for transaction %s: %w", cohort.txnID, ctx.Err())
		default:
			rejected := &VoteRejectedError{
				TransactionID: cohort.txnID,
				Shards:        []string{participant.Name()},
				Err:           fmt.Errorf("%s: %w", participant.Name(), err),
			}
			logger.Info("vote rejected", zap.String("rejected", participant.Name()), zap.Error(err))
			cohort.metrics.outcomes.WithLabelValues("rejected").Inc()

			return rejected
		}
	}

	logger.Debug("vote is unanimous", zap.Strings("participants", cohort.Participants()))

	return nil
}

func (cohort *Cohort) preCommit(ctx context.Context) error {
	defer cohort.observe(PhasePreCommit, time.Now())

	logger := cohort.phaseLogger(ctx, PhasePreCommit)
	errs := make([]error, len(cohort.participants))
	g, gctx := errgroup.WithContext(ctx)

	for i, participant := range cohort.participants {
		g.Go(func() error {
			_, errs[i] = participant.PreCommit(gctx).Get(gctx)

			return errs[i]
		})
	}

	if g.Wait() == nil {
		logger.Debug("every participant staged its changes")

		return nil
	}

	var unanswered []string
	var failures []error

	for i, participant := range cohort.participants {
		switch {
		case errs[i] == nil:
		case errors.Is(errs[i], context.DeadlineExceeded) && ctx.Err() != nil:
			unanswered = append(unanswered, participant.Name())
		case errors.Is(errs[i], context.Canceled) && ctx.Err() == nil:
		default:
			failures = append(failures, fmt.Errorf("%s: %w", participant.Name(), errs[i]))
		}
	}

	if len(failures) == 0 && len(unanswered) > 0 {
		logger.Warn("pre-commit timed out", zap.Strings("unanswered", unanswered))
		cohort.metrics.outcomes.WithLabelValues("timed_out").Inc()

		return &PhaseTimeoutError{TransactionID: cohort.txnID, Phase: PhasePreCommit, Shards: unanswered}
	}

	err := multierr.Combine(failures...)

	if err == nil {
		err = ctx.Err()
	}

	logger.Warn("pre-commit failed", zap.Error(err))
	cohort.metrics.outcomes.WithLabelValues("pre_commit_failed").Inc()

	return fmt.Errorf("could not pre-commit transaction %s: %w", cohort.txnID, err)
}

func (cohort *Cohort) commit(ctx context.Context) error {
	defer cohort.observe(PhaseCommit, time.Now())

	logger := cohort.phaseLogger(ctx, PhaseCommit)
	errs := make([]error, len(cohort.participants))

	// Every participant must be asked to commit whatever the others answer
	var g errgroup.Group

	for i, participant := range cohort.participants {
		g.Go(func() error {
			_, errs[i] = participant.Commit(ctx).Get(ctx)

			return nil
		})
	}

	g.Wait()

	var committed, failed, unanswered []string
	var failures []error

	for i, participant := range cohort.participants {
		switch {
		case errs[i] == nil:
			committed = append(committed, participant.Name())

			continue
		case errors.Is(errs[i], context.DeadlineExceeded) && ctx.Err() != nil:
			unanswered = append(unanswered, participant.Name())
		default:
			failures = append(failures, fmt.Errorf("%s: %w", participant.Name(), errs[i]))
		}

		failed = append(failed, participant.Name())
	}

	// Shards that did not answer may or may not have committed
	if len(unanswered) > 0 {
		failures = append(failures, &PhaseTimeoutError{TransactionID: cohort.txnID, Phase: PhaseCommit, Shards: unanswered})
	}

	if len(failed) == 0 {
		logger.Debug("transaction committed", zap.Strings("participants", committed))
		cohort.metrics.outcomes.WithLabelValues("committed").Inc()

		return nil
	}

	err := &PartialCommitError{TransactionID: cohort.txnID, Committed: committed, Failed: failed, Err: multierr.Combine(failures...)}
	logger.Error(
		"transaction committed by only some participants, manual reconciliation required",
		zap.Strings("committed", committed),
		zap.Strings("failed", failed),
		zap.Error(err.Err),
	)
	cohort.metrics.outcomes.WithLabelValues("partial_commit").Inc()

	return err
}

// abortAll tells every participant to abort. The abort outlives
// the caller's deadline since it is what cleans up after it.
func (cohort *Cohort) abortAll(ctx context.Context, cause Phase) *future.Future[struct{}] {
	cohort.mu.Lock()
	defer cohort.mu.Unlock()

	return cohort.abortLocked(ctx, cause)
}

func (cohort *Cohort) abortLocked(ctx context.Context, cause Phase) *future.Future[struct{}] {
	f, resolve := future.New[struct{}]()
	cohort.state = stateAborted
	cohort.aborted = f

	ctx = context.WithoutCancel(ctx)
	logger := cohort.phaseLogger(ctx, PhaseAbort).With(zap.String("cause", string(cause)))

	go func() {
		defer cohort.observe(PhaseAbort, time.Now())

		var g errgroup.Group
		errs := make([]error, len(cohort.participants))

		for i, participant := range cohort.participants {
			g.Go(func() error {
				_, errs[i] = participant.Abort(ctx).Get(ctx)

				return nil
			})
		}

		g.Wait()

		err := multierr.Combine(errs...)

		if err != nil {
			logger.Warn("could not abort every participant", zap.Error(err))
		} else {
			logger.Debug("transaction aborted")
		}

		if cause == PhaseAbort {
			cohort.metrics.outcomes.WithLabelValues("aborted").Inc()
		}

		resolve(struct{}{}, err)
	}()

	return f
}
