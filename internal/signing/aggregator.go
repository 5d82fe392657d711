package signing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/charlesng35/quorum/internal/models"
	"github.com/charlesng35/quorum/pkg/logger"
	"github.com/charlesng35/quorum/pkg/metrics"
)

// Aggregate maps signatory decisions to a resolution status. Any rejection
// expires the resolution, unanimous approval finalizes it and anything else
// (including an empty signatory set) leaves it pending.
func Aggregate(decisions []models.Decision) models.ResolutionStatus {
	if len(decisions) == 0 {
		return models.ResolutionPending
	}
	approved := 0
	for _, d := range decisions {
		switch d {
		case models.DecisionRejected:
			return models.ResolutionExpired
		case models.DecisionApproved:
			approved++
		}
	}
	if approved == len(decisions) {
		return models.ResolutionFinalized
	}
	return models.ResolutionPending
}

func decisionsOf(signatories []models.Signatory) []models.Decision {
	out := make([]models.Decision, len(signatories))
	for i := range signatories {
		out[i] = signatories[i].Decision
	}
	return out
}

// Aggregator recomputes and persists resolution status. Issuer and Verifier
// run it inside their transactions after every credential change.
type Aggregator struct {
	store   Store
	timeout time.Duration
	now     func() time.Time
	log     *zap.Logger
}

// NewAggregator constructs an Aggregator over store.
func NewAggregator(store Store, cfg Config, opts ...Option) (*Aggregator, error) {
	if store == nil {
		return nil, errors.New("signing aggregator: store is required")
	}
	return newAggregator(store, cfg.withDefaults(), newSettings(opts)), nil
}

func newAggregator(store Store, cfg Config, s settings) *Aggregator {
	return &Aggregator{
		store:   store,
		timeout: cfg.StoreTimeout,
		now:     s.now,
		log:     logger.WithModule("signing"),
	}
}

// Recompute derives the resolution status from its signatories under the
// resolution row lock and persists it when it changed. Draft resolutions are
// left untouched.
func (a *Aggregator) Recompute(ctx context.Context, resolutionID string) (models.ResolutionStatus, error) {
	resolutionID = strings.TrimSpace(resolutionID)
	if resolutionID == "" {
		return "", validationError("resolutionId is required")
	}

	var (
		status models.ResolutionStatus
		change *transition
	)
	err := inTx(ctx, a.store, a.timeout, func(ctx context.Context, tx Store) error {
		res, err := tx.LockResolution(ctx, resolutionID)
		if err != nil {
			return err
		}
		change, err = a.apply(ctx, tx, res, a.now())
		if err != nil {
			return err
		}
		status = res.Status
		return nil
	})
	if err != nil {
		return "", dependency("recompute status", err)
	}
	a.observe(change, resolutionID)
	return status, nil
}

type transition struct {
	from models.ResolutionStatus
	to   models.ResolutionStatus
}

func (a *Aggregator) observe(t *transition, resolutionID string) {
	if t == nil {
		return
	}
	metrics.StatusTransitions.WithLabelValues(string(t.from), string(t.to)).Inc()
	a.log.Info("resolution status changed",
		logger.ResolutionID(resolutionID),
		zap.String("from", string(t.from)),
		zap.String("to", string(t.to)),
	)
}

// apply must run inside a transaction holding the lock on res.
func (a *Aggregator) apply(ctx context.Context, tx Store, res *models.Resolution, now time.Time) (*transition, error) {
	if res.Status == models.ResolutionDraft {
		return nil, nil
	}

	signatories, err := tx.ListSignatories(ctx, res.ID)
	if err != nil {
		return nil, err
	}
	next := Aggregate(decisionsOf(signatories))
	if !res.Status.Valid() {
		return nil, fmt.Errorf("resolution %s has unknown status %q", res.ID, res.Status)
	}
	if next == res.Status {
		return nil, nil
	}

	ok, err := tx.UpdateResolutionStatus(ctx, res.ID, res.Status, next, now)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: resolution %s changed concurrently", ErrConflict, res.ID)
	}

	change := &transition{from: res.Status, to: next}
	res.Status = next
	res.UpdatedAt = now
	return change, nil
}
