package signing

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/charlesng35/quorum/internal/auditctx"
	"github.com/charlesng35/quorum/internal/models"
	"github.com/charlesng35/quorum/pkg/crypto"
	"github.com/charlesng35/quorum/pkg/logger"
	"github.com/charlesng35/quorum/pkg/metrics"
)

// OutcomeStatus is the per-signatory result of an issuance round.
type OutcomeStatus string

const (
	OutcomeIssued OutcomeStatus = "issued"
	OutcomeFailed OutcomeStatus = "failed"
)

// Failure reasons reported on outcomes.
const (
	ReasonNoContact           = "no contact address"
	ReasonResolutionFinalized = "resolution finalized"
	ReasonStoreFailure        = "credential could not be stored"
	ReasonGeneratorFailure    = "credential could not be generated"
	ReasonDeliveryFailed      = "notification delivery failed"
)

// IssuedCredential is returned to the caller that requested issuance.
type IssuedCredential struct {
	SignatoryID  string    `json:"signatoryId"`
	Name         string    `json:"name"`
	Token        string    `json:"token"`
	Link         string    `json:"link"`
	OTPExpiresAt time.Time `json:"otpExpiresAt"`
	Delivered    bool      `json:"delivered"`

	// OTP is only available in process; it is delivered out of band.
	OTP string `json:"-"`
}

// Outcome reports what happened to one signatory.
type Outcome struct {
	SignatoryID string        `json:"signatoryId"`
	Status      OutcomeStatus `json:"status"`
	Reason      string        `json:"reason,omitempty"`
	Delivered   bool          `json:"delivered"`
}

// IssueResult lists the issued credentials and an outcome for every signatory.
type IssueResult struct {
	Issued   []IssuedCredential
	Outcomes []Outcome
}

// Issuer generates and resets credentials for the signatories of a resolution.
type Issuer struct {
	store      Store
	dispatcher Dispatcher
	cfg        Config
	now        func() time.Time
	recorder   Recorder
	aggregator *Aggregator
	log        *zap.Logger
}

// NewIssuer constructs an Issuer.
func NewIssuer(store Store, dispatcher Dispatcher, cfg Config, opts ...Option) (*Issuer, error) {
	if store == nil {
		return nil, errors.New("signing issuer: store is required")
	}
	if dispatcher == nil {
		return nil, errors.New("signing issuer: dispatcher is required")
	}
	s := newSettings(opts)
	cfg = cfg.withDefaults()
	return &Issuer{
		store:      store,
		dispatcher: dispatcher,
		cfg:        cfg,
		now:        s.now,
		recorder:   s.recorder,
		aggregator: newAggregator(store, cfg, s),
		log:        logger.WithModule("signing"),
	}, nil
}

type pendingNotice struct {
	outcome int
	issued  int
	address string
	message string
}

// IssueCredentials starts a signing round. Each signatory is reset in its own
// transaction so one failure never blocks the others; notifications are sent
// after the credentials are stored and never roll them back.
func (i *Issuer) IssueCredentials(ctx context.Context, resolutionID string) (*IssueResult, error) {
	resolutionID = strings.TrimSpace(resolutionID)
	if resolutionID == "" {
		return nil, validationError("resolutionId is required")
	}

	res, err := withTimeout(ctx, i.cfg.StoreTimeout, func(ctx context.Context) (*models.Resolution, error) {
		return i.store.GetResolution(ctx, resolutionID)
	})
	if err != nil {
		return nil, dependency("load resolution", err)
	}
	if res.Status == models.ResolutionFinalized {
		return nil, ErrResolutionFinalized
	}

	if res.Status == models.ResolutionDraft {
		moved, err := withTimeout(ctx, i.cfg.StoreTimeout, func(ctx context.Context) (bool, error) {
			return i.store.UpdateResolutionStatus(ctx, res.ID, models.ResolutionDraft, models.ResolutionPending, i.now())
		})
		if err != nil {
			return nil, dependency("open resolution", err)
		}
		if moved {
			i.aggregator.observe(&transition{from: models.ResolutionDraft, to: models.ResolutionPending}, res.ID)
		}
	}

	signatories, err := withTimeout(ctx, i.cfg.StoreTimeout, func(ctx context.Context) ([]models.Signatory, error) {
		return i.store.ListSignatories(ctx, res.ID)
	})
	if err != nil {
		return nil, dependency("list signatories", err)
	}

	result := &IssueResult{
		Issued:   make([]IssuedCredential, 0, len(signatories)),
		Outcomes: make([]Outcome, 0, len(signatories)),
	}
	notices := make([]pendingNotice, 0, len(signatories))

	for idx := range signatories {
		signatory := &signatories[idx]
		issued, reason := i.issueOne(ctx, res, signatory)
		if issued == nil {
			result.Outcomes = append(result.Outcomes, Outcome{SignatoryID: signatory.ID, Status: OutcomeFailed, Reason: reason})
			metrics.CredentialIssuance.WithLabelValues(string(OutcomeFailed)).Inc()
			continue
		}
		metrics.CredentialIssuance.WithLabelValues(string(OutcomeIssued)).Inc()
		result.Outcomes = append(result.Outcomes, Outcome{SignatoryID: signatory.ID, Status: OutcomeIssued})
		result.Issued = append(result.Issued, *issued)
		notices = append(notices, pendingNotice{
			outcome: len(result.Outcomes) - 1,
			issued:  len(result.Issued) - 1,
			address: signatory.ContactAddress,
			message: notificationMessage(res.Title, issued.OTP, issued.Link, i.cfg.OTPTTL),
		})
	}

	i.deliver(ctx, res.ID, result, notices)
	return result, nil
}

func (i *Issuer) issueOne(ctx context.Context, res *models.Resolution, signatory *models.Signatory) (*IssuedCredential, string) {
	log := i.log.With(logger.ResolutionID(res.ID), logger.SignatoryID(signatory.ID))

	if strings.TrimSpace(signatory.ContactAddress) == "" {
		log.Warn("credential issuance skipped: no contact address")
		i.audit(ctx, res.ID, signatory.ID, ResultFailure, map[string]any{"reason": ReasonNoContact})
		return nil, ReasonNoContact
	}

	cred, err := newCredential(i.cfg)
	if err != nil {
		log.Error("credential generation failed", zap.Error(err))
		return nil, ReasonGeneratorFailure
	}

	now := i.now()
	expiresAt := now.Add(i.cfg.OTPTTL)
	var change *transition
	err = inTx(ctx, i.store, i.cfg.StoreTimeout, func(ctx context.Context, tx Store) error {
		locked, err := tx.LockResolution(ctx, res.ID)
		if err != nil {
			return err
		}
		if locked.Status == models.ResolutionFinalized {
			return ErrResolutionFinalized
		}
		if err := tx.ResetCredential(ctx, CredentialReset{
			SignatoryID: signatory.ID,
			TokenHash:   crypto.Digest(cred.token),
			OTPHash:     crypto.Digest(cred.otp),
			ExpiresAt:   expiresAt,
			IssuedAt:    now,
		}); err != nil {
			return err
		}
		change, err = i.aggregator.apply(ctx, tx, locked, now)
		return err
	})
	if err != nil {
		reason := ReasonStoreFailure
		if errors.Is(err, ErrResolutionFinalized) {
			reason = ReasonResolutionFinalized
		}
		log.Error("credential issuance failed", zap.String("reason", reason), zap.Error(err))
		i.audit(ctx, res.ID, signatory.ID, ResultFailure, map[string]any{"reason": reason})
		return nil, reason
	}
	i.aggregator.observe(change, res.ID)

	log.Info("credential issued", logger.Contact(signatory.ContactAddress), zap.Time("otp_expires_at", expiresAt))
	i.audit(ctx, res.ID, signatory.ID, ResultSuccess, map[string]any{"otp_expires_at": expiresAt.UTC().Format(time.RFC3339)})

	return &IssuedCredential{
		SignatoryID:  signatory.ID,
		Name:         signatory.Name,
		Token:        cred.token,
		Link:         signingLink(i.cfg.LinkBaseURL, res.ID, signatory.ID, cred.token),
		OTPExpiresAt: expiresAt,
		OTP:          cred.otp,
	}, ""
}

// deliver fans notifications out with bounded concurrency. Each goroutine
// writes only to its own slots of result.
func (i *Issuer) deliver(ctx context.Context, resolutionID string, result *IssueResult, notices []pendingNotice) {
	var g errgroup.Group
	g.SetLimit(i.cfg.NotifyConcurrency)

	for _, notice := range notices {
		g.Go(func() error {
			sendCtx, cancel := context.WithTimeout(ctx, i.cfg.NotifyTimeout)
			defer cancel()

			signatoryID := result.Outcomes[notice.outcome].SignatoryID
			if err := i.dispatcher.Send(sendCtx, notice.address, notice.message); err != nil {
				i.log.Warn("notification delivery failed",
					logger.ResolutionID(resolutionID),
					logger.SignatoryID(signatoryID),
					logger.Contact(notice.address),
					zap.Error(err),
				)
				result.Outcomes[notice.outcome].Reason = ReasonDeliveryFailed
				return nil
			}
			result.Outcomes[notice.outcome].Delivered = true
			result.Issued[notice.issued].Delivered = true
			return nil
		})
	}
	_ = g.Wait()
}

func (i *Issuer) audit(ctx context.Context, resolutionID, signatoryID, result string, metadata map[string]any) {
	actor, _ := auditctx.FromContext(ctx)
	metadata = actor.Annotate(metadata, "issued_by")
	event := Event{
		Action:       ActionCredentialsIssued,
		Result:       result,
		ResolutionID: resolutionID,
		SignatoryID:  signatoryID,
		IPAddress:    actor.IPAddress,
		UserAgent:    actor.UserAgent,
		Metadata:     metadata,
	}
	if err := i.recorder.Record(context.WithoutCancel(ctx), event); err != nil {
		i.log.Warn("audit record failed", zap.String("action", event.Action), zap.Error(err))
	}
}
