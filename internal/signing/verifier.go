package signing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/charlesng35/quorum/internal/auditctx"
	"github.com/charlesng35/quorum/internal/models"
	"github.com/charlesng35/quorum/pkg/crypto"
	"github.com/charlesng35/quorum/pkg/logger"
	"github.com/charlesng35/quorum/pkg/metrics"
)

const maxReasonLength = 2000

// SignRequest is a signatory's attempt to record a decision.
type SignRequest struct {
	ResolutionID string
	SignatoryID  string
	Token        string
	OTP          string
	Decision     models.Decision
	Reason       string
}

// Internal failure causes. They are logged and counted but never returned to callers.
const (
	causeTokenMismatch = "invalid_token"
	causeOTPMismatch   = "invalid_otp"
	causeOTPExpired    = "expired_otp"
	causeBurned        = "credential_burned"
)

// Verifier validates signing attempts and records decisions.
type Verifier struct {
	store      Store
	cfg        Config
	now        func() time.Time
	recorder   Recorder
	aggregator *Aggregator
	log        *zap.Logger
}

// NewVerifier constructs a Verifier.
func NewVerifier(store Store, cfg Config, opts ...Option) (*Verifier, error) {
	if store == nil {
		return nil, errors.New("signing verifier: store is required")
	}
	if len(cfg.SignatureKey) > 64 {
		return nil, errors.New("signing verifier: signature key must be at most 64 bytes")
	}
	s := newSettings(opts)
	cfg = cfg.withDefaults()
	return &Verifier{
		store:      store,
		cfg:        cfg,
		now:        s.now,
		recorder:   s.recorder,
		aggregator: newAggregator(store, cfg, s),
		log:        logger.WithModule("signing"),
	}, nil
}

// Sign verifies the credential, records the decision, consumes the credential
// and recomputes the resolution status in one transaction, then returns the
// resolution with all of its signatories.
func (v *Verifier) Sign(ctx context.Context, req SignRequest) (*models.Resolution, error) {
	req.ResolutionID = strings.TrimSpace(req.ResolutionID)
	req.SignatoryID = strings.TrimSpace(req.SignatoryID)
	req.Reason = strings.TrimSpace(req.Reason)
	if err := checkRequired(req); err != nil {
		return nil, err
	}

	actor, _ := auditctx.FromContext(ctx)
	log := v.log.With(logger.ResolutionID(req.ResolutionID), logger.SignatoryID(req.SignatoryID))
	tokenHash := crypto.Digest(req.Token)
	otpHash := crypto.Digest(req.OTP)

	var (
		failure  error
		cause    string
		change   *transition
		snapshot *models.Resolution
	)
	err := inTx(ctx, v.store, v.cfg.StoreTimeout, func(ctx context.Context, tx Store) error {
		res, err := tx.LockResolution(ctx, req.ResolutionID)
		if err != nil {
			if errors.Is(err, ErrResolutionNotFound) {
				return ErrSignatoryNotFound
			}
			return err
		}
		signatory, err := tx.GetSignatory(ctx, req.ResolutionID, req.SignatoryID)
		if err != nil {
			return err
		}

		now := v.now()
		if !crypto.DigestEqual(signatory.SignTokenHash, tokenHash) {
			failure, cause = ErrInvalidToken, causeTokenMismatch
			return nil
		}
		if !crypto.DigestEqual(signatory.OTPHash, otpHash) {
			burned, err := tx.RegisterFailedAttempt(ctx, signatory.ID, tokenHash, v.cfg.MaxAttempts)
			if err != nil {
				return err
			}
			failure, cause = ErrInvalidOrExpiredOTP, causeOTPMismatch
			if burned {
				cause = causeBurned
			}
			return nil
		}
		if signatory.OTPExpiresAt == nil || !now.Before(*signatory.OTPExpiresAt) {
			failure, cause = ErrInvalidOrExpiredOTP, causeOTPExpired
			return nil
		}
		if req.Decision != models.DecisionApproved && req.Decision != models.DecisionRejected {
			return validationError("decision must be %q or %q", models.DecisionApproved, models.DecisionRejected)
		}

		consumption := Consumption{
			SignatoryID: signatory.ID,
			TokenHash:   tokenHash,
			OTPHash:     otpHash,
			Now:         now,
			Decision:    req.Decision,
			IPAddress:   actor.IPAddress,
			UserAgent:   actor.UserAgent,
		}
		if req.Decision == models.DecisionRejected {
			consumption.Reason = req.Reason
		} else {
			consumption.SignatureHash, err = signatureHash(v.cfg.SignatureKey, res.ID, signatory.ID, now)
			if err != nil {
				return fmt.Errorf("signature hash: %w", err)
			}
		}

		consumed, err := tx.ConsumeCredential(ctx, consumption)
		if err != nil {
			return err
		}
		if !consumed {
			return ErrCredentialConsumed
		}

		if change, err = v.aggregator.apply(ctx, tx, res, now); err != nil {
			return err
		}
		snapshot, err = loadSnapshot(ctx, tx, res.ID)
		return err
	})

	if err == nil && failure != nil {
		err = failure
	}
	if err != nil {
		v.observeFailure(ctx, log, req, actor, err, cause)
		return nil, dependency("sign", err)
	}

	v.aggregator.observe(change, req.ResolutionID)
	metrics.SigningAttempts.WithLabelValues(string(req.Decision)).Inc()
	log.Info("decision recorded", zap.String("decision", string(req.Decision)), zap.String("status", string(snapshot.Status)))
	v.audit(ctx, Event{
		Action:       ActionSignatureRecorded,
		Result:       ResultSuccess,
		ResolutionID: req.ResolutionID,
		SignatoryID:  req.SignatoryID,
		IPAddress:    actor.IPAddress,
		UserAgent:    actor.UserAgent,
		Metadata:     map[string]any{"decision": string(req.Decision), "status": string(snapshot.Status)},
	})
	return snapshot, nil
}

func checkRequired(req SignRequest) error {
	var missing []string
	if req.ResolutionID == "" {
		missing = append(missing, "resolutionId")
	}
	if req.SignatoryID == "" {
		missing = append(missing, "signatoryId")
	}
	if req.Token == "" {
		missing = append(missing, "token")
	}
	if req.OTP == "" {
		missing = append(missing, "otp")
	}
	if req.Decision == "" {
		missing = append(missing, "decision")
	}
	if len(missing) > 0 {
		return validationError("missing required fields: %s", strings.Join(missing, ", "))
	}
	if len(req.Reason) > maxReasonLength {
		return validationError("reason must be at most %d characters", maxReasonLength)
	}
	return nil
}

func loadSnapshot(ctx context.Context, tx Store, resolutionID string) (*models.Resolution, error) {
	res, err := tx.GetResolution(ctx, resolutionID)
	if err != nil {
		return nil, err
	}
	signatories, err := tx.ListSignatories(ctx, resolutionID)
	if err != nil {
		return nil, err
	}
	res.Signatories = signatories
	return res, nil
}

func (v *Verifier) observeFailure(ctx context.Context, log *zap.Logger, req SignRequest, actor auditctx.Actor, err error, cause string) {
	if cause == "" {
		switch {
		case errors.Is(err, ErrCredentialConsumed):
			cause = "consumed"
		case errors.Is(err, ErrNotFound):
			cause = "not_found"
		case errors.Is(err, ErrValidation):
			cause = "invalid_request"
		default:
			cause = "error"
		}
	}
	metrics.SigningAttempts.WithLabelValues(cause).Inc()

	if cause == "error" {
		log.Error("signing attempt failed", zap.Error(err))
	} else {
		log.Warn("signing attempt rejected", zap.String("cause", cause))
	}

	if errors.Is(err, ErrNotFound) || cause == "error" {
		return
	}
	v.audit(ctx, Event{
		Action:       ActionSignatureRejected,
		Result:       ResultFailure,
		ResolutionID: req.ResolutionID,
		SignatoryID:  req.SignatoryID,
		IPAddress:    actor.IPAddress,
		UserAgent:    actor.UserAgent,
		Metadata:     map[string]any{"cause": cause},
	})
}

func (v *Verifier) audit(ctx context.Context, event Event) {
	actor, _ := auditctx.FromContext(ctx)
	event.Metadata = actor.Annotate(event.Metadata, "")
	if err := v.recorder.Record(context.WithoutCancel(ctx), event); err != nil {
		v.log.Warn("audit record failed", zap.String("action", event.Action), zap.Error(err))
	}
}
