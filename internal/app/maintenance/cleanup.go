package maintenance

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/charlesng35/quorum/internal/models"
	"github.com/charlesng35/quorum/pkg/logger"
)

const (
	defaultAuditRetentionDays = 365
	defaultCredentialGrace    = 24 * time.Hour
	defaultCredentialSpec     = "@every 15m"
	defaultAuditSpec          = "@daily"
)

// CredentialSweeper clears signing credentials whose OTP expired before cutoff.
type CredentialSweeper interface {
	SweepExpiredCredentials(ctx context.Context, cutoff time.Time) (int64, error)
}

// AuditPruner deletes signing events older than the retention window.
type AuditPruner interface {
	PruneOlderThan(ctx context.Context, retentionDays int) (int64, error)
}

// PendingResolutions lists resolutions still collecting decisions.
type PendingResolutions interface {
	ListPendingResolutionIDs(ctx context.Context) ([]string, error)
}

// StatusRecomputer re-derives and persists the status of one resolution.
type StatusRecomputer interface {
	Recompute(ctx context.Context, resolutionID string) (models.ResolutionStatus, error)
}

// Cleaner runs background housekeeping for issued credentials and the signing audit trail.
type Cleaner struct {
	credentials CredentialSweeper
	audit       AuditPruner
	pending     PendingResolutions
	recomputer  StatusRecomputer
	cron        *cron.Cron
	now         func() time.Time
	log         *zap.Logger
	retention   int
	grace       time.Duration

	credentialSchedule string
	auditSchedule      string
}

// Option customises the Cleaner.
type Option func(*Cleaner)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(cleaner *Cleaner) {
		if c != nil {
			cleaner.cron = c
		}
	}
}

// WithNow overrides the clock used for credential expiry comparisons.
func WithNow(now func() time.Time) Option {
	return func(cleaner *Cleaner) {
		if now != nil {
			cleaner.now = now
		}
	}
}

// WithStatusReconciliation recomputes every pending resolution after each
// credential sweep.
func WithStatusReconciliation(pending PendingResolutions, recomputer StatusRecomputer) Option {
	return func(cleaner *Cleaner) {
		if pending != nil && recomputer != nil {
			cleaner.pending = pending
			cleaner.recomputer = recomputer
		}
	}
}

// WithAuditRetentionDays adjusts how long signing events are retained.
func WithAuditRetentionDays(days int) Option {
	return func(cleaner *Cleaner) {
		if days > 0 {
			cleaner.retention = days
		}
	}
}

// WithCredentialGrace keeps expired credentials around for grace before they are cleared.
func WithCredentialGrace(grace time.Duration) Option {
	return func(cleaner *Cleaner) {
		if grace >= 0 {
			cleaner.grace = grace
		}
	}
}

// WithCredentialSchedule overrides the cron expression for the credential sweep.
func WithCredentialSchedule(expr string) Option {
	return func(cleaner *Cleaner) {
		if expr != "" {
			cleaner.credentialSchedule = expr
		}
	}
}

// WithAuditSchedule overrides the cron expression for audit retention enforcement.
func WithAuditSchedule(expr string) Option {
	return func(cleaner *Cleaner) {
		if expr != "" {
			cleaner.auditSchedule = expr
		}
	}
}

// NewCleaner constructs a Cleaner. A nil dependency skips the corresponding job.
func NewCleaner(credentials CredentialSweeper, audit AuditPruner, opts ...Option) *Cleaner {
	cleaner := &Cleaner{
		credentials:        credentials,
		audit:              audit,
		now:                time.Now,
		retention:          defaultAuditRetentionDays,
		grace:              defaultCredentialGrace,
		credentialSchedule: defaultCredentialSpec,
		auditSchedule:      defaultAuditSpec,
		log:                logger.WithModule("maintenance"),
	}

	for _, opt := range opts {
		opt(cleaner)
	}

	if cleaner.cron == nil {
		cleaner.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}
	return cleaner
}

func (c *Cleaner) enabled() bool {
	return c.credentials != nil || c.audit != nil
}

// Start registers the cleanup jobs and launches the scheduler when at least one job is enabled.
func (c *Cleaner) Start() error {
	if !c.enabled() {
		return nil
	}

	if c.credentials != nil {
		if _, err := c.cron.AddFunc(c.credentialSchedule, func() {
			ctx := context.Background()
			if _, err := c.sweepCredentials(ctx); err != nil {
				c.log.Warn("credential sweep failed", zap.Error(err))
			}
			if _, err := c.reconcileStatuses(ctx); err != nil {
				c.log.Warn("status reconciliation failed", zap.Error(err))
			}
		}); err != nil {
			return err
		}
	}

	if c.audit != nil {
		if _, err := c.cron.AddFunc(c.auditSchedule, func() {
			if _, err := c.pruneAudit(context.Background()); err != nil {
				c.log.Warn("audit cleanup failed", zap.Error(err))
			}
		}); err != nil {
			return err
		}
	}

	c.cron.Start()
	return nil
}

// Stop halts the underlying scheduler. The returned context is done once running jobs complete.
func (c *Cleaner) Stop() context.Context {
	if c.cron == nil {
		return context.Background()
	}
	return c.cron.Stop()
}

// RunOnce executes every configured cleanup routine sequentially.
func (c *Cleaner) RunOnce(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var errs error
	if c.credentials != nil {
		if _, err := c.sweepCredentials(ctx); err != nil {
			errs = multierr.Append(errs, err)
		}
		if _, err := c.reconcileStatuses(ctx); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	if c.audit != nil {
		if _, err := c.pruneAudit(ctx); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}

func (c *Cleaner) sweepCredentials(ctx context.Context) (int64, error) {
	cleared, err := c.credentials.SweepExpiredCredentials(ctx, c.now().Add(-c.grace))
	if err != nil {
		return 0, err
	}
	if cleared > 0 {
		c.log.Info("cleared expired signing credentials", zap.Int64("count", cleared))
	}
	return cleared, nil
}

func (c *Cleaner) reconcileStatuses(ctx context.Context) (int, error) {
	if c.pending == nil {
		return 0, nil
	}
	ids, err := c.pending.ListPendingResolutionIDs(ctx)
	if err != nil {
		return 0, err
	}

	var (
		changed int
		errs    error
	)
	for _, id := range ids {
		status, err := c.recomputer.Recompute(ctx, id)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		if status != models.ResolutionPending {
			changed++
		}
	}
	if changed > 0 {
		c.log.Info("reconciled resolution statuses", zap.Int("changed", changed), zap.Int("checked", len(ids)))
	}
	return changed, errs
}

func (c *Cleaner) pruneAudit(ctx context.Context) (int64, error) {
	removed, err := c.audit.PruneOlderThan(ctx, c.retention)
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		c.log.Info("pruned signing events", zap.Int64("count", removed), zap.Int("retention_days", c.retention))
	}
	return removed, nil
}
