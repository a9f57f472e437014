package entitlement

import (
	"context"
	"errors"
	"fmt"
)

const defaultMaxConflictRetries = 3

// Config holds the dependencies shared by reconciliation components.
// Providers embed it in their own config structs.
type Config struct {
	// Profiles is the profile store (required)
	Profiles ProfileStore

	// Notifications is the notification store (required)
	Notifications NotificationStore

	// Deduper optionally short-circuits already-processed webhook events.
	// If nil, every delivery is processed; the merge is idempotent so this
	// only costs redundant work, never incorrect state.
	Deduper EventDeduper

	// Logger is used for structured logging (default: NoopLogger)
	Logger Logger

	// Metrics is an optional metrics collector (default: NoopMetrics)
	Metrics Metrics

	// MaxConflictRetries bounds internal retries on ErrStoreConflict
	// (default: 3)
	MaxConflictRetries int
}

// Reconciler merges billing objects into per-user subscription state and
// emits the resulting notifications. The write path is a read-modify-write
// guarded by the profile version: a concurrent update to the same profile
// surfaces as ErrStoreConflict and the whole cycle is retried with fresh
// state, so two deliveries touching disjoint halves of the record both
// survive.
type Reconciler struct {
	profiles     ProfileStore
	notifier     *Notifier
	logger       Logger
	metrics      Metrics
	provider     string
	maxConflicts int
}

// NewReconciler creates a Reconciler from the shared config. provider is the
// billing provider name used as a log/metric label (e.g. "stripe").
func NewReconciler(provider string, config Config) (*Reconciler, error) {
	if config.Profiles == nil || config.Notifications == nil {
		return nil, ErrNotConfigured
	}

	logger := config.Logger
	if logger == nil {
		logger = &NoopLogger{}
	}
	metrics := config.Metrics
	if metrics == nil {
		metrics = &NoopMetrics{}
	}
	maxConflicts := config.MaxConflictRetries
	if maxConflicts <= 0 {
		maxConflicts = defaultMaxConflictRetries
	}

	return &Reconciler{
		profiles:     config.Profiles,
		notifier:     NewNotifier(config.Notifications, logger, metrics, provider),
		logger:       logger,
		metrics:      metrics,
		provider:     provider,
		maxConflicts: maxConflicts,
	}, nil
}

// Notifier returns the notifier backed by the reconciler's notification store.
func (r *Reconciler) Notifier() *Notifier {
	return r.notifier
}

// ApplyInput describes one billing object to reconcile.
type ApplyInput struct {
	// Object is the authoritative billing object
	Object BillingObject

	// Recurring selects the half of the record the object belongs to
	Recurring bool

	// CauseEventType is the provider event type that carried the object.
	// It drives notification type selection, not the merge itself.
	CauseEventType string

	// CauseEventID is the provider event id; it becomes the notification
	// dedup key so redelivery cannot double-notify.
	CauseEventID string
}

// ApplyResult reports a committed reconciliation.
type ApplyResult struct {
	ProfileID       string
	Premium         bool
	PreviousPremium bool
	Record          SubscriptionRecord

	// NotificationID is empty when the notification was deduplicated
	NotificationID string
}

// Apply runs one full reconciliation: look up the profile by customer id,
// merge, conditionally write, then emit the notification. The state update
// and the notification are not atomic: a notification failure after a
// committed update returns ErrNotificationWrite (retryable) and the caller
// must not report the event fully handled.
func (r *Reconciler) Apply(ctx context.Context, in ApplyInput) (*ApplyResult, error) {
	var lastErr error

	for attempt := 0; attempt <= r.maxConflicts; attempt++ {
		profile, err := r.profiles.FindByCustomerID(ctx, in.Object.Customer)
		if err != nil {
			if errors.Is(err, ErrProfileNotFound) {
				r.logger.Error("billing customer has no profile",
					Field{Key: "customer_id", Value: in.Object.Customer},
					Field{Key: "event_type", Value: in.CauseEventType},
				)
				r.metrics.RecordWebhookError(r.provider, "profile_not_found")
			}
			return nil, fmt.Errorf("find profile for customer %s: %w", in.Object.Customer, err)
		}

		merged := Merge(profile.Subscription, in.Object, in.Recurring, in.CauseEventType)

		err = r.profiles.UpdatePremiumAndSubscription(ctx, profile.ID, profile.Version, merged.Premium, merged.Record)
		if errors.Is(err, ErrStoreConflict) {
			lastErr = err
			r.metrics.RecordWebhookError(r.provider, "store_conflict")
			r.logger.Debug("profile write conflict, retrying",
				Field{Key: "profile_id", Value: profile.ID},
				Field{Key: "attempt", Value: attempt + 1},
			)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("update profile %s: %w", profile.ID, err)
		}

		if profile.Premium != merged.Premium {
			r.metrics.RecordEntitlementChange(r.provider, premiumLabel(profile.Premium), premiumLabel(merged.Premium))
		}
		r.logger.Info("subscription state reconciled",
			Field{Key: "profile_id", Value: profile.ID},
			Field{Key: "premium", Value: merged.Premium},
			Field{Key: "event_type", Value: in.CauseEventType},
		)

		result := &ApplyResult{
			ProfileID:       profile.ID,
			Premium:         merged.Premium,
			PreviousPremium: profile.Premium,
			Record:          merged.Record,
		}

		notifID, err := r.notifier.onSubscription(ctx, profile.ID, merged.Notify, in.CauseEventID)
		if err != nil {
			// State is committed; report retryable so the provider
			// redelivers and the dedup key absorbs the duplicate pass.
			r.metrics.RecordWebhookError(r.provider, "notification_write")
			r.logger.Error("notification write failed after committed state update",
				Field{Key: "profile_id", Value: profile.ID},
				Field{Key: "error", Value: err.Error()},
			)
			return result, fmt.Errorf("%w: %v", ErrNotificationWrite, err)
		}
		result.NotificationID = notifID

		return result, nil
	}

	return nil, fmt.Errorf("reconciliation exhausted %d conflict retries: %w", r.maxConflicts, lastErr)
}

func premiumLabel(premium bool) string {
	if premium {
		return "premium"
	}
	return "free"
}
