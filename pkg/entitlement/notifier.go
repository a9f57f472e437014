package entitlement

import (
	"context"
	"errors"
	"fmt"
)

// Notifier records user-visible notifications. Billing notifications carry a
// dedup key derived from the cause event id, so at-least-once webhook
// delivery cannot double-notify; like notifications are deduplicated per
// (recipient, liker, comment); reply notifications are never sent to the
// replying user themselves.
type Notifier struct {
	store    NotificationStore
	logger   Logger
	metrics  Metrics
	provider string
}

// NewNotifier creates a Notifier. logger and metrics may be nil.
func NewNotifier(store NotificationStore, logger Logger, metrics Metrics, provider string) *Notifier {
	if logger == nil {
		logger = &NoopLogger{}
	}
	if metrics == nil {
		metrics = &NoopMetrics{}
	}
	return &Notifier{store: store, logger: logger, metrics: metrics, provider: provider}
}

// OnSubscriptionRecurring records a recurring-subscription notification.
func (n *Notifier) OnSubscriptionRecurring(ctx context.Context, userID, status, causeEventID string) (string, error) {
	return n.onSubscription(ctx, userID, NotificationIntent{Type: NotificationSubscriptionRecurring, Status: status}, causeEventID)
}

// OnSubscriptionLifetime records a lifetime-purchase notification.
func (n *Notifier) OnSubscriptionLifetime(ctx context.Context, userID, status, causeEventID string) (string, error) {
	return n.onSubscription(ctx, userID, NotificationIntent{Type: NotificationSubscriptionLifetime, Status: status}, causeEventID)
}

func (n *Notifier) onSubscription(ctx context.Context, userID string, intent NotificationIntent, causeEventID string) (string, error) {
	notification := &Notification{
		UserID: userID,
		Type:   intent.Type,
		Data: map[string]interface{}{
			"status": intent.Status,
		},
	}
	if causeEventID != "" {
		notification.DedupKey = fmt.Sprintf("%s:%s", intent.Type, causeEventID)
	}
	return n.create(ctx, notification)
}

// ReplyData is the payload of a reply notification.
type ReplyData struct {
	// UserID is the replying user
	UserID    string
	CommentID string
	ReplyID   string
}

// OnReply records a reply notification unless the recipient replied to
// themselves.
func (n *Notifier) OnReply(ctx context.Context, userID string, data ReplyData) (string, error) {
	if userID == data.UserID {
		return "", nil
	}
	return n.create(ctx, &Notification{
		UserID: userID,
		Type:   NotificationReply,
		Data: map[string]interface{}{
			"userId":    data.UserID,
			"commentId": data.CommentID,
			"replyId":   data.ReplyID,
		},
	})
}

// LikeData is the payload of a like notification.
type LikeData struct {
	// UserID is the liking user
	UserID    string
	CommentID string
}

// OnLike records a like notification at most once per
// (recipient, liker, comment).
func (n *Notifier) OnLike(ctx context.Context, userID string, data LikeData) (string, error) {
	return n.create(ctx, &Notification{
		UserID: userID,
		Type:   NotificationLike,
		Data: map[string]interface{}{
			"userId":    data.UserID,
			"commentId": data.CommentID,
		},
		DedupKey: fmt.Sprintf("%s:%s:%s:%s", NotificationLike, userID, data.UserID, data.CommentID),
	})
}

// create appends the notification, treating a dedup-key hit as already
// delivered (empty id, nil error).
func (n *Notifier) create(ctx context.Context, notification *Notification) (string, error) {
	id, err := n.store.Create(ctx, notification)
	if errors.Is(err, ErrDuplicateNotification) {
		n.metrics.RecordNotification(n.provider, notification.Type, "duplicate")
		n.logger.Debug("notification deduplicated",
			Field{Key: "user_id", Value: notification.UserID},
			Field{Key: "type", Value: notification.Type},
			Field{Key: "dedup_key", Value: notification.DedupKey},
		)
		return "", nil
	}
	if err != nil {
		n.metrics.RecordNotification(n.provider, notification.Type, "error")
		return "", fmt.Errorf("create %s notification: %w", notification.Type, err)
	}
	n.metrics.RecordNotification(n.provider, notification.Type, "created")
	return id, nil
}
