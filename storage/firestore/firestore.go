// Package firestore provides Firestore implementations of the entitlement
// store interfaces. Profile writes run inside Firestore transactions so that
// concurrent reconciliations for the same profile cannot drop each other's
// updates.
package firestore

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/stefanmihai/entitlesync/pkg/entitlement"
)

// Storage implements entitlement.ProfileStore and
// entitlement.NotificationStore using Google Cloud Firestore.
type Storage struct {
	client                  *firestore.Client
	profilesCollection      string
	notificationsCollection string
}

// Config holds Firestore storage configuration
type Config struct {
	// ProfilesCollection is the Firestore collection holding user profiles
	// Default: "profiles"
	ProfilesCollection string

	// NotificationsCollection is the Firestore collection for notifications
	// Default: "notifications"
	NotificationsCollection string
}

// New creates a new Firestore storage adapter
func New(client *firestore.Client, config Config) (*Storage, error) {
	if client == nil {
		return nil, fmt.Errorf("firestore client is required")
	}

	if config.ProfilesCollection == "" {
		config.ProfilesCollection = "profiles"
	}
	if config.NotificationsCollection == "" {
		config.NotificationsCollection = "notifications"
	}

	return &Storage{
		client:                  client,
		profilesCollection:      config.ProfilesCollection,
		notificationsCollection: config.NotificationsCollection,
	}, nil
}

// FindByCustomerID implements entitlement.ProfileStore
func (s *Storage) FindByCustomerID(ctx context.Context, customerID string) (*entitlement.Profile, error) {
	query := s.client.Collection(s.profilesCollection).
		Where("customerId", "==", customerID).
		Limit(1)

	docs, err := query.Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("failed to query profile: %w", err)
	}
	if len(docs) == 0 {
		return nil, entitlement.ErrProfileNotFound
	}

	return decodeProfile(docs[0]), nil
}

// UpdatePremiumAndSubscription implements entitlement.ProfileStore. The
// transaction re-reads the profile and aborts with ErrStoreConflict when the
// version moved since the caller's read.
func (s *Storage) UpdatePremiumAndSubscription(ctx context.Context, profileID string, version int64, premium bool, record entitlement.SubscriptionRecord) error {
	doc := s.client.Collection(s.profilesCollection).Doc(profileID)

	err := s.client.RunTransaction(ctx, func(_ context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(doc)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return entitlement.ErrProfileNotFound
			}
			return err
		}

		if getInt64(snap.Data(), "version") != version {
			return entitlement.ErrStoreConflict
		}

		return tx.Update(doc, []firestore.Update{
			{Path: "premium", Value: premium},
			{Path: "subscription", Value: encodeRecord(record)},
			{Path: "version", Value: version + 1},
		})
	})
	if err != nil {
		if isSentinel(err) {
			return err
		}
		return fmt.Errorf("failed to update profile: %w", err)
	}
	return nil
}

// Create implements entitlement.NotificationStore. Notifications with a
// dedup key use it as the document id and a create precondition, so a
// redelivered cause cannot write a second document.
func (s *Storage) Create(ctx context.Context, n *entitlement.Notification) (string, error) {
	if n == nil || n.UserID == "" || n.Type == "" {
		return "", fmt.Errorf("invalid notification")
	}

	collection := s.client.Collection(s.notificationsCollection)
	doc := collection.NewDoc()
	if n.DedupKey != "" {
		doc = collection.Doc(n.DedupKey)
	}

	data := map[string]interface{}{
		"userId":    n.UserID,
		"type":      n.Type,
		"data":      n.Data,
		"createdAt": firestore.ServerTimestamp,
	}
	if n.DedupKey != "" {
		data["dedupKey"] = n.DedupKey
	}

	if _, err := doc.Create(ctx, data); err != nil {
		if status.Code(err) == codes.AlreadyExists {
			return "", entitlement.ErrDuplicateNotification
		}
		return "", fmt.Errorf("failed to create notification: %w", err)
	}
	return doc.ID, nil
}

func isSentinel(err error) bool {
	return errors.Is(err, entitlement.ErrStoreConflict) || errors.Is(err, entitlement.ErrProfileNotFound)
}

func decodeProfile(snap *firestore.DocumentSnapshot) *entitlement.Profile {
	data := snap.Data()
	profile := &entitlement.Profile{
		ID:         snap.Ref.ID,
		CustomerID: getString(data, "customerId"),
		Premium:    getBool(data, "premium"),
		Version:    getInt64(data, "version"),
	}

	sub, _ := data["subscription"].(map[string]interface{})
	if recurring, ok := sub["recurring"].(map[string]interface{}); ok {
		profile.Subscription.Recurring = &entitlement.RecurringState{
			SubscriptionID: getString(recurring, "subscriptionId"),
			Status:         getString(recurring, "subscriptionStatus"),
		}
	}
	if lifetime, ok := sub["lifetime"].(map[string]interface{}); ok {
		profile.Subscription.Lifetime = &entitlement.LifetimeState{
			PaymentIntentID: getString(lifetime, "paymentIntentId"),
			Status:          getString(lifetime, "paymentIntentStatus"),
		}
	}
	return profile
}

func encodeRecord(record entitlement.SubscriptionRecord) map[string]interface{} {
	data := map[string]interface{}{}
	if record.Recurring != nil {
		data["recurring"] = map[string]interface{}{
			"subscriptionId":     record.Recurring.SubscriptionID,
			"subscriptionStatus": record.Recurring.Status,
		}
	}
	if record.Lifetime != nil {
		data["lifetime"] = map[string]interface{}{
			"paymentIntentId":     record.Lifetime.PaymentIntentID,
			"paymentIntentStatus": record.Lifetime.Status,
		}
	}
	return data
}

func getString(data map[string]interface{}, key string) string {
	if v, ok := data[key].(string); ok {
		return v
	}
	return ""
}

func getBool(data map[string]interface{}, key string) bool {
	if v, ok := data[key].(bool); ok {
		return v
	}
	return false
}

func getInt64(data map[string]interface{}, key string) int64 {
	if v, ok := data[key].(int64); ok {
		return v
	}
	return 0
}
