// Package memory provides in-memory implementations of the entitlement store
// interfaces. Primarily intended for testing and development.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/stefanmihai/entitlesync/pkg/entitlement"
)

// Storage implements entitlement.ProfileStore, entitlement.NotificationStore
// and entitlement.EventDeduper using in-memory maps.
type Storage struct {
	mu            sync.RWMutex
	profiles      map[string]*entitlement.Profile // by profile id
	byCustomer    map[string]string               // customer id -> profile id
	notifications []entitlement.Notification
	dedupKeys     map[string]string // dedup key -> notification id
	seenEvents    map[string]struct{}
	nextID        int
}

// New creates a new in-memory storage adapter
func New() *Storage {
	return &Storage{
		profiles:   make(map[string]*entitlement.Profile),
		byCustomer: make(map[string]string),
		dedupKeys:  make(map[string]string),
		seenEvents: make(map[string]struct{}),
	}
}

// SeedProfile inserts or replaces a profile. The stored version starts at the
// given profile's Version.
func (s *Storage) SeedProfile(profile *entitlement.Profile) error {
	if profile == nil || profile.ID == "" || profile.CustomerID == "" {
		return fmt.Errorf("invalid profile")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	copied := cloneProfile(profile)
	s.profiles[profile.ID] = copied
	s.byCustomer[profile.CustomerID] = profile.ID
	return nil
}

// FindByCustomerID implements entitlement.ProfileStore
func (s *Storage) FindByCustomerID(ctx context.Context, customerID string) (*entitlement.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byCustomer[customerID]
	if !ok {
		return nil, entitlement.ErrProfileNotFound
	}
	return cloneProfile(s.profiles[id]), nil
}

// UpdatePremiumAndSubscription implements entitlement.ProfileStore with
// version-checked writes.
func (s *Storage) UpdatePremiumAndSubscription(ctx context.Context, profileID string, version int64, premium bool, record entitlement.SubscriptionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	profile, ok := s.profiles[profileID]
	if !ok {
		return entitlement.ErrProfileNotFound
	}
	if profile.Version != version {
		return entitlement.ErrStoreConflict
	}

	profile.Premium = premium
	profile.Subscription = cloneRecord(record)
	profile.Version++
	return nil
}

// Create implements entitlement.NotificationStore
func (s *Storage) Create(ctx context.Context, n *entitlement.Notification) (string, error) {
	if n == nil || n.UserID == "" || n.Type == "" {
		return "", fmt.Errorf("invalid notification")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if n.DedupKey != "" {
		if _, exists := s.dedupKeys[n.DedupKey]; exists {
			return "", entitlement.ErrDuplicateNotification
		}
	}

	s.nextID++
	stored := *n
	stored.ID = fmt.Sprintf("ntf_%d", s.nextID)
	stored.CreatedAt = time.Now().UTC()
	s.notifications = append(s.notifications, stored)
	if n.DedupKey != "" {
		s.dedupKeys[n.DedupKey] = stored.ID
	}
	return stored.ID, nil
}

// Notifications returns copies of the notifications recorded for a user, in
// creation order.
func (s *Storage) Notifications(userID string) []entitlement.Notification {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []entitlement.Notification
	for _, n := range s.notifications {
		if n.UserID == userID {
			out = append(out, n)
		}
	}
	return out
}

// Seen implements entitlement.EventDeduper
func (s *Storage) Seen(ctx context.Context, eventID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.seenEvents[eventID]
	return ok, nil
}

// Mark implements entitlement.EventDeduper
func (s *Storage) Mark(ctx context.Context, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seenEvents[eventID] = struct{}{}
	return nil
}

func cloneProfile(p *entitlement.Profile) *entitlement.Profile {
	copied := *p
	copied.Subscription = cloneRecord(p.Subscription)
	return &copied
}

func cloneRecord(r entitlement.SubscriptionRecord) entitlement.SubscriptionRecord {
	copied := entitlement.SubscriptionRecord{}
	if r.Recurring != nil {
		recurring := *r.Recurring
		copied.Recurring = &recurring
	}
	if r.Lifetime != nil {
		lifetime := *r.Lifetime
		copied.Lifetime = &lifetime
	}
	return copied
}
