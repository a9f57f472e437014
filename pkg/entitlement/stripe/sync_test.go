package stripe

import (
	"testing"

	"github.com/stripe/stripe-go/v83"
)

func TestPreferSubscription(t *testing.T) {
	active := &stripe.Subscription{ID: "sub_active", Status: stripe.SubscriptionStatusActive, Created: 100}
	trialing := &stripe.Subscription{ID: "sub_trial", Status: stripe.SubscriptionStatusTrialing, Created: 200}
	canceledOld := &stripe.Subscription{ID: "sub_old", Status: stripe.SubscriptionStatusCanceled, Created: 50}
	canceledNew := &stripe.Subscription{ID: "sub_new", Status: stripe.SubscriptionStatusCanceled, Created: 300}

	tests := []struct {
		name      string
		current   *stripe.Subscription
		candidate *stripe.Subscription
		want      *stripe.Subscription
	}{
		{"nil current", nil, active, active},
		{"nil candidate", active, nil, active},
		{"premium beats canceled", canceledNew, active, active},
		{"premium kept over canceled", active, canceledNew, active},
		{"newest wins within premium", active, trialing, trialing},
		{"newest wins within non-premium", canceledOld, canceledNew, canceledNew},
		{"older non-premium loses", canceledNew, canceledOld, canceledNew},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := preferSubscription(tt.current, tt.candidate); got != tt.want {
				t.Errorf("preferSubscription() = %v, want %v", got.ID, tt.want.ID)
			}
		})
	}
}

func TestGrantsPremium(t *testing.T) {
	tests := []struct {
		status stripe.SubscriptionStatus
		want   bool
	}{
		{stripe.SubscriptionStatusActive, true},
		{stripe.SubscriptionStatusTrialing, true},
		{stripe.SubscriptionStatusCanceled, false},
		{stripe.SubscriptionStatusPastDue, false},
		{stripe.SubscriptionStatusUnpaid, false},
	}
	for _, tt := range tests {
		sub := &stripe.Subscription{Status: tt.status}
		if got := grantsPremium(sub); got != tt.want {
			t.Errorf("grantsPremium(%s) = %v, want %v", tt.status, got, tt.want)
		}
	}
}
