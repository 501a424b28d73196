package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/stripe/stripe-go/v79"

	appErrors "github.com/unclebandit/steadyletters-backend/internal/errors"
	"github.com/unclebandit/steadyletters-backend/internal/model"
	"github.com/unclebandit/steadyletters-backend/internal/repository"
	"github.com/unclebandit/steadyletters-backend/internal/tier"
)

// BillingService applies Stripe subscription events to accounts.
type BillingService struct {
	AccountRepo   repository.AccountRepositoryInterface
	PricePro      string
	PriceBusiness string
}

// SyncAccount creates or refreshes the account for a verified identity.
func (s *BillingService) SyncAccount(ctx context.Context, accountID, email string) (*model.Account, error) {
	if accountID == "" {
		return nil, appErrors.NewUnauthorized("missing subject")
	}
	return s.AccountRepo.Upsert(ctx, accountID, email)
}

// TierForPrice maps a Stripe price onto a tier; unknown prices are FREE.
func (s *BillingService) TierForPrice(priceID string) tier.Tier {
	switch {
	case priceID == "":
		return tier.Free
	case priceID == s.PricePro:
		return tier.Pro
	case priceID == s.PriceBusiness:
		return tier.Business
	}
	return tier.Free
}

// HandleEvent applies a verified Stripe event. Unhandled types are ignored.
func (s *BillingService) HandleEvent(ctx context.Context, event stripe.Event) error {
	log := slog.With("stripe_event_id", event.ID, "stripe_event_type", event.Type)

	switch event.Type {
	case "checkout.session.completed":
		var sess stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
			return appErrors.NewValidation("data", "invalid session payload")
		}
		accountID := sess.ClientReferenceID
		if accountID == "" && sess.Metadata != nil {
			accountID = sess.Metadata["account_id"]
		}
		customerID := ""
		if sess.Customer != nil {
			customerID = sess.Customer.ID
		}
		if accountID == "" || customerID == "" {
			return appErrors.NewValidation("data", "session missing account or customer id")
		}
		subscriptionID := ""
		if sess.Subscription != nil {
			subscriptionID = sess.Subscription.ID
		}
		if err := s.AccountRepo.SetStripeCustomer(ctx, accountID, customerID, subscriptionID); err != nil {
			return fmt.Errorf("link stripe customer: %w", err)
		}
		log.Info("stripe customer linked", "account_id", accountID)

	case "customer.subscription.created", "customer.subscription.updated", "customer.subscription.deleted":
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return appErrors.NewValidation("data", "invalid subscription payload")
		}
		if sub.Customer == nil || sub.Customer.ID == "" {
			return appErrors.NewValidation("data", "subscription missing customer id")
		}

		update := repository.SubscriptionUpdate{
			StripeCustomerID:     sub.Customer.ID,
			StripeSubscriptionID: sub.ID,
			Status:               string(sub.Status),
		}
		if sub.Items != nil && len(sub.Items.Data) > 0 && sub.Items.Data[0].Price != nil {
			update.PriceID = sub.Items.Data[0].Price.ID
		}
		if sub.CurrentPeriodEnd > 0 {
			end := time.Unix(sub.CurrentPeriodEnd, 0).UTC()
			update.CurrentPeriodEnd = &end
		}

		update.Tier = string(s.TierForPrice(update.PriceID))
		if event.Type == "customer.subscription.deleted" || !subscriptionGrantsAccess(sub.Status) {
			update.Tier = string(tier.Free)
		}

		n, err := s.AccountRepo.UpdateSubscription(ctx, update)
		if err != nil {
			return fmt.Errorf("update subscription: %w", err)
		}
		if n == 0 {
			log.Warn("subscription event for unknown customer", "stripe_customer_id", update.StripeCustomerID)
			return nil
		}
		log.Info("subscription applied", "stripe_customer_id", update.StripeCustomerID, "tier", update.Tier, "status", update.Status)

	default:
		log.Debug("ignoring stripe event")
	}
	return nil
}

func subscriptionGrantsAccess(status stripe.SubscriptionStatus) bool {
	switch status {
	case stripe.SubscriptionStatusActive, stripe.SubscriptionStatusTrialing, stripe.SubscriptionStatusPastDue:
		return true
	}
	return false
}
