// Package payments is the Payment Provider Client (spec.md §4.7):
// typed API calls plus HMAC webhook verification. Ported from
// original_source/stripe_api.rs.
package payments

import "encoding/json"

// IdOrObject models a payment-provider field that is either a bare
// string identifier or an object carrying an "id" field — spec.md §9's
// "polymorphic id-or-object fields" design note.
type IdOrObject struct {
	id     string
	object bool
}

func (v *IdOrObject) UnmarshalJSON(data []byte) error {
	var asString string
	if err := json.Unmarshal(data, &asString); err == nil {
		v.id = asString
		v.object = false
		return nil
	}

	var asObject struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &asObject); err != nil {
		return err
	}
	v.id = asObject.ID
	v.object = true
	return nil
}

func (v *IdOrObject) MarshalJSON() ([]byte, error) {
	if v == nil {
		return []byte("null"), nil
	}
	if v.object {
		return json.Marshal(map[string]string{"id": v.id})
	}
	return json.Marshal(v.id)
}

// ID returns the underlying identifier regardless of wire shape.
func (v *IdOrObject) ID() string {
	if v == nil {
		return ""
	}
	return v.id
}

// Customer mirrors original_source/stripe_api.rs's StripeCustomer.
type Customer struct {
	ID       string            `json:"id"`
	Deleted  bool              `json:"deleted"`
	Metadata map[string]string `json:"metadata"`
}

// CheckoutSession mirrors StripeCheckoutSession.
type CheckoutSession struct {
	URL          string       `json:"url"`
	Status       string       `json:"status"`
	Subscription *IdOrObject  `json:"subscription"`
	LineItems    *LineItems   `json:"line_items"`
}

// LineItems mirrors StripeLineItems.
type LineItems struct {
	Data []LineItem `json:"data"`
}

// LineItem mirrors the nested line-item/price structs.
type LineItem struct {
	Price Price `json:"price"`
}

// Price mirrors the nested price struct.
type Price struct {
	ID string `json:"id"`
}

// BillingPortalSession mirrors StripeBillingPortalSession.
type BillingPortalSession struct {
	URL string `json:"url"`
}

// Subscription mirrors StripeSubscription.
type Subscription struct {
	ID                 string           `json:"id"`
	Customer           IdOrObject       `json:"customer"`
	Status             string           `json:"status"`
	CurrentPeriodEnd   *int64           `json:"current_period_end"`
	Items              SubscriptionItems `json:"items"`
}

// SubscriptionItems mirrors StripeSubscriptionItems.
type SubscriptionItems struct {
	Data []SubscriptionItem `json:"data"`
}

// SubscriptionItem holds the nested price for a subscription item.
type SubscriptionItem struct {
	Price Price `json:"price"`
}

// Event mirrors StripeEvent.
type Event struct {
	Type string    `json:"type"`
	Data EventData `json:"data"`
}

// EventData mirrors StripeEventData.
type EventData struct {
	Object json.RawMessage `json:"object"`
}

// Invoice mirrors StripeInvoice.
type Invoice struct {
	Subscription *IdOrObject `json:"subscription"`
}
