package billing

import (
	"encoding/json"
	"strings"
	"time"
)

// Outcome classifies what applying a provider event did.
type Outcome string

const (
	// OutcomeApplied means the event changed local state.
	OutcomeApplied Outcome = "applied"
	// OutcomeIgnored means the event was recognized but deliberately not
	// applied (duplicate delivery, lifetime guard, no-op promotion).
	OutcomeIgnored Outcome = "ignored"
	// OutcomeSkipped means the event was acknowledged but could not be acted
	// on (unknown type, missing data). The provider must not retry it.
	OutcomeSkipped Outcome = "skipped"
)

// Provider event types the synchronizer understands.
const (
	EventSubscriptionCreated = "customer.subscription.created"
	EventSubscriptionUpdated = "customer.subscription.updated"
	EventSubscriptionDeleted = "customer.subscription.deleted"
	EventInvoicePaid         = "invoice.payment_succeeded"
	EventInvoiceFailed       = "invoice.payment_failed"
)

// SubscriptionObject is the provider-side subscription shape carried inside
// webhook payloads and API responses.
type SubscriptionObject struct {
	ID                 string `json:"id"`
	Customer           string `json:"customer"`
	Status             string `json:"status"`
	CancelAtPeriodEnd  bool   `json:"cancel_at_period_end"`
	CanceledAt         int64  `json:"canceled_at"`
	CurrentPeriodStart int64  `json:"current_period_start"`
	CurrentPeriodEnd   int64  `json:"current_period_end"`
	TrialStart         int64  `json:"trial_start"`
	TrialEnd           int64  `json:"trial_end"`
	Items              struct {
		Data []struct {
			Price struct {
				ID        string `json:"id"`
				Recurring struct {
					Interval string `json:"interval"`
				} `json:"recurring"`
			} `json:"price"`
		} `json:"data"`
	} `json:"items"`
}

// PriceID returns the first line item's price id, or empty.
func (s *SubscriptionObject) PriceID() string {
	if len(s.Items.Data) == 0 {
		return ""
	}
	return strings.TrimSpace(s.Items.Data[0].Price.ID)
}

// Interval returns the first line item's billing interval, or empty.
func (s *SubscriptionObject) Interval() string {
	if len(s.Items.Data) == 0 {
		return ""
	}
	return strings.TrimSpace(s.Items.Data[0].Price.Recurring.Interval)
}

// InvoiceObject is the provider-side invoice shape inside webhook payloads.
type InvoiceObject struct {
	ID           string `json:"id"`
	Customer     string `json:"customer"`
	Subscription string `json:"subscription"`
}

// Event is a parsed provider webhook event. Exactly one of Subscription or
// Invoice is populated depending on the event type.
type Event struct {
	ID           string
	Type         string
	Subscription *SubscriptionObject
	Invoice      *InvoiceObject
	RawPayload   []byte
}

// ParseEvent decodes a raw webhook body into an Event. Unknown event types
// parse fine; classification happens in ApplyEvent.
func ParseEvent(payload []byte) (*Event, error) {
	var raw struct {
		ID   string `json:"id"`
		Type string `json:"type"`
		Data struct {
			Object json.RawMessage `json:"object"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, err
	}

	evt := &Event{
		ID:         strings.TrimSpace(raw.ID),
		Type:       strings.TrimSpace(raw.Type),
		RawPayload: payload,
	}

	switch {
	case strings.HasPrefix(evt.Type, "customer.subscription."):
		var sub SubscriptionObject
		if err := json.Unmarshal(raw.Data.Object, &sub); err != nil {
			return nil, err
		}
		evt.Subscription = &sub
	case strings.HasPrefix(evt.Type, "invoice."):
		var inv InvoiceObject
		if err := json.Unmarshal(raw.Data.Object, &inv); err != nil {
			return nil, err
		}
		evt.Invoice = &inv
	}

	return evt, nil
}

// WebhookEventInput is the normalized input for webhook event persistence.
type WebhookEventInput struct {
	ProviderEventID string
	EventType       string
	PayloadJSON     string
	SignatureValid  bool
}

func unixTime(v int64) *time.Time {
	if v <= 0 {
		return nil
	}
	t := time.Unix(v, 0).UTC()
	return &t
}
