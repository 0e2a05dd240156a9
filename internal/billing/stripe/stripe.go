// Package stripe verifies and decodes Stripe subscription webhooks.
package stripe

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/stencilflow/stencilflow/internal/billing/domain"
)

const SignatureHeader = "Stripe-Signature"

const (
	EventSubscriptionCreated = "customer.subscription.created"
	EventSubscriptionUpdated = "customer.subscription.updated"
	EventSubscriptionDeleted = "customer.subscription.deleted"
	EventCheckoutCompleted   = "checkout.session.completed"
)

// SubscriptionEvent is the provider-neutral view of a subscription webhook.
type SubscriptionEvent struct {
	EventID    string
	EventType  string
	OrgID      string
	CustomerID string
	Status     string
	LookupKey  string
	Tier       string
	OccurredAt time.Time
}

type Verifier struct {
	secret    string
	tolerance time.Duration
	now       func() time.Time
}

func NewVerifier(secret string, tolerance time.Duration, now func() time.Time) *Verifier {
	if now == nil {
		now = time.Now
	}
	return &Verifier{secret: strings.TrimSpace(secret), tolerance: tolerance, now: now}
}

// Verify checks the v1 HMAC-SHA256 signature over "<t>.<payload>" and rejects
// timestamps outside the tolerance.
func (v *Verifier) Verify(payload []byte, headers http.Header) error {
	if v == nil || v.secret == "" {
		return domain.ErrNotConfigured
	}
	sigHeader := strings.TrimSpace(headers.Get(SignatureHeader))
	if sigHeader == "" {
		return domain.ErrInvalidSignature
	}

	timestamp, signatures, ok := parseStripeSignature(sigHeader)
	if !ok {
		return domain.ErrInvalidSignature
	}
	if v.tolerance > 0 {
		unix, err := strconv.ParseInt(timestamp, 10, 64)
		if err != nil {
			return domain.ErrInvalidSignature
		}
		age := v.now().Sub(time.Unix(unix, 0))
		if age < 0 {
			age = -age
		}
		if age > v.tolerance {
			return domain.ErrInvalidSignature
		}
	}

	expected := Sign(v.secret, timestamp, payload)
	for _, signature := range signatures {
		if hmac.Equal([]byte(signature), []byte(expected)) {
			return nil
		}
	}
	return domain.ErrInvalidSignature
}

// Sign computes the hex v1 signature for a timestamp and payload.
func Sign(secret, timestamp string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(timestamp))
	_, _ = mac.Write([]byte("."))
	_, _ = mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// SignatureHeaderValue builds a Stripe-Signature header value.
func SignatureHeaderValue(secret string, payload []byte, at time.Time) string {
	ts := strconv.FormatInt(at.Unix(), 10)
	return "t=" + ts + ",v1=" + Sign(secret, ts, payload)
}

// Parse decodes a subscription-related event. Other event types return ErrEventIgnored
// together with the event id and type.
func Parse(payload []byte, priceTiers map[string]string) (*SubscriptionEvent, error) {
	var event stripeEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, domain.ErrInvalidPayload
	}
	event.ID = strings.TrimSpace(event.ID)
	event.Type = strings.TrimSpace(event.Type)
	if event.ID == "" || event.Type == "" {
		return nil, domain.ErrInvalidPayload
	}

	out := &SubscriptionEvent{
		EventID:    event.ID,
		EventType:  event.Type,
		OccurredAt: timestamp(event.Created),
	}

	switch event.Type {
	case EventSubscriptionCreated, EventSubscriptionUpdated, EventSubscriptionDeleted:
		var sub stripeSubscription
		if err := json.Unmarshal(event.Data.Object, &sub); err != nil {
			return nil, domain.ErrInvalidPayload
		}
		out.OrgID = readMetadataValue(sub.Metadata, "org_id")
		out.CustomerID = strings.TrimSpace(sub.Customer)
		out.Status = mapSubscriptionStatus(sub.Status)
		if event.Type == EventSubscriptionDeleted {
			out.Status = "canceled"
		}
		for _, item := range sub.Items.Data {
			if key := strings.TrimSpace(item.Price.LookupKey); key != "" {
				out.LookupKey = key
				break
			}
		}
	case EventCheckoutCompleted:
		var session stripeCheckoutSession
		if err := json.Unmarshal(event.Data.Object, &session); err != nil {
			return nil, domain.ErrInvalidPayload
		}
		out.OrgID = readMetadataValue(session.Metadata, "org_id")
		if out.OrgID == "" {
			out.OrgID = strings.TrimSpace(session.ClientReferenceID)
		}
		out.CustomerID = strings.TrimSpace(session.Customer)
		out.LookupKey = readMetadataValue(session.Metadata, "lookup_key")
		out.Status = "active"
		if session.Mode != "" && session.Mode != "subscription" {
			return out, domain.ErrEventIgnored
		}
	default:
		return out, domain.ErrEventIgnored
	}

	if out.LookupKey != "" {
		out.Tier = priceTiers[out.LookupKey]
	}
	if out.OrgID == "" && out.CustomerID == "" {
		return nil, domain.ErrInvalidPayload
	}
	return out, nil
}

// mapSubscriptionStatus folds Stripe's statuses onto the organization's.
func mapSubscriptionStatus(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "trialing":
		return "trialing"
	case "active":
		return "active"
	case "past_due", "unpaid":
		return "past_due"
	case "canceled", "incomplete_expired":
		return "canceled"
	default:
		return "none"
	}
}

type stripeEvent struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Created int64           `json:"created"`
	Data    stripeEventData `json:"data"`
}

type stripeEventData struct {
	Object json.RawMessage `json:"object"`
}

type stripeSubscription struct {
	ID       string         `json:"id"`
	Customer string         `json:"customer"`
	Status   string         `json:"status"`
	Metadata map[string]any `json:"metadata"`
	Items    struct {
		Data []struct {
			Price struct {
				ID        string `json:"id"`
				LookupKey string `json:"lookup_key"`
			} `json:"price"`
		} `json:"data"`
	} `json:"items"`
}

type stripeCheckoutSession struct {
	ID                string         `json:"id"`
	Customer          string         `json:"customer"`
	Mode              string         `json:"mode"`
	ClientReferenceID string         `json:"client_reference_id"`
	Metadata          map[string]any `json:"metadata"`
}

func parseStripeSignature(header string) (string, []string, bool) {
	var timestamp string
	signatures := []string{}
	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch strings.TrimSpace(key) {
		case "t":
			timestamp = strings.TrimSpace(value)
		case "v1":
			signatures = append(signatures, strings.TrimSpace(value))
		}
	}
	if timestamp == "" || len(signatures) == 0 {
		return "", nil, false
	}
	return timestamp, signatures, true
}

func timestamp(unix int64) time.Time {
	if unix == 0 {
		return time.Time{}
	}
	return time.Unix(unix, 0).UTC()
}

func readMetadataValue(metadata map[string]any, key string) string {
	if metadata == nil {
		return ""
	}
	switch cast := metadata[key].(type) {
	case string:
		return strings.TrimSpace(cast)
	case float64:
		if cast == 0 {
			return ""
		}
		return strconv.FormatInt(int64(cast), 10)
	case json.Number:
		return cast.String()
	}
	return ""
}
