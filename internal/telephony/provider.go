package telephony

import (
	"context"
	"time"
)

// OutboundCaller places AI-agent calls.
//
// Rules:
// - No provider SDK or HTTP calls outside telephony adapters.
// - Keep request/response types provider-agnostic.
type OutboundCaller interface {
	PlaceOutboundCall(ctx context.Context, req OutboundCallRequest) (OutboundCallResult, error)
}

// PhoneNumberLister lists the provider numbers an agent can call from.
type PhoneNumberLister interface {
	ListPhoneNumbers(ctx context.Context) ([]PhoneNumber, error)
}

type OutboundCallRequest struct {
	// AgentID is the provider agent (voice and prompt are configured there).
	AgentID string `json:"agent_id"`
	// FromNumberID is the provider's phone-number reference, not an E.164 number.
	FromNumberID string `json:"from_number_id"`
	// ToNumber is E.164.
	ToNumber string `json:"to_number"`

	// Context carries prior conversations with this customer. Optional.
	Context []PriorConversation `json:"context,omitempty"`
}

type PriorConversation struct {
	ConversationID string    `json:"conversation_id"`
	Summary        string    `json:"summary"`
	Timestamp      time.Time `json:"timestamp"`
}

type OutboundCallResult struct {
	ConversationID string `json:"conversation_id"`
	Status         string `json:"status"`
}

type PhoneNumber struct {
	ID      string `json:"phone_number_id"`
	Number  string `json:"phone_number"`
	Label   string `json:"label,omitempty"`
	AgentID string `json:"agent_id,omitempty"`
}
