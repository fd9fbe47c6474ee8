package p2p

import (
	"encoding/json"

	"flipcoin/internal/fairness"
)

// Message is the envelope for everything sent between nodes.
type Message struct {
	Type     string          `json:"type"`
	Payload  json.RawMessage `json:"payload"`
	SenderID string          `json:"senderId"`
}

// Message types.
const (
	TypePreimageReveal = "preimage_reveal"
	TypeText           = "simple_text"
)

// RevealPayload hands the player's preimage for a bet to the house, which proves and settles.
type RevealPayload struct {
	BetID    uint64            `json:"bet_id"`
	Preimage fairness.Preimage `json:"preimage"`
}

// SimpleTextMessage is a free-form payload, used for liveness checks.
type SimpleTextMessage struct {
	Content string `json:"content"`
}

// Reply is the body a node answers every message with.
type Reply struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}
