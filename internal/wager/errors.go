package wager

import (
	"errors"

	"flipcoin/internal/oracle"
	"flipcoin/internal/settlement"
	"flipcoin/internal/verifier"
)

var (
	ErrOutOfRange          = errors.New("stake out of range")
	ErrInvalidCounterparty = errors.New("invalid counterparty")
	ErrInvalidCommitment   = errors.New("invalid commitment")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrAlreadyCommitted    = errors.New("house already committed")
	ErrPrecondition        = errors.New("bet is not in the required state")
	ErrAlreadySettled      = errors.New("bet already settled")
	ErrIndexOutOfRange     = errors.New("random index out of range")
	ErrInvalidPublicInput  = errors.New("public input does not match bet")
	ErrInvalidPreimage     = errors.New("preimage does not open commitment")
	ErrUnsupportedClaim    = errors.New("claim does not match game variant")
	ErrBetNotFound         = errors.New("bet not found")
	ErrInvalidLimits       = errors.New("invalid bet limits")
	ErrTestModeDisabled    = errors.New("test randomness is disabled")

	ErrFeeTooHigh = settlement.ErrFeeTooHigh
)

// Class groups errors by how a caller should react to them.
type Class int

const (
	ClassNone Class = iota
	ClassValidation
	ClassAuthorization
	ClassProof
	ClassReplay
	ClassNotFound
	ClassInternal
)

func (c Class) String() string {
	switch c {
	case ClassNone:
		return "ok"
	case ClassValidation:
		return "validation"
	case ClassAuthorization:
		return "authorization"
	case ClassProof:
		return "proof"
	case ClassReplay:
		return "replay"
	case ClassNotFound:
		return "not_found"
	default:
		return "internal"
	}
}

// Classify maps err onto the error taxonomy. Unknown errors are internal.
func Classify(err error) Class {
	switch {
	case err == nil:
		return ClassNone
	case errors.Is(err, ErrAlreadyCommitted),
		errors.Is(err, ErrAlreadySettled),
		errors.Is(err, oracle.ErrDuplicateFulfillment):
		return ClassReplay
	case errors.Is(err, ErrUnauthorized),
		errors.Is(err, ErrTestModeDisabled):
		return ClassAuthorization
	case errors.Is(err, ErrInvalidPublicInput),
		errors.Is(err, ErrInvalidPreimage),
		errors.Is(err, ErrUnsupportedClaim),
		errors.Is(err, verifier.ErrProofRejected):
		return ClassProof
	case errors.Is(err, ErrBetNotFound):
		return ClassNotFound
	case errors.Is(err, ErrOutOfRange),
		errors.Is(err, ErrInvalidCounterparty),
		errors.Is(err, ErrInvalidCommitment),
		errors.Is(err, ErrPrecondition),
		errors.Is(err, ErrIndexOutOfRange),
		errors.Is(err, ErrInvalidLimits),
		errors.Is(err, ErrFeeTooHigh),
		errors.Is(err, settlement.ErrInsufficientFunds):
		return ClassValidation
	default:
		return ClassInternal
	}
}
