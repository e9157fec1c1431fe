// Package contract decodes Web3RSVP contract logs into typed events.
package contract

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Event names as declared in the contract ABI
const (
	EventNewEventCreated   = "NewEventCreated"
	EventNewRSVP           = "NewRSVP"
	EventConfirmedAttendee = "ConfirmedAttendee"
	EventDepositsPaidOut   = "DepositsPaidOut"
)

// NewEventCreated is emitted when an organizer creates an event
type NewEventCreated struct {
	EventID        [32]byte
	CreatorAddress common.Address
	EventTimestamp *big.Int
	MaxCapacity    *big.Int
	Deposit        *big.Int
	EventDataCID   string
	Raw            types.Log
}

// NewRSVP is emitted when an attendee RSVPs and stakes the deposit
type NewRSVP struct {
	EventID         [32]byte
	AttendeeAddress common.Address
	Raw             types.Log
}

// ConfirmedAttendee is emitted when the organizer confirms an attendee
type ConfirmedAttendee struct {
	EventID         [32]byte
	AttendeeAddress common.Address
	Raw             types.Log
}

// DepositsPaidOut is emitted when unclaimed deposits are withdrawn
type DepositsPaidOut struct {
	EventID [32]byte
	Raw     types.Log
}
