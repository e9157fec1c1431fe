package models

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// EventKey returns the entity id of an event: 0x followed by 64 lowercase hex digits
func EventKey(eventID [32]byte) string {
	return hexutil.Encode(eventID[:])
}

// AccountKey returns the entity id of an account: 0x followed by 40 lowercase hex digits.
// Unlike common.Address.Hex it is not checksummed.
func AccountKey(address common.Address) string {
	return hexutil.Encode(address.Bytes())
}

// PairKey returns the id shared by the RSVP and Confirmation of one attendee at one event
func PairKey(eventID [32]byte, attendee common.Address) string {
	return EventKey(eventID) + AccountKey(attendee)
}
