package models

import (
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
)

func TestKeysAreFixedWidthLowercase(t *testing.T) {
	eventID := common.HexToHash("0xABCDEF")
	attendee := common.HexToAddress("0x00000000000000000000000000000000000000Aa")

	eventKey := EventKey(eventID)
	accountKey := AccountKey(attendee)

	assert.Len(t, eventKey, 66)
	assert.Len(t, accountKey, 42)
	assert.Equal(t, strings.ToLower(eventKey), eventKey)
	assert.Equal(t, "0x00000000000000000000000000000000000000aa", accountKey)
	assert.Equal(t, eventKey+accountKey, PairKey(eventID, attendee))
}
