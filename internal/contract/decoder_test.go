package contract

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/smartdevs17/web3rsvp-indexer/pkg/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testEventID   = common.HexToHash("0x5e1f0000000000000000000000000000000000000000000000000000000000aa")
	testOrganizer = common.HexToAddress("0x1111111111111111111111111111111111111111")
	testAttendee  = common.HexToAddress("0x2222222222222222222222222222222222222222")
)

func newTestDecoder(t *testing.T) *Decoder {
	t.Helper()
	d, err := NewDecoder()
	require.NoError(t, err)
	return d
}

func TestDecoderTopicsMatchSignatures(t *testing.T) {
	d := newTestDecoder(t)

	expected := map[common.Hash]string{
		crypto.Keccak256Hash([]byte("NewEventCreated(bytes32,address,uint256,uint256,uint256,string)")): EventNewEventCreated,
		crypto.Keccak256Hash([]byte("NewRSVP(bytes32,address)")):                                        EventNewRSVP,
		crypto.Keccak256Hash([]byte("ConfirmedAttendee(bytes32,address)")):                              EventConfirmedAttendee,
		crypto.Keccak256Hash([]byte("DepositsPaidOut(bytes32)")):                                        EventDepositsPaidOut,
	}

	topics := d.Topics()
	require.Len(t, topics, len(expected))
	for _, topic := range topics {
		name, ok := expected[topic]
		require.True(t, ok, "unexpected topic %s", topic.Hex())
		assert.Equal(t, name, d.EventName(types.Log{Topics: []common.Hash{topic}}))
	}
}

func TestDecodeNewEventCreated(t *testing.T) {
	d := newTestDecoder(t)

	log, err := d.EncodeLog(EventNewEventCreated,
		testEventID, testOrganizer, big.NewInt(1718000000), big.NewInt(50), big.NewInt(1e16), "QmXYZ")
	require.NoError(t, err)
	log.BlockNumber = 7
	log.Index = 3

	decoded, err := d.Decode(log)
	require.NoError(t, err)

	event, ok := decoded.(*NewEventCreated)
	require.True(t, ok, "got %T", decoded)
	assert.Equal(t, [32]byte(testEventID), event.EventID)
	assert.Equal(t, testOrganizer, event.CreatorAddress)
	assert.Equal(t, "1718000000", event.EventTimestamp.String())
	assert.Equal(t, "50", event.MaxCapacity.String())
	assert.Equal(t, "10000000000000000", event.Deposit.String())
	assert.Equal(t, "QmXYZ", event.EventDataCID)
	assert.Equal(t, uint64(7), event.Raw.BlockNumber)
	assert.Equal(t, uint(3), event.Raw.Index)
}

func TestDecodeAttendanceEvents(t *testing.T) {
	d := newTestDecoder(t)

	rsvpLog, err := d.EncodeLog(EventNewRSVP, testEventID, testAttendee)
	require.NoError(t, err)
	decoded, err := d.Decode(rsvpLog)
	require.NoError(t, err)
	rsvp, ok := decoded.(*NewRSVP)
	require.True(t, ok)
	assert.Equal(t, [32]byte(testEventID), rsvp.EventID)
	assert.Equal(t, testAttendee, rsvp.AttendeeAddress)

	confirmLog, err := d.EncodeLog(EventConfirmedAttendee, testEventID, testAttendee)
	require.NoError(t, err)
	decoded, err = d.Decode(confirmLog)
	require.NoError(t, err)
	confirmation, ok := decoded.(*ConfirmedAttendee)
	require.True(t, ok)
	assert.Equal(t, testAttendee, confirmation.AttendeeAddress)

	payoutLog, err := d.EncodeLog(EventDepositsPaidOut, testEventID)
	require.NoError(t, err)
	decoded, err = d.Decode(payoutLog)
	require.NoError(t, err)
	payout, ok := decoded.(*DepositsPaidOut)
	require.True(t, ok)
	assert.Equal(t, [32]byte(testEventID), payout.EventID)
}

func TestDecodeRejectsUnknownAndMalformedLogs(t *testing.T) {
	d := newTestDecoder(t)

	_, err := d.Decode(types.Log{})
	assert.ErrorIs(t, err, ErrUnknownEvent)

	transfer := crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))
	_, err = d.Decode(types.Log{Topics: []common.Hash{transfer}})
	assert.ErrorIs(t, err, ErrUnknownEvent)
	assert.Equal(t, "Unknown", d.EventName(types.Log{Topics: []common.Hash{transfer}}))

	log, err := d.EncodeLog(EventNewRSVP, testEventID, testAttendee)
	require.NoError(t, err)
	log.Data = log.Data[:40]
	_, err = d.Decode(log)
	require.Error(t, err)
	assert.True(t, utils.IsErrorCode(err, utils.ErrCodeDecoding))
}

func TestEncodeLogValidatesArguments(t *testing.T) {
	d := newTestDecoder(t)

	_, err := d.EncodeLog("Transfer")
	assert.ErrorIs(t, err, ErrUnknownEvent)

	_, err = d.EncodeLog(EventNewRSVP, testEventID)
	assert.True(t, utils.IsErrorCode(err, utils.ErrCodeValidation))
}
