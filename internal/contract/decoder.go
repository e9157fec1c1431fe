package contract

import (
	"bytes"
	_ "embed"
	"errors"
	"sort"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/smartdevs17/web3rsvp-indexer/pkg/utils"
)

//go:embed web3rsvp.abi.json
var web3RSVPABI []byte

// ErrUnknownEvent is returned for logs whose first topic is not a Web3RSVP event
var ErrUnknownEvent = errors.New("unknown event topic")

// Decoder turns raw logs into the typed events in this package
type Decoder struct {
	abi    abi.ABI
	events map[common.Hash]abi.Event
}

// NewDecoder parses the embedded Web3RSVP ABI
func NewDecoder() (*Decoder, error) {
	parsed, err := abi.JSON(bytes.NewReader(web3RSVPABI))
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeValidation, "Failed to parse ABI", err.Error())
	}

	events := make(map[common.Hash]abi.Event, len(parsed.Events))
	for _, event := range parsed.Events {
		events[event.ID] = event
	}

	return &Decoder{abi: parsed, events: events}, nil
}

// Topics returns the signature hashes of every event the decoder understands,
// sorted so that filter queries are stable.
func (d *Decoder) Topics() []common.Hash {
	topics := make([]common.Hash, 0, len(d.events))
	for id := range d.events {
		topics = append(topics, id)
	}
	sort.Slice(topics, func(i, j int) bool {
		return bytes.Compare(topics[i][:], topics[j][:]) < 0
	})
	return topics
}

// EventName returns the ABI name for a log, or "Unknown"
func (d *Decoder) EventName(log types.Log) string {
	if len(log.Topics) == 0 {
		return "Unknown"
	}
	if event, ok := d.events[log.Topics[0]]; ok {
		return event.Name
	}
	return "Unknown"
}

// Decode returns one of *NewEventCreated, *NewRSVP, *ConfirmedAttendee or
// *DepositsPaidOut.
func (d *Decoder) Decode(log types.Log) (interface{}, error) {
	if len(log.Topics) == 0 {
		return nil, ErrUnknownEvent
	}

	event, ok := d.events[log.Topics[0]]
	if !ok {
		return nil, ErrUnknownEvent
	}

	var out interface{}
	switch event.Name {
	case EventNewEventCreated:
		out = &NewEventCreated{Raw: log}
	case EventNewRSVP:
		out = &NewRSVP{Raw: log}
	case EventConfirmedAttendee:
		out = &ConfirmedAttendee{Raw: log}
	case EventDepositsPaidOut:
		out = &DepositsPaidOut{Raw: log}
	default:
		return nil, ErrUnknownEvent
	}

	if err := d.unpack(out, event, log); err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDecoding, "Failed to decode "+event.Name, err.Error())
	}

	return out, nil
}

// unpack fills out from the log data and the indexed topics
func (d *Decoder) unpack(out interface{}, event abi.Event, log types.Log) error {
	if len(event.Inputs.NonIndexed()) > 0 {
		if err := d.abi.UnpackIntoInterface(out, event.Name, log.Data); err != nil {
			return err
		}
	}

	var indexed abi.Arguments
	for _, input := range event.Inputs {
		if input.Indexed {
			indexed = append(indexed, input)
		}
	}
	return abi.ParseTopics(out, indexed, log.Topics[1:])
}

// EncodeLog builds a log for the named event from its arguments in ABI order.
// Indexed arguments become topics, the rest are packed into the data.
func (d *Decoder) EncodeLog(name string, args ...interface{}) (types.Log, error) {
	event, ok := d.abi.Events[name]
	if !ok {
		return types.Log{}, ErrUnknownEvent
	}
	if len(args) != len(event.Inputs) {
		return types.Log{}, utils.NewAppError(utils.ErrCodeValidation, "Argument count mismatch", name)
	}

	topics := []common.Hash{event.ID}
	var dataArgs []interface{}
	for i, input := range event.Inputs {
		if !input.Indexed {
			dataArgs = append(dataArgs, args[i])
			continue
		}
		rules, err := abi.MakeTopics([]interface{}{args[i]})
		if err != nil {
			return types.Log{}, utils.NewAppError(utils.ErrCodeValidation, "Failed to encode topic", err.Error())
		}
		topics = append(topics, rules[0][0])
	}

	data, err := event.Inputs.NonIndexed().Pack(dataArgs...)
	if err != nil {
		return types.Log{}, utils.NewAppError(utils.ErrCodeValidation, "Failed to pack event data", err.Error())
	}

	return types.Log{Topics: topics, Data: data}, nil
}
