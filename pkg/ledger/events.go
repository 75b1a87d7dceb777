package ledger

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// ErrUnknownEvent is returned when a log does not match any event of the contract ABI.
var ErrUnknownEvent = errors.New("log does not match any known event")

// Event is a decoded contract log
type Event struct {
	Address     common.Address
	Name        string
	Args        map[string]interface{}
	BlockNumber uint64
	TxHash      common.Hash
	LogIndex    uint
}

// String returns the argument value as a string, or "" when absent or not a string.
func (e *Event) String(arg string) string {
	s, _ := e.Args[arg].(string)
	return s
}

// DecodeLog decodes a raw log using the contract ABI.
func DecodeLog(contract *abi.ABI, lg types.Log) (*Event, error) {
	if len(lg.Topics) == 0 {
		return nil, fmt.Errorf("%w: anonymous log in tx %s", ErrUnknownEvent, lg.TxHash.Hex())
	}

	ev, err := contract.EventByID(lg.Topics[0])
	if err != nil {
		return nil, fmt.Errorf("%w: topic %s", ErrUnknownEvent, lg.Topics[0].Hex())
	}

	args := make(map[string]interface{}, len(ev.Inputs))
	if len(lg.Data) > 0 {
		if err := contract.UnpackIntoMap(args, ev.Name, lg.Data); err != nil {
			return nil, fmt.Errorf("unpack %s: %w", ev.Name, err)
		}
	}

	var indexed abi.Arguments
	for _, input := range ev.Inputs {
		if input.Indexed {
			indexed = append(indexed, input)
		}
	}
	if len(indexed) > 0 {
		if err := abi.ParseTopicsIntoMap(args, indexed, lg.Topics[1:]); err != nil {
			return nil, fmt.Errorf("parse %s topics: %w", ev.Name, err)
		}
	}

	return &Event{
		Address:     lg.Address,
		Name:        ev.Name,
		Args:        args,
		BlockNumber: lg.BlockNumber,
		TxHash:      lg.TxHash,
		LogIndex:    lg.Index,
	}, nil
}

// DecodeLogs decodes every log it can, in order. Logs that fail to decode are
// skipped and reported through the joined error.
func DecodeLogs(contract *abi.ABI, logs []types.Log) ([]*Event, error) {
	events := make([]*Event, 0, len(logs))
	var errs []error
	for _, lg := range logs {
		ev, err := DecodeLog(contract, lg)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		events = append(events, ev)
	}
	return events, errors.Join(errs...)
}
