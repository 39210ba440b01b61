package vela

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

var (
	ErrUnknownFunction = errors.New("unknown function")
	ErrArgTypeMismatch = errors.New("argument type mismatch")
	ErrUnknownEvent    = errors.New("unknown event")
	ErrSchemaMismatch  = errors.New("schema mismatch")
)

// Contract encodes calls to and decodes events from the Vela vault.
type Contract struct {
	Address common.Address
	abi     abi.ABI
}

func New(addr common.Address) (*Contract, error) {
	parsed, err := abi.JSON(strings.NewReader(contractABIJSON))
	if err != nil {
		return nil, fmt.Errorf("vela abi parse: %w", err)
	}
	return &Contract{Address: addr, abi: parsed}, nil
}

// EncodeCall packs a call to the named function.
func (c *Contract) EncodeCall(name string, args ...any) ([]byte, error) {
	if _, ok := c.abi.Methods[name]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFunction, name)
	}
	data, err := c.abi.Pack(name, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrArgTypeMismatch, name, err)
	}
	return data, nil
}

// DecodeCall is the inverse of EncodeCall: it returns the function name and
// its arguments in declaration order.
func (c *Contract) DecodeCall(data []byte) (string, []any, error) {
	if len(data) < 4 {
		return "", nil, fmt.Errorf("%w: call data too short (%d bytes)", ErrUnknownFunction, len(data))
	}
	method, err := c.abi.MethodById(data[:4])
	if err != nil {
		return "", nil, fmt.Errorf("%w: selector %x", ErrUnknownFunction, data[:4])
	}
	args, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return "", nil, fmt.Errorf("%w: %s: %v", ErrArgTypeMismatch, method.Name, err)
	}
	return method.Name, args, nil
}

type Field struct {
	Name    string
	Type    string
	Indexed bool
}

// EventSchema describes one event: its fields in declaration order and the
// topic that identifies it in a log.
type EventSchema struct {
	Name   string
	ID     common.Hash
	Fields []Field

	event abi.Event
}

func (c *Contract) EventSchema(name string) (EventSchema, error) {
	ev, ok := c.abi.Events[name]
	if !ok {
		return EventSchema{}, fmt.Errorf("%w: %q", ErrUnknownEvent, name)
	}
	fields := make([]Field, 0, len(ev.Inputs))
	for _, in := range ev.Inputs {
		fields = append(fields, Field{Name: in.Name, Type: in.Type.String(), Indexed: in.Indexed})
	}
	id := ev.ID
	if pinned, ok := eventTopics[name]; ok {
		id = pinned
	}
	return EventSchema{Name: ev.Name, ID: id, Fields: fields, event: ev}, nil
}

// Signature is the canonical signature of the declared inputs, e.g.
// "NewOrder(bytes32,...)". For pinned events its hash is not ID.
func (s EventSchema) Signature() string { return s.event.Sig }

// Decoded holds a log's values in field declaration order.
type Decoded struct {
	Fields []Field
	Values []any
}

func (d Decoded) Value(i int) (any, bool) {
	if i < 0 || i >= len(d.Values) {
		return nil, false
	}
	return d.Values[i], true
}

// DecodeLog decodes lg against schema. Any disagreement between the log and
// the schema (topic, topic count, data layout) is ErrSchemaMismatch.
func DecodeLog(schema EventSchema, lg types.Log) (Decoded, error) {
	if schema.ID == (common.Hash{}) || len(schema.event.Inputs) == 0 {
		return Decoded{}, fmt.Errorf("%w: empty schema", ErrSchemaMismatch)
	}
	if len(lg.Topics) == 0 || lg.Topics[0] != schema.ID {
		return Decoded{}, fmt.Errorf("%w: log is not %s", ErrSchemaMismatch, schema.Name)
	}

	var indexed abi.Arguments
	for _, in := range schema.event.Inputs {
		if in.Indexed {
			indexed = append(indexed, in)
		}
	}
	if len(lg.Topics)-1 != len(indexed) {
		return Decoded{}, fmt.Errorf("%w: %s expects %d indexed topics, log has %d", ErrSchemaMismatch, schema.Name, len(indexed), len(lg.Topics)-1)
	}

	plain, err := schema.event.Inputs.NonIndexed().Unpack(lg.Data)
	if err != nil {
		return Decoded{}, fmt.Errorf("%w: %s data: %v", ErrSchemaMismatch, schema.Name, err)
	}
	topicVals := make(map[string]any, len(indexed))
	if len(indexed) > 0 {
		if err := abi.ParseTopicsIntoMap(topicVals, indexed, lg.Topics[1:]); err != nil {
			return Decoded{}, fmt.Errorf("%w: %s topics: %v", ErrSchemaMismatch, schema.Name, err)
		}
	}

	out := Decoded{Fields: schema.Fields, Values: make([]any, 0, len(schema.Fields))}
	next := 0
	for _, in := range schema.event.Inputs {
		if in.Indexed {
			out.Values = append(out.Values, topicVals[in.Name])
			continue
		}
		out.Values = append(out.Values, plain[next])
		next++
	}
	return out, nil
}

// EncodeLog builds a log that DecodeLog accepts, with values given in field
// declaration order. Used by simulated ledgers.
func (s EventSchema) EncodeLog(emitter common.Address, values ...any) (*types.Log, error) {
	if len(values) != len(s.event.Inputs) {
		return nil, fmt.Errorf("%w: %s has %d fields, got %d values", ErrArgTypeMismatch, s.Name, len(s.event.Inputs), len(values))
	}
	topics := []common.Hash{s.ID}
	var plain []any
	for i, in := range s.event.Inputs {
		if !in.Indexed {
			plain = append(plain, values[i])
			continue
		}
		t, err := abi.MakeTopics([]any{values[i]})
		if err != nil {
			return nil, fmt.Errorf("%w: %s.%s: %v", ErrArgTypeMismatch, s.Name, in.Name, err)
		}
		topics = append(topics, t[0][0])
	}
	data, err := s.event.Inputs.NonIndexed().Pack(plain...)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrArgTypeMismatch, s.Name, err)
	}
	return &types.Log{Address: emitter, Topics: topics, Data: data}, nil
}
