package vela

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

func newContract(t *testing.T) *Contract {
	t.Helper()
	c, err := New(DefaultContractAddress)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func newOrderValues(posID int64) []any {
	return []any{
		[32]byte{1},
		common.HexToAddress("0x1111111111111111111111111111111111111111"),
		DefaultIndexToken,
		big.NewInt(posID),
		big.NewInt(1),
		big.NewInt(0),
		uint8(1),
		big.NewInt(0),
	}
}

func TestEncodeCall(t *testing.T) {
	c := newContract(t)

	data, err := c.EncodeCall(FuncDecreasePosition, DefaultIndexToken, big.NewInt(5), true, big.NewInt(42))
	if err != nil {
		t.Fatalf("EncodeCall: %v", err)
	}
	name, args, err := c.DecodeCall(data)
	if err != nil {
		t.Fatalf("DecodeCall: %v", err)
	}
	if name != FuncDecreasePosition {
		t.Fatalf("name got %s", name)
	}
	if got := args[3].(*big.Int); got.Int64() != 42 {
		t.Fatalf("posId got %s want 42", got)
	}

	if _, err := c.EncodeCall("openEverything"); !errors.Is(err, ErrUnknownFunction) {
		t.Fatalf("got %v want ErrUnknownFunction", err)
	}
	if _, err := c.EncodeCall(FuncDecreasePosition, "not-an-address", big.NewInt(5), true, big.NewInt(1)); !errors.Is(err, ErrArgTypeMismatch) {
		t.Fatalf("got %v want ErrArgTypeMismatch", err)
	}
	if _, _, err := c.DecodeCall([]byte{1, 2}); !errors.Is(err, ErrUnknownFunction) {
		t.Fatalf("got %v want ErrUnknownFunction", err)
	}
}

func TestEventSchema(t *testing.T) {
	c := newContract(t)

	schema, err := c.EventSchema(EventNewOrder)
	if err != nil {
		t.Fatalf("EventSchema: %v", err)
	}
	wantSig := "NewOrder(bytes32,address,address,uint256,uint256,uint256,uint8,uint256)"
	if schema.Signature() != wantSig {
		t.Fatalf("signature got %s want %s", schema.Signature(), wantSig)
	}
	const wantTopic = "0xe508fdc8bb11e26fd52e43d09c05ba1b7a778fe93ba8a3814b608aa29c3e6cdd"
	if schema.ID.Hex() != wantTopic {
		t.Fatalf("topic got %s want %s", schema.ID.Hex(), wantTopic)
	}
	if schema.ID == crypto.Keccak256Hash([]byte(wantSig)) {
		t.Fatalf("topic must not be derived from the declared signature")
	}
	if len(schema.Fields) != 8 || schema.Fields[NewOrderPositionField].Type != "uint256" {
		t.Fatalf("unexpected fields: %#v", schema.Fields)
	}

	if _, err := c.EventSchema("Liquidated"); !errors.Is(err, ErrUnknownEvent) {
		t.Fatalf("got %v want ErrUnknownEvent", err)
	}
}

func TestDecodeLog(t *testing.T) {
	c := newContract(t)
	schema, err := c.EventSchema(EventNewOrder)
	if err != nil {
		t.Fatalf("EventSchema: %v", err)
	}

	lg, err := schema.EncodeLog(c.Address, newOrderValues(9001)...)
	if err != nil {
		t.Fatalf("EncodeLog: %v", err)
	}
	dec, err := DecodeLog(schema, *lg)
	if err != nil {
		t.Fatalf("DecodeLog: %v", err)
	}
	v, ok := dec.Value(NewOrderPositionField)
	if !ok {
		t.Fatalf("missing position field")
	}
	if got := v.(*big.Int); got.Int64() != 9001 {
		t.Fatalf("position got %s want 9001", got)
	}
	if _, ok := dec.Value(99); ok {
		t.Fatalf("out of range value reported present")
	}

	t.Run("wrong topic", func(t *testing.T) {
		bad := *lg
		bad.Topics = []common.Hash{common.HexToHash("0x01")}
		if _, err := DecodeLog(schema, bad); !errors.Is(err, ErrSchemaMismatch) {
			t.Fatalf("got %v want ErrSchemaMismatch", err)
		}
	})

	t.Run("truncated data", func(t *testing.T) {
		bad := *lg
		bad.Data = bad.Data[:64]
		if _, err := DecodeLog(schema, bad); !errors.Is(err, ErrSchemaMismatch) {
			t.Fatalf("got %v want ErrSchemaMismatch", err)
		}
	})

	t.Run("unexpected indexed topic", func(t *testing.T) {
		bad := *lg
		bad.Topics = append([]common.Hash{schema.ID}, common.HexToHash("0x02"))
		if _, err := DecodeLog(schema, bad); !errors.Is(err, ErrSchemaMismatch) {
			t.Fatalf("got %v want ErrSchemaMismatch", err)
		}
	})

	t.Run("empty schema", func(t *testing.T) {
		if _, err := DecodeLog(EventSchema{}, types.Log{}); !errors.Is(err, ErrSchemaMismatch) {
			t.Fatalf("got %v want ErrSchemaMismatch", err)
		}
	})
}

func TestEncodeLog_ArgCount(t *testing.T) {
	c := newContract(t)
	schema, err := c.EventSchema(EventNewOrder)
	if err != nil {
		t.Fatalf("EventSchema: %v", err)
	}
	if _, err := schema.EncodeLog(c.Address, big.NewInt(1)); !errors.Is(err, ErrArgTypeMismatch) {
		t.Fatalf("got %v want ErrArgTypeMismatch", err)
	}
}
