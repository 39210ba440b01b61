package worker

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

func TestWorker_FullLifecycle(t *testing.T) {
	w := Worker{Address: common.HexToAddress("0x1"), State: Initialized}
	tx := types.NewTx(&types.LegacyTx{Nonce: 1})
	hash := common.HexToHash("0xabc")

	var err error
	step := func(name string, next Worker, e error, want State) {
		t.Helper()
		if e != nil {
			t.Fatalf("%s: %v", name, e)
		}
		if next.State != want {
			t.Fatalf("%s: state %s want %s", name, next.State, want)
		}
		w = next
	}

	next, err := w.SetCallData([]byte{1, 2})
	step("open data", next, err, DataReady)
	next, err = w.SetSigned(tx)
	step("sign", next, err, Signed)
	next, err = w.SetSubmitted(hash)
	step("submit", next, err, Submitted)
	next, err = w.Confirm()
	step("confirm", next, err, Confirmed)
	next, err = w.SetPosition(big.NewInt(77))
	step("resolve", next, err, PositionResolved)
	next, err = w.SetCallData([]byte{3})
	step("close data", next, err, ClosingDataReady)
	if w.SignedTx != nil || w.TxHash != (common.Hash{}) {
		t.Fatalf("close leg kept open tx state: %+v", w)
	}
	if w.PositionID == nil || w.PositionID.Int64() != 77 {
		t.Fatalf("position id lost: %v", w.PositionID)
	}
	next, err = w.SetSigned(tx)
	step("close sign", next, err, ClosingSigned)
	next, err = w.SetSubmitted(hash)
	step("close submit", next, err, ClosingSubmitted)
	if !w.State.Closing() {
		t.Fatalf("expected closing state")
	}
}

func TestWorker_RejectsOutOfOrder(t *testing.T) {
	w := Worker{Address: common.HexToAddress("0x1"), State: Initialized}

	if _, err := w.SetSigned(types.NewTx(&types.LegacyTx{})); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("sign before data: got %v", err)
	}
	if _, err := w.SetSubmitted(common.HexToHash("0x1")); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("submit before sign: got %v", err)
	}
	if _, err := w.SetPosition(big.NewInt(1)); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("resolve before confirm: got %v", err)
	}
	if _, err := w.SetCallData(nil); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("empty call data: got %v", err)
	}

	original := w
	if _, err := w.SetCallData([]byte{1}); err != nil {
		t.Fatalf("SetCallData: %v", err)
	}
	if original.State != Initialized || w.State != Initialized {
		t.Fatalf("value transition mutated receiver")
	}
}

func TestSetPosition_CopiesID(t *testing.T) {
	w := Worker{State: Confirmed}
	id := big.NewInt(5)
	next, err := w.SetPosition(id)
	if err != nil {
		t.Fatalf("SetPosition: %v", err)
	}
	id.SetInt64(9)
	if next.PositionID.Int64() != 5 {
		t.Fatalf("position id aliased caller value: %s", next.PositionID)
	}
}
