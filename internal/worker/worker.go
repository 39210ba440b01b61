package worker

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

var ErrInvalidTransition = errors.New("invalid lifecycle transition")

// Group is the side an account trades on. Assignment is by index: the first
// half of the account list is long, the second half short.
type Group int

const (
	GroupLong Group = iota
	GroupShort
)

func (g Group) IsLong() bool { return g == GroupLong }

func (g Group) String() string {
	switch g {
	case GroupLong:
		return "long"
	case GroupShort:
		return "short"
	default:
		return fmt.Sprintf("group(%d)", int(g))
	}
}

type State int

const (
	Initialized State = iota
	DataReady
	Signed
	Submitted
	Confirmed
	PositionResolved
	ClosingDataReady
	ClosingSigned
	ClosingSubmitted
)

var stateNames = [...]string{
	Initialized:      "initialized",
	DataReady:        "data_ready",
	Signed:           "signed",
	Submitted:        "submitted",
	Confirmed:        "confirmed",
	PositionResolved: "position_resolved",
	ClosingDataReady: "closing_data_ready",
	ClosingSigned:    "closing_signed",
	ClosingSubmitted: "closing_submitted",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Closing reports whether s belongs to the close half of the cycle.
func (s State) Closing() bool { return s >= ClosingDataReady }

// Worker is one managed account's view of the current cycle. It holds no key
// material; signing goes through the Registry.
//
// Transitions are value methods returning the updated copy, so a stage can
// only advance the Worker it was handed.
type Worker struct {
	Index   int
	Address common.Address
	Group   Group
	State   State

	CallData   []byte
	SignedTx   *types.Transaction
	TxHash     common.Hash
	PositionID *big.Int
}

func (w Worker) transitionErr(want ...State) error {
	return fmt.Errorf("%w: account %s is %s, need %v", ErrInvalidTransition, w.Address.Hex(), w.State, want)
}

// SetCallData attaches encoded call data: Initialized→DataReady for the open
// leg, PositionResolved→ClosingDataReady for the close leg.
func (w Worker) SetCallData(data []byte) (Worker, error) {
	if len(data) == 0 {
		return w, fmt.Errorf("%w: empty call data for %s", ErrInvalidTransition, w.Address.Hex())
	}
	switch w.State {
	case Initialized:
		w.State = DataReady
	case PositionResolved:
		w.State = ClosingDataReady
	default:
		return w, w.transitionErr(Initialized, PositionResolved)
	}
	w.CallData = append([]byte(nil), data...)
	w.SignedTx = nil
	w.TxHash = common.Hash{}
	return w, nil
}

func (w Worker) SetSigned(tx *types.Transaction) (Worker, error) {
	if tx == nil {
		return w, fmt.Errorf("%w: nil transaction for %s", ErrInvalidTransition, w.Address.Hex())
	}
	switch w.State {
	case DataReady:
		w.State = Signed
	case ClosingDataReady:
		w.State = ClosingSigned
	default:
		return w, w.transitionErr(DataReady, ClosingDataReady)
	}
	w.SignedTx = tx
	return w, nil
}

func (w Worker) SetSubmitted(hash common.Hash) (Worker, error) {
	if hash == (common.Hash{}) {
		return w, fmt.Errorf("%w: zero tx hash for %s", ErrInvalidTransition, w.Address.Hex())
	}
	switch w.State {
	case Signed:
		w.State = Submitted
	case ClosingSigned:
		w.State = ClosingSubmitted
	default:
		return w, w.transitionErr(Signed, ClosingSigned)
	}
	w.TxHash = hash
	return w, nil
}

// Confirm marks the open transaction's confirming block as landed.
func (w Worker) Confirm() (Worker, error) {
	if w.State != Submitted {
		return w, w.transitionErr(Submitted)
	}
	w.State = Confirmed
	return w, nil
}

func (w Worker) SetPosition(id *big.Int) (Worker, error) {
	if id == nil {
		return w, fmt.Errorf("%w: nil position id for %s", ErrInvalidTransition, w.Address.Hex())
	}
	if w.State != Confirmed {
		return w, w.transitionErr(Confirmed)
	}
	w.State = PositionResolved
	w.PositionID = new(big.Int).Set(id)
	return w, nil
}

// Snapshot is the set of workers at one point of a cycle. Stages take it by
// value and return a new one.
type Snapshot []Worker

func (s Snapshot) Addresses() []common.Address {
	out := make([]common.Address, 0, len(s))
	for _, w := range s {
		out = append(out, w.Address)
	}
	return out
}

// CountGroup returns the number of workers in g.
func (s Snapshot) CountGroup(g Group) int {
	n := 0
	for _, w := range s {
		if w.Group == g {
			n++
		}
	}
	return n
}
