package pipeline

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"vela-cycler/internal/ledger"
	"vela-cycler/internal/ledger/ledgertest"
	"vela-cycler/internal/vela"
	"vela-cycler/internal/worker"
)

func signedSnapshot(t *testing.T, reg *worker.Registry, client *ledger.Client, chainID *big.Int) worker.Snapshot {
	t.Helper()
	s := &Signer{Keys: reg, Nonces: client, ChainID: chainID, Contract: vela.DefaultContractAddress}
	signed, failures := s.SignAll(context.Background(), readySnapshot(t, reg), big.NewInt(1e8))
	if len(failures) != 0 {
		t.Fatalf("sign failures: %v", failures)
	}
	return signed
}

func TestSubmitAll_RecordsHashes(t *testing.T) {
	reg := newRegistry(t, 4)
	sim := ledgertest.New(100)
	client := ledger.NewClient(sim)
	snap := signedSnapshot(t, reg, client, sim.Chain)

	sub := &Submitter{Ledger: client}
	submitted, failures := sub.SubmitAll(context.Background(), snap)
	if len(failures) != 0 {
		t.Fatalf("failures: %v", failures)
	}
	if len(submitted) != 4 || len(sim.Sent()) != 4 {
		t.Fatalf("submitted=%d sent=%d", len(submitted), len(sim.Sent()))
	}
	for _, w := range submitted {
		if w.State != worker.Submitted || w.TxHash != w.SignedTx.Hash() {
			t.Fatalf("worker %s state=%s hash=%s", w.Address.Hex(), w.State, w.TxHash.Hex())
		}
	}

	// A second broadcast of the same signed tx is accepted and keeps its hash.
	again, failures := sub.SubmitAll(context.Background(), snap)
	if len(failures) != 0 || len(again) != 4 {
		t.Fatalf("resubmit: again=%d failures=%v", len(again), failures)
	}
	if again[0].TxHash != submitted[0].TxHash {
		t.Fatalf("resubmit changed hash")
	}
}

func TestSubmitAll_RejectionIsPerAccount(t *testing.T) {
	reg := newRegistry(t, 4)
	sim := ledgertest.New(100)
	bad := reg.Addresses()[1]
	sim.Reject = func(_ *types.Transaction, from common.Address) error {
		if from == bad {
			return errors.New("insufficient funds for gas * price + value")
		}
		return nil
	}
	client := ledger.NewClient(sim)
	snap := signedSnapshot(t, reg, client, sim.Chain)

	submitted, failures := (&Submitter{Ledger: client}).SubmitAll(context.Background(), snap)
	if len(submitted) != 3 || len(failures) != 1 {
		t.Fatalf("submitted=%d failures=%d", len(submitted), len(failures))
	}
	if failures[0].Worker.Address != bad || failures[0].Kind() != "BroadcastRejected" {
		t.Fatalf("unexpected failure %+v", failures[0])
	}
}

func TestSubmitAll_UnsignedWorker(t *testing.T) {
	reg := newRegistry(t, 2)
	submitted, failures := (&Submitter{Ledger: ledger.NewClient(ledgertest.New(1))}).SubmitAll(context.Background(), readySnapshot(t, reg))
	if len(submitted) != 0 || len(failures) != 2 {
		t.Fatalf("submitted=%d failures=%d", len(submitted), len(failures))
	}
}
