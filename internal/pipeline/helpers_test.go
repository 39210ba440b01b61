package pipeline

import (
	"encoding/hex"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"vela-cycler/internal/worker"
)

func newRegistry(t *testing.T, n int) *worker.Registry {
	t.Helper()
	keys := make([]string, 0, n)
	addrs := make([]common.Address, 0, n)
	for i := 0; i < n; i++ {
		pk, err := crypto.GenerateKey()
		if err != nil {
			t.Fatalf("GenerateKey: %v", err)
		}
		keys = append(keys, hex.EncodeToString(crypto.FromECDSA(pk)))
		addrs = append(addrs, crypto.PubkeyToAddress(pk.PublicKey))
	}
	reg, err := worker.NewRegistry(keys, addrs)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	return reg
}

func readySnapshot(t *testing.T, reg *worker.Registry) worker.Snapshot {
	t.Helper()
	snap := reg.Snapshot()
	for i := range snap {
		w, err := snap[i].SetCallData([]byte{0xde, 0xad, byte(i)})
		if err != nil {
			t.Fatalf("SetCallData: %v", err)
		}
		snap[i] = w
	}
	return snap
}
