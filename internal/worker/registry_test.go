package worker

import (
	"encoding/hex"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

func genAccounts(t *testing.T, n int) ([]string, []common.Address) {
	t.Helper()
	keys := make([]string, 0, n)
	addrs := make([]common.Address, 0, n)
	for i := 0; i < n; i++ {
		pk, err := crypto.GenerateKey()
		if err != nil {
			t.Fatalf("GenerateKey: %v", err)
		}
		keys = append(keys, "0x"+hex.EncodeToString(crypto.FromECDSA(pk)))
		addrs = append(addrs, crypto.PubkeyToAddress(pk.PublicKey))
	}
	return keys, addrs
}

func TestNewRegistry_GroupSplit(t *testing.T) {
	for n := 2; n <= 9; n++ {
		keys, addrs := genAccounts(t, n)
		r, err := NewRegistry(keys, addrs)
		if err != nil {
			t.Fatalf("n=%d: NewRegistry: %v", n, err)
		}
		long, short := r.Groups()
		if long != n/2 || short != n-n/2 {
			t.Fatalf("n=%d: groups long=%d short=%d", n, long, short)
		}

		first := r.Snapshot()
		second := r.Snapshot()
		for i := range first {
			wantGroup := GroupShort
			if i < n/2 {
				wantGroup = GroupLong
			}
			if first[i].Group != wantGroup || second[i].Group != wantGroup {
				t.Fatalf("n=%d i=%d: group not stable across snapshots", n, i)
			}
			if first[i].Address != addrs[i] || first[i].Index != i {
				t.Fatalf("n=%d i=%d: order mismatch", n, i)
			}
		}
		if first.CountGroup(GroupLong) != n/2 {
			t.Fatalf("n=%d: snapshot long count %d", n, first.CountGroup(GroupLong))
		}
	}
}

func TestNewRegistry_InputMismatch(t *testing.T) {
	keys, addrs := genAccounts(t, 3)

	cases := []struct {
		name  string
		keys  []string
		addrs []common.Address
	}{
		{"length", keys[:2], addrs},
		{"empty", nil, nil},
		{"bad key", []string{"0xzz", keys[1], keys[2]}, addrs},
		{"wrong pairing", []string{keys[1], keys[0], keys[2]}, addrs},
		{"duplicate address", []string{keys[0], keys[0]}, []common.Address{addrs[0], addrs[0]}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewRegistry(tc.keys, tc.addrs)
			if !errors.Is(err, ErrInputMismatch) {
				t.Fatalf("got %v want ErrInputMismatch", err)
			}
		})
	}
}

func TestSnapshot_ResetsCycleState(t *testing.T) {
	keys, addrs := genAccounts(t, 2)
	r, err := NewRegistry(keys, addrs)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	snap := r.Snapshot()
	w, err := snap[0].SetCallData([]byte{1})
	if err != nil {
		t.Fatalf("SetCallData: %v", err)
	}
	snap[0] = w

	fresh := r.Snapshot()
	if fresh[0].State != Initialized || fresh[0].CallData != nil {
		t.Fatalf("fresh snapshot carries state: %+v", fresh[0])
	}
}

func TestRegistry_SignTx(t *testing.T) {
	keys, addrs := genAccounts(t, 2)
	r, err := NewRegistry(keys, addrs)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	chainID := big.NewInt(42161)
	signer := types.NewEIP155Signer(chainID)
	to := common.HexToAddress("0x5957582F020301a2f732ad17a69aB2D8B2741241")
	tx := types.NewTx(&types.LegacyTx{Nonce: 1, To: &to, Gas: 21000, GasPrice: big.NewInt(1), Data: []byte{0xde}})

	signed, err := r.SignTx(addrs[1], tx, signer)
	if err != nil {
		t.Fatalf("SignTx: %v", err)
	}
	from, err := types.Sender(signer, signed)
	if err != nil {
		t.Fatalf("Sender: %v", err)
	}
	if from != addrs[1] {
		t.Fatalf("sender got %s want %s", from.Hex(), addrs[1].Hex())
	}

	if _, err := r.SignTx(common.HexToAddress("0x1"), tx, signer); !errors.Is(err, ErrUnknownAccount) {
		t.Fatalf("got %v want ErrUnknownAccount", err)
	}
}
