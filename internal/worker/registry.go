package worker

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	ErrInputMismatch  = errors.New("input mismatch")
	ErrUnknownAccount = errors.New("unknown account")
)

type account struct {
	address common.Address
	key     *ecdsa.PrivateKey
	group   Group
}

// Registry owns the managed accounts and their keys for the process lifetime.
// It is read-only after construction and safe for concurrent use.
type Registry struct {
	accounts []account
	byAddr   map[common.Address]int
}

// NewRegistry pairs keys[i] with addresses[i]. The first len/2 accounts form
// the long group, the rest the short group.
func NewRegistry(keys []string, addresses []common.Address) (*Registry, error) {
	if len(keys) != len(addresses) {
		return nil, fmt.Errorf("%w: %d keys vs %d addresses", ErrInputMismatch, len(keys), len(addresses))
	}
	if len(addresses) == 0 {
		return nil, fmt.Errorf("%w: no accounts", ErrInputMismatch)
	}

	half := len(addresses) / 2
	r := &Registry{
		accounts: make([]account, 0, len(addresses)),
		byAddr:   make(map[common.Address]int, len(addresses)),
	}
	for i, addr := range addresses {
		if prev, ok := r.byAddr[addr]; ok {
			return nil, fmt.Errorf("%w: address %s repeated at entries %d and %d", ErrInputMismatch, addr.Hex(), prev, i)
		}
		// Never echo the key itself.
		pk, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(keys[i]), "0x"))
		if err != nil {
			return nil, fmt.Errorf("%w: key %d is not a valid secp256k1 key", ErrInputMismatch, i)
		}
		if derived := crypto.PubkeyToAddress(pk.PublicKey); derived != addr {
			return nil, fmt.Errorf("%w: key %d derives %s, expected %s", ErrInputMismatch, i, derived.Hex(), addr.Hex())
		}

		group := GroupShort
		if i < half {
			group = GroupLong
		}
		r.byAddr[addr] = i
		r.accounts = append(r.accounts, account{address: addr, key: pk, group: group})
	}
	return r, nil
}

func (r *Registry) Len() int { return len(r.accounts) }

// Groups returns the long and short group sizes.
func (r *Registry) Groups() (long, short int) {
	for _, a := range r.accounts {
		if a.group == GroupLong {
			long++
		} else {
			short++
		}
	}
	return long, short
}

func (r *Registry) Addresses() []common.Address {
	out := make([]common.Address, 0, len(r.accounts))
	for _, a := range r.accounts {
		out = append(out, a.address)
	}
	return out
}

// Snapshot returns every account in the Initialized state. Each call starts a
// fresh cycle: nothing from a previous cycle is carried over.
func (r *Registry) Snapshot() Snapshot {
	out := make(Snapshot, 0, len(r.accounts))
	for i, a := range r.accounts {
		out = append(out, Worker{
			Index:   i,
			Address: a.address,
			Group:   a.group,
			State:   Initialized,
		})
	}
	return out
}

// SignTx signs tx with the key belonging to addr.
func (r *Registry) SignTx(addr common.Address, tx *types.Transaction, signer types.Signer) (*types.Transaction, error) {
	i, ok := r.byAddr[addr]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAccount, addr.Hex())
	}
	return types.SignTx(tx, signer, r.accounts[i].key)
}
