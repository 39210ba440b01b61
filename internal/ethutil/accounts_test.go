package ethutil

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestParseAddressList(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		got, err := ParseAddressList("   \n\t")
		if err != nil {
			t.Fatalf("unexpected err: %v", err)
		}
		if got != nil {
			t.Fatalf("expected nil, got %#v", got)
		}
	})

	t.Run("order preserved", func(t *testing.T) {
		got, err := ParseAddressList("0x0000000000000000000000000000000000000002, 0x0000000000000000000000000000000000000001")
		if err != nil {
			t.Fatalf("unexpected err: %v", err)
		}
		if len(got) != 2 || got[0] != common.HexToAddress("0x2") || got[1] != common.HexToAddress("0x1") {
			t.Fatalf("unexpected result: %#v", got)
		}
	})

	t.Run("duplicate rejected", func(t *testing.T) {
		_, err := ParseAddressList("0x0000000000000000000000000000000000000001\n0x0000000000000000000000000000000000000001")
		if err == nil || !strings.Contains(err.Error(), "duplicate") {
			t.Fatalf("expected duplicate error, got %v", err)
		}
	})

	t.Run("invalid", func(t *testing.T) {
		_, err := ParseAddressList("0xnotanaddress")
		if err == nil {
			t.Fatalf("expected err")
		}
	})
}

func TestReadFiles(t *testing.T) {
	dir := t.TempDir()

	addrPath := filepath.Join(dir, "addresses.txt")
	addrBody := "# managed accounts\n0x0000000000000000000000000000000000000001\n\n0x0000000000000000000000000000000000000002\n"
	if err := os.WriteFile(addrPath, []byte(addrBody), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	addrs, err := ReadAddressFile(addrPath)
	if err != nil {
		t.Fatalf("ReadAddressFile: %v", err)
	}
	if len(addrs) != 2 {
		t.Fatalf("got %d addresses want 2", len(addrs))
	}

	keyPath := filepath.Join(dir, "pkeys.txt")
	keyBody := "  0xaaaa  \n\n#comment\nbbbb\n"
	if err := os.WriteFile(keyPath, []byte(keyBody), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	keys, err := ReadKeyFile(keyPath)
	if err != nil {
		t.Fatalf("ReadKeyFile: %v", err)
	}
	if len(keys) != 2 || keys[0] != "0xaaaa" || keys[1] != "bbbb" {
		t.Fatalf("unexpected keys: %#v", keys)
	}

	if _, err := ReadKeyFile(filepath.Join(dir, "missing.txt")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestShortHex(t *testing.T) {
	got := ShortHex(common.HexToAddress("0x5957582F020301a2f732ad17a69aB2D8B2741241"))
	if got != "0x5957…1241" {
		t.Fatalf("got %q", got)
	}
}
