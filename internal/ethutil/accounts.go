package ethutil

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// ParseAddressList parses hex addresses from a single string, one entry per
// comma/semicolon/whitespace-separated field.
//
// Order is preserved because the result is paired by index with a key list,
// so a repeated address is an error rather than being dropped.
//
// Returns (nil, nil) if raw is empty/whitespace.
func ParseAddressList(raw string) ([]common.Address, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, nil
	}

	parts := strings.FieldsFunc(trimmed, func(r rune) bool {
		switch r {
		case ',', ';', ' ', '\n', '\r', '\t':
			return true
		default:
			return false
		}
	})

	out := make([]common.Address, 0, len(parts))
	seen := make(map[common.Address]int, len(parts))
	for _, part := range parts {
		s := strings.TrimSpace(part)
		if s == "" || strings.HasPrefix(s, "#") {
			continue
		}
		if !common.IsHexAddress(s) {
			return nil, fmt.Errorf("invalid hex address %q", s)
		}

		addr := common.HexToAddress(s)
		if prev, ok := seen[addr]; ok {
			return nil, fmt.Errorf("duplicate address %s (entries %d and %d)", addr.Hex(), prev, len(out))
		}
		seen[addr] = len(out)
		out = append(out, addr)
	}

	if len(out) == 0 {
		return nil, fmt.Errorf("no addresses found")
	}
	return out, nil
}

// ReadAddressFile reads one address per line. Blank lines and lines starting
// with '#' are skipped.
func ReadAddressFile(path string) ([]common.Address, error) {
	lines, err := readLines(path)
	if err != nil {
		return nil, err
	}
	addrs, err := ParseAddressList(strings.Join(lines, "\n"))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("%s: no addresses found", path)
	}
	return addrs, nil
}

// ReadKeyFile reads one hex private key per line (optional 0x prefix).
// Keys are returned verbatim (trimmed); validation happens where they are
// turned into signing keys, and error messages never echo key material.
func ReadKeyFile(path string) ([]string, error) {
	lines, err := readLines(path)
	if err != nil {
		return nil, err
	}
	if len(lines) == 0 {
		return nil, fmt.Errorf("%s: no keys found", path)
	}
	return lines, nil
}

func readLines(path string) ([]string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("file path required")
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return scanLines(f)
}

func scanLines(r io.Reader) ([]string, error) {
	var out []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func JoinHex(addrs []common.Address) string {
	if len(addrs) == 0 {
		return ""
	}
	parts := make([]string, 0, len(addrs))
	for _, a := range addrs {
		parts = append(parts, a.Hex())
	}
	return strings.Join(parts, ",")
}

// ShortHex abbreviates an address for log lines: 0x1234…abcd.
func ShortHex(addr common.Address) string {
	h := addr.Hex()
	if len(h) < 12 {
		return h
	}
	return h[:6] + "…" + h[len(h)-4:]
}
