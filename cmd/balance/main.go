package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"vela-cycler/internal/cycle"
	"vela-cycler/internal/dotenv"
	"vela-cycler/internal/ethutil"
	"vela-cycler/internal/ledger"
	"vela-cycler/internal/pipeline"
)

func main() {
	log.SetFlags(0)

	if err := dotenv.Load(); err != nil {
		log.Printf("[warn] %v", err)
	}

	var addrFileFlag string
	var rpcFlag string
	var gasLimitFlag uint64
	flag.StringVar(&addrFileFlag, "addresses-file", "", "Account list to check (default ADDRESSES_FILE or ./addresses.txt)")
	flag.StringVar(&rpcFlag, "rpc", "", "Ledger node RPC URL (default RPC_WS_URL/RPC_URL)")
	flag.Uint64Var(&gasLimitFlag, "gas-limit", pipeline.DefaultGasLimit, "Gas limit per transaction used for the cycle cost estimate")
	flag.Parse()

	rpcURL, err := ledger.ValidateRPCURL(firstNonEmpty(rpcFlag, os.Getenv("RPC_WS_URL"), os.Getenv("RPC_URL"), os.Getenv("SOCKET")))
	if err != nil {
		log.Fatalf("[fatal] %v", err)
	}
	addrs, err := ethutil.ReadAddressFile(firstNonEmpty(addrFileFlag, os.Getenv("ADDRESSES_FILE"), "./addresses.txt"))
	if err != nil {
		log.Fatalf("[fatal] %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client, head, err := ledger.DialWithBackoff(ctx, rpcURL, 3, time.Second, 5*time.Second)
	if err != nil {
		log.Fatalf("[fatal] %v", err)
	}
	defer client.Close()

	gasPrice, err := client.GasPrice(ctx)
	if err != nil {
		log.Fatalf("[fatal] %v", err)
	}

	fmt.Printf("block: %d\n", head)
	fmt.Printf("gas_price: %s gwei\n", formatUnits(gasPrice.String(), 9))
	fmt.Printf("cycle_cost: %s ETH\n", formatUnits(cycle.CycleGasCost(gasPrice, gasLimitFlag).String(), 18))

	short := 0
	for _, f := range cycle.Preflight(ctx, client, addrs, gasPrice, gasLimitFlag) {
		switch {
		case f.Err != nil:
			fmt.Printf("%s error=%v\n", f.Address.Hex(), f.Err)
			short++
		case f.Short():
			fmt.Printf("%s %s ETH LOW\n", f.Address.Hex(), formatUnits(f.Balance.String(), 18))
			short++
		default:
			fmt.Printf("%s %s ETH\n", f.Address.Hex(), formatUnits(f.Balance.String(), 18))
		}
	}
	if short > 0 {
		log.Printf("[warn] %d of %d accounts cannot cover one cycle", short, len(addrs))
		os.Exit(2)
	}
}

func formatUnits(wei string, decimals int32) string {
	d, err := decimal.NewFromString(wei)
	if err != nil {
		return wei
	}
	return d.Shift(-decimals).String()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
