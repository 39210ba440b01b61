package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"vela-cycler/internal/cycle"
	"vela-cycler/internal/ledger"
	"vela-cycler/internal/payload"
	"vela-cycler/internal/pipeline"
	"vela-cycler/internal/pricefeed"
	"vela-cycler/internal/vela"
)

type config struct {
	rpcURL        string
	keysFile      string
	addressesFile string

	contract   common.Address
	indexToken common.Address

	priceURL   string
	priceWSURL string
	pricePair  string

	size     decimal.Decimal
	leverage decimal.Decimal
	slippage uint64
	gasLimit uint64

	pollInterval    time.Duration
	confirmAttempts int
	settleDelay     time.Duration
	receiptAttempts int
	taskTimeout     time.Duration
	concurrency     int
	cycleDelay      time.Duration
	maxCycles       int

	outFile     string
	logFile     string
	metricsAddr string
}

// rawConfig holds every setting as text so flags, environment and the YAML
// file can be layered before parsing. Field order matches settings.
type rawConfig struct {
	RPCURL          string `yaml:"rpc_url"`
	KeysFile        string `yaml:"keys_file"`
	AddressesFile   string `yaml:"addresses_file"`
	Contract        string `yaml:"vela_contract"`
	IndexToken      string `yaml:"index_token"`
	PriceURL        string `yaml:"price_url"`
	PriceWSURL      string `yaml:"price_ws_url"`
	PricePair       string `yaml:"price_pair"`
	Size            string `yaml:"position_size"`
	Leverage        string `yaml:"leverage"`
	Slippage        string `yaml:"slippage_bps"`
	GasLimit        string `yaml:"gas_limit"`
	PollInterval    string `yaml:"poll_interval"`
	ConfirmAttempts string `yaml:"confirm_attempts"`
	SettleDelay     string `yaml:"settle_delay"`
	ReceiptAttempts string `yaml:"receipt_attempts"`
	TaskTimeout     string `yaml:"task_timeout"`
	Concurrency     string `yaml:"concurrency"`
	CycleDelay      string `yaml:"cycle_delay"`
	MaxCycles       string `yaml:"max_cycles"`
	OutFile         string `yaml:"out_file"`
	LogFile         string `yaml:"log_file"`
	MetricsAddr     string `yaml:"metrics_addr"`
}

func (r *rawConfig) fields() []*string {
	return []*string{
		&r.RPCURL, &r.KeysFile, &r.AddressesFile, &r.Contract, &r.IndexToken,
		&r.PriceURL, &r.PriceWSURL, &r.PricePair, &r.Size, &r.Leverage,
		&r.Slippage, &r.GasLimit, &r.PollInterval, &r.ConfirmAttempts, &r.SettleDelay,
		&r.ReceiptAttempts, &r.TaskTimeout, &r.Concurrency, &r.CycleDelay, &r.MaxCycles,
		&r.OutFile, &r.LogFile, &r.MetricsAddr,
	}
}

type setting struct {
	flag  string
	env   []string
	def   string
	usage string
}

var settings = []setting{
	{"rpc", []string{"RPC_WS_URL", "RPC_URL", "SOCKET"}, "", "Ledger node RPC URL (ws(s):// or http(s)://)"},
	{"keys-file", []string{"KEYS_FILE"}, "./keys.txt", "File with one private key per line"},
	{"addresses-file", []string{"ADDRESSES_FILE"}, "./addresses.txt", "File with one account address per line, same order as keys"},
	{"contract", []string{"VELA_CONTRACT"}, vela.DefaultContractAddress.Hex(), "Vela market contract address"},
	{"index-token", []string{"VELA_INDEX_TOKEN"}, vela.DefaultIndexToken.Hex(), "Index token address of the traded market"},
	{"price-url", []string{"PRICE_URL"}, pricefeed.DefaultURL, "Vela public pricing endpoint"},
	{"price-ws", []string{"PRICE_WS_URL"}, "", "Optional WebSocket quote feed (falls back to price-url)"},
	{"pair", []string{"PRICE_PAIR"}, pricefeed.DefaultPair, "Reference price pair"},
	{"size", []string{"POSITION_SIZE"}, "5", "Collateral per position in USD"},
	{"leverage", []string{"LEVERAGE"}, "25", "Position leverage"},
	{"slippage", []string{"SLIPPAGE_BPS"}, strconv.Itoa(payload.DefaultSlippage), "Allowed slippage in basis points"},
	{"gas-limit", []string{"GAS_LIMIT"}, strconv.Itoa(pipeline.DefaultGasLimit), "Gas limit per transaction"},
	{"poll-interval", []string{"POLL_INTERVAL"}, pipeline.DefaultPollInterval.String(), "Head polling interval"},
	{"confirm-attempts", []string{"CONFIRM_ATTEMPTS"}, strconv.Itoa(pipeline.DefaultConfirmAttempts), "Head polls before a confirmation times out"},
	{"settle-delay", []string{"SETTLE_DELAY"}, cycle.DefaultSettleDelay.String(), "Wait after each batch submission before polling the head"},
	{"receipt-attempts", []string{"RECEIPT_ATTEMPTS"}, strconv.Itoa(cycle.DefaultReceiptAttempts), "Receipt lookups per account before giving up"},
	{"task-timeout", []string{"TASK_TIMEOUT"}, "30s", "Timeout for a single per-account RPC task"},
	{"concurrency", []string{"CONCURRENCY"}, "16", "Max concurrent per-account tasks (0 = unlimited)"},
	{"cycle-delay", []string{"CYCLE_DELAY"}, cycle.DefaultCycleDelay.String(), "Pause between cycles"},
	{"cycles", []string{"MAX_CYCLES"}, "0", "Stop after this many cycles (0 = run until interrupted)"},
	{"out", []string{"OUT_FILE"}, "./out/cycler.jsonl", "JSONL event log path (\"off\" disables)"},
	{"log-file", []string{"LOG_FILE"}, "", "Also write logs to this rotated file"},
	{"metrics-addr", []string{"METRICS_ADDR"}, "", "Serve Prometheus metrics on this address (e.g. :9108)"},
}

// loadConfig resolves each setting as flag > environment > YAML file >
// default. The YAML file is named by -config or CYCLER_CONFIG.
func loadConfig(argv []string, getenv func(string) string, stderr io.Writer) (config, error) {
	fs := flag.NewFlagSet("cycler", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var fromFlags rawConfig
	var configPath string
	fs.StringVar(&configPath, "config", "", "Optional YAML config file (or CYCLER_CONFIG)")
	ptrs := fromFlags.fields()
	for i, s := range settings {
		usage := s.usage
		if s.def != "" {
			usage += " (default " + s.def + ")"
		}
		usage += " [" + strings.Join(s.env, "/") + "]"
		fs.StringVar(ptrs[i], s.flag, "", usage)
	}
	if err := fs.Parse(argv); err != nil {
		return config{}, err
	}

	var fromFile rawConfig
	if path := firstNonEmpty(configPath, getenv("CYCLER_CONFIG")); path != "" {
		var err error
		if fromFile, err = readConfigFile(path); err != nil {
			return config{}, err
		}
	}

	var merged rawConfig
	out, flagVals, fileVals := merged.fields(), fromFlags.fields(), fromFile.fields()
	for i, s := range settings {
		candidates := []string{*flagVals[i]}
		for _, key := range s.env {
			candidates = append(candidates, getenv(key))
		}
		candidates = append(candidates, *fileVals[i], s.def)
		*out[i] = strings.TrimSpace(firstNonEmpty(candidates...))
	}
	return merged.parse()
}

func readConfigFile(path string) (rawConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return rawConfig{}, fmt.Errorf("read config %s: %w", path, err)
	}
	var raw rawConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return rawConfig{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return raw, nil
}

func (r rawConfig) parse() (config, error) {
	var errs []error
	bad := func(name, v string, err error) {
		errs = append(errs, fmt.Errorf("invalid %s %q: %v", name, v, err))
	}

	c := config{
		keysFile:      r.KeysFile,
		addressesFile: r.AddressesFile,
		priceWSURL:    r.PriceWSURL,
		pricePair:     r.PricePair,
		outFile:       r.OutFile,
		logFile:       r.LogFile,
		metricsAddr:   r.MetricsAddr,
	}

	if strings.EqualFold(c.outFile, "off") {
		c.outFile = ""
	}

	var err error
	if c.rpcURL, err = ledger.ValidateRPCURL(r.RPCURL); err != nil {
		errs = append(errs, err)
	}
	if c.keysFile == "" || c.addressesFile == "" {
		errs = append(errs, errors.New("keys file and addresses file are required"))
	}
	c.contract, err = parseAddress(r.Contract)
	if err != nil {
		bad("contract", r.Contract, err)
	}
	c.indexToken, err = parseAddress(r.IndexToken)
	if err != nil {
		bad("index token", r.IndexToken, err)
	}
	if err := validateHTTPURL(r.PriceURL); err != nil {
		bad("price url", r.PriceURL, err)
	}
	c.priceURL = r.PriceURL
	if c.priceWSURL != "" && !strings.HasPrefix(c.priceWSURL, "ws://") && !strings.HasPrefix(c.priceWSURL, "wss://") {
		bad("price ws url", c.priceWSURL, errors.New("must be ws(s)://"))
	}

	if c.size, err = positiveDecimal(r.Size); err != nil {
		bad("position size", r.Size, err)
	}
	if c.leverage, err = positiveDecimal(r.Leverage); err != nil {
		bad("leverage", r.Leverage, err)
	}
	if c.slippage, err = strconv.ParseUint(r.Slippage, 10, 64); err != nil {
		bad("slippage", r.Slippage, err)
	}
	if c.gasLimit, err = strconv.ParseUint(r.GasLimit, 10, 64); err != nil || c.gasLimit == 0 {
		bad("gas limit", r.GasLimit, errOr(err, "must be positive"))
	}

	if c.pollInterval, err = time.ParseDuration(r.PollInterval); err != nil || c.pollInterval <= 0 {
		bad("poll interval", r.PollInterval, errOr(err, "must be positive"))
	}
	if c.settleDelay, err = time.ParseDuration(r.SettleDelay); err != nil || c.settleDelay < 0 {
		bad("settle delay", r.SettleDelay, errOr(err, "must not be negative"))
	}
	if c.taskTimeout, err = time.ParseDuration(r.TaskTimeout); err != nil || c.taskTimeout < 0 {
		bad("task timeout", r.TaskTimeout, errOr(err, "must not be negative"))
	}
	if c.cycleDelay, err = time.ParseDuration(r.CycleDelay); err != nil || c.cycleDelay < 0 {
		bad("cycle delay", r.CycleDelay, errOr(err, "must not be negative"))
	}
	if c.confirmAttempts, err = strconv.Atoi(r.ConfirmAttempts); err != nil || c.confirmAttempts <= 0 {
		bad("confirm attempts", r.ConfirmAttempts, errOr(err, "must be positive"))
	}
	if c.receiptAttempts, err = strconv.Atoi(r.ReceiptAttempts); err != nil || c.receiptAttempts <= 0 {
		bad("receipt attempts", r.ReceiptAttempts, errOr(err, "must be positive"))
	}
	if c.concurrency, err = strconv.Atoi(r.Concurrency); err != nil || c.concurrency < 0 {
		bad("concurrency", r.Concurrency, errOr(err, "must not be negative"))
	}
	if c.maxCycles, err = strconv.Atoi(r.MaxCycles); err != nil || c.maxCycles < 0 {
		bad("cycles", r.MaxCycles, errOr(err, "must not be negative"))
	}

	if len(errs) > 0 {
		return config{}, errors.Join(errs...)
	}
	return c, nil
}

func parseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, errors.New("not a hex address")
	}
	a := common.HexToAddress(s)
	if a == (common.Address{}) {
		return common.Address{}, errors.New("zero address")
	}
	return a, nil
}

func positiveDecimal(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, err
	}
	if !d.IsPositive() {
		return decimal.Decimal{}, errors.New("must be positive")
	}
	return d, nil
}

func validateHTTPURL(s string) error {
	u, err := url.Parse(s)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.New("must be http(s)://")
	}
	return nil
}

func errOr(err error, msg string) error {
	if err != nil {
		return err
	}
	return errors.New(msg)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
