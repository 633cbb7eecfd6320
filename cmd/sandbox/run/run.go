// Package run implements the command that executes a transaction against a
// fresh in-memory ledger.
package run

import (
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/mr-tron/base58"
	"github.com/psiemens/sconfig"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/fortiblox/X1-Sandbox/internal/types"
	"github.com/fortiblox/X1-Sandbox/pkg/accounts"
	"github.com/fortiblox/X1-Sandbox/pkg/ledger"
	"github.com/fortiblox/X1-Sandbox/pkg/transaction"
)

type Config struct {
	Verbose         bool   `default:"false" flag:"verbose,v" info:"enable verbose logging"`
	LogFormat       string `default:"text" flag:"log-format" info:"logging output format. Valid values (text, JSON)"`
	Transaction     string `flag:"tx" info:"signed transaction to execute"`
	Encoding        string `default:"base64" flag:"encoding" info:"encoding of --tx. Valid values (base64, base58)"`
	Simulate        bool   `default:"false" flag:"simulate" info:"simulate the transaction without committing it"`
	SigVerify       bool   `default:"true" flag:"sigverify" info:"verify transaction and precompile signatures"`
	BlockhashCheck  bool   `default:"true" flag:"blockhash-check" info:"reject transactions that do not reference the latest blockhash"`
	HistoryCapacity int    `default:"500" flag:"history-capacity" info:"number of transactions kept for duplicate detection"`
	LogBytesLimit   int    `default:"10000" flag:"log-bytes-limit" info:"program log bytes kept per transaction, negative for no limit"`
	Airdrops        string `flag:"airdrop" info:"comma-separated address=lamports pairs funded before execution"`
	Programs        string `flag:"programs" info:"comma-separated address=path pairs of programs deployed before execution"`
	Backend         string `default:"memory" flag:"backend" info:"account storage backend. Valid values (memory, badger)"`
}

const EnvPrefix = "SANDBOX"

var conf Config

func Cmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sandbox",
		Short: "Executes a transaction against an in-memory ledger",
		Long: "Executes a transaction against an in-memory ledger.\n\n" +
			"The ledger starts at the genesis blockhash, so transactions can be\n" +
			"built and signed ahead of time. Without --tx a transfer between two\n" +
			"fresh accounts is executed instead.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := initLogger(conf.Verbose)
			return execute(logger, conf)
		},
	}

	initConfig(cmd)

	return cmd
}

func execute(logger zerolog.Logger, conf Config) error {
	engine, err := newEngine(logger, conf)
	if err != nil {
		return err
	}
	defer engine.Close()

	logger.Info().
		Stringer("blockhash", engine.LatestBlockhash()).
		Stringer("airdrop", engine.AirdropPubkey()).
		Msg("ledger ready")

	if err := prepare(engine, conf); err != nil {
		return err
	}

	var tx *transaction.Transaction
	if conf.Transaction == "" {
		tx, err = transferScenario(logger, engine)
	} else {
		tx, err = decodeTransaction(conf.Transaction, conf.Encoding)
	}
	if err != nil {
		return err
	}

	if conf.Simulate {
		info, err := engine.Simulate(tx)
		if err != nil {
			return report(logger, nil, err)
		}
		for _, ka := range info.PostAccounts {
			logger.Info().
				Stringer("address", ka.Pubkey).
				Uint64("lamports", ka.Account.Lamports).
				Int("data_len", len(ka.Account.Data)).
				Stringer("owner", ka.Account.Owner).
				Msg("post account")
		}
		return report(logger, &info.Meta, nil)
	}

	meta, err := engine.Send(tx)
	return report(logger, meta, err)
}

func newEngine(logger zerolog.Logger, conf Config) (*ledger.Engine, error) {
	cfg := ledger.DefaultConfig()
	cfg.Logger = logger
	cfg.SigVerify = conf.SigVerify
	cfg.BlockhashCheck = conf.BlockhashCheck
	cfg.HistoryCapacity = conf.HistoryCapacity
	if conf.LogBytesLimit < 0 {
		cfg.LogBytesLimit = nil
	} else {
		limit := conf.LogBytesLimit
		cfg.LogBytesLimit = &limit
	}

	switch strings.ToLower(conf.Backend) {
	case "memory", "":
	case "badger":
		dbConf := accounts.DefaultBadgerDBConfig()
		dbConf.Logger = logger
		db, err := accounts.NewBadgerDB(dbConf)
		if err != nil {
			return nil, err
		}
		cfg.Backend = db
	default:
		return nil, fmt.Errorf("invalid backend %s, valid values are: memory, badger", conf.Backend)
	}

	return ledger.New(cfg)
}

// prepare funds the requested accounts and deploys the requested programs.
func prepare(engine *ledger.Engine, conf Config) error {
	airdrops, err := parsePairs(conf.Airdrops)
	if err != nil {
		return fmt.Errorf("invalid --airdrop: %w", err)
	}
	for _, p := range airdrops {
		lamports, err := strconv.ParseUint(p.value, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid lamports for %s: %w", p.address, err)
		}
		if err := engine.SetAccount(p.address, &accounts.Account{
			Lamports: lamports,
			Owner:    types.SystemProgramAddr,
		}); err != nil {
			return err
		}
	}

	programs, err := parsePairs(conf.Programs)
	if err != nil {
		return fmt.Errorf("invalid --programs: %w", err)
	}
	for _, p := range programs {
		if err := engine.AddProgramFromFile(p.address, p.value); err != nil {
			return err
		}
	}
	return nil
}

type pair struct {
	address types.Pubkey
	value   string
}

// parsePairs parses "address=value,address=value".
func parsePairs(s string) ([]pair, error) {
	var out []pair
	for _, item := range strings.Split(s, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		addr, value, ok := strings.Cut(item, "=")
		if !ok || value == "" {
			return nil, fmt.Errorf("expected address=value, got %q", item)
		}
		pubkey, err := types.PubkeyFromBase58(addr)
		if err != nil {
			return nil, err
		}
		out = append(out, pair{address: pubkey, value: value})
	}
	return out, nil
}

func decodeTransaction(s, encoding string) (*transaction.Transaction, error) {
	var (
		data []byte
		err  error
	)
	switch strings.ToLower(encoding) {
	case "base64":
		data, err = base64.StdEncoding.DecodeString(s)
	case "base58":
		data, err = base58.Decode(s)
	default:
		return nil, fmt.Errorf("invalid encoding %s, valid values are: base64, base58", encoding)
	}
	if err != nil {
		return nil, fmt.Errorf("decode transaction: %w", err)
	}
	return transaction.Deserialize(data)
}

func report(logger zerolog.Logger, meta *ledger.TransactionMetadata, err error) error {
	var failed *ledger.FailedTransactionMetadata
	if errors.As(err, &failed) {
		meta = &failed.Meta
		err = failed.Err
	}
	if meta != nil {
		for _, line := range meta.Logs {
			logger.Info().Msg(line)
		}
		event := logger.Info()
		if err != nil {
			event = logger.Error().Err(err)
		}
		event.
			Stringer("signature", meta.Signature).
			Uint64("fee", meta.Fee).
			Uint64("compute_units", meta.ComputeUnitsConsumed).
			Msg("transaction processed")
	}
	return err
}

func initLogger(verbose bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	zerolog.MessageFieldName = "msg"

	switch strings.ToLower(conf.LogFormat) {
	case "json":
		return zerolog.New(os.Stdout).With().Timestamp().Logger().Level(level)
	default:
		writer := zerolog.ConsoleWriter{Out: os.Stdout}
		writer.FormatMessage = func(i interface{}) string {
			if i == nil {
				return ""
			}
			return fmt.Sprintf("%-44s", i)
		}
		return zerolog.New(writer).With().Timestamp().Logger().Level(level)
	}
}

func initConfig(cmd *cobra.Command) {
	err := sconfig.New(&conf).
		FromEnvironment(EnvPrefix).
		BindFlags(cmd.PersistentFlags()).
		Parse()
	if err != nil {
		log.Fatal(err)
	}
}

func Exit(code int, msg string) {
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(code)
}
