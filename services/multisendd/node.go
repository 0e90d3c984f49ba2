package multisendd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"multisender/core/events"
	"multisender/core/state"
	"multisender/core/types"
	"multisender/ledger/erc20"
	nativecommon "multisender/native/common"
	"multisender/native/multisend"
	"multisender/observability"
	"multisender/observability/logging"
	"multisender/services/multisendd/receipts"
	"multisender/state/bank"
	"multisender/state/token"
	"multisender/storage"
)

// Node owns every long lived component of the daemon.
type Node struct {
	DB       storage.Database
	State    *state.Manager
	Bank     *bank.Ledger
	Tokens   *token.Ledger
	Engine   *multisend.Engine
	Receipts *receipts.Store
	Hub      *Hub
	Vault    common.Address

	logger *slog.Logger
}

// NewNode opens storage, wires the engine and applies genesis on a fresh data
// directory.
func NewNode(ctx context.Context, cfg Config, logger *slog.Logger) (*Node, error) {
	if logger == nil {
		logger = slog.Default()
	}
	vault, err := types.ParseAddress(cfg.Engine.Address)
	if err != nil {
		return nil, fmt.Errorf("engine address: %w", err)
	}
	owner, err := types.ParseAddress(cfg.Engine.Owner)
	if err != nil {
		return nil, fmt.Errorf("engine owner: %w", err)
	}
	engineOpts, err := cfg.Engine.engineOptions()
	if err != nil {
		return nil, err
	}

	var db storage.Database
	if dir := strings.TrimSpace(cfg.DataDir); dir != "" {
		ldb, err := storage.NewLevelDB(filepath.Join(dir, "state"))
		if err != nil {
			return nil, fmt.Errorf("open state db: %w", err)
		}
		db = ldb
	} else {
		logger.Warn("no data_dir configured; state is kept in memory")
		db = storage.NewMemDB()
	}

	n := &Node{
		DB:     db,
		State:  state.NewManager(db),
		Bank:   bank.NewLedger(db),
		Tokens: token.NewLedger(db),
		Hub:    NewHub(logger),
		Vault:  vault,
		logger: logger,
	}

	archiveDB, err := receipts.Open(cfg.Receipts.Driver, cfg.Receipts.DSN)
	if err != nil {
		db.Close()
		return nil, err
	}
	n.Receipts = receipts.NewStore(archiveDB)
	logger.Info("receipts archive ready",
		"driver", cfg.Receipts.Driver,
		logging.MaskField("dsn", logging.MaskDSN(cfg.Receipts.DSN)))

	opts := append([]multisend.Option{
		multisend.WithState(n.State),
		multisend.WithBank(n.Bank),
		multisend.WithAssetLedger(erc20.NewClient(token.NewHost(n.Tokens), vault)),
		multisend.WithOwnership(nativecommon.NewOwnable(n.State)),
		multisend.WithPauses(n.State),
		multisend.WithMetrics(observability.Multisend()),
		multisend.WithLogger(logger.With("component", "multisend")),
	}, engineOpts...)
	n.Engine = multisend.NewEngine(vault, opts...)
	n.Engine.SetEmitter(events.MultiEmitter{n.Hub, logEmitter(logger)})

	if err := n.bootstrap(ctx, owner, cfg.Genesis); err != nil {
		_ = n.Close()
		return nil, err
	}
	observability.Multisend().SetPause(n.Engine.Paused())
	return n, nil
}

// bootstrap initialises the engine and seeds genesis allocations the first
// time the data directory is used. Later starts leave state untouched.
func (n *Node) bootstrap(ctx context.Context, owner common.Address, genesis GenesisConfig) error {
	initialized, err := nativecommon.NewOwnable(n.State).Initialized()
	if err != nil {
		return fmt.Errorf("read owner: %w", err)
	}
	if initialized {
		n.logger.Info("existing state found; genesis skipped")
		return nil
	}
	if err := applyGenesis(n.Bank, n.Tokens, n.Vault, genesis); err != nil {
		return fmt.Errorf("apply genesis: %w", err)
	}
	if err := n.Engine.Initialize(ctx, owner); err != nil {
		return fmt.Errorf("initialize engine: %w", err)
	}
	return nil
}

func applyGenesis(b *bank.Ledger, tokens *token.Ledger, vault common.Address, genesis GenesisConfig) error {
	for _, holder := range sortedKeys(genesis.Balances) {
		addr, err := types.ParseAddress(holder)
		if err != nil {
			return err
		}
		amount, err := types.ParseAmount(genesis.Balances[holder])
		if err != nil {
			return err
		}
		if err := b.Credit(addr, amount); err != nil {
			return fmt.Errorf("credit %s: %w", addr.Hex(), err)
		}
	}
	for _, holder := range genesis.Rejecting {
		addr, err := types.ParseAddress(holder)
		if err != nil {
			return err
		}
		if err := b.SetRejecting(addr, true); err != nil {
			return fmt.Errorf("mark %s rejecting: %w", addr.Hex(), err)
		}
	}
	for _, tok := range genesis.Tokens {
		addr, err := types.ParseAddress(tok.Address)
		if err != nil {
			return err
		}
		if err := tokens.Register(addr, tok.Symbol, tok.Decimals); err != nil {
			return fmt.Errorf("register %s: %w", tok.Symbol, err)
		}
		for _, holder := range sortedKeys(tok.Balances) {
			holderAddr, err := types.ParseAddress(holder)
			if err != nil {
				return err
			}
			amount, err := types.ParseAmount(tok.Balances[holder])
			if err != nil {
				return err
			}
			if err := tokens.Mint(addr, holderAddr, amount); err != nil {
				return fmt.Errorf("mint %s to %s: %w", tok.Symbol, holderAddr.Hex(), err)
			}
		}
		for _, holder := range sortedKeys(tok.Allowances) {
			holderAddr, err := types.ParseAddress(holder)
			if err != nil {
				return err
			}
			amount, err := types.ParseAmount(tok.Allowances[holder])
			if err != nil {
				return err
			}
			if err := tokens.Approve(addr, holderAddr, vault, amount); err != nil {
				return fmt.Errorf("approve %s for %s: %w", tok.Symbol, holderAddr.Hex(), err)
			}
		}
	}
	return nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// logEmitter writes every engine event at debug level.
func logEmitter(logger *slog.Logger) events.Emitter {
	return events.EmitterFunc(func(evt events.Event) {
		payload := events.Canonical(evt)
		if payload == nil {
			return
		}
		logger.Debug("engine event", "type", payload.Type, "attributes", payload.Attributes)
	})
}

// Close releases storage and the receipt archive.
func (n *Node) Close() error {
	var errs []error
	if n.Receipts != nil {
		if err := n.Receipts.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if n.DB != nil {
		n.DB.Close()
	}
	return errors.Join(errs...)
}
