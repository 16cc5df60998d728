package dbbadger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/dgraph-io/badger/v3"
	"github.com/dgraph-io/badger/v3/options"
	"github.com/tdex-network/tdex-settlement/internal/core/domain"
	"github.com/tdex-network/tdex-settlement/internal/core/ports"
	"github.com/timshannon/badgerhold/v4"
)

const maxTxRetries = 5

type txKey struct{}

type repoManager struct {
	store *badgerhold.Store

	auctionRepository    domain.AuctionRepository
	escrowRepository     domain.EscrowRepository
	settlementRepository domain.SettlementRepository
	complianceRepository domain.ComplianceRepository
}

// NewRepoManager opens (or creates if not exists) the badger store on disk.
// It expects a base data dir and an optional logger.
func NewRepoManager(baseDbDir string, logger badger.Logger) (ports.RepoManager, error) {
	var dir string
	if len(baseDbDir) > 0 {
		dir = filepath.Join(baseDbDir, "settlement")
	}
	store, err := createDb(dir, logger)
	if err != nil {
		return nil, fmt.Errorf("opening settlement db: %w", err)
	}

	return &repoManager{
		store:                store,
		auctionRepository:    NewAuctionRepositoryImpl(store),
		escrowRepository:     NewEscrowRepositoryImpl(store),
		settlementRepository: NewSettlementRepositoryImpl(store),
		complianceRepository: NewComplianceRepositoryImpl(store),
	}, nil
}

func (d *repoManager) AuctionRepository() domain.AuctionRepository {
	return d.auctionRepository
}

func (d *repoManager) EscrowRepository() domain.EscrowRepository {
	return d.escrowRepository
}

func (d *repoManager) SettlementRepository() domain.SettlementRepository {
	return d.settlementRepository
}

func (d *repoManager) ComplianceRepository() domain.ComplianceRepository {
	return d.complianceRepository
}

// RunTransaction runs the handler within a badger transaction stored in the
// context. Read-write transactions that fail to commit because of a
// conflict with a concurrent one are retried from scratch. A handler
// invoked with a context that already carries a transaction joins it.
func (d *repoManager) RunTransaction(
	ctx context.Context,
	readOnly bool,
	handler func(ctx context.Context) (interface{}, error),
) (interface{}, error) {
	if _, ok := txFromContext(ctx); ok {
		return handler(ctx)
	}

	for attempt := 0; ; attempt++ {
		tx := d.store.Badger().NewTransaction(!readOnly)
		txCtx, runHooks := ports.WithCommitHooks(ctx)
		res, err := handler(context.WithValue(txCtx, txKey{}, tx))
		if err != nil {
			tx.Discard()
			return nil, err
		}
		if readOnly {
			tx.Discard()
			runHooks()
			return res, nil
		}

		if err := tx.Commit(); err != nil {
			if errors.Is(err, badger.ErrConflict) && attempt < maxTxRetries {
				continue
			}
			return nil, err
		}
		runHooks()
		return res, nil
	}
}

func (d *repoManager) Close() {
	d.store.Close()
}

func txFromContext(ctx context.Context) (*badger.Txn, bool) {
	tx, ok := ctx.Value(txKey{}).(*badger.Txn)
	return tx, ok && tx != nil
}

// view runs fn in the context transaction, if any, or in a new read-only
// one.
func view(
	ctx context.Context, store *badgerhold.Store, fn func(tx *badger.Txn) error,
) error {
	if tx, ok := txFromContext(ctx); ok {
		return fn(tx)
	}
	return store.Badger().View(fn)
}

// update runs fn in the context transaction, if any, or in a new
// read-write one committed on success.
func update(
	ctx context.Context, store *badgerhold.Store, fn func(tx *badger.Txn) error,
) error {
	if tx, ok := txFromContext(ctx); ok {
		return fn(tx)
	}
	return store.Badger().Update(fn)
}

// JSONEncode is a custom JSON based encoder for badger
func JSONEncode(value interface{}) ([]byte, error) {
	var buff bytes.Buffer

	if err := json.NewEncoder(&buff).Encode(value); err != nil {
		return nil, err
	}

	return buff.Bytes(), nil
}

// JSONDecode is a custom JSON based decoder for badger
func JSONDecode(data []byte, value interface{}) error {
	return json.NewDecoder(bytes.NewReader(data)).Decode(value)
}

func createDb(dbDir string, logger badger.Logger) (*badgerhold.Store, error) {
	isInMemory := len(dbDir) <= 0

	opts := badger.DefaultOptions(dbDir)
	opts.Logger = logger
	if isInMemory {
		opts.InMemory = true
	} else {
		opts.Compression = options.ZSTD
	}

	return badgerhold.Open(badgerhold.Options{
		Encoder:          JSONEncode,
		Decoder:          JSONDecode,
		SequenceBandwith: 100,
		Options:          opts,
	})
}
