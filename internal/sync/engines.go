package sync

import (
	"fmt"
	"log/slog"

	"github.com/tonimelisma/ledgersync/internal/docstore"
	"github.com/tonimelisma/ledgersync/internal/ledger"
	"github.com/tonimelisma/ledgersync/internal/localstore"
)

// NewLedgerEngines builds one engine per entity kind over the local
// database and the remote store, in dependency order.
func NewLedgerEngines(db *localstore.DB, remote docstore.Store, batchSize int, logger *slog.Logger) ([]KindSyncer, error) {
	categories := db.Categories()
	persons := db.Persons()
	mapper := NewIdentityMapper(categories, persons)

	categoryEngine, err := NewEngine(&EngineConfig[*ledger.Category]{
		Kind:       ledger.KindCategory,
		Local:      categories,
		Remote:     remote,
		Codec:      CategoryCodec{},
		Watermarks: db.Watermarks(),
		BatchSize:  batchSize,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}

	personEngine, err := NewEngine(&EngineConfig[*ledger.Person]{
		Kind:       ledger.KindPerson,
		Local:      persons,
		Remote:     remote,
		Codec:      PersonCodec{},
		Watermarks: db.Watermarks(),
		BatchSize:  batchSize,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}

	engines := []KindSyncer{categoryEngine, personEngine}

	for _, kind := range []ledger.Kind{ledger.KindExpense, ledger.KindIncome} {
		store, err := db.Transactions(kind)
		if err != nil {
			return nil, fmt.Errorf("sync: building %s engine: %w", kind, err)
		}

		engine, err := NewEngine(&EngineConfig[*ledger.Transaction]{
			Kind:       kind,
			Local:      store,
			Remote:     remote,
			Codec:      NewTransactionCodec(kind, mapper),
			Watermarks: db.Watermarks(),
			BatchSize:  batchSize,
			Logger:     logger,
		})
		if err != nil {
			return nil, err
		}

		engines = append(engines, engine)
	}

	return engines, nil
}
