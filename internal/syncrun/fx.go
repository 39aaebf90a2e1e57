package syncrun

import (
	"github.com/voltbill/chargesync/internal/syncrun/domain"
	"github.com/voltbill/chargesync/internal/syncrun/repository"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("syncrun.store",
	fx.Provide(repository.Provide),
	fx.Invoke(Migrate),
)

// Migrate creates the tables owned by this process: runs, run logs,
// per-transaction sync state, and the append-only event ledger. The
// mapping table belongs to the admin surface and is not touched here.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&domain.SyncRun{},
		&domain.SyncRunLog{},
		&domain.TransactionSyncState{},
		&domain.SyncedTransactionEvent{},
	)
}
