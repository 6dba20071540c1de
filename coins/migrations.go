package coins

import (
	"github.com/pkg/errors"
	"gorm.io/gorm"
)

// appliedMigration tracks which versioned migrations have already run
type appliedMigration struct {
	ID int `gorm:"column:id;primaryKey"`
}

// TableName maps appliedMigration to the schema_migrations table
func (appliedMigration) TableName() string {
	return "schema_migrations"
}

// migration is a versioned function operating on the typed records
type migration struct {
	id   int
	name string
	run  func(db *gorm.DB) error
}

// migrations lists all schema backfills in order. Early deployments predate
// the paid and completed flags so those get backfilled from the cycle history
var migrations = []migration{
	{id: 1, name: "backfill escrow paid flag", run: backfillEscrowPaid},
	{id: 2, name: "backfill secret word completed flag", run: backfillSecretWordCompleted},
}

func (l *Ledger) runMigrations() (err error) {
	if err = l.db.AutoMigrate(&appliedMigration{}); err != nil {
		return errors.Wrap(err, "failed to migrate the schema_migrations table")
	}

	for _, m := range migrations {
		var count int64
		if err = l.db.Model(&appliedMigration{}).Where("id = ?", m.id).Count(&count).Error; err != nil {
			return errors.Wrapf(err, "failed to check migration [%d]", m.id)
		}

		if count > 0 {
			continue
		}

		err = l.db.Transaction(func(tx *gorm.DB) error {
			if err := m.run(tx); err != nil {
				return err
			}

			return tx.Create(&appliedMigration{ID: m.id}).Error
		})
		if err != nil {
			return errors.Wrapf(err, "migration [%s] failed", m.name)
		}
	}

	return nil
}

// backfillEscrowPaid marks every escrow entry outside the latest pool cycle
// as paid: older cycles were disbursed before the paid flag existed
func backfillEscrowPaid(db *gorm.DB) (err error) {
	var latest PoolCycle
	err = db.Order("id desc").First(&latest).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	return db.Model(&EscrowEntry{}).Where("escrow_group_id <> ?", latest.ID).Update("paid", true).Error
}

// backfillSecretWordCompleted marks every secret word but the latest as
// completed for the same reason
func backfillSecretWordCompleted(db *gorm.DB) (err error) {
	var latest SecretWord
	err = db.Order("id desc").First(&latest).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	return db.Model(&SecretWord{}).Where("id <> ?", latest.ID).Update("completed", true).Error
}
