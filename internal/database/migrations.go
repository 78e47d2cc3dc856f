package database

import (
	"errors"
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/campaign/backend/internal/config"
	"github.com/MarcoPoloResearchLab/campaign/backend/internal/ledger"
	"github.com/MarcoPoloResearchLab/campaign/backend/internal/realtime"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	migrationSettleLegacyApprovals = "2026-10-01_settle_legacy_approvals"
	migrationLedgerChangeTrigger   = "2026-10-01_ledger_change_trigger"
)

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name string
	// drivers restricts the migration to the listed drivers; empty means all.
	drivers []string
	apply   func(*gorm.DB) error
}

func (m migrationDefinition) appliesTo(driver string) bool {
	if len(m.drivers) == 0 {
		return true
	}
	for _, candidate := range m.drivers {
		if candidate == driver {
			return true
		}
	}
	return false
}

func applyMigrations(db *gorm.DB, driver string, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationSettleLegacyApprovals, apply: settleLegacyApprovals},
		{name: migrationLedgerChangeTrigger, drivers: []string{config.DriverPostgres}, apply: installLedgerChangeTrigger},
	}

	for _, migration := range migrations {
		if !migration.appliesTo(driver) {
			continue
		}
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// settleLegacyApprovals marks requests confirmed before the settled_at column existed
// as settled, so they are not mistaken for interrupted approvals.
func settleLegacyApprovals(db *gorm.DB) error {
	return db.Model(&ledger.PaymentRequest{}).
		Where("status = ? AND settled_at IS NULL", ledger.RequestStatusConfirmed).
		Update("settled_at", gorm.Expr("created_at")).Error
}

func installLedgerChangeTrigger(db *gorm.DB) error {
	function := fmt.Sprintf(`CREATE OR REPLACE FUNCTION notify_ledger_change() RETURNS trigger AS $$
DECLARE
	row_id text;
BEGIN
	IF TG_OP = 'DELETE' THEN
		row_id := OLD.id;
	ELSE
		row_id := NEW.id;
	END IF;
	PERFORM pg_notify('%s', TG_TABLE_NAME || ':' || COALESCE(row_id, ''));
	RETURN NULL;
END;
$$ LANGUAGE plpgsql`, realtime.NotifyChannel)
	if err := db.Exec(function).Error; err != nil {
		return err
	}
	for _, table := range []string{ledger.TablePaymentRequests, ledger.TableContributions, ledger.TableCampaignSettings} {
		trigger := fmt.Sprintf("%s_notify_change", table)
		if err := db.Exec(fmt.Sprintf("DROP TRIGGER IF EXISTS %s ON %s", trigger, table)).Error; err != nil {
			return err
		}
		statement := fmt.Sprintf(
			"CREATE TRIGGER %s AFTER INSERT OR UPDATE OR DELETE ON %s FOR EACH ROW EXECUTE FUNCTION notify_ledger_change()",
			trigger, table,
		)
		if err := db.Exec(statement).Error; err != nil {
			return err
		}
	}
	return nil
}
