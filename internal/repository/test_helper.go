package repository

import (
	"fmt"
	"strings"
	"testing"

	"github.com/nimasrn/credit-topup/pkg/pg"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Entities lists every table owned by this package, in creation order.
func Entities() []interface{} {
	return []interface{}{&TenantEntity{}, &UserEntity{}, &TopupEntity{}, &LedgerEntity{}}
}

// NewTestDB opens a private in-memory sqlite database with the schema
// migrated. A single connection keeps every query on the same database and
// serializes transactions the way row locks would on postgres.
func NewTestDB(t testing.TB) *pg.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_", "#", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_busy_timeout=5000", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(Entities()...))

	return pg.Wrap(db, nil)
}
