package store

import (
	"context"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/revaspay/commissions/internal/database/migrations"
	"github.com/revaspay/commissions/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// newGormRepository connects to TEST_DATABASE_URL and migrates it. Tests
// using it are skipped when the variable is unset.
func newGormRepository(t *testing.T) Repository {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	db, err := gorm.Open(postgres.Open(url), &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(16)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, migrations.RunMigrations(db, slog.New(slog.NewTextHandler(io.Discard, nil))))
	return NewGormRepository(db)
}

func TestGormCreateCommissionRejectsDuplicateSource(t *testing.T) {
	checkDuplicateSource(t, newGormRepository(t))
}

func TestGormUpdateCommissionVersionCheck(t *testing.T) {
	checkVersionedUpdate(t, newGormRepository(t))
}

func TestGormClaimCommissionsIsExclusiveUnderConcurrency(t *testing.T) {
	repo := newGormRepository(t)
	for i := 0; i < 5; i++ {
		checkExclusiveClaims(t, repo)
	}
}

func TestGormUpdatePayoutCascades(t *testing.T) {
	checkPayoutCascades(t, newGormRepository)
}

func TestGormSupersedeRuleKeepsOneActiveVersion(t *testing.T) {
	repo := newGormRepository(t)
	ctx := context.Background()
	key := newUserID()

	v1 := &models.CommissionRule{Key: key, Version: 1, Name: "v1", Type: models.CommissionTypeReferral, Formula: models.FormulaFlat,
		Currency: models.CurrencyUSD, EffectiveFrom: models.OpenEffectiveFrom, Active: true}
	require.NoError(t, repo.CreateRule(ctx, v1))

	v2 := &models.CommissionRule{Key: key, Version: 2, Name: "v2", Type: models.CommissionTypeReferral, Formula: models.FormulaFlat,
		Currency: models.CurrencyUSD, EffectiveFrom: models.OpenEffectiveFrom, Active: true}
	require.NoError(t, repo.SupersedeRule(ctx, v1.ID, v2, time.Now().UTC()))

	active, err := repo.ListRules(ctx, models.RuleFilter{Key: key, ActiveOnly: true})
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, 2, active[0].Version)

	dup := &models.CommissionRule{Key: key, Version: 2, Name: "dup", Type: models.CommissionTypeReferral, Formula: models.FormulaFlat,
		Currency: models.CurrencyUSD, EffectiveFrom: models.OpenEffectiveFrom, Active: true}
	assert.ErrorIs(t, repo.CreateRule(ctx, dup), models.ErrConflict)
}
