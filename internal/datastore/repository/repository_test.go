package repository

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tphakala/errintake/internal/datastore/entities"
	"github.com/tphakala/errintake/internal/errors"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gorm_logger "gorm.io/gorm/logger"
)

// setupTestDB creates a private in-memory SQLite database with the full
// schema. A single connection keeps every query on the same database.
func setupTestDB(t *testing.T) *Store {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_foreign_keys=ON", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         gorm_logger.Default.LogMode(gorm_logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err, "failed to open in-memory database")

	sqlDB, err := db.DB()
	require.NoError(t, err, "failed to get sql.DB")
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	err = db.AutoMigrate(
		&entities.ErrorRecord{},
		&entities.User{},
		&entities.Service{},
		&entities.NotificationRule{},
	)
	require.NoError(t, err, "failed to migrate tables")
	return NewStore(db)
}

func createUser(t *testing.T, s *Store, first, last, email string) *entities.User {
	t.Helper()
	u := &entities.User{FirstName: first, LastName: last, Role: "operator", Email: email}
	require.NoError(t, s.Users().Create(t.Context(), u))
	return u
}

func createService(t *testing.T, s *Store, name, group string) *entities.Service {
	t.Helper()
	svc := &entities.Service{Name: name, Group: group}
	require.NoError(t, s.Services().Create(t.Context(), svc))
	return svc
}

func createRule(t *testing.T, s *Store, userID, serviceID uint, minSeverity string, enabled bool) *entities.NotificationRule {
	t.Helper()
	rule := &entities.NotificationRule{
		UserID:      userID,
		ServiceID:   serviceID,
		MinSeverity: minSeverity,
		Enabled:     enabled,
		DoEmail:     true,
	}
	require.NoError(t, s.Rules().Create(t.Context(), rule))
	return rule
}

func TestErrorRepository_CreateListDelete(t *testing.T) {
	s := setupTestDB(t)
	ctx := t.Context()
	repo := s.Errors()

	for i, sev := range []string{"INFO", "ERROR", "ERROR"} {
		rec := &entities.ErrorRecord{
			Machine:    "IMA-01",
			Message:    fmt.Sprintf("message %d", i),
			Severity:   sev,
			RawPayload: datatypes.JSON(`{}`),
		}
		require.NoError(t, repo.Create(ctx, rec))
		assert.NotZero(t, rec.ID)
		assert.False(t, rec.CreatedAt.IsZero())
	}

	recs, err := repo.ListRecent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Greater(t, recs[0].ID, recs[1].ID, "newest first")
	assert.Equal(t, "message 2", recs[0].Message)

	counts, err := repo.CountBySeverity(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts["ERROR"])
	assert.Equal(t, int64(1), counts["INFO"])

	deleted, err := repo.DeleteAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), deleted)

	recs, err = repo.ListRecent(ctx, 50)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestUserRepository_EmailUniqueness(t *testing.T) {
	s := setupTestDB(t)
	ctx := t.Context()

	u := createUser(t, s, "Ada", "Lovelace", "ada@example.com")

	got, err := s.Users().FindByEmail(ctx, "ada@example.com")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)

	err = s.Users().Create(ctx, &entities.User{FirstName: "A", LastName: "L", Email: "ada@example.com"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConflict)
	assert.True(t, errors.IsCategory(err, errors.CategoryConflict))

	_, err = s.Users().FindByEmail(ctx, "nobody@example.com")
	assert.ErrorIs(t, err, ErrUserNotFound)
	assert.True(t, errors.IsCategory(err, errors.CategoryNotFound))

	_, err = s.Users().Get(ctx, 999)
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestUserRepository_ListMostRecentFirst(t *testing.T) {
	s := setupTestDB(t)

	createUser(t, s, "A", "One", "a@example.com")
	createUser(t, s, "B", "Two", "b@example.com")

	users, err := s.Users().List(t.Context(), 200)
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, "b@example.com", users[0].Email)
}

func TestServiceRepository_NameGroupUniqueness(t *testing.T) {
	s := setupTestDB(t)
	ctx := t.Context()

	a := createService(t, s, "IMA-01", "plant-a")
	b := createService(t, s, "IMA-01", "plant-b")
	assert.NotEqual(t, a.ID, b.ID, "same name is allowed in another group")

	err := s.Services().Create(ctx, &entities.Service{Name: "IMA-01", Group: "plant-a"})
	assert.ErrorIs(t, err, ErrConflict)

	got, err := s.Services().FindByNameGroup(ctx, "IMA-01", "plant-b")
	require.NoError(t, err)
	assert.Equal(t, b.ID, got.ID)
}

func TestServiceRepository_FindByMachine(t *testing.T) {
	s := setupTestDB(t)
	ctx := t.Context()

	first := createService(t, s, "ima-01", "plant-b")
	createService(t, s, "IMA-01", "plant-a")
	createService(t, s, "press-02", "plant-a")

	got, err := s.Services().FindByMachine(ctx, "  Ima-01 ")
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID, "lowest id wins when groups share a name")

	_, err = s.Services().FindByMachine(ctx, "unknown")
	assert.ErrorIs(t, err, ErrServiceNotFound)
}

func TestServiceRepository_ListOrderedByGroupThenName(t *testing.T) {
	s := setupTestDB(t)

	createService(t, s, "zeta", "b")
	createService(t, s, "alpha", "b")
	createService(t, s, "omega", "a")

	services, err := s.Services().List(t.Context(), 200)
	require.NoError(t, err)
	require.Len(t, services, 3)
	assert.Equal(t, "omega", services[0].Name)
	assert.Equal(t, "alpha", services[1].Name)
	assert.Equal(t, "zeta", services[2].Name)
}

func TestRuleRepository_CreateGetDelete(t *testing.T) {
	s := setupTestDB(t)
	ctx := t.Context()

	u := createUser(t, s, "Ada", "Lovelace", "ada@example.com")
	svc := createService(t, s, "IMA-01", "plant-a")
	rule := createRule(t, s, u.ID, svc.ID, "WARN", true)

	got, err := s.Rules().Get(ctx, rule.ID)
	require.NoError(t, err)
	assert.Equal(t, "WARN", got.MinSeverity)
	assert.Equal(t, "ada@example.com", got.User.Email)
	assert.Equal(t, "IMA-01", got.Service.Name)

	require.NoError(t, s.Rules().Delete(ctx, rule.ID))

	_, err = s.Rules().Get(ctx, rule.ID)
	assert.ErrorIs(t, err, ErrRuleNotFound)

	err = s.Rules().Delete(ctx, rule.ID)
	assert.ErrorIs(t, err, ErrRuleNotFound)
	assert.True(t, errors.IsCategory(err, errors.CategoryNotFound))
}

func TestRuleRepository_UserServicePairIsUnique(t *testing.T) {
	s := setupTestDB(t)

	u := createUser(t, s, "Ada", "Lovelace", "ada@example.com")
	svc := createService(t, s, "IMA-01", "plant-a")
	createRule(t, s, u.ID, svc.ID, "WARN", true)

	err := s.Rules().Create(t.Context(), &entities.NotificationRule{
		UserID: u.ID, ServiceID: svc.ID, MinSeverity: "CRITICAL", Enabled: true,
	})
	assert.ErrorIs(t, err, ErrConflict)
}

func TestRuleRepository_ForeignKeysEnforced(t *testing.T) {
	s := setupTestDB(t)

	err := s.Rules().Create(t.Context(), &entities.NotificationRule{
		UserID: 41, ServiceID: 42, MinSeverity: "ERROR", Enabled: true,
	})
	assert.Error(t, err)
}

func TestRuleRepository_UpdateSettingsWritesZeroValues(t *testing.T) {
	s := setupTestDB(t)
	ctx := t.Context()

	u := createUser(t, s, "Ada", "Lovelace", "ada@example.com")
	svc := createService(t, s, "IMA-01", "plant-a")
	rule := createRule(t, s, u.ID, svc.ID, "WARN", true)

	rule.MinSeverity = "CRITICAL"
	rule.Enabled = false
	rule.DoEmail = false
	rule.DoCall = true
	require.NoError(t, s.Rules().UpdateSettings(ctx, rule))

	got, err := s.Rules().FindByUserService(ctx, u.ID, svc.ID)
	require.NoError(t, err)
	assert.Equal(t, rule.ID, got.ID)
	assert.Equal(t, "CRITICAL", got.MinSeverity)
	assert.False(t, got.Enabled)
	assert.False(t, got.DoEmail)
	assert.True(t, got.DoCall)

	assert.Error(t, s.Rules().UpdateSettings(ctx, &entities.NotificationRule{}))
}

func TestRuleRepository_ListEnabledByService(t *testing.T) {
	s := setupTestDB(t)
	ctx := t.Context()

	svc := createService(t, s, "IMA-01", "plant-a")
	other := createService(t, s, "PRESS-02", "plant-a")
	u1 := createUser(t, s, "A", "One", "a@example.com")
	u2 := createUser(t, s, "B", "Two", "b@example.com")
	u3 := createUser(t, s, "C", "Three", "c@example.com")

	r1 := createRule(t, s, u1.ID, svc.ID, "WARN", true)
	createRule(t, s, u2.ID, svc.ID, "WARN", false)
	r3 := createRule(t, s, u3.ID, svc.ID, "INFO", true)
	createRule(t, s, u1.ID, other.ID, "INFO", true)

	rules, err := s.Rules().ListEnabledByService(ctx, svc.ID)
	require.NoError(t, err)
	require.Len(t, rules, 2)
	assert.Equal(t, r1.ID, rules[0].ID)
	assert.Equal(t, r3.ID, rules[1].ID)
	assert.Equal(t, "c@example.com", rules[1].User.Email)
}

func TestRuleRepository_ListContactsByServiceOrderedByName(t *testing.T) {
	s := setupTestDB(t)
	ctx := t.Context()

	svc := createService(t, s, "IMA-01", "plant-a")
	zed := createUser(t, s, "Zed", "Adams", "zed@example.com")
	amy := createUser(t, s, "Amy", "Adams", "amy@example.com")
	bob := createUser(t, s, "Bob", "Brown", "bob@example.com")
	off := createUser(t, s, "Off", "Aaron", "off@example.com")

	createRule(t, s, bob.ID, svc.ID, "ERROR", true)
	createRule(t, s, zed.ID, svc.ID, "ERROR", true)
	createRule(t, s, amy.ID, svc.ID, "ERROR", true)
	createRule(t, s, off.ID, svc.ID, "ERROR", false)

	rules, err := s.Rules().ListContactsByService(ctx, svc.ID)
	require.NoError(t, err)
	require.Len(t, rules, 3)
	assert.Equal(t, "amy@example.com", rules[0].User.Email)
	assert.Equal(t, "zed@example.com", rules[1].User.Email)
	assert.Equal(t, "bob@example.com", rules[2].User.Email)
	assert.Equal(t, "IMA-01", rules[0].Service.Name)
}

func TestRuleRepository_ListMostRecentFirst(t *testing.T) {
	s := setupTestDB(t)

	svc := createService(t, s, "IMA-01", "plant-a")
	u1 := createUser(t, s, "A", "One", "a@example.com")
	u2 := createUser(t, s, "B", "Two", "b@example.com")
	createRule(t, s, u1.ID, svc.ID, "WARN", true)
	newest := createRule(t, s, u2.ID, svc.ID, "WARN", true)

	rules, err := s.Rules().List(t.Context(), 200)
	require.NoError(t, err)
	require.Len(t, rules, 2)
	assert.Equal(t, newest.ID, rules[0].ID)
}

func TestStore_TransactionRollsBackOnError(t *testing.T) {
	s := setupTestDB(t)
	ctx := t.Context()
	boom := errors.NewStd("boom")

	err := s.Transaction(ctx, func(tx *Store) error {
		if err := tx.Services().Create(ctx, &entities.Service{Name: "IMA-01", Group: "a"}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = s.Services().FindByNameGroup(ctx, "IMA-01", "a")
	assert.ErrorIs(t, err, ErrServiceNotFound)

	err = s.Transaction(ctx, func(tx *Store) error {
		return tx.Services().Create(ctx, &entities.Service{Name: "IMA-01", Group: "a"})
	})
	require.NoError(t, err)

	_, err = s.Services().FindByNameGroup(ctx, "IMA-01", "a")
	assert.NoError(t, err)
}
