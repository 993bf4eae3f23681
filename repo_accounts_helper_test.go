package access_test

import (
	"context"
	"database/sql"
	"testing"

	"github.com/google/uuid"
	access "github.com/printmill/go-access"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

const (
	sqliteCreateAccounts = `CREATE TABLE accounts (
    id TEXT NOT NULL PRIMARY KEY,
    account_class TEXT NOT NULL DEFAULT 'retail',
    approval_state TEXT NOT NULL DEFAULT 'approved',
    display_name TEXT,
    email TEXT NOT NULL UNIQUE,
    phone_number TEXT,
    password_hash TEXT,
    is_active BOOLEAN NOT NULL DEFAULT TRUE,
    version BIGINT NOT NULL DEFAULT 0,
    login_attempts INTEGER NOT NULL DEFAULT 0,
    login_attempt_at TIMESTAMP NULL,
    loggedin_at TIMESTAMP NULL,
    metadata TEXT,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    deleted_at TIMESTAMP NULL
);`

	sqliteCreateWholesaleProfiles = `CREATE TABLE wholesale_profiles (
    id TEXT NOT NULL PRIMARY KEY,
    account_id TEXT NOT NULL UNIQUE,
    business_name TEXT NOT NULL,
    business_type TEXT,
    gst_number TEXT,
    estimated_monthly_volume TEXT,
    business_address TEXT,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (account_id) REFERENCES accounts (id) ON DELETE CASCADE
);`

	sqliteCreateApprovalLog = `CREATE TABLE approval_log (
    id TEXT NOT NULL PRIMARY KEY,
    account_id TEXT NOT NULL,
    action TEXT NOT NULL,
    from_state TEXT NOT NULL,
    to_state TEXT NOT NULL,
    actor_id TEXT NOT NULL,
    actor_type TEXT,
    reason TEXT,
    idempotency_key TEXT,
    occurred_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (account_id) REFERENCES accounts (id) ON DELETE CASCADE
);`
)

func setupRepoManager(t *testing.T) (access.RepositoryManager, *bun.DB, func()) {
	t.Helper()

	db, err := sql.Open(sqliteshim.ShimName, ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)

	bunDB := bun.NewDB(db, sqlitedialect.New())

	_, err = bunDB.Exec("PRAGMA foreign_keys = ON;")
	require.NoError(t, err)

	for _, ddl := range []string{
		sqliteCreateAccounts,
		sqliteCreateWholesaleProfiles,
		sqliteCreateApprovalLog,
	} {
		_, err = bunDB.Exec(ddl)
		require.NoError(t, err)
	}

	cleanup := func() {
		_ = bunDB.Close()
		_ = db.Close()
	}

	return access.NewRepositoryManager(bunDB), bunDB, cleanup
}

func seedAccount(t *testing.T, repo access.RepositoryManager, class string, mutate ...func(*access.Account)) *access.Account {
	t.Helper()

	account := &access.Account{
		ID:           uuid.New(),
		Class:        class,
		DisplayName:  "Test Account",
		Email:        uuid.NewString() + "@example.com",
		PasswordHash: "not-a-real-hash",
	}

	for _, fn := range mutate {
		fn(account)
	}

	created, err := repo.Accounts().Register(context.Background(), account)
	require.NoError(t, err)
	require.NotNil(t, created)

	return created
}

func seedStaff(t *testing.T, repo access.RepositoryManager) *access.Account {
	t.Helper()
	return seedAccount(t, repo, access.ClassStaff)
}

func seedPendingWholesale(t *testing.T, repo access.RepositoryManager) *access.Account {
	t.Helper()
	return seedAccount(t, repo, access.ClassWholesale)
}
