package redis

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prgrms-be-devcourse/NBE4-5-3-Team03-sub000/internal/domain"
	apperrors "github.com/prgrms-be-devcourse/NBE4-5-3-Team03-sub000/pkg/errors"
)

var fixedNow = time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)

func setupTestRedis(t *testing.T) (*AccountRepository, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	repo := NewAccountRepository(client)
	repo.now = func() time.Time { return fixedNow }
	return repo, mr
}

func createAccount(t *testing.T, repo *AccountRepository, username string) *domain.Account {
	t.Helper()
	a := &domain.Account{Username: username, Nickname: "Nick", PasswordHash: "hash", Role: domain.RoleUser}
	require.NoError(t, repo.Create(context.Background(), a))
	return a
}

// ---------------------------------------------------------------------------
// Create / Get
// ---------------------------------------------------------------------------

func TestAccountRepository_Create_AssignsIDs(t *testing.T) {
	repo, mr := setupTestRedis(t)

	alice := createAccount(t, repo, "alice")
	bob := createAccount(t, repo, "bob")

	assert.Equal(t, int64(1), alice.ID)
	assert.Equal(t, int64(2), bob.ID)
	assert.Equal(t, int64(1), alice.Version)
	assert.True(t, mr.Exists("account:alice"))

	idx, err := mr.Get("account:id:2")
	require.NoError(t, err)
	assert.Equal(t, "bob", idx)
}

func TestAccountRepository_Create_Duplicate(t *testing.T) {
	repo, _ := setupTestRedis(t)
	createAccount(t, repo, "alice")

	err := repo.Create(context.Background(), &domain.Account{Username: "alice", Role: domain.RoleUser})
	assert.ErrorIs(t, err, apperrors.ErrAlreadyExists)
}

func TestAccountRepository_Create_HalfSetSessionRejected(t *testing.T) {
	repo, _ := setupTestRedis(t)

	exp := fixedNow
	err := repo.Create(context.Background(), &domain.Account{Username: "alice", RefreshExpiresAt: &exp})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestAccountRepository_GetByUsernameAndID(t *testing.T) {
	repo, _ := setupTestRedis(t)
	created := createAccount(t, repo, "alice")

	byName, err := repo.GetByUsername(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, created.ID, byName.ID)
	assert.Equal(t, "hash", byName.PasswordHash)
	assert.Equal(t, domain.RoleUser, byName.Role)
	assert.False(t, byName.HasSession())

	byID, err := repo.GetByID(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", byID.Username)
}

func TestAccountRepository_Get_NotFound(t *testing.T) {
	repo, _ := setupTestRedis(t)

	_, err := repo.GetByUsername(context.Background(), "ghost")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	_, err = repo.GetByID(context.Background(), 99)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	_, err = repo.GetByRefreshCredential(context.Background(), "nope")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	_, err = repo.GetByRefreshCredential(context.Background(), "")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

// ---------------------------------------------------------------------------
// UpdateSession
// ---------------------------------------------------------------------------

func TestAccountRepository_Get_UnknownRole(t *testing.T) {
	repo, mr := setupTestRedis(t)
	createAccount(t, repo, "alice")

	raw, err := mr.Get("account:alice")
	require.NoError(t, err)
	require.Contains(t, raw, `"role":"USER"`)
	require.NoError(t, mr.Set("account:alice", strings.Replace(raw, `"role":"USER"`, `"role":"ROOT"`, 1)))

	a, err := repo.GetByUsername(context.Background(), "alice")
	assert.Nil(t, a)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown role "ROOT"`)
	assert.NotErrorIs(t, err, apperrors.ErrNotFound)
}

func TestAccountRepository_UpdateSession_RotatesIndex(t *testing.T) {
	repo, mr := setupTestRedis(t)
	a := createAccount(t, repo, "alice")

	a.SetSession("r0", fixedNow.Add(time.Hour))
	require.NoError(t, repo.UpdateSession(context.Background(), a))
	assert.Equal(t, int64(2), a.Version)

	got, err := repo.GetByRefreshCredential(context.Background(), "r0")
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Username)
	assert.True(t, got.RefreshExpiresAt.Equal(fixedNow.Add(time.Hour)))

	a.SetSession("r1", fixedNow.Add(2*time.Hour))
	require.NoError(t, repo.UpdateSession(context.Background(), a))

	assert.False(t, mr.Exists("account:refresh:r0"))
	_, err = repo.GetByRefreshCredential(context.Background(), "r0")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	got, err = repo.GetByRefreshCredential(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), got.Version)
}

func TestAccountRepository_UpdateSession_Clear(t *testing.T) {
	repo, mr := setupTestRedis(t)
	a := createAccount(t, repo, "alice")
	a.SetSession("r0", fixedNow.Add(time.Hour))
	require.NoError(t, repo.UpdateSession(context.Background(), a))

	a.ClearSession()
	require.NoError(t, repo.UpdateSession(context.Background(), a))

	assert.False(t, mr.Exists("account:refresh:r0"))
	got, err := repo.GetByUsername(context.Background(), "alice")
	require.NoError(t, err)
	assert.False(t, got.HasSession())
	assert.Nil(t, got.RefreshExpiresAt)
}

func TestAccountRepository_UpdateSession_StaleVersion(t *testing.T) {
	repo, _ := setupTestRedis(t)
	created := createAccount(t, repo, "alice")

	first, err := repo.GetByUsername(context.Background(), "alice")
	require.NoError(t, err)
	second, err := repo.GetByUsername(context.Background(), "alice")
	require.NoError(t, err)

	first.SetSession("r1", fixedNow.Add(time.Hour))
	require.NoError(t, repo.UpdateSession(context.Background(), first))

	second.SetSession("r2", fixedNow.Add(time.Hour))
	err = repo.UpdateSession(context.Background(), second)
	assert.ErrorIs(t, err, apperrors.ErrConflict)
	assert.Equal(t, created.Version, second.Version)

	_, err = repo.GetByRefreshCredential(context.Background(), "r2")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestAccountRepository_UpdateSession_ConcurrentSingleWinner(t *testing.T) {
	repo, _ := setupTestRedis(t)
	createAccount(t, repo, "alice")

	const workers = 8
	snapshots := make([]*domain.Account, workers)
	for i := range snapshots {
		a, err := repo.GetByUsername(context.Background(), "alice")
		require.NoError(t, err)
		a.SetSession("r"+string(rune('a'+i)), fixedNow.Add(time.Hour))
		snapshots[i] = a
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	start := make(chan struct{})
	for _, a := range snapshots {
		wg.Add(1)
		go func(a *domain.Account) {
			defer wg.Done()
			<-start
			if err := repo.UpdateSession(context.Background(), a); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}(a)
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, successes)
	got, err := repo.GetByUsername(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Version)
}

// ---------------------------------------------------------------------------
// Delete / Ping
// ---------------------------------------------------------------------------

func TestAccountRepository_Delete(t *testing.T) {
	repo, mr := setupTestRedis(t)
	a := createAccount(t, repo, "alice")
	a.SetSession("r0", fixedNow.Add(time.Hour))
	require.NoError(t, repo.UpdateSession(context.Background(), a))

	require.NoError(t, repo.Delete(context.Background(), a.ID))
	assert.False(t, mr.Exists("account:alice"))
	assert.False(t, mr.Exists("account:id:1"))
	assert.False(t, mr.Exists("account:refresh:r0"))

	assert.ErrorIs(t, repo.Delete(context.Background(), a.ID), apperrors.ErrNotFound)
}

func TestAccountRepository_Ping(t *testing.T) {
	repo, mr := setupTestRedis(t)
	assert.NoError(t, repo.Ping(context.Background()))

	mr.SetError("ERR server unavailable")
	assert.Error(t, repo.Ping(context.Background()))
}
