package store

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *DraftStore {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "drafts.db")
	store, err := NewDraftStore(dbPath, logrus.New())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return store
}

func TestDraftStore_PutGet(t *testing.T) {
	store := newTestStore(t)

	draft := json.RawMessage(`{"name":"My App","category":"defi"}`)
	require.NoError(t, store.Put("draft:0xabc", draft, 0))

	got, err := store.Get("draft:0xabc")
	require.NoError(t, err)
	assert.JSONEq(t, string(draft), string(got))
}

func TestDraftStore_MissingKey(t *testing.T) {
	store := newTestStore(t)

	got, err := store.Get("does-not-exist")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestDraftStore_TTLExpiry(t *testing.T) {
	store := newTestStore(t)

	current := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return current }

	draft := json.RawMessage(`{"name":"draft"}`)
	require.NoError(t, store.Put("draft:ttl", draft, time.Hour))

	// 未过期时正常返回
	got, err := store.Get("draft:ttl")
	require.NoError(t, err)
	assert.NotNil(t, got)

	// 过期后返回nil
	current = current.Add(time.Hour + time.Second)
	got, err = store.Get("draft:ttl")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestDraftStore_ExpiredEntryEvictedOnRead(t *testing.T) {
	store := newTestStore(t)

	current := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return current }

	require.NoError(t, store.Put("draft:evict", json.RawMessage(`{}`), time.Minute))

	current = current.Add(2 * time.Minute)
	got, err := store.Get("draft:evict")
	require.NoError(t, err)
	assert.Nil(t, got)

	// 条目已被读取时清除：即使时钟回拨也不会复活
	current = current.Add(-2 * time.Minute)
	got, err = store.Get("draft:evict")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestDraftStore_Overwrite(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.Put("draft:a", json.RawMessage(`{"v":1}`), 0))
	require.NoError(t, store.Put("draft:a", json.RawMessage(`{"v":2}`), 0))

	got, err := store.Get("draft:a")
	require.NoError(t, err)
	assert.JSONEq(t, `{"v":2}`, string(got))
}

func TestDraftStore_Delete(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.Put("draft:d", json.RawMessage(`{}`), 0))
	require.NoError(t, store.Delete("draft:d"))

	got, err := store.Get("draft:d")
	require.NoError(t, err)
	assert.Nil(t, got)

	// 删除不存在的键不报错
	assert.NoError(t, store.Delete("draft:d"))
}
