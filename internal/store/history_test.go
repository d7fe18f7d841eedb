package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestHistory(t *testing.T) *History {
	t.Helper()
	h, err := Open(filepath.Join(t.TempDir(), "state", "history.db"))
	require.NoError(t, err, "Open should create parent directories")
	t.Cleanup(func() { h.Close() })
	return h
}

func TestHistorySeenAndRecord(t *testing.T) {
	h := openTestHistory(t)

	seen, err := h.Seen("rule34", "123")
	require.NoError(t, err)
	assert.False(t, seen, "fresh database should know nothing")

	err = h.Record(Entry{
		Source:   "rule34",
		RemoteID: "123",
		Filename: "123.png",
		DestPath: "/out/rule34/123.png",
		Size:     2048,
	})
	require.NoError(t, err)

	seen, err = h.Seen("rule34", "123")
	require.NoError(t, err)
	assert.True(t, seen)

	// Same id under a different source is a different item.
	seen, err = h.Seen("e621", "123")
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestHistoryRecordUpsert(t *testing.T) {
	h := openTestHistory(t)

	first := Entry{Source: "s", RemoteID: "1", Filename: "a.png", DestPath: "/a.png", Size: 1}
	require.NoError(t, h.Record(first))

	second := first
	second.Filename = "b.png"
	second.Size = 2
	require.NoError(t, h.Record(second), "re-recording the same item must not conflict")

	entries, err := h.List("s", 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "b.png", entries[0].Filename)
	assert.Equal(t, int64(2), entries[0].Size)
}

func TestHistoryListOrderAndFilter(t *testing.T) {
	h := openTestHistory(t)

	base := time.Now().Add(-time.Hour)
	for i, src := range []string{"a", "b", "a"} {
		require.NoError(t, h.Record(Entry{
			Source:      src,
			RemoteID:    string(rune('x' + i)),
			Filename:    "f",
			DestPath:    "/f",
			CompletedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	all, err := h.List("", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.True(t, !all[0].CompletedAt.Before(all[1].CompletedAt), "newest first")

	onlyA, err := h.List("a", 0)
	require.NoError(t, err)
	require.Len(t, onlyA, 2)
	for _, e := range onlyA {
		assert.Equal(t, "a", e.Source)
	}

	limited, err := h.List("", 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestHistoryNilSafe(t *testing.T) {
	var h *History

	seen, err := h.Seen("s", "1")
	assert.NoError(t, err)
	assert.False(t, seen)

	assert.NoError(t, h.Record(Entry{Source: "s", RemoteID: "1"}))
	entries, err := h.List("", 0)
	assert.NoError(t, err)
	assert.Nil(t, entries)
	assert.NoError(t, h.Close())
}

func TestHistoryPersistsAcrossOpens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")

	h, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, h.Record(Entry{Source: "s", RemoteID: "1", Filename: "f", DestPath: "/f"}))
	require.NoError(t, h.Close())

	h2, err := Open(path)
	require.NoError(t, err)
	defer h2.Close()

	seen, err := h2.Seen("s", "1")
	require.NoError(t, err)
	assert.True(t, seen, "history must survive process restarts")
}
