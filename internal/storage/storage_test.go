package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "pushgw/pkg/logx"
)

func TestOpenDisabled(t *testing.T) {
	st, err := Open(Config{}, logx.Nop())
	require.NoError(t, err)
	assert.Nil(t, st)

	_, err = Open(Config{Driver: "postgres"}, logx.Nop())
	assert.Error(t, err)

	_, err = Open(Config{Driver: "file"}, logx.Nop())
	assert.Error(t, err, "path required")
}

func exerciseStore(t *testing.T, open func() Store) {
	t.Helper()
	ctx := context.Background()
	st := open()

	now := time.Now().UTC().Truncate(time.Millisecond)
	require.NoError(t, st.Append(ctx, DeliveryRecord{At: now, Kind: "gateway.response", Connection: "a", StreamID: 1, Status: 200, APNsID: "X"}))
	require.NoError(t, st.Append(ctx, DeliveryRecord{At: now, Kind: "gateway.reconnecting", Connection: "b", Attempt: 1, DelayMS: 1000}))
	require.NoError(t, st.Append(ctx, DeliveryRecord{Kind: "gateway.response", Connection: "a", StreamID: 3, Status: 410, Reason: "Unregistered"}))

	got, err := st.Recent(ctx, Query{Connection: "a"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, uint32(3), got[0].StreamID, "newest first")
	assert.Equal(t, "Unregistered", got[0].Reason)
	assert.False(t, got[0].At.IsZero())
	assert.Equal(t, "X", got[1].APNsID)
	assert.True(t, now.Equal(got[1].At))

	got, err = st.Recent(ctx, Query{Kind: "gateway.reconnecting", Limit: 5})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(1000), got[0].DelayMS)

	got, err = st.Recent(ctx, Query{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, got, 1)

	require.NoError(t, st.Close())

	// Rows survive a reopen.
	st = open()
	defer st.Close()
	got, err = st.Recent(ctx, Query{})
	require.NoError(t, err)
	assert.Len(t, got, 3)
}

func TestFileStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal")
	exerciseStore(t, func() Store {
		st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
		require.NoError(t, err)
		return st
	})
}

func TestFileStoreAppendAfterClose(t *testing.T) {
	st, err := Open(Config{Driver: "file", Path: filepath.Join(t.TempDir(), "j")}, logx.Nop())
	require.NoError(t, err)
	require.NoError(t, st.Close())
	assert.ErrorIs(t, st.Append(context.Background(), DeliveryRecord{}), ErrClosed)
}

func TestSQLiteStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	exerciseStore(t, func() Store {
		st, err := Open(Config{Driver: "sqlite", Path: path, BusyTimeout: time.Second}, logx.Nop())
		require.NoError(t, err)
		return st
	})
}
