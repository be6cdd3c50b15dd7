package storage

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reminderbot/pkg/logx"
)

func TestOpenDisabled(t *testing.T) {
	t.Parallel()
	for _, driver := range []string{"", "none", " NONE "} {
		st, err := Open(Config{Driver: driver}, logx.Nop())
		require.NoError(t, err)
		assert.Nil(t, st)
	}
	_, err := Open(Config{Driver: "postgres", Path: "x"}, logx.Nop())
	assert.Error(t, err)
}

func TestStoreDrivers(t *testing.T) {
	t.Parallel()
	for _, driver := range []string{"file", "sqlite"} {
		driver := driver
		t.Run(driver, func(t *testing.T) {
			t.Parallel()
			path := filepath.Join(t.TempDir(), "nested", "chats."+driver)
			ctx := context.Background()

			st, err := Open(Config{Driver: driver, Path: path, BusyTimeout: time.Second}, logx.Nop())
			require.NoError(t, err)
			require.NotNil(t, st)

			t0 := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
			require.NoError(t, st.RecordChat(ctx, ChatRecord{ChatID: 10, UserID: 1, Username: "ana", LastCommand: "start", LastSeen: t0}))
			require.NoError(t, st.RecordChat(ctx, ChatRecord{ChatID: -100, UserID: 2, LastCommand: "id", IsGroup: true, LastSeen: t0.Add(time.Minute)}))
			require.NoError(t, st.RecordChat(ctx, ChatRecord{ChatID: 10, UserID: 1, LastCommand: "id", LastSeen: t0.Add(2 * time.Minute)}))
			// Zero chat ids are ignored.
			require.NoError(t, st.RecordChat(ctx, ChatRecord{}))

			chats, err := st.ListChats(ctx)
			require.NoError(t, err)
			require.Len(t, chats, 2)

			assert.Equal(t, int64(10), chats[0].ChatID)
			assert.Equal(t, "ana", chats[0].Username, "username kept when a later sighting has none")
			assert.Equal(t, "id", chats[0].LastCommand)
			assert.Equal(t, 2, chats[0].SeenCount)
			assert.True(t, chats[0].FirstSeen.Equal(t0))
			assert.True(t, chats[0].LastSeen.Equal(t0.Add(2*time.Minute)))

			assert.Equal(t, int64(-100), chats[1].ChatID)
			assert.True(t, chats[1].IsGroup)
			assert.Equal(t, 1, chats[1].SeenCount)

			require.NoError(t, st.Close())
			require.NoError(t, st.Close())

			// Reopen: state survives.
			st, err = Open(Config{Driver: driver, Path: path}, logx.Nop())
			require.NoError(t, err)
			defer st.Close()
			chats, err = st.ListChats(ctx)
			require.NoError(t, err)
			require.Len(t, chats, 2)
			assert.Equal(t, 2, chats[0].SeenCount)
		})
	}
}

func TestFileStoreCompaction(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "chats.jsonl")
	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	require.NoError(t, err)

	ctx := context.Background()
	for i := 0; i < compactEvery+3; i++ {
		require.NoError(t, st.RecordChat(ctx, ChatRecord{ChatID: int64(i%3 + 1), LastCommand: "id"}))
	}
	require.NoError(t, st.Close())

	replayed := map[int64]ChatRecord{}
	require.NoError(t, replayJournal(path, replayed))
	require.Len(t, replayed, 3)
	total := 0
	for _, r := range replayed {
		total += r.SeenCount
	}
	assert.Equal(t, compactEvery+3, total)
}

func TestClosedStore(t *testing.T) {
	t.Parallel()
	for _, cfg := range []Config{
		{Driver: "file", Path: filepath.Join(t.TempDir(), "c.jsonl")},
		{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "c.db")},
	} {
		st, err := Open(cfg, logx.Nop())
		require.NoError(t, err, cfg.Driver)
		require.NoError(t, st.Close())
		require.NoError(t, st.Close(), "second close is a no-op")

		assert.ErrorIs(t, st.RecordChat(context.Background(), ChatRecord{ChatID: 1}), ErrClosed, cfg.Driver)
		_, err = st.ListChats(context.Background())
		assert.ErrorIs(t, err, ErrClosed, cfg.Driver)
	}
}

func TestSQLiteCloseWhileRecording(t *testing.T) {
	t.Parallel()
	st, err := Open(Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "race.db")}, logx.Nop())
	require.NoError(t, err)

	var wg sync.WaitGroup
	for w := range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 50 {
				err := st.RecordChat(context.Background(), ChatRecord{ChatID: int64(w*100 + i + 1), LastCommand: "start"})
				if err != nil {
					assert.ErrorIs(t, err, ErrClosed)
					return
				}
			}
		}()
	}
	require.NoError(t, st.Close())
	wg.Wait()

	assert.ErrorIs(t, st.RecordChat(context.Background(), ChatRecord{ChatID: 1}), ErrClosed)
}
