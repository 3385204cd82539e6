package record

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kernelsight/runtime/internal/runtimeerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	in := &Record{
		ID:         "abc123def456",
		Name:       "web",
		State:      Running,
		PID:        4242,
		CreatedAt:  time.Unix(1700000000, 0),
		StartedAt:  time.Unix(1700000010, 0),
		CgroupPath: "/sys/fs/cgroup/kernelsight/abc123def456",
	}
	require.NoError(t, store.Save(in))

	out, err := store.Load(in.ID)
	require.NoError(t, err)

	assert.Equal(t, in.ID, out.ID)
	assert.Equal(t, in.Name, out.Name)
	assert.Equal(t, in.State, out.State)
	assert.Equal(t, in.PID, out.PID)
	assert.True(t, in.CreatedAt.Equal(out.CreatedAt))
	assert.True(t, in.StartedAt.Equal(out.StartedAt))
	assert.True(t, out.StoppedAt.IsZero())
	assert.Equal(t, in.CgroupPath, out.CgroupPath)
}

func TestLoadMissingReturnsNotFound(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	_, err = store.Load("doesnotexist")
	require.Error(t, err)
	assert.Equal(t, runtimeerr.NotFound, runtimeerr.KindOf(err))
}

func TestListSkipsMalformedRecords(t *testing.T) {
	root := t.TempDir()
	store, err := NewStore(root)
	require.NoError(t, err)

	good := &Record{ID: "good000001", Name: "good", State: Created, CreatedAt: time.Unix(1700000000, 0)}
	require.NoError(t, store.Save(good))

	badDir := filepath.Join(root, "bad000001")
	require.NoError(t, os.MkdirAll(badDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(badDir, stateFile), []byte("not a valid line at all\n"), 0o644))

	records, err := store.List()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "good000001", records[0].ID)
}

func TestResolveByNameOrID(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	r := &Record{ID: "idvalue0001", Name: "myname", State: Created, CreatedAt: time.Now()}
	require.NoError(t, store.Save(r))

	byID, err := store.Resolve("idvalue0001")
	require.NoError(t, err)
	assert.Equal(t, "myname", byID.Name)

	byName, err := store.Resolve("myname")
	require.NoError(t, err)
	assert.Equal(t, "idvalue0001", byName.ID)

	_, err = store.Resolve("nope")
	require.Error(t, err)
}

func TestLockPreventsDoubleAcquire(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	unlock, err := store.Lock("locked0001")
	require.NoError(t, err)

	_, err = store.Lock("locked0001")
	require.Error(t, err)
	assert.Equal(t, runtimeerr.Exists, runtimeerr.KindOf(err))

	unlock()

	unlock2, err := store.Lock("locked0001")
	require.NoError(t, err)
	unlock2()
}
