//go:build linux

package lifecycle

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/kernelsight/runtime/internal/cgroup"
	"github.com/kernelsight/runtime/internal/containerspec"
	"github.com/kernelsight/runtime/internal/record"
	"github.com/kernelsight/runtime/internal/runtimeerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeCgroupRoot creates a directory that looks enough like a cgroup v2
// mount for Controller.Available/EnsureHierarchy to proceed; the
// subtree_control writes inside EnsureHierarchy are best-effort and do
// not fail the test when they can't actually enable a controller on a
// plain tmpfs directory.
func fakeCgroupRoot(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "cgroup.controllers"), []byte("cpu memory pids io\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "cgroup.subtree_control"), []byte(""), 0o644))
	return root
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	store, err := record.NewStore(t.TempDir())
	require.NoError(t, err)
	ctl := cgroup.New(fakeCgroupRoot(t), "kernelsight-test")
	return New(store, ctl)
}

func TestCreatePersistsRecordAndConfig(t *testing.T) {
	m := newTestManager(t)

	r, err := m.Create(containerspec.Config{
		Name:   "web",
		Rootfs: "/var/lib/kernelsight/rootfs/web",
		Cmd:    []string{"/bin/echo", "hi"},
	})
	require.NoError(t, err)
	assert.Equal(t, record.Created, r.State)
	assert.NotEmpty(t, r.ID)
	assert.Equal(t, "web", r.Name)

	loaded, err := m.Store.Load(r.ID)
	require.NoError(t, err)
	assert.Equal(t, r.ID, loaded.ID)

	cfg, err := m.loadConfig(r.ID)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/kernelsight/rootfs/web", cfg.Rootfs)
	assert.Equal(t, []string{"/bin/echo", "hi"}, cfg.Cmd)
}

func TestCreateRejectsMissingRootfs(t *testing.T) {
	m := newTestManager(t)
	_, err := m.Create(containerspec.Config{Name: "bad"})
	require.Error(t, err)
	assert.Equal(t, runtimeerr.Invalid, runtimeerr.KindOf(err))
}

func TestCreateRejectsDuplicateID(t *testing.T) {
	m := newTestManager(t)

	cfg := containerspec.Config{ID: "fixedid0001", Rootfs: "/rootfs"}
	_, err := m.Create(cfg)
	require.NoError(t, err)

	_, err = m.Create(cfg)
	require.Error(t, err)
	assert.Equal(t, runtimeerr.Exists, runtimeerr.KindOf(err))
}

func TestDeleteStopsRunningContainerFirst(t *testing.T) {
	m := newTestManager(t)

	r, err := m.Create(containerspec.Config{Rootfs: "/rootfs"})
	require.NoError(t, err)

	// A PID guaranteed not to be alive, so Delete's implicit Stop skips
	// the SIGTERM/SIGKILL sequence and falls straight through to
	// teardown.
	r.State = record.Running
	r.PID = 999999999
	require.NoError(t, m.Store.Save(r))

	require.NoError(t, m.Delete(r.ID))

	_, err = m.Store.Load(r.ID)
	require.Error(t, err)
	assert.Equal(t, runtimeerr.NotFound, runtimeerr.KindOf(err))
}

func TestDeleteRemovesCreatedContainer(t *testing.T) {
	m := newTestManager(t)

	r, err := m.Create(containerspec.Config{Rootfs: "/rootfs"})
	require.NoError(t, err)

	require.NoError(t, m.Delete(r.ID))

	_, err = m.Store.Load(r.ID)
	require.Error(t, err)
	assert.Equal(t, runtimeerr.NotFound, runtimeerr.KindOf(err))
}

func TestStartRefusesRunningContainer(t *testing.T) {
	m := newTestManager(t)

	r, err := m.Create(containerspec.Config{Rootfs: "/rootfs"})
	require.NoError(t, err)
	r.State = record.Running
	require.NoError(t, m.Store.Save(r))

	_, err = m.Start(r.ID)
	require.Error(t, err)
	assert.Equal(t, runtimeerr.Invalid, runtimeerr.KindOf(err))
}

func TestStopOnNonRunningContainerIsNoop(t *testing.T) {
	m := newTestManager(t)

	r, err := m.Create(containerspec.Config{Rootfs: "/rootfs"})
	require.NoError(t, err)

	stopped, err := m.Stop(r.ID)
	require.NoError(t, err)
	assert.Equal(t, record.Created, stopped.State)
}

func TestProcessAlive(t *testing.T) {
	assert.True(t, processAlive(os.Getpid()))
	assert.False(t, processAlive(0))
	assert.False(t, processAlive(999999999))
}
