//go:build linux

// Package lifecycle is the Lifecycle Manager: it drives a container through
// created -> running -> stopped -> deleted, coordinating the record store,
// the cgroup controller, and the namespace orchestrator.
//
// Grounded on original_source/runtime/src/container.c's container_create /
// container_start / container_stop / container_delete state machine, and on
// minimega's launch/killVM pair (cmd/minimega/container.go) for the
// SIGTERM-then-poll-then-SIGKILL stop sequence.
package lifecycle

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/kernelsight/runtime/internal/cgroup"
	"github.com/kernelsight/runtime/internal/containerspec"
	"github.com/kernelsight/runtime/internal/corelog"
	"github.com/kernelsight/runtime/internal/idgen"
	"github.com/kernelsight/runtime/internal/nsorch"
	"github.com/kernelsight/runtime/internal/record"
	"github.com/kernelsight/runtime/internal/runtimeerr"
)

const (
	configFile    = "config.json"
	stopPollEvery = 100 * time.Millisecond
	stopTimeout   = 10 * time.Second
)

// Manager ties the record store, cgroup controller, and namespace
// orchestrator together into the create/start/stop/delete/exec/list/stats
// operations spec.md §4.5 and SPEC_FULL.md §4.5 describe.
type Manager struct {
	Store   *record.Store
	Cgroup  *cgroup.Controller
}

// New returns a Manager backed by store and cgroup controller ctl.
func New(store *record.Store, ctl *cgroup.Controller) *Manager {
	return &Manager{Store: store, Cgroup: ctl}
}

// Create validates cfg, assigns it an id if it doesn't already have one,
// provisions the cgroup leaf, and persists a Created record plus the
// config needed by a later Start invoked from an unrelated process.
func (m *Manager) Create(cfg containerspec.Config) (*record.Record, error) {
	if cfg.Rootfs == "" {
		return nil, runtimeerr.New(runtimeerr.Invalid, "lifecycle.Create", fmt.Errorf("rootfs is required"))
	}

	if cfg.ID == "" {
		id, err := idgen.New(func(id string) bool {
			_, err := m.Store.Load(id)
			return err == nil
		})
		if err != nil {
			return nil, runtimeerr.New(runtimeerr.Invalid, "lifecycle.Create", err)
		}
		cfg.ID = id
	}
	if cfg.Name == "" {
		cfg.Name = cfg.ID
	}
	if cfg.Hostname == "" {
		cfg.Hostname = cfg.Name
	}

	unlock, err := m.Store.Lock(cfg.ID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if _, err := m.Store.Load(cfg.ID); err == nil {
		return nil, runtimeerr.New(runtimeerr.Exists, "lifecycle.Create", fmt.Errorf("container %q already exists", cfg.ID))
	}

	if err := m.Cgroup.EnsureHierarchy(); err != nil {
		return nil, err
	}
	leaf, err := m.Cgroup.CreateLeaf(cfg.ID)
	if err != nil {
		return nil, err
	}
	m.Cgroup.ApplyLimits(leaf, cfg.Limits)

	r := &record.Record{
		ID:         cfg.ID,
		Name:       cfg.Name,
		State:      record.Created,
		CreatedAt:  time.Now(),
		CgroupPath: leaf,
		StateDir:   m.stateDir(cfg.ID),
	}
	if err := m.Store.Save(r); err != nil {
		return nil, err
	}
	if err := m.saveConfig(cfg); err != nil {
		return nil, err
	}

	corelog.For("lifecycle").Info().Str("id", cfg.ID).Msg("container created")
	return r, nil
}

// Start spawns the init process for an existing Created or Stopped
// container and transitions it to Running. The process is left detached: Start does not
// wait for it to exit.
func (m *Manager) Start(idOrName string) (*record.Record, error) {
	r, err := m.Store.Resolve(idOrName)
	if err != nil {
		return nil, err
	}

	unlock, err := m.Store.Lock(r.ID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if r.State != record.Created && r.State != record.Stopped {
		return nil, runtimeerr.New(runtimeerr.Invalid, "lifecycle.Start",
			fmt.Errorf("container %q is %s, not created or stopped", r.ID, r.State))
	}

	cfg, err := m.loadConfig(r.ID)
	if err != nil {
		return nil, err
	}

	leaf := m.Cgroup.LeafPath(r.ID)
	spawned, err := nsorch.Spawn(cfg, r.StateDir, os.Stdin, os.Stdout, os.Stderr, func(pid int) error {
		return m.Cgroup.AddPID(leaf, pid)
	})
	if err != nil {
		return nil, err
	}

	r.State = record.Running
	r.PID = spawned.PID
	r.StartedAt = time.Now()
	if err := m.Store.Save(r); err != nil {
		return nil, err
	}

	corelog.For("lifecycle").Info().Str("id", r.ID).Int("pid", r.PID).Msg("container started")
	return r, nil
}

// Run is Create followed by a foreground Start: it waits for the init
// process to exit, then deletes the container and returns its exit code.
func (m *Manager) Run(cfg containerspec.Config) (int, error) {
	r, err := m.Create(cfg)
	if err != nil {
		return -1, err
	}

	full, err := m.loadConfig(r.ID)
	if err != nil {
		return -1, err
	}

	leaf := m.Cgroup.LeafPath(r.ID)
	spawned, err := nsorch.Spawn(full, r.StateDir, os.Stdin, os.Stdout, os.Stderr, func(pid int) error {
		return m.Cgroup.AddPID(leaf, pid)
	})
	if err != nil {
		return -1, err
	}

	r.State = record.Running
	r.PID = spawned.PID
	r.StartedAt = time.Now()
	if err := m.Store.Save(r); err != nil {
		corelog.For("lifecycle").Warn().Err(err).Msg("save running record")
	}

	waitErr := spawned.Wait()
	exitCode := 0
	if waitErr != nil {
		exitCode = -1
		if exitErr, ok := waitErr.(interface{ ExitCode() int }); ok {
			exitCode = exitErr.ExitCode()
		}
	}

	r.State = record.Stopped
	r.StoppedAt = time.Now()
	r.ExitCode = exitCode
	_ = m.Store.Save(r)

	_ = m.Cgroup.Teardown(r.ID)
	if err := m.Store.Delete(r.ID); err != nil {
		return exitCode, err
	}

	return exitCode, nil
}

// Stop sends SIGTERM to a running container's init process, polls for exit
// at 10Hz, and escalates to SIGKILL after stopTimeout. Because Stop runs in
// a process unrelated to the one that started the container, it cannot
// waitpid for the real exit status; ExitCode is left unset (-1). Stop on a
// container that is not running is a no-op returning the current record.
func (m *Manager) Stop(idOrName string) (*record.Record, error) {
	r, err := m.Store.Resolve(idOrName)
	if err != nil {
		return nil, err
	}

	unlock, err := m.Store.Lock(r.ID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if r.State != record.Running {
		return r, nil
	}

	if processAlive(r.PID) {
		_ = syscall.Kill(r.PID, syscall.SIGTERM)

		deadline := time.Now().Add(stopTimeout)
		for time.Now().Before(deadline) && processAlive(r.PID) {
			time.Sleep(stopPollEvery)
		}
		if processAlive(r.PID) {
			corelog.For("lifecycle").Warn().Int("pid", r.PID).Msg("SIGTERM timed out, sending SIGKILL")
			_ = syscall.Kill(r.PID, syscall.SIGKILL)
			deadline = time.Now().Add(stopTimeout)
			for time.Now().Before(deadline) && processAlive(r.PID) {
				time.Sleep(stopPollEvery)
			}
		}
	}

	_ = m.Cgroup.KillAll(m.Cgroup.LeafPath(r.ID))

	r.State = record.Stopped
	r.StoppedAt = time.Now()
	r.ExitCode = -1
	if err := m.Store.Save(r); err != nil {
		return nil, err
	}

	corelog.For("lifecycle").Info().Str("id", r.ID).Msg("container stopped")
	return r, nil
}

// Delete removes a container's cgroup leaf and record. If the container is
// running, it is stopped with the default timeout first.
func (m *Manager) Delete(idOrName string) error {
	r, err := m.Store.Resolve(idOrName)
	if err != nil {
		return err
	}

	if r.State == record.Running {
		if _, err := m.Stop(idOrName); err != nil {
			return err
		}
	}

	unlock, err := m.Store.Lock(r.ID)
	if err != nil {
		return err
	}
	defer unlock()

	if err := m.Cgroup.Teardown(r.ID); err != nil {
		corelog.For("lifecycle").Warn().Err(err).Msg("cgroup teardown")
	}
	if err := m.Store.Delete(r.ID); err != nil {
		return err
	}

	corelog.For("lifecycle").Info().Str("id", r.ID).Msg("container deleted")
	return nil
}

// Exec re-enters a running container's mount, UTS, IPC, cgroup, and (best
// effort) network namespaces and execs cmdline there, inheriting the given
// stdio.
func (m *Manager) Exec(idOrName string, cmdline []string, stdin, stdout, stderr *os.File) error {
	r, err := m.Store.Resolve(idOrName)
	if err != nil {
		return err
	}
	if r.State != record.Running {
		return runtimeerr.New(runtimeerr.Invalid, "lifecycle.Exec",
			fmt.Errorf("container %q is %s, not running", r.ID, r.State))
	}
	return nsorch.SpawnExecHelper(r.PID, cmdline, stdin, stdout, stderr)
}

// ExecPTY is Exec for an interactive session: it allocates a pseudo-
// terminal for the re-entered process instead of inheriting plain stdio.
func (m *Manager) ExecPTY(idOrName string, cmdline []string, stdin, stdout *os.File) error {
	r, err := m.Store.Resolve(idOrName)
	if err != nil {
		return err
	}
	if r.State != record.Running {
		return runtimeerr.New(runtimeerr.Invalid, "lifecycle.ExecPTY",
			fmt.Errorf("container %q is %s, not running", r.ID, r.State))
	}
	return nsorch.SpawnExecHelperPTY(r.PID, cmdline, stdin, stdout)
}

// List returns every known record, oldest first.
func (m *Manager) List() ([]*record.Record, error) {
	return m.Store.List()
}

// Stats reads live cgroup metrics for a container, regardless of state
// (a stopped container's leaf may still exist with its last readings).
func (m *Manager) Stats(idOrName string) (containerspec.Metrics, error) {
	r, err := m.Store.Resolve(idOrName)
	if err != nil {
		return containerspec.Metrics{}, err
	}
	return m.Cgroup.Metrics(m.Cgroup.LeafPath(r.ID))
}

func (m *Manager) stateDir(id string) string {
	return filepath.Join(m.Store.Root, id)
}

func (m *Manager) saveConfig(cfg containerspec.Config) error {
	b, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return runtimeerr.New(runtimeerr.Invalid, "lifecycle.saveConfig", err)
	}
	path := filepath.Join(m.stateDir(cfg.ID), configFile)
	if err := os.WriteFile(path, b, 0o600); err != nil {
		return runtimeerr.New(runtimeerr.IO, "lifecycle.saveConfig", err)
	}
	return nil
}

func (m *Manager) loadConfig(id string) (*containerspec.Config, error) {
	path := filepath.Join(m.stateDir(id), configFile)
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, runtimeerr.New(runtimeerr.IO, "lifecycle.loadConfig", err)
	}
	var cfg containerspec.Config
	if err := json.Unmarshal(b, &cfg); err != nil {
		return nil, runtimeerr.New(runtimeerr.Invalid, "lifecycle.loadConfig", err)
	}
	return &cfg, nil
}

func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	_, err := os.Stat(fmt.Sprintf("/proc/%d", pid))
	return err == nil
}
