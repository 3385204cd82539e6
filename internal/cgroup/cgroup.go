//go:build linux

// Package cgroup implements the Cgroup v2 Controller: it creates,
// configures, measures, and destroys one cgroup v2 leaf per container.
//
// Grounded on original_source/runtime/src/cgroup.c for the write/read
// sequencing and file names, and on ja7ad-consumption/pkg/system/cgroup and
// pkg/system/proc/v2.go for the idiomatic Go v2-detection and key=value
// stat-file parsing this package follows.
package cgroup

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/kernelsight/runtime/internal/containerspec"
	"github.com/kernelsight/runtime/internal/corelog"
	"github.com/kernelsight/runtime/internal/runtimeerr"
)

const (
	defaultCPUPeriodUs = 100000
	killWaitPoll       = 100 * time.Millisecond
)

var controllers = []string{"+cpu", "+memory", "+pids", "+io"}

// Controller manages the cgroup v2 hierarchy for one runtime installation.
type Controller struct {
	// MountRoot is the cgroup v2 unified mount point, normally
	// /sys/fs/cgroup.
	MountRoot string

	// RuntimeName namespaces this runtime's leaves under MountRoot, e.g.
	// MountRoot/RuntimeName/<container-id>.
	RuntimeName string
}

// New returns a Controller. It does not touch the filesystem; call
// EnsureHierarchy before creating leaves.
func New(mountRoot, runtimeName string) *Controller {
	return &Controller{MountRoot: mountRoot, RuntimeName: runtimeName}
}

// Available reports whether cgroup v2 is mounted at MountRoot, per
// spec.md §4.2 ("Refuses to operate if cgroup.controllers is absent").
func (c *Controller) Available() bool {
	_, err := os.Stat(filepath.Join(c.MountRoot, "cgroup.controllers"))
	return err == nil
}

func (c *Controller) runtimeDir() string {
	return filepath.Join(c.MountRoot, c.RuntimeName)
}

func (c *Controller) leafDir(id string) string {
	return filepath.Join(c.runtimeDir(), id)
}

// EnsureHierarchy creates <MountRoot>/<RuntimeName> on first use and
// enables cpu, memory, pids, and io in both the unified root's and the
// runtime directory's cgroup.subtree_control. Failures enabling a
// controller are logged as warnings, not returned as errors, matching
// spec.md §4.2 ("commonly indicate 'already enabled'").
func (c *Controller) EnsureHierarchy() error {
	if !c.Available() {
		return runtimeerr.New(runtimeerr.Cgroup, "cgroup.EnsureHierarchy",
			fmt.Errorf("%s/cgroup.controllers not present: cgroup v2 is not mounted", c.MountRoot))
	}

	rd := c.runtimeDir()
	if err := os.MkdirAll(rd, 0o755); err != nil {
		return runtimeerr.New(runtimeerr.Cgroup, "cgroup.EnsureHierarchy", err)
	}

	for _, path := range []string{
		filepath.Join(c.MountRoot, "cgroup.subtree_control"),
		filepath.Join(rd, "cgroup.subtree_control"),
	} {
		for _, ctl := range controllers {
			if err := writeFile(path, ctl); err != nil {
				corelog.For("cgroup").Warn().Msg(fmt.Sprintf("enable controller %s on %s: %v (may already be enabled)", ctl, path, err))
			}
		}
	}
	return nil
}

// CreateLeaf creates the per-container leaf directory and returns its path.
func (c *Controller) CreateLeaf(id string) (string, error) {
	leaf := c.leafDir(id)
	if err := os.MkdirAll(leaf, 0o755); err != nil {
		return "", runtimeerr.New(runtimeerr.Cgroup, "cgroup.CreateLeaf", err)
	}
	corelog.For("cgroup").Debug().Msg("created leaf " + leaf)
	return leaf, nil
}

// ApplyLimits translates containerspec.Limits into interface-file writes
// per spec.md §4.2's table. Each write is independent: a failure degrades
// to a logged warning rather than failing the whole call, so that a
// container launch never fails purely because a limit could not be
// applied (spec.md §7's propagation policy).
func (c *Controller) ApplyLimits(leaf string, limits containerspec.Limits) {
	if limits.MemoryBytes > 0 {
		c.warnWrite(leaf, "memory.max", strconv.FormatInt(limits.MemoryBytes, 10))
		if limits.SwapBytes >= 0 {
			c.warnWrite(leaf, "memory.swap.max", strconv.FormatInt(limits.SwapBytes, 10))
		}
	}

	if limits.CPUQuotaUs > 0 {
		period := limits.CPUPeriodUs
		if period <= 0 {
			period = defaultCPUPeriodUs
		}
		c.warnWrite(leaf, "cpu.max", fmt.Sprintf("%d %d", limits.CPUQuotaUs, period))
	}

	if limits.CPUShares > 0 {
		weight := clamp((limits.CPUShares*100)/1024, 1, 10000)
		c.warnWrite(leaf, "cpu.weight", strconv.FormatInt(weight, 10))
	}

	if limits.PIDsMax > 0 {
		c.warnWrite(leaf, "pids.max", strconv.FormatInt(limits.PIDsMax, 10))
	}
}

func (c *Controller) warnWrite(leaf, file, value string) {
	path := filepath.Join(leaf, file)
	if err := writeFile(path, value); err != nil {
		corelog.For("cgroup").Warn().Msg(fmt.Sprintf("write %s=%q: %v", path, value, err))
	}
}

func clamp(v, lo, hi int64) int64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// AddPID migrates pid into the container's leaf by writing
// cgroup.procs. This must happen after the child exists and before it
// begins work that should be accounted (spec.md §4.2, §5).
func (c *Controller) AddPID(leaf string, pid int) error {
	if err := writeFile(filepath.Join(leaf, "cgroup.procs"), strconv.Itoa(pid)); err != nil {
		return runtimeerr.New(runtimeerr.Cgroup, "cgroup.AddPID", err)
	}
	return nil
}

// Metrics reads memory.current, memory.peak, memory.max, cpu.stat
// (usage_usec), pids.current, and pids.max from the leaf.
func (c *Controller) Metrics(leaf string) (containerspec.Metrics, error) {
	var m containerspec.Metrics

	m.MemoryCurrent = readInt(filepath.Join(leaf, "memory.current"))
	m.MemoryPeak = readInt(filepath.Join(leaf, "memory.peak"))
	m.MemoryLimit = readMaxOrInt(filepath.Join(leaf, "memory.max"))

	usec, err := readCPUUsageUsec(filepath.Join(leaf, "cpu.stat"))
	if err == nil {
		m.CPUUsageNs = usec * 1000
	}

	m.PIDsCurrent = readInt(filepath.Join(leaf, "pids.current"))
	m.PIDsLimit = readMaxOrInt(filepath.Join(leaf, "pids.max"))

	return m, nil
}

// Freeze writes 1 to cgroup.freeze.
func (c *Controller) Freeze(leaf string) error {
	return writeFile(filepath.Join(leaf, "cgroup.freeze"), "1")
}

// Thaw writes 0 to cgroup.freeze.
func (c *Controller) Thaw(leaf string) error {
	return writeFile(filepath.Join(leaf, "cgroup.freeze"), "0")
}

// KillAll writes 1 to cgroup.kill if the kernel exposes it (>= 5.14);
// otherwise it iterates cgroup.procs and signals each PID directly
// (spec.md §4.2, §6).
func (c *Controller) KillAll(leaf string) error {
	killPath := filepath.Join(leaf, "cgroup.kill")
	if _, err := os.Stat(killPath); err == nil {
		return writeFile(killPath, "1")
	}

	procs, err := readLines(filepath.Join(leaf, "cgroup.procs"))
	if err != nil {
		return runtimeerr.New(runtimeerr.Cgroup, "cgroup.KillAll", err)
	}
	for _, line := range procs {
		pid, err := strconv.Atoi(strings.TrimSpace(line))
		if err != nil {
			continue
		}
		_ = syscall.Kill(pid, syscall.SIGKILL)
	}
	return nil
}

// Teardown kills every process in the leaf, waits briefly for reaping,
// then removes the leaf directory. ENOENT is treated as success.
func (c *Controller) Teardown(id string) error {
	leaf := c.leafDir(id)

	_ = c.KillAll(leaf)
	time.Sleep(killWaitPoll)

	if err := os.Remove(leaf); err != nil && !os.IsNotExist(err) {
		return runtimeerr.New(runtimeerr.Cgroup, "cgroup.Teardown", err)
	}
	corelog.For("cgroup").Debug().Msg("removed leaf " + leaf)
	return nil
}

func (c *Controller) LeafPath(id string) string {
	return c.leafDir(id)
}

func writeFile(path, value string) error {
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteString(value)
	return err
}

func readInt(path string) int64 {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	v, err := strconv.ParseInt(strings.TrimSpace(string(b)), 10, 64)
	if err != nil {
		return 0
	}
	return v
}

func readMaxOrInt(path string) int64 {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	s := strings.TrimSpace(string(b))
	if s == "max" {
		return -1
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return -1
	}
	return v
}

func readCPUUsageUsec(path string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		if strings.HasPrefix(line, "usage_usec ") {
			fields := strings.Fields(line)
			if len(fields) >= 2 {
				return strconv.ParseInt(fields[1], 10, 64)
			}
		}
	}
	if err := sc.Err(); err != nil {
		return 0, err
	}
	return 0, fmt.Errorf("cpu.stat: usage_usec not found in %s", path)
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			out = append(out, line)
		}
	}
	return out, sc.Err()
}
