//go:build linux

// Package fsassembler performs the mount-namespace operations that give a
// container its own root and standard pseudo-filesystems: pivot-root and
// mount-essentials from spec.md §4.3.
//
// Grounded on original_source/runtime/src/filesystem.c for the pivot-root
// and mount sequencing, and on minimega's containerSetupRoot /
// containerMountDefaults / containerMknodDevices / containerSymlinks
// (cmd/minimega/container.go) for the devtmpfs fallback, device node
// table, and symlink set this package reuses almost verbatim.
package fsassembler

import (
	"fmt"
	"os"
	"path/filepath"
	"syscall"

	"github.com/kernelsight/runtime/internal/containerspec"
	"github.com/kernelsight/runtime/internal/corelog"
	"github.com/kernelsight/runtime/internal/runtimeerr"
	"golang.org/x/sys/unix"
)

const oldRootName = ".old_root"

// DefaultMaskedPaths are bind-mounted over with /dev/null after mount
// assembly. SPEC_FULL.md §4.3.
var DefaultMaskedPaths = []string{"/proc/kcore"}

// DefaultReadOnlyPaths are remounted read-only after mount assembly.
// SPEC_FULL.md §4.3.
var DefaultReadOnlyPaths = []string{"/proc/sys", "/proc/sysrq-trigger", "/proc/irq", "/proc/bus"}

type device struct {
	name  string
	major uint32
	minor uint32
	mode  uint32
}

var devices = []device{
	{"/dev/null", 1, 3, 0666},
	{"/dev/zero", 1, 5, 0666},
	{"/dev/random", 1, 8, 0666},
	{"/dev/urandom", 1, 9, 0666},
	{"/dev/tty", 5, 0, 0666},
	{"/dev/console", 5, 1, 0600},
}

var symlinks = [][2]string{
	{"/proc/self/fd", "/dev/fd"},
	{"/proc/self/fd/0", "/dev/stdin"},
	{"/proc/self/fd/1", "/dev/stdout"},
	{"/proc/self/fd/2", "/dev/stderr"},
}

// PivotToRootfs swaps the calling process's root filesystem for rootfs,
// following spec.md §4.3's seven steps. It must run inside the child's new
// mount namespace, after the namespace orchestrator's synchronisation
// handshake has completed.
func PivotToRootfs(rootfs string) error {
	log := corelog.For("fsassembler")

	info, err := os.Stat(rootfs)
	if err != nil || !info.IsDir() {
		return runtimeerr.New(runtimeerr.Filesystem, "fsassembler.PivotToRootfs",
			fmt.Errorf("rootfs %q does not exist or is not a directory", rootfs))
	}

	// Make / a recursive private mount so new mounts never propagate back
	// to the host — required before pivot_root will accept the operation.
	if err := syscall.Mount("", "/", "", syscall.MS_REC|syscall.MS_PRIVATE, ""); err != nil {
		return runtimeerr.New(runtimeerr.Filesystem, "fsassembler.PivotToRootfs", fmt.Errorf("make mounts private: %w", err))
	}

	// Bind-mount rootfs onto itself so it is its own mountpoint, a
	// pivot_root precondition.
	if err := syscall.Mount(rootfs, rootfs, "", syscall.MS_BIND|syscall.MS_REC, ""); err != nil {
		return runtimeerr.New(runtimeerr.Filesystem, "fsassembler.PivotToRootfs", fmt.Errorf("bind mount rootfs: %w", err))
	}

	oldRoot := filepath.Join(rootfs, oldRootName)
	if err := os.MkdirAll(oldRoot, 0o700); err != nil {
		return runtimeerr.New(runtimeerr.Filesystem, "fsassembler.PivotToRootfs", fmt.Errorf("mkdir %s: %w", oldRoot, err))
	}

	if err := syscall.PivotRoot(rootfs, oldRoot); err != nil {
		return runtimeerr.New(runtimeerr.Filesystem, "fsassembler.PivotToRootfs", fmt.Errorf("pivot_root: %w", err))
	}

	if err := os.Chdir("/"); err != nil {
		return runtimeerr.New(runtimeerr.Filesystem, "fsassembler.PivotToRootfs", fmt.Errorf("chdir /: %w", err))
	}

	// Detach-unmount the exiled old root. Failure here is a warning, not
	// fatal: the new root is already in effect.
	if err := syscall.Unmount("/"+oldRootName, syscall.MNT_DETACH); err != nil {
		log.Warn().Err(err).Msg("detach old root")
	} else if err := os.Remove("/" + oldRootName); err != nil {
		log.Warn().Err(err).Msg("remove old root directory")
	}

	log.Debug().Str("rootfs", rootfs).Msg("pivot_root complete")
	return nil
}

type mountSpec struct {
	path  string
	fstyp string
	flags uintptr
	data  string
}

// MountEssentials creates and mounts /proc, /sys, /dev, /dev/pts,
// /dev/shm, and /tmp inside the new root, per spec.md §4.3's table.
// Individual mount/mknod failures are warnings: the container is still
// runnable if only a subset succeeds.
func MountEssentials(rootfs string) error {
	log := corelog.For("fsassembler")

	specs := []mountSpec{
		{"/proc", "proc", syscall.MS_NOSUID | syscall.MS_NOEXEC | syscall.MS_NODEV, ""},
		{"/sys", "sysfs", syscall.MS_NOSUID | syscall.MS_NOEXEC | syscall.MS_NODEV | syscall.MS_RDONLY, ""},
		{"/dev/shm", "tmpfs", syscall.MS_NOSUID | syscall.MS_NOEXEC | syscall.MS_NODEV, "mode=1777"},
		{"/tmp", "tmpfs", syscall.MS_NOSUID | syscall.MS_NODEV, "mode=1777"},
	}

	if err := mkdirMount(rootfs, "/dev", "devtmpfs", syscall.MS_NOSUID|syscall.MS_NOEXEC, ""); err != nil {
		if err := mkdirMount(rootfs, "/dev", "tmpfs", syscall.MS_NOSUID|syscall.MS_NOEXEC, "mode=755"); err != nil {
			log.Warn().Err(err).Msg("mount /dev (devtmpfs and tmpfs fallback both failed)")
		}
	}

	for _, s := range specs {
		if err := mkdirMount(rootfs, s.path, s.fstyp, s.flags, s.data); err != nil {
			log.Warn().Str("path", s.path).Err(err).Msg("mount essential filesystem failed")
		}
	}

	if err := mkdirMount(rootfs, "/dev/pts", "devpts", syscall.MS_NOSUID|syscall.MS_NOEXEC, "newinstance,ptmxmode=0666"); err != nil {
		log.Warn().Err(err).Msg("mount /dev/pts")
	}

	for _, d := range devices {
		path := filepath.Join(rootfs, d.name)
		dev := unix.Mkdev(d.major, d.minor)
		if err := unix.Mknod(path, unix.S_IFCHR|d.mode, int(dev)); err != nil {
			log.Warn().Str("path", path).Err(err).Msg("mknod device failed")
		}
	}

	for _, l := range symlinks {
		target := filepath.Join(rootfs, l[1])
		_ = os.Remove(target)
		if err := os.Symlink(l[0], target); err != nil {
			log.Warn().Str("link", target).Err(err).Msg("symlink failed")
		}
	}

	return nil
}

// MountVolumes bind-mounts each volume's source onto its target beneath
// rootfs, in order, after MountEssentials. SPEC_FULL.md §3/§4.3.
func MountVolumes(rootfs string, volumes []containerspec.VolumeMount) error {
	for _, v := range volumes {
		target := filepath.Join(rootfs, v.Target)
		if err := os.MkdirAll(target, 0o755); err != nil {
			return runtimeerr.New(runtimeerr.Filesystem, "fsassembler.MountVolumes", err)
		}
		if err := syscall.Mount(v.Source, target, "", syscall.MS_BIND, ""); err != nil {
			return runtimeerr.New(runtimeerr.Filesystem, "fsassembler.MountVolumes", fmt.Errorf("bind %s -> %s: %w", v.Source, target, err))
		}
	}
	return nil
}

// MakeFifos creates count named pipes under rootfs/run/kernelsight-fifo/N,
// mirroring minimega's ContainerConfig.Fifos channel set used for
// container-to-host signalling outside the console pty. Best-effort: a
// failed mkfifo is logged and skipped rather than aborting the container.
func MakeFifos(rootfs string, count uint64) error {
	if count == 0 {
		return nil
	}
	log := corelog.For("fsassembler")

	dir := filepath.Join(rootfs, "run", "kernelsight-fifo")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return runtimeerr.New(runtimeerr.Filesystem, "fsassembler.MakeFifos", err)
	}

	for i := uint64(0); i < count; i++ {
		path := filepath.Join(dir, fmt.Sprintf("%d", i))
		if err := unix.Mkfifo(path, 0o600); err != nil {
			log.Warn().Str("path", path).Err(err).Msg("mkfifo failed")
		}
	}
	return nil
}

// MaskPaths bind-mounts /dev/null over each of paths (rootfs-relative),
// hiding host information the container should not see.
func MaskPaths(rootfs string, paths []string) {
	log := corelog.For("fsassembler")
	for _, p := range paths {
		target := filepath.Join(rootfs, p)
		if err := syscall.Mount("/dev/null", target, "", syscall.MS_BIND, ""); err != nil {
			log.Warn().Str("path", target).Err(err).Msg("mask path failed")
		}
	}
}

// RemountReadOnly remounts each of paths (rootfs-relative) read-only,
// bind-mounting first if a plain remount fails because the path was not
// already a mountpoint.
func RemountReadOnly(rootfs string, paths []string) {
	log := corelog.For("fsassembler")
	for _, p := range paths {
		target := filepath.Join(rootfs, p)
		if err := syscall.Mount("", target, "", syscall.MS_REMOUNT|syscall.MS_RDONLY, ""); err == nil {
			continue
		}
		if err := syscall.Mount(target, target, "", syscall.MS_BIND, ""); err != nil {
			log.Warn().Str("path", target).Err(err).Msg("bind mount for read-only remount failed")
			continue
		}
		flags := syscall.MS_BIND | syscall.MS_REMOUNT | syscall.MS_RDONLY | syscall.MS_REC | syscall.MS_NOEXEC | syscall.MS_NOSUID | syscall.MS_NODEV
		if err := syscall.Mount(target, target, "", uintptr(flags), ""); err != nil {
			log.Warn().Str("path", target).Err(err).Msg("remount read-only failed")
		}
	}
}

// mkdirMount makes the target directory (rootfs-relative when non-empty)
// before mounting to it.
func mkdirMount(rootfs, path, fstyp string, flags uintptr, data string) error {
	target := path
	if rootfs != "" {
		target = filepath.Join(rootfs, path)
	}
	if err := os.MkdirAll(target, 0o755); err != nil {
		return err
	}
	source := fstyp
	if source == "" {
		source = target
	}
	return syscall.Mount(source, target, fstyp, flags, data)
}
