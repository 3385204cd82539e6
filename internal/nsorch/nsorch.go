//go:build linux

// Package nsorch is the Namespace Orchestrator: it spawns the init process
// inside a freshly configured set of kernel namespaces, and later re-enters
// those namespaces from an unrelated process for exec.
//
// The spawn side is grounded on minimega's re-exec technique
// (cmd/minimega/container.go's launch/containerShim pair: clone via
// os/exec with SysProcAttr.Cloneflags against /proc/self/exe, extra pipe
// fds for synchronisation) generalized to the one-byte parent-writes/
// child-reads handshake spec.md §4.4 specifies instead of minimega's
// dual-pipe freezer sync. The re-entry side and the uid/gid-map protocol
// follow original_source/runtime/src/namespace.c's ns_enter_all and
// ns_setup_user almost structurally unchanged.
package nsorch

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/creack/pty"
	"github.com/kernelsight/runtime/internal/containerspec"
	"github.com/kernelsight/runtime/internal/corelog"
	"github.com/kernelsight/runtime/internal/fsassembler"
	"github.com/kernelsight/runtime/internal/runtimeerr"
)

// InitArg is the argv[1] cmd/kernelsight recognizes, before cobra parses
// anything, to dispatch into RunChild instead of the CLI. Grounded on
// minimega's CONTAINER_MAGIC re-exec marker.
const InitArg = "__kernelsight_init__"

// ExecArg is the argv[1] marker for the exec re-entry helper.
const ExecArg = "__kernelsight_exec__"

const syncPipeFD = 3

var defaultCloneFlags = syscall.CLONE_NEWPID | syscall.CLONE_NEWNS |
	syscall.CLONE_NEWUTS | syscall.CLONE_NEWIPC | syscall.CLONE_NEWCGROUP

// Spawned describes a freshly cloned init process.
type Spawned struct {
	PID int
	cmd *exec.Cmd
}

// Wait blocks until the init process exits.
func (s *Spawned) Wait() error {
	return s.cmd.Wait()
}

// Spawn clones a new init process for cfg, performing the handshake from
// spec.md §4.4: the child blocks on a one-byte read until the parent has
// installed uid/gid maps (when user namespaces are enabled), then proceeds
// to pivot-root, mount, reset its environment, and exec cfg.Cmd.
// preRelease, when non-nil, runs after the process is cloned (so its pid is
// known) but before the synchronisation byte is written — the window in
// which the lifecycle manager joins the child to its cgroup leaf so limits
// are in force before the child does any work.
func Spawn(cfg *containerspec.Config, stateDir string, stdin, stdout, stderr *os.File, preRelease func(pid int) error) (*Spawned, error) {
	flags := defaultCloneFlags
	if cfg.EnableNetwork {
		flags |= syscall.CLONE_NEWNET
	}
	if cfg.EnableUserNS {
		flags |= syscall.CLONE_NEWUSER
	}

	cfgPath := filepath.Join(stateDir, "spawn-config.json")
	if err := writeConfig(cfgPath, cfg); err != nil {
		return nil, runtimeerr.New(runtimeerr.IO, "nsorch.Spawn", err)
	}

	childRead, parentWrite, err := os.Pipe()
	if err != nil {
		return nil, runtimeerr.New(runtimeerr.IO, "nsorch.Spawn", err)
	}

	cmd := &exec.Cmd{
		Path:       "/proc/self/exe",
		Args:       []string{"/proc/self/exe", InitArg, cfgPath},
		Stdin:      stdin,
		Stdout:     stdout,
		Stderr:     stderr,
		ExtraFiles: []*os.File{childRead},
		SysProcAttr: &syscall.SysProcAttr{
			Cloneflags: uintptr(flags),
		},
	}

	if err := cmd.Start(); err != nil {
		childRead.Close()
		parentWrite.Close()
		return nil, runtimeerr.New(runtimeerr.Namespace, "nsorch.Spawn", fmt.Errorf("clone: %w", err))
	}
	childRead.Close()

	pid := cmd.Process.Pid
	corelog.For("nsorch").Debug().Int("pid", pid).Msg("cloned init process")

	if cfg.EnableUserNS {
		if err := installIdentityMaps(pid, cfg); err != nil {
			_ = cmd.Process.Kill()
			_, _ = cmd.Process.Wait()
			parentWrite.Close()
			return nil, err
		}
	}

	if preRelease != nil {
		if err := preRelease(pid); err != nil {
			_ = cmd.Process.Kill()
			_, _ = cmd.Process.Wait()
			parentWrite.Close()
			return nil, err
		}
	}

	// Release the child: all namespace setup downstream of uid/gid maps
	// waits on this byte.
	if _, err := parentWrite.Write([]byte{0}); err != nil {
		_ = cmd.Process.Kill()
		_, _ = cmd.Process.Wait()
		parentWrite.Close()
		return nil, runtimeerr.New(runtimeerr.Namespace, "nsorch.Spawn", fmt.Errorf("release handshake: %w", err))
	}
	parentWrite.Close()

	return &Spawned{PID: pid, cmd: cmd}, nil
}

func installIdentityMaps(pid int, cfg *containerspec.Config) error {
	// Disable setgroups first; required for unprivileged user namespaces.
	// Failure is ignored — it commonly means setgroups is already denied.
	_ = os.WriteFile(fmt.Sprintf("/proc/%d/setgroups", pid), []byte("deny"), 0)

	uidMap := fmt.Sprintf("%d %d 1\n", cfg.UIDMap.ContainerID, cfg.UIDMap.HostID)
	if err := os.WriteFile(fmt.Sprintf("/proc/%d/uid_map", pid), []byte(uidMap), 0); err != nil {
		return runtimeerr.New(runtimeerr.Namespace, "nsorch.installIdentityMaps", fmt.Errorf("uid_map: %w", err))
	}

	gidMap := fmt.Sprintf("%d %d 1\n", cfg.GIDMap.ContainerID, cfg.GIDMap.HostID)
	if err := os.WriteFile(fmt.Sprintf("/proc/%d/gid_map", pid), []byte(gidMap), 0); err != nil {
		return runtimeerr.New(runtimeerr.Namespace, "nsorch.installIdentityMaps", fmt.Errorf("gid_map: %w", err))
	}

	corelog.For("nsorch").Debug().Int("pid", pid).Msg("installed uid/gid maps")
	return nil
}

// RunChild is the child-side entry point, invoked by cmd/kernelsight's
// main() when os.Args[1] == InitArg. It never returns on success: it execs
// cfg.Cmd (or exits 1/127 on failure), per spec.md §4.4.
func RunChild(cfgPath string) {
	log := corelog.For("nsorch.child")

	cfg, err := readConfig(cfgPath)
	if err != nil {
		log.Error().Err(err).Msg("read spawn config")
		os.Exit(1)
	}

	sync := os.NewFile(syncPipeFD, "sync")
	var buf [1]byte
	if _, err := sync.Read(buf[:]); err != nil {
		log.Error().Err(err).Msg("sync handshake read failed")
		os.Exit(1)
	}
	sync.Close()

	if cfg.Hostname != "" {
		if err := syscall.Sethostname([]byte(cfg.Hostname)); err != nil {
			log.Error().Err(err).Msg("sethostname")
			os.Exit(1)
		}
	}

	if cfg.Rootfs != "" {
		if err := fsassembler.PivotToRootfs(cfg.Rootfs); err != nil {
			log.Error().Err(err).Msg("pivot_root")
			os.Exit(1)
		}
		if err := fsassembler.MountEssentials("/"); err != nil {
			log.Error().Err(err).Msg("mount essentials")
			os.Exit(1)
		}
		if err := fsassembler.MountVolumes("/", cfg.Volumes); err != nil {
			log.Error().Err(err).Msg("mount volumes")
			os.Exit(1)
		}
		if err := fsassembler.MakeFifos("/", cfg.Fifos); err != nil {
			log.Warn().Err(err).Msg("create fifos")
		}
		fsassembler.MaskPaths("/", fsassembler.DefaultMaskedPaths)
		fsassembler.RemountReadOnly("/", fsassembler.DefaultReadOnlyPaths)
	}

	if cfg.Preinit != "" {
		if out, err := exec.Command(cfg.Preinit).CombinedOutput(); err != nil {
			log.Error().Err(err).Str("output", string(out)).Msg("preinit failed")
			os.Exit(1)
		}
	}

	resetEnv(cfg.Env)

	cmdline := cfg.Cmd
	if len(cmdline) == 0 {
		cmdline = []string{"/bin/sh"}
	}

	path, err := exec.LookPath(cmdline[0])
	if err != nil {
		path = cmdline[0]
	}

	log.Debug().Strs("cmd", cmdline).Msg("exec")
	if err := syscall.Exec(path, cmdline, os.Environ()); err != nil {
		log.Error().Err(err).Msg("exec failed")
		os.Exit(127)
	}
}

func resetEnv(userEnv []string) {
	os.Clearenv()
	_ = os.Setenv("PATH", "/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin")
	_ = os.Setenv("TERM", "xterm-256color")
	_ = os.Setenv("HOME", "/root")
	for _, kv := range userEnv {
		key, val, ok := splitKV(kv)
		if ok {
			_ = os.Setenv(key, val)
		}
	}
}

func splitKV(kv string) (key, val string, ok bool) {
	for i := 0; i < len(kv); i++ {
		if kv[i] == '=' {
			return kv[:i], kv[i+1:], true
		}
	}
	return "", "", false
}

// nsOrder is the order entered by Enter: user is never requested (exec
// re-entry intentionally omits user and pid, see spec.md §4.4's last
// paragraph), but Enter still honors "user first, pid after user, mount
// thereafter" for any caller that does request them.
var nsOrder = []string{"user", "pid", "mnt", "uts", "ipc", "cgroup", "net"}

// EnterSpec names which of the target's namespaces the exec helper should
// enter. Per spec.md §4.4, the runtime's own exec path requests
// {mnt, uts, ipc, cgroup} plus net; pid and user are deliberately never entered
// (entering pid ns only affects children of the entering process, and
// user ns entry for an unrelated process has no well-defined mapping
// here). Net is attempted opportunistically: harmless when the container
// shares the host net namespace, useful when it does not.
func EnterSpec() []string {
	return []string{"mnt", "uts", "ipc", "cgroup", "net"}
}

// Enter re-enters the given namespaces of targetPID, in nsOrder, then
// chdirs to / and execs cmdline. It is meant to run as the sole purpose of
// a freshly re-exec'd helper process (see cmd/kernelsight's dispatch on
// ExecArg), because setns only affects the calling OS thread until the
// process execs.
func Enter(targetPID int, namespaces []string, cmdline []string) {
	log := corelog.For("nsorch.exec")

	requested := make(map[string]bool, len(namespaces))
	for _, n := range namespaces {
		requested[n] = true
	}

	for _, n := range nsOrder {
		if !requested[n] {
			continue
		}
		path := fmt.Sprintf("/proc/%d/ns/%s", targetPID, n)
		fd, err := os.Open(path)
		if err != nil {
			log.Warn().Str("ns", n).Err(err).Msg("open namespace file failed")
			continue
		}
		err = syscall.Setns(int(fd.Fd()), 0)
		fd.Close()
		if err != nil {
			log.Warn().Str("ns", n).Err(err).Msg("setns failed")
		}
	}

	if err := os.Chdir("/"); err != nil {
		log.Warn().Err(err).Msg("chdir / failed")
	}

	if len(cmdline) == 0 {
		cmdline = []string{"/bin/sh"}
	}
	path, err := exec.LookPath(cmdline[0])
	if err != nil {
		path = cmdline[0]
	}

	if err := syscall.Exec(path, cmdline, os.Environ()); err != nil {
		log.Error().Err(err).Msg("exec failed")
		os.Exit(127)
	}
}

// SpawnExecHelper launches the re-exec'd helper that performs Enter, and
// waits for it. This is the parent side of the exec-into contract
// (spec.md §4.4's "Re-entry contract").
func SpawnExecHelper(targetPID int, cmdline []string, stdin, stdout, stderr *os.File) error {
	args := []string{"/proc/self/exe", ExecArg, strconv.Itoa(targetPID)}
	args = append(args, cmdline...)

	cmd := exec.Command("/proc/self/exe", args[1:]...)
	cmd.Stdin, cmd.Stdout, cmd.Stderr = stdin, stdout, stderr

	if err := cmd.Run(); err != nil {
		return runtimeerr.New(runtimeerr.Process, "nsorch.SpawnExecHelper", err)
	}
	return nil
}

// SpawnExecHelperPTY is SpawnExecHelper for interactive sessions: it
// allocates a pseudo-terminal for the helper with creack/pty and shuttles
// bytes between it and the caller's stdin/stdout, so `kernelsight shell`
// gets a real line-editing, job-control-capable terminal instead of a
// plain pipe.
func SpawnExecHelperPTY(targetPID int, cmdline []string, stdin *os.File, stdout *os.File) error {
	args := append([]string{ExecArg, strconv.Itoa(targetPID)}, cmdline...)
	cmd := exec.Command("/proc/self/exe", args...)

	ptmx, err := pty.Start(cmd)
	if err != nil {
		return runtimeerr.New(runtimeerr.Process, "nsorch.SpawnExecHelperPTY", err)
	}
	defer ptmx.Close()

	if size, err := pty.GetsizeFull(stdin); err == nil {
		_ = pty.Setsize(ptmx, size)
	}

	winch := make(chan os.Signal, 1)
	signal.Notify(winch, syscall.SIGWINCH)
	defer signal.Stop(winch)
	go func() {
		for range winch {
			if size, err := pty.GetsizeFull(stdin); err == nil {
				_ = pty.Setsize(ptmx, size)
			}
		}
	}()

	go func() { _, _ = io.Copy(ptmx, stdin) }()
	_, _ = io.Copy(stdout, ptmx)

	if err := cmd.Wait(); err != nil {
		return runtimeerr.New(runtimeerr.Process, "nsorch.SpawnExecHelperPTY", err)
	}
	return nil
}

func writeConfig(path string, cfg *containerspec.Config) error {
	b, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o600)
}

func readConfig(path string) (*containerspec.Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg containerspec.Config
	if err := json.Unmarshal(b, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
