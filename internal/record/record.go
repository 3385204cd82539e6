// Package record implements the Record Store: the durable on-disk
// representation of each container's identity and last-known state.
//
// Grounded on original_source/runtime/src/container.c's save_container_state
// and container_list, reworked into a key=value text file per record
// directory the way the source does, but parsed strictly instead of
// silently defaulting malformed lines to "created" (spec.md §9).
package record

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/kernelsight/runtime/internal/corelog"
	"github.com/kernelsight/runtime/internal/runtimeerr"
)

// State is a container's lifecycle state.
type State string

const (
	Created State = "created"
	Running State = "running"
	Stopped State = "stopped"
	Paused  State = "paused" // reserved by the freeze interface, not exercised by the normal lifecycle
	Deleted State = "deleted"
)

// Record is the persistent representation of one container.
type Record struct {
	ID         string
	Name       string
	State      State
	PID        int
	CreatedAt  time.Time
	StartedAt  time.Time
	StoppedAt  time.Time
	ExitCode   int
	CgroupPath string
	StateDir   string
}

const stateFile = "state.txt"
const lockFile = ".lock"

// Store is the Record Store, rooted at Root (typically
// /var/lib/<runtime>/containers).
type Store struct {
	Root string
}

// NewStore returns a Store rooted at root, creating the root directory if
// it does not already exist.
func NewStore(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, runtimeerr.New(runtimeerr.IO, "record.NewStore", err)
	}
	return &Store{Root: root}, nil
}

func (s *Store) dir(id string) string {
	return filepath.Join(s.Root, id)
}

// Save writes r to disk, creating the per-container directory tree if
// missing. Write-then-rename is used so a reader never observes a
// half-written file.
func (s *Store) Save(r *Record) error {
	dir := s.dir(r.ID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return runtimeerr.New(runtimeerr.IO, "record.Save", err)
	}

	path := filepath.Join(dir, stateFile)
	tmp := path + ".tmp"

	var b strings.Builder
	fmt.Fprintf(&b, "id=%s\n", r.ID)
	fmt.Fprintf(&b, "name=%s\n", r.Name)
	fmt.Fprintf(&b, "state=%s\n", r.State)
	fmt.Fprintf(&b, "pid=%d\n", r.PID)
	fmt.Fprintf(&b, "created_at=%d\n", r.CreatedAt.Unix())
	fmt.Fprintf(&b, "started_at=%d\n", unixOrZero(r.StartedAt))
	fmt.Fprintf(&b, "stopped_at=%d\n", unixOrZero(r.StoppedAt))
	fmt.Fprintf(&b, "exit_code=%d\n", r.ExitCode)
	fmt.Fprintf(&b, "cgroup_path=%s\n", r.CgroupPath)
	fmt.Fprintf(&b, "state_dir=%s\n", r.StateDir)

	if err := os.WriteFile(tmp, []byte(b.String()), 0o644); err != nil {
		return runtimeerr.New(runtimeerr.IO, "record.Save", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return runtimeerr.New(runtimeerr.IO, "record.Save", err)
	}

	corelog.For("record").Debug().Str("id", r.ID).Str("state", string(r.State)).Msg("saved record")
	return nil
}

// Load reads the record for id from disk.
func (s *Store) Load(id string) (*Record, error) {
	path := filepath.Join(s.dir(id), stateFile)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, runtimeerr.New(runtimeerr.NotFound, "record.Load", err)
		}
		return nil, runtimeerr.New(runtimeerr.IO, "record.Load", err)
	}
	defer f.Close()

	r, err := parse(f)
	if err != nil {
		return nil, runtimeerr.New(runtimeerr.Invalid, "record.Load", err)
	}
	r.StateDir = s.dir(id)
	return r, nil
}

// List returns every record whose directory contains a parseable
// state.txt. Directories beginning with '.' are ignored. Records that
// fail to parse are skipped and logged as a warning rather than silently
// treated as state=created (spec.md §9 open question, resolved per
// SPEC_FULL.md §9).
func (s *Store) List() ([]*Record, error) {
	entries, err := os.ReadDir(s.Root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, runtimeerr.New(runtimeerr.IO, "record.List", err)
	}

	var out []*Record
	for _, ent := range entries {
		if !ent.IsDir() || strings.HasPrefix(ent.Name(), ".") {
			continue
		}
		r, err := s.Load(ent.Name())
		if err != nil {
			corelog.For("record").Warn().Str("id", ent.Name()).Err(err).Msg("skipping unparseable record")
			continue
		}
		out = append(out, r)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// Resolve finds the first record whose id or name equals idOrName.
// Ambiguity (two records sharing a name) is not detected, matching
// spec.md §4.1's documented open question.
func (s *Store) Resolve(idOrName string) (*Record, error) {
	all, err := s.List()
	if err != nil {
		return nil, err
	}
	for _, r := range all {
		if r.ID == idOrName || r.Name == idOrName {
			return r, nil
		}
	}
	return nil, runtimeerr.New(runtimeerr.NotFound, "record.Resolve", fmt.Errorf("no container matches %q", idOrName))
}

// Delete removes the per-container directory.
func (s *Store) Delete(id string) error {
	if err := os.RemoveAll(s.dir(id)); err != nil {
		return runtimeerr.New(runtimeerr.IO, "record.Delete", err)
	}
	corelog.For("record").Debug().Str("id", id).Msg("deleted record")
	return nil
}

// Lock acquires an advisory per-record lock file for the duration of one
// lifecycle operation, narrowing (not eliminating) the race spec.md §5
// documents around concurrent drivers creating the same id. Unlock must be
// called exactly once to release it.
func (s *Store) Lock(id string) (unlock func(), err error) {
	if err := os.MkdirAll(s.dir(id), 0o755); err != nil {
		return nil, runtimeerr.New(runtimeerr.IO, "record.Lock", err)
	}
	path := filepath.Join(s.dir(id), lockFile)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil, runtimeerr.New(runtimeerr.Exists, "record.Lock", fmt.Errorf("container %q is locked by another operation", id))
		}
		return nil, runtimeerr.New(runtimeerr.IO, "record.Lock", err)
	}
	f.Close()
	return func() { _ = os.Remove(path) }, nil
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func parse(f *os.File) (*Record, error) {
	r := &Record{}
	var sawID, sawState bool

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		key, val, ok := strings.Cut(line, "=")
		if !ok {
			return nil, fmt.Errorf("malformed line %q", line)
		}
		switch key {
		case "id":
			r.ID = val
			sawID = true
		case "name":
			r.Name = val
		case "state":
			r.State = State(val)
			sawState = true
		case "pid":
			pid, err := strconv.Atoi(val)
			if err != nil {
				return nil, fmt.Errorf("bad pid %q: %w", val, err)
			}
			r.PID = pid
		case "created_at":
			r.CreatedAt = parseUnix(val)
		case "started_at":
			r.StartedAt = parseUnix(val)
		case "stopped_at":
			r.StoppedAt = parseUnix(val)
		case "exit_code":
			code, err := strconv.Atoi(val)
			if err != nil {
				return nil, fmt.Errorf("bad exit_code %q: %w", val, err)
			}
			r.ExitCode = code
		case "cgroup_path":
			r.CgroupPath = val
		case "state_dir":
			r.StateDir = val
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if !sawID || !sawState {
		return nil, fmt.Errorf("missing required fields (id, state)")
	}
	return r, nil
}

func parseUnix(val string) time.Time {
	sec, err := strconv.ParseInt(val, 10, 64)
	if err != nil || sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0)
}
