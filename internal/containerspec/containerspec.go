// Package containerspec holds the input configuration and derived metrics
// types shared by the cgroup controller, filesystem assembler, namespace
// orchestrator, and lifecycle manager. Grounded on
// original_source/runtime/include/container.h's container_config_t,
// resource_limits_t, and container_metrics_t, and on minimega's
// ContainerConfig (cmd/minimega/container.go).
package containerspec

// Limits is {memory_bytes, swap_bytes, cpu_quota_us, cpu_period_us,
// cpu_shares, pids_max} from spec.md §3. Zero or negative means unlimited
// for that axis, except SwapBytes which is only applied when MemoryBytes is
// set (spec.md §4.2's limit-translation table).
type Limits struct {
	MemoryBytes int64
	SwapBytes   int64
	CPUQuotaUs  int64
	CPUPeriodUs int64 // defaults to 100000 when zero
	CPUShares   int64
	PIDsMax     int64
}

// IdentityMap is a single-row uid/gid mapping entry, used only when
// EnableUserNS is set.
type IdentityMap struct {
	HostID      int
	ContainerID int
}

// Config is the immutable-once-created input to a container (spec.md §3's
// ContainerConfig).
type Config struct {
	ID       string
	Name     string
	Hostname string

	Rootfs string
	Cmd    []string
	Env    []string

	Limits Limits

	EnableNetwork bool
	EnableUserNS  bool

	UIDMap IdentityMap
	GIDMap IdentityMap

	// Preinit is an optional program run, as root, inside the container
	// after pivot-root and mount assembly, before the environment reset and
	// exec. SPEC_FULL.md §3.
	Preinit string

	// Volumes are ordered source:target bind-mount pairs applied after the
	// essential mounts. SPEC_FULL.md §3.
	Volumes []VolumeMount

	// Fifos is the number of named pipes to create for container-host
	// communication, mirroring minimega's ContainerConfig.Fifos.
	Fifos uint64
}

// VolumeMount is one bind-mounted host directory exposed inside the
// container.
type VolumeMount struct {
	Source string
	Target string
}

// Metrics are the derived (not persisted) runtime measurements from
// spec.md §3.
type Metrics struct {
	MemoryCurrent int64
	MemoryPeak    int64
	MemoryLimit   int64 // -1 means unlimited
	CPUUsageNs    int64
	PIDsCurrent   int64
	PIDsLimit     int64 // -1 means unlimited
}
