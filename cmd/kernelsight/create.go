//go:build linux

package main

import (
	"fmt"

	"github.com/kernelsight/runtime/internal/containerspec"
	"github.com/spf13/cobra"
)

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a container from a rootfs without starting it",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := configFromFlags(cmd)
		if err != nil {
			return err
		}

		mgr, err := newManager()
		if err != nil {
			return err
		}

		r, err := mgr.Create(cfg)
		if err != nil {
			return err
		}

		fmt.Println(r.ID)
		return nil
	},
}

func init() {
	addContainerFlags(createCmd)
}

func addContainerFlags(cmd *cobra.Command) {
	cmd.Flags().String("name", "", "container name (defaults to the generated id)")
	cmd.Flags().String("rootfs", "", "path to the container's root filesystem (required)")
	cmd.Flags().String("hostname", "", "hostname set inside the container (defaults to name)")
	cmd.Flags().StringSlice("cmd", nil, "command and arguments to run (default: /bin/sh)")
	cmd.Flags().StringSlice("env", nil, "environment variables KEY=VALUE")
	cmd.Flags().StringSlice("volume", nil, "bind mount SOURCE:TARGET, repeatable")
	cmd.Flags().String("memory", "", "memory limit, e.g. 512m, 1g")
	cmd.Flags().Int64("cpu-quota-us", 0, "CPU quota in microseconds per period")
	cmd.Flags().Int64("cpu-period-us", 0, "CPU period in microseconds (default 100000)")
	cmd.Flags().Int64("cpu-shares", 0, "relative CPU shares (1-1024 legacy scale)")
	cmd.Flags().Int64("pids-max", 0, "maximum number of processes")
	cmd.Flags().Bool("network", false, "give the container its own network namespace")
	cmd.Flags().Bool("userns", false, "give the container its own user namespace")
	cmd.Flags().String("preinit", "", "program to run after mount setup, before exec")
	cmd.Flags().Uint64("fifos", 0, "number of named pipes to create under /run/kernelsight-fifo")
	cmd.MarkFlagRequired("rootfs")
}

func configFromFlags(cmd *cobra.Command) (containerspec.Config, error) {
	name, _ := cmd.Flags().GetString("name")
	rootfs, _ := cmd.Flags().GetString("rootfs")
	hostname, _ := cmd.Flags().GetString("hostname")
	command, _ := cmd.Flags().GetStringSlice("cmd")
	env, _ := cmd.Flags().GetStringSlice("env")
	volumeSpecs, _ := cmd.Flags().GetStringSlice("volume")
	memory, _ := cmd.Flags().GetString("memory")
	cpuQuota, _ := cmd.Flags().GetInt64("cpu-quota-us")
	cpuPeriod, _ := cmd.Flags().GetInt64("cpu-period-us")
	cpuShares, _ := cmd.Flags().GetInt64("cpu-shares")
	pidsMax, _ := cmd.Flags().GetInt64("pids-max")
	network, _ := cmd.Flags().GetBool("network")
	userns, _ := cmd.Flags().GetBool("userns")
	preinit, _ := cmd.Flags().GetString("preinit")
	fifos, _ := cmd.Flags().GetUint64("fifos")

	memBytes, err := parseMemory(memory)
	if err != nil {
		return containerspec.Config{}, err
	}
	volumes, err := parseVolumes(volumeSpecs)
	if err != nil {
		return containerspec.Config{}, err
	}

	cfg := containerspec.Config{
		Name:          name,
		Hostname:      hostname,
		Rootfs:        rootfs,
		Cmd:           command,
		Env:           env,
		Volumes:       volumes,
		EnableNetwork: network,
		EnableUserNS:  userns,
		Preinit:       preinit,
		Fifos:         fifos,
		Limits: containerspec.Limits{
			MemoryBytes: memBytes,
			SwapBytes:   0,
			CPUQuotaUs:  cpuQuota,
			CPUPeriodUs: cpuPeriod,
			CPUShares:   cpuShares,
			PIDsMax:     pidsMax,
		},
	}

	if userns {
		cfg.UIDMap = containerspec.IdentityMap{HostID: 100000, ContainerID: 0}
		cfg.GIDMap = containerspec.IdentityMap{HostID: 100000, ContainerID: 0}
	}

	return cfg, nil
}
