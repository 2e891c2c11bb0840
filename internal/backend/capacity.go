package backend

import (
	"fmt"
	"log/slog"
	"sort"
)

// MachineType is a VM shape jobs are scheduled onto.
type MachineType struct {
	Name     string `json:"name"`
	VCPUs    int    `json:"vcpus"`
	MemoryMB int    `json:"memory_mb"`
}

// DefaultMachineType is used when no machine type is configured.
const DefaultMachineType = "e2-standard-2"

// catalog lists the machine types jobs may request.
var catalog = map[string]MachineType{
	"e2-standard-2":  {Name: "e2-standard-2", VCPUs: 2, MemoryMB: 8192},
	"e2-standard-4":  {Name: "e2-standard-4", VCPUs: 4, MemoryMB: 16384},
	"e2-standard-8":  {Name: "e2-standard-8", VCPUs: 8, MemoryMB: 32768},
	"e2-standard-16": {Name: "e2-standard-16", VCPUs: 16, MemoryMB: 65536},
	"e2-highmem-2":   {Name: "e2-highmem-2", VCPUs: 2, MemoryMB: 16384},
	"e2-highmem-4":   {Name: "e2-highmem-4", VCPUs: 4, MemoryMB: 32768},
	"e2-highcpu-4":   {Name: "e2-highcpu-4", VCPUs: 4, MemoryMB: 4096},
	"e2-highcpu-8":   {Name: "e2-highcpu-8", VCPUs: 8, MemoryMB: 8192},
	"n2-standard-2":  {Name: "n2-standard-2", VCPUs: 2, MemoryMB: 8192},
	"n2-standard-4":  {Name: "n2-standard-4", VCPUs: 4, MemoryMB: 16384},
}

// LookupMachineType returns the catalog entry for name.
func LookupMachineType(name string) (MachineType, error) {
	m, ok := catalog[name]
	if !ok {
		return MachineType{}, fmt.Errorf("unknown machine type %q: must be one of %v", name, MachineTypeNames())
	}
	return m, nil
}

// MachineTypeNames returns the catalog names in sorted order.
func MachineTypeNames() []string {
	names := make([]string, 0, len(catalog))
	for name := range catalog {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ValidateCapacity rejects a spec whose parallel tasks need more vCPU or
// memory than its machine offers. Under-use is logged, not rejected.
func ValidateCapacity(spec JobSpec, logger *slog.Logger) error {
	spec = spec.WithDefaults()
	m := spec.Machine

	vcpuUsage := spec.Parallelism * spec.VCPUPerTask
	memUsage := spec.Parallelism * spec.MemoryMBPerTask

	if vcpuUsage > m.VCPUs {
		return fmt.Errorf("%w: the task needs at least %d vCPUs, machine %s has only %d",
			ErrCapacityExceeded, vcpuUsage, m.Name, m.VCPUs)
	}
	if memUsage > m.MemoryMB {
		return fmt.Errorf("%w: the task needs at least %d MB memory, machine %s has only %d",
			ErrCapacityExceeded, memUsage, m.Name, m.MemoryMB)
	}

	if logger != nil {
		if vcpuUsage < m.VCPUs {
			logger.Warn("job under-utilizes vCPUs",
				"job_id", spec.JobID, "machine", m.Name, "used", vcpuUsage, "available", m.VCPUs)
		}
		if memUsage < m.MemoryMB {
			logger.Warn("job under-utilizes memory",
				"job_id", spec.JobID, "machine", m.Name, "used_mb", memUsage, "available_mb", m.MemoryMB)
		}
	}
	return nil
}
