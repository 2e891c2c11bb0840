package backend

import (
	"context"
	"errors"
	"time"

	"github.com/seantiz/factory-scheduler/internal/model"
)

var (
	// ErrJobNotFound is returned when the backend has no job with the given id.
	ErrJobNotFound = errors.New("job not found")

	// ErrCapacityExceeded is returned when a job asks for more vCPU or memory
	// than its machine type offers.
	ErrCapacityExceeded = errors.New("capacity exceeded")
)

// Job submission defaults.
const (
	// DefaultMountPath is where the scenario's storage directory is mounted
	// inside the solver container.
	DefaultMountPath = "/mnt/disks/share"

	DefaultMaxRetries  = 2
	DefaultMaxDuration = time.Hour
	DefaultParallelism = 1
)

// Service is the batch execution backend. Implementations must be safe for
// concurrent use: the poller and request handlers call it at the same time.
type Service interface {
	// Submit creates a containerized job and returns its id. It fails with
	// ErrCapacityExceeded before creating anything if the job does not fit
	// its machine type.
	Submit(ctx context.Context, spec JobSpec) (string, error)

	// Status reports the job's current lifecycle state.
	Status(ctx context.Context, jobID string) (model.Status, error)

	// Delete removes the job. Deleting a job makes later Status calls fail
	// with ErrJobNotFound.
	Delete(ctx context.Context, jobID string) error

	// List returns the ids of every job known to the backend.
	List(ctx context.Context) ([]string, error)

	// Capabilities describes the backend.
	Capabilities() Capabilities
}

// LogLocator is implemented by backends that can say where a job's logs are.
type LogLocator interface {
	LogsRef(jobID string) string
}

// LogsRef returns where jobID's logs can be read, or "" if svc cannot say.
func LogsRef(svc Service, jobID string) string {
	if l, ok := svc.(LogLocator); ok {
		return l.LogsRef(jobID)
	}
	return ""
}

// JobSpec describes one containerized job.
type JobSpec struct {
	JobID      string   `json:"job_id"`
	Image      string   `json:"image"`
	Args       []string `json:"args"`
	Entrypoint string   `json:"entrypoint,omitempty"`

	// DataPath is the storage location (bucket/relative/path) mounted at
	// MountPath inside the container.
	DataPath  string `json:"data_path"`
	MountPath string `json:"mount_path"`

	Machine         MachineType       `json:"machine"`
	VCPUPerTask     int               `json:"vcpu_per_task"`
	MemoryMBPerTask int               `json:"memory_mb_per_task"`
	MaxRetries      int               `json:"max_retries"`
	MaxDuration     time.Duration     `json:"max_duration"`
	Parallelism     int               `json:"parallelism"`
	Labels          map[string]string `json:"labels,omitempty"`
}

// WithDefaults fills unset fields with the package defaults. Per-task vCPU
// and memory default to the whole machine.
func (s JobSpec) WithDefaults() JobSpec {
	if s.MountPath == "" {
		s.MountPath = DefaultMountPath
	}
	if s.MaxRetries < 0 {
		s.MaxRetries = 0
	}
	if s.MaxDuration <= 0 {
		s.MaxDuration = DefaultMaxDuration
	}
	if s.Parallelism <= 0 {
		s.Parallelism = DefaultParallelism
	}
	if s.VCPUPerTask <= 0 {
		s.VCPUPerTask = s.Machine.VCPUs
	}
	if s.MemoryMBPerTask <= 0 {
		s.MemoryMBPerTask = s.Machine.MemoryMB
	}
	return s
}

// Capabilities describes what a backend offers.
type Capabilities struct {
	Name         string   `json:"name"`
	MachineTypes []string `json:"machine_types"`
	Remote       bool     `json:"remote"`
}
