// Package docker runs solver jobs as local containers through the docker CLI.
// Each job is one detached container whose name is the job id; the scenario's
// storage directory is bind-mounted from a host volume root laid out the same
// way as the local artifact store, so staged inputs and solver outputs are
// shared between the two.
package docker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/seantiz/factory-scheduler/internal/artifact"
	"github.com/seantiz/factory-scheduler/internal/backend"
	"github.com/seantiz/factory-scheduler/internal/model"
)

// Name is the registry key of this backend.
const Name = "docker"

const (
	labelManaged     = "factory-scheduler.managed"
	labelMaxDuration = "factory-scheduler.max-duration"

	inspectFormat = `{{.State.Status}}|{{.State.ExitCode}}|{{.State.StartedAt}}|{{index .Config.Labels "` + labelMaxDuration + `"}}`
)

// Runner executes the docker CLI and returns its standard output.
type Runner interface {
	Run(ctx context.Context, args ...string) ([]byte, error)
}

// CLI runs the docker binary found at Path (or "docker" on $PATH).
type CLI struct {
	Path string
}

func (c CLI) Run(ctx context.Context, args ...string) ([]byte, error) {
	return c.RunWithInput(ctx, nil, args...)
}

// RunWithInput is Run with stdin attached to the command.
func (c CLI) RunWithInput(ctx context.Context, stdin io.Reader, args ...string) ([]byte, error) {
	bin := c.Path
	if bin == "" {
		bin = "docker"
	}
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Stdin = stdin
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return out, fmt.Errorf("docker %s: %w: %s", args[0], err, strings.TrimSpace(stderr.String()))
	}
	return out, nil
}

// Compile-time interface satisfaction check.
var _ backend.Service = (*Backend)(nil)

// Backend is a backend.Service backed by the local docker daemon.
type Backend struct {
	runner     Runner
	volumeRoot string
	logger     *slog.Logger
	now        func() time.Time
}

// New creates a docker backend. volumeRoot is the host directory holding
// bucket/key paths.
func New(runner Runner, volumeRoot string, logger *slog.Logger) *Backend {
	if runner == nil {
		runner = CLI{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Backend{
		runner:     runner,
		volumeRoot: volumeRoot,
		logger:     logger,
		now:        time.Now,
	}
}

func (b *Backend) Capabilities() backend.Capabilities {
	return backend.Capabilities{
		Name:         Name,
		MachineTypes: backend.MachineTypeNames(),
		Remote:       false,
	}
}

// LogsRef is the command that prints the job's container output.
func (b *Backend) LogsRef(jobID string) string {
	return "docker logs " + jobID
}

// Submit starts a detached container named after the job.
func (b *Backend) Submit(ctx context.Context, spec backend.JobSpec) (string, error) {
	spec = spec.WithDefaults()
	if spec.JobID == "" {
		return "", fmt.Errorf("submit: empty job id")
	}
	if err := backend.ValidateCapacity(spec, b.logger); err != nil {
		return "", err
	}

	hostDir, err := b.hostDir(spec.DataPath)
	if err != nil {
		return "", err
	}

	args := []string{
		"run", "-d",
		"--name", spec.JobID,
		"--cpus", strconv.Itoa(spec.VCPUPerTask * spec.Parallelism),
		"--memory", fmt.Sprintf("%dm", spec.MemoryMBPerTask*spec.Parallelism),
		"-v", hostDir + ":" + spec.MountPath,
		"-w", spec.MountPath,
		"-e", "DATA_DIR=" + spec.MountPath,
		"-l", labelManaged + "=true",
		"-l", labelMaxDuration + "=" + strconv.Itoa(int(spec.MaxDuration.Seconds())),
	}
	for _, k := range sortedKeys(spec.Labels) {
		args = append(args, "-l", k+"="+spec.Labels[k])
	}
	if spec.MaxRetries > 0 {
		args = append(args, "--restart", fmt.Sprintf("on-failure:%d", spec.MaxRetries))
	}
	if spec.Entrypoint != "" {
		args = append(args, "--entrypoint", spec.Entrypoint)
	}
	args = append(args, spec.Image)
	args = append(args, spec.Args...)

	if _, err := b.runner.Run(ctx, args...); err != nil {
		return "", fmt.Errorf("submit %s: %w", spec.JobID, err)
	}
	return spec.JobID, nil
}

// Status inspects the container and maps its state onto a scenario status.
// A container running past its max duration is killed and reported FAILED.
func (b *Backend) Status(ctx context.Context, jobID string) (model.Status, error) {
	out, err := b.runner.Run(ctx, "inspect", "--format", inspectFormat, jobID)
	if err != nil {
		if isNoSuchObject(err) {
			return model.StatusUnspecified, fmt.Errorf("%w: %s", backend.ErrJobNotFound, jobID)
		}
		return model.StatusUnspecified, fmt.Errorf("inspect %s: %w", jobID, err)
	}

	state, err := parseInspect(string(out))
	if err != nil {
		return model.StatusUnspecified, fmt.Errorf("inspect %s: %w", jobID, err)
	}

	status := state.status()
	if status == model.StatusRunning && state.maxDuration > 0 && !state.startedAt.IsZero() &&
		b.now().Sub(state.startedAt) > state.maxDuration {
		b.logger.Warn("job exceeded max duration, killing", "job_id", jobID, "max_duration", state.maxDuration)
		if _, err := b.runner.Run(ctx, "kill", jobID); err != nil {
			return model.StatusUnspecified, fmt.Errorf("kill %s: %w", jobID, err)
		}
		return model.StatusFailed, nil
	}
	return status, nil
}

func (b *Backend) Delete(ctx context.Context, jobID string) error {
	if _, err := b.runner.Run(ctx, "rm", "-f", jobID); err != nil {
		if isNoSuchObject(err) {
			return fmt.Errorf("%w: %s", backend.ErrJobNotFound, jobID)
		}
		return fmt.Errorf("delete %s: %w", jobID, err)
	}
	return nil
}

// List returns the names of all containers this backend started.
func (b *Backend) List(ctx context.Context) ([]string, error) {
	out, err := b.runner.Run(ctx, "ps", "-a", "--filter", "label="+labelManaged+"=true", "--format", "{{.Names}}")
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	var ids []string
	for line := range strings.SplitSeq(string(out), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			ids = append(ids, line)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (b *Backend) hostDir(dataPath string) (string, error) {
	p, err := artifact.ParsePath(dataPath, "file")
	if err != nil {
		return "", fmt.Errorf("data path: %w", err)
	}
	dir, err := filepath.Abs(filepath.Join(b.volumeRoot, p.Bucket, filepath.FromSlash(p.Key)))
	if err != nil {
		return "", fmt.Errorf("data path: %w", err)
	}
	return dir, nil
}

type containerState struct {
	state       string
	exitCode    int
	startedAt   time.Time
	maxDuration time.Duration
}

func parseInspect(out string) (containerState, error) {
	fields := strings.Split(strings.TrimSpace(out), "|")
	if len(fields) != 4 {
		return containerState{}, fmt.Errorf("unexpected inspect output %q", out)
	}

	var cs containerState
	cs.state = fields[0]

	code, err := strconv.Atoi(fields[1])
	if err != nil {
		return containerState{}, fmt.Errorf("parse exit code: %w", err)
	}
	cs.exitCode = code

	// Containers that never started report the zero time "0001-01-01T00:00:00Z".
	if t, err := time.Parse(time.RFC3339Nano, fields[2]); err == nil && t.Year() > 1 {
		cs.startedAt = t
	}
	if secs, err := strconv.Atoi(fields[3]); err == nil && secs > 0 {
		cs.maxDuration = time.Duration(secs) * time.Second
	}
	return cs, nil
}

func (c containerState) status() model.Status {
	switch c.state {
	case "created":
		return model.StatusQueued
	case "restarting":
		return model.StatusScheduled
	case "running", "paused":
		return model.StatusRunning
	case "exited":
		if c.exitCode == 0 {
			return model.StatusSucceeded
		}
		return model.StatusFailed
	case "dead":
		return model.StatusFailed
	case "removing":
		return model.StatusDeletionInProgress
	default:
		return model.StatusUnspecified
	}
}

func isNoSuchObject(err error) bool {
	var exitErr *exec.ExitError
	msg := err.Error()
	return strings.Contains(msg, "No such object") || strings.Contains(msg, "No such container") ||
		(errors.As(err, &exitErr) && strings.Contains(string(exitErr.Stderr), "No such"))
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
