// Package imagebuild makes sure the solver container image exists before
// experiments are submitted, building it from a source archive when missing.
package imagebuild

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/seantiz/factory-scheduler/internal/artifact"
)

// Builder builds a container image from a source archive held in storage
// and publishes it as imageURI. It returns once the build has finished.
type Builder interface {
	BuildFromArchive(ctx context.Context, bucket, archivePath, imageURI string) error
}

// Registry reports whether an image is already published.
type Registry interface {
	Exists(ctx context.Context, imageURI string) (bool, error)
}

// Runner executes the docker CLI with optional stdin.
type Runner interface {
	RunWithInput(ctx context.Context, stdin io.Reader, args ...string) ([]byte, error)
}

// Source locates the solver source archive locally and in storage.
type Source struct {
	LocalArchive  string
	Bucket        string
	RemoteArchive string
}

// EnsureImage builds imageURI from src unless reg already has it. The local
// archive is uploaded first, replacing any previous copy. It reports whether
// a build ran.
func EnsureImage(ctx context.Context, store artifact.Store, b Builder, reg Registry, src Source, imageURI string, logger *slog.Logger) (bool, error) {
	exists, err := reg.Exists(ctx, imageURI)
	if err != nil {
		return false, fmt.Errorf("check image %s: %w", imageURI, err)
	}
	if exists {
		logger.Info("solver image present", "image", imageURI)
		return false, nil
	}

	data, err := os.ReadFile(src.LocalArchive)
	if err != nil {
		return false, fmt.Errorf("read archive: %w", err)
	}
	remote := artifact.Join(src.Bucket, src.RemoteArchive)
	if err := store.Upload(ctx, remote, data, true); err != nil {
		return false, fmt.Errorf("upload archive: %w", err)
	}

	logger.Info("building solver image", "image", imageURI, "archive", remote)
	if err := b.BuildFromArchive(ctx, src.Bucket, src.RemoteArchive, imageURI); err != nil {
		return false, fmt.Errorf("build %s: %w", imageURI, err)
	}
	logger.Info("solver image built", "image", imageURI)
	return true, nil
}

// DockerBuilder builds images with the local docker daemon, streaming the
// archive from storage as the build context.
type DockerBuilder struct {
	Runner    Runner
	Artifacts artifact.Store

	// Push publishes the image after a successful build.
	Push bool
}

func (d DockerBuilder) BuildFromArchive(ctx context.Context, bucket, archivePath, imageURI string) error {
	archive, err := artifact.Download(ctx, d.Artifacts, artifact.Join(bucket, archivePath), artifact.Raw)
	if err != nil {
		return fmt.Errorf("fetch archive: %w", err)
	}
	if _, err := d.Runner.RunWithInput(ctx, bytes.NewReader(archive), "build", "-t", imageURI, "-"); err != nil {
		return err
	}
	if d.Push {
		if _, err := d.Runner.RunWithInput(ctx, nil, "push", imageURI); err != nil {
			return err
		}
	}
	return nil
}

// DockerRegistry checks images through the docker CLI. Remote queries the
// registry manifest instead of the local image store.
type DockerRegistry struct {
	Runner Runner
	Remote bool
}

var errNoSuchImage = errors.New("no such image")

func (d DockerRegistry) Exists(ctx context.Context, imageURI string) (bool, error) {
	args := []string{"image", "inspect", imageURI}
	if d.Remote {
		args = []string{"manifest", "inspect", imageURI}
	}
	_, err := d.Runner.RunWithInput(ctx, nil, args...)
	switch {
	case err == nil:
		return true, nil
	case isMissing(err):
		return false, nil
	default:
		return false, err
	}
}

func isMissing(err error) bool {
	if errors.Is(err, errNoSuchImage) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "no such image") || strings.Contains(msg, "no such manifest") ||
		strings.Contains(msg, "manifest unknown")
}
