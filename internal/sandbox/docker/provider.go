// Package docker provides a Docker-based implementation of the
// sandbox.Provider interface. Each sandbox is one container kept alive with a
// long sleep; commands run through the exec API.
package docker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	cerrdefs "github.com/containerd/errdefs"
	containerTypes "github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	imageTypes "github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/google/uuid"

	"github.com/sandrun-io/sandrun/internal/logger"
	"github.com/sandrun-io/sandrun/internal/sandbox"
)

const (
	// labelManaged marks containers owned by this service so stale ones can
	// be identified across restarts.
	labelManaged = "sandrun.managed"

	// keepAliveCmd keeps the container running between execs.
	keepAliveCmd = "sleep infinity"
)

// Provider implements sandbox.Provider using Docker.
type Provider struct {
	client *client.Client
	image  string
	log    *logger.Logger
}

// NewProvider creates a Docker sandbox provider and verifies daemon
// connectivity.
func NewProvider(image string, log *logger.Logger) (*Provider, error) {
	cli, err := client.NewClientWithOpts(
		client.FromEnv,
		client.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := cli.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to reach docker daemon: %w", err)
	}

	return &Provider{
		client: cli,
		image:  image,
		log:    log,
	}, nil
}

// Create provisions and starts a fresh container.
func (p *Provider) Create(ctx context.Context) (string, error) {
	if err := p.ensureImage(ctx); err != nil {
		return "", fmt.Errorf("%w: %v", sandbox.ErrCreateFailed, err)
	}

	name := "sandrun-" + uuid.NewString()[:12]
	resp, err := p.client.ContainerCreate(ctx,
		&containerTypes.Config{
			Image:  p.image,
			Cmd:    []string{"/bin/sh", "-c", keepAliveCmd},
			Labels: map[string]string{labelManaged: "true"},
		},
		&containerTypes.HostConfig{
			NetworkMode: "none",
		},
		nil, nil, name)
	if err != nil {
		return "", fmt.Errorf("%w: %v", sandbox.ErrCreateFailed, err)
	}

	if err := p.client.ContainerStart(ctx, resp.ID, containerTypes.StartOptions{}); err != nil {
		_ = p.client.ContainerRemove(ctx, resp.ID, containerTypes.RemoveOptions{Force: true})
		return "", fmt.Errorf("%w: %v", sandbox.ErrCreateFailed, err)
	}

	p.log.Debug("sandbox container started", "container_id", resp.ID[:12])
	return resp.ID, nil
}

// WriteFile stages content via an exec that reads stdin, creating parent
// directories first.
func (p *Provider) WriteFile(ctx context.Context, sandboxID, path string, content []byte) error {
	dir := parentDir(path)
	cmd := fmt.Sprintf("mkdir -p %s && cat > %s", shellQuote(dir), shellQuote(path))
	res, err := p.exec(ctx, sandboxID, []string{"/bin/sh", "-c", cmd}, bytes.NewReader(content))
	if err != nil {
		return fmt.Errorf("%w: %v", sandbox.ErrWriteFailed, err)
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("%w: %s", sandbox.ErrWriteFailed, strings.TrimSpace(res.Stderr))
	}
	return nil
}

// RunShell runs cmd as a shell command string.
func (p *Provider) RunShell(ctx context.Context, sandboxID, cmd string) (*sandbox.RunResult, error) {
	return p.exec(ctx, sandboxID, []string{"/bin/sh", "-c", cmd}, nil)
}

// RunInterpreter runs code through the language's interpreter without a temp
// file.
func (p *Provider) RunInterpreter(ctx context.Context, sandboxID, lang, code string) (*sandbox.RunResult, error) {
	switch lang {
	case "python":
		return p.exec(ctx, sandboxID, []string{"python3", "-c", code}, nil)
	case "node":
		return p.exec(ctx, sandboxID, []string{"node", "-e", code}, nil)
	default:
		return nil, fmt.Errorf("%w: no interpreter entrypoint for %s", sandbox.ErrExecFailed, lang)
	}
}

// CleanupStale force-removes containers left behind by a previous process,
// identified by the managed label. Returns the number removed.
func (p *Provider) CleanupStale(ctx context.Context) (int, error) {
	containers, err := p.client.ContainerList(ctx, containerTypes.ListOptions{
		All: true, // include stopped containers
		Filters: filters.NewArgs(
			filters.Arg("label", labelManaged+"=true"),
		),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to list stale sandboxes: %w", err)
	}

	removed := 0
	for _, c := range containers {
		if err := p.client.ContainerRemove(ctx, c.ID, containerTypes.RemoveOptions{Force: true}); err != nil {
			p.log.Warn("failed to remove stale sandbox", "container_id", c.ID[:12], "error", err)
			continue
		}
		removed++
	}
	return removed, nil
}

// Close force-removes the container.
func (p *Provider) Close(ctx context.Context, sandboxID string) error {
	err := p.client.ContainerRemove(ctx, sandboxID, containerTypes.RemoveOptions{Force: true})
	if cerrdefs.IsNotFound(err) {
		return sandbox.ErrNotFound
	}
	return err
}

// exec runs argv inside the container and captures demultiplexed output.
func (p *Provider) exec(ctx context.Context, containerID string, argv []string, stdin io.Reader) (*sandbox.RunResult, error) {
	execCreate, err := p.client.ContainerExecCreate(ctx, containerID, containerTypes.ExecOptions{
		Cmd:          argv,
		AttachStdout: true,
		AttachStderr: true,
		AttachStdin:  stdin != nil,
	})
	if err != nil {
		if cerrdefs.IsNotFound(err) {
			return nil, sandbox.ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", sandbox.ErrExecFailed, err)
	}

	resp, err := p.client.ContainerExecAttach(ctx, execCreate.ID, containerTypes.ExecStartOptions{})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", sandbox.ErrExecFailed, err)
	}
	defer resp.Close()

	if stdin != nil {
		go func() {
			_, _ = io.Copy(resp.Conn, stdin)
			_ = resp.CloseWrite()
		}()
	}

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, resp.Reader); err != nil {
		// A cancelled context surfaces here as a closed connection.
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", sandbox.ErrExecFailed, err)
	}

	inspect, err := p.client.ContainerExecInspect(ctx, execCreate.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", sandbox.ErrExecFailed, err)
	}

	return &sandbox.RunResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: inspect.ExitCode,
	}, nil
}

// ensureImage pulls the configured image if it is not present locally.
func (p *Provider) ensureImage(ctx context.Context) error {
	_, err := p.client.ImageInspect(ctx, p.image)
	if err == nil {
		return nil
	}

	p.log.Info("pulling sandbox image", "image", p.image)
	reader, err := p.client.ImagePull(ctx, p.image, imageTypes.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image %s: %w", p.image, err)
	}
	defer func() { _ = reader.Close() }()

	// Drain the reader to complete the pull (progress is discarded)
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return fmt.Errorf("failed to complete image pull for %s: %w", p.image, err)
	}
	return nil
}

// shellQuote wraps s in single quotes, escaping embedded ones.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func parentDir(path string) string {
	idx := strings.LastIndex(path, "/")
	if idx <= 0 {
		return "/"
	}
	return path[:idx]
}
