package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/google/uuid"

	"github.com/terra-clan/quiz-solver/internal/config"
	"github.com/terra-clan/quiz-solver/internal/models"
)

// Common errors
var (
	ErrNonZeroExit = errors.New("code exited with non-zero status")
	ErrTimeout     = errors.New("code execution timed out")
)

// prelude loads stdin as JSON into `data`, falling back to the raw text
const prelude = `import sys, json
_raw = sys.stdin.read()
try:
    data = json.loads(_raw)
except Exception:
    data = _raw
`

// maxOutput caps captured stdout and stderr
const maxOutput = 1 << 20

// DockerRunner executes Python snippets in throwaway containers with no network
type DockerRunner struct {
	docker *client.Client
	config config.SandboxConfig
}

// NewDockerRunner creates a runner connected to the configured Docker host
func NewDockerRunner(cfg config.SandboxConfig) (*DockerRunner, error) {
	cli, err := client.NewClientWithOpts(
		client.WithHost(cfg.DockerHost),
		client.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}

	return &DockerRunner{
		docker: cli,
		config: cfg,
	}, nil
}

// Ping checks Docker connectivity
func (r *DockerRunner) Ping(ctx context.Context) error {
	if _, err := r.docker.Ping(ctx); err != nil {
		return fmt.Errorf("docker ping failed: %w", err)
	}
	return nil
}

// Run executes code with input on stdin and returns what it printed.
// Daemon failures are transient; script failures are permanent.
func (r *DockerRunner) Run(ctx context.Context, code string, input []byte) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.config.Timeout)
	defer cancel()

	if err := r.pullImage(ctx, r.config.Image); err != nil {
		return "", models.Transient(fmt.Errorf("failed to pull image: %w", err))
	}

	containerID, err := r.createContainer(ctx, BuildScript(code))
	if err != nil {
		return "", models.Transient(err)
	}
	defer r.remove(containerID)

	attach, err := r.docker.ContainerAttach(ctx, containerID, container.AttachOptions{
		Stream: true,
		Stdin:  true,
		Stdout: true,
		Stderr: true,
	})
	if err != nil {
		return "", models.Transient(fmt.Errorf("failed to attach container: %w", err))
	}
	defer attach.Close()

	start := time.Now()
	if err := r.docker.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
		return "", models.Transient(fmt.Errorf("failed to start container: %w", err))
	}

	go func() {
		_, _ = attach.Conn.Write(input)
		_ = attach.CloseWrite()
	}()

	var stdout, stderr bytes.Buffer
	outDone := make(chan error, 1)
	go func() {
		_, err := stdcopy.StdCopy(&limitedWriter{w: &stdout, n: maxOutput}, &limitedWriter{w: &stderr, n: maxOutput}, attach.Reader)
		outDone <- err
	}()

	statusCh, errCh := r.docker.ContainerWait(ctx, containerID, container.WaitConditionNotRunning)

	var exitCode int64
	select {
	case err := <-errCh:
		if ctx.Err() != nil {
			return "", models.Permanent(fmt.Errorf("%w after %s", ErrTimeout, r.config.Timeout))
		}
		return "", models.Transient(fmt.Errorf("failed to wait for container: %w", err))
	case status := <-statusCh:
		exitCode = status.StatusCode
	case <-ctx.Done():
		return "", models.Permanent(fmt.Errorf("%w after %s", ErrTimeout, r.config.Timeout))
	}

	select {
	case <-outDone:
	case <-ctx.Done():
	}

	slog.Debug("sandbox run finished",
		"container", shortID(containerID),
		"exit_code", exitCode,
		"stdout_bytes", stdout.Len(),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	if exitCode != 0 {
		return "", models.Permanent(fmt.Errorf("%w %d: %s", ErrNonZeroExit, exitCode, lastLines(stderr.String(), 5)))
	}

	return stdout.String(), nil
}

// Close releases the Docker client
func (r *DockerRunner) Close() error {
	return r.docker.Close()
}

// pullImage pulls the image unless policy or local presence says otherwise
func (r *DockerRunner) pullImage(ctx context.Context, imageName string) error {
	if r.config.PullPolicy == "never" {
		return nil
	}

	_, _, err := r.docker.ImageInspectWithRaw(ctx, imageName)
	if err == nil && r.config.PullPolicy == "if-not-present" {
		return nil
	}

	slog.Info("pulling image", "image", imageName)
	out, err := r.docker.ImagePull(ctx, imageName, types.ImagePullOptions{})
	if err != nil {
		return err
	}
	defer out.Close()

	_, _ = io.Copy(io.Discard, out)
	return nil
}

func (r *DockerRunner) createContainer(ctx context.Context, script string) (string, error) {
	name := fmt.Sprintf("quiz-code-%s", uuid.New().String()[:12])
	pids := int64(64)

	containerConfig := &container.Config{
		Image:           r.config.Image,
		Cmd:             []string{"python3", "-c", script},
		OpenStdin:       true,
		StdinOnce:       true,
		AttachStdin:     true,
		AttachStdout:    true,
		AttachStderr:    true,
		NetworkDisabled: true,
		WorkingDir:      "/tmp",
		Labels: map[string]string{
			"quiz-solver.managed": "true",
		},
	}

	hostConfig := &container.HostConfig{
		NetworkMode:    "none",
		ReadonlyRootfs: true,
		Tmpfs:          map[string]string{"/tmp": "rw,size=64m"},
		Resources: container.Resources{
			Memory:    int64(r.config.MemoryMB) * 1024 * 1024,
			PidsLimit: &pids,
		},
		RestartPolicy: container.RestartPolicy{
			Name: container.RestartPolicyDisabled,
		},
	}

	resp, err := r.docker.ContainerCreate(ctx, containerConfig, hostConfig, &network.NetworkingConfig{}, nil, name)
	if err != nil {
		return "", fmt.Errorf("failed to create container: %w", err)
	}

	return resp.ID, nil
}

// remove deletes the container on a fresh context so cleanup survives timeouts
func (r *DockerRunner) remove(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := r.docker.ContainerRemove(ctx, id, container.RemoveOptions{Force: true}); err != nil {
		slog.Warn("failed to remove container", "container", shortID(id), "error", err)
	}
}

// BuildScript prefixes code with the stdin loader
func BuildScript(code string) string {
	return prelude + strings.TrimSpace(code) + "\n"
}

type limitedWriter struct {
	w io.Writer
	n int
}

func (l *limitedWriter) Write(p []byte) (int, error) {
	total := len(p)
	if l.n <= 0 {
		return total, nil
	}
	if len(p) > l.n {
		p = p[:l.n]
	}
	n, err := l.w.Write(p)
	l.n -= n
	if err != nil {
		return n, err
	}
	return total, nil
}

func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
