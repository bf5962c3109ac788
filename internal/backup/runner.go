package backup

import (
	"bytes"
	"context"
	"fmt"
	"github.com/docker/docker/api/types/strslice"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"lifeboat/internal/integrations/docker"
	"lifeboat/logger"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"strings"
)

type (
	cmdFunc func(file string) (argv []string, env []string)

	// runner executes a tool that writes (produce) or reads (consume) a file.
	runner interface {
		produce(ctx context.Context, hostPath string, cmd cmdFunc) error
		consume(ctx context.Context, hostPath string, cmd cmdFunc) error
	}

	localRunner struct{}

	containerRunner struct {
		docker    docker.Docker
		container string
	}
)

func (localRunner) produce(ctx context.Context, hostPath string, cmd cmdFunc) error {
	argv, env := cmd(hostPath)
	return runLocal(ctx, argv, env)
}

func (localRunner) consume(ctx context.Context, hostPath string, cmd cmdFunc) error {
	argv, env := cmd(hostPath)
	return runLocal(ctx, argv, env)
}

func runLocal(ctx context.Context, argv, env []string) error {
	c := exec.CommandContext(ctx, argv[0], argv[1:]...)
	c.Env = append(os.Environ(), env...)
	var stderr bytes.Buffer
	c.Stderr = &stderr
	if err := c.Run(); err != nil {
		return fmt.Errorf("%s: %v: %s", argv[0], err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

func (r containerRunner) produce(ctx context.Context, hostPath string, cmd cmdFunc) error {
	remote := path.Join("/tmp", uuid.NewString()+filepath.Ext(hostPath))
	argv, env := cmd(remote)

	logger.Info("running dump tool in container",
		zap.String("container", r.container),
		zap.String("tool", argv[0]))
	if _, err := r.docker.ContainerExec(ctx, docker.ContainerExecParams{
		ContainerName: r.container,
		Cmd:           strslice.StrSlice(argv),
		Envs:          env,
	}); err != nil {
		return err
	}
	defer r.remove(ctx, remote)

	if _, err := r.docker.CopyFromContainer(ctx, r.container, remote, hostPath); err != nil {
		return errors.Wrap(err, "failed to copy dump file")
	}
	return nil
}

func (r containerRunner) consume(ctx context.Context, hostPath string, cmd cmdFunc) error {
	if err := r.docker.CopyFileIntoContainer(ctx, r.container, hostPath, "/tmp"); err != nil {
		return errors.Wrap(err, "failed to copy dump into container")
	}
	remote := path.Join("/tmp", filepath.Base(hostPath))
	defer r.remove(ctx, remote)

	argv, env := cmd(remote)
	_, err := r.docker.ContainerExec(ctx, docker.ContainerExecParams{
		ContainerName: r.container,
		Cmd:           strslice.StrSlice(argv),
		Envs:          env,
	})
	return err
}

func (r containerRunner) remove(ctx context.Context, remote string) {
	if _, err := r.docker.ContainerExec(ctx, docker.ContainerExecParams{
		ContainerName: r.container,
		Cmd:           strslice.StrSlice{"rm", "-f", remote},
	}); err != nil {
		logger.Warn("failed to remove temporary file in container",
			zap.String("container", r.container),
			zap.String("path", remote),
			zap.Error(err))
	}
}
