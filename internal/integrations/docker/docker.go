package docker

import (
	"archive/tar"
	"context"
	"fmt"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"io"
	"lifeboat/logger"
	"os"
	"path/filepath"
	"time"
)

// Docker is the slice of the engine API used to run dump tools inside the
// datastore container.
type Docker interface {
	IsContainerRunning(ctx context.Context, container string) (bool, ContainerInfo, error)
	ContainerExec(ctx context.Context, params ContainerExecParams) (ExecResult, error)
	CopyFromContainer(ctx context.Context, containerName, srcPath, destPath string) (int64, error)
	CopyFileIntoContainer(ctx context.Context, containerName, src, destDir string) error
	ContainerStatus(ctx context.Context, name string) (string, error)
}

type dockerClient struct {
	hostClient client.APIClient
}

func NewClient() (Docker, error) {
	hostClient, err := client.NewClientWithOpts(client.FromEnv,
		client.WithAPIVersionNegotiation(), client.WithTimeout(30*time.Minute))
	if err != nil {
		return nil, err
	}

	p, err := hostClient.Ping(context.Background())
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to docker host")
	}

	logger.Info("docker client connected",
		zap.String("api_version", p.APIVersion),
		zap.String("os_type", p.OSType))
	return &dockerClient{hostClient: hostClient}, nil
}

func (d *dockerClient) IsContainerRunning(ctx context.Context, container string) (bool, ContainerInfo, error) {
	result, err := d.hostClient.ContainerInspect(ctx, container)
	if err != nil {
		if client.IsErrNotFound(err) {
			return false, ContainerInfo{}, nil
		}
		return false, ContainerInfo{}, err
	}

	info := ContainerInfo{ID: result.ID, Name: result.Name, State: result.State.Status}
	if result.State.Running || result.State.Restarting {
		return true, info, nil
	}

	return false, info, nil
}

// ContainerExec runs a command in the container and waits for it to exit.
// Long running dumps only produce their exit code once the stream closes.
func (d *dockerClient) ContainerExec(ctx context.Context, params ContainerExecParams) (ExecResult, error) {
	execID, err := d.hostClient.ContainerExecCreate(ctx, params.ContainerName, container.ExecOptions{
		Env:          params.Envs,
		Cmd:          params.Cmd,
		AttachStderr: true,
		AttachStdout: true,
	})
	if err != nil {
		return ExecResult{}, err
	}

	hr, err := d.hostClient.ContainerExecAttach(ctx, execID.ID, container.ExecAttachOptions{})
	if err != nil {
		return ExecResult{}, err
	}
	defer hr.Close()

	stdOut, stdErr, err := ReadExecResponse(hr.Reader)
	if err != nil {
		return ExecResult{}, errors.Wrap(err, "failed to read exec output")
	}

	for {
		inspect, err := d.hostClient.ContainerExecInspect(ctx, execID.ID)
		if err != nil {
			return ExecResult{}, err
		}

		if !inspect.Running {
			result := ExecResult{ExitCode: inspect.ExitCode, Stdout: stdOut, Stderr: stdErr}
			if inspect.ExitCode != 0 {
				return result, fmt.Errorf("exec cmd error (exit %d): %s", inspect.ExitCode, stdErr)
			}
			return result, nil
		}

		select {
		case <-ctx.Done():
			return ExecResult{}, ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
}

// CopyFromContainer streams a single file out of the container into destPath.
func (d *dockerClient) CopyFromContainer(ctx context.Context, containerName, srcPath, destPath string) (int64, error) {
	rc, _, err := d.hostClient.CopyFromContainer(ctx, containerName, srcPath)
	if err != nil {
		return 0, errors.Wrap(err, "failed to copy from container")
	}
	defer rc.Close()

	tr := tar.NewReader(rc)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			return 0, errors.New("file not found in container archive: " + srcPath)
		}
		if err != nil {
			return 0, err
		}
		if header.Typeflag != tar.TypeReg {
			continue
		}

		out, err := os.OpenFile(destPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o640)
		if err != nil {
			return 0, err
		}
		n, err := io.Copy(out, tr)
		closeErr := out.Close()
		if err != nil {
			return n, err
		}

		logger.Info("copy file from container successful",
			zap.String("container", containerName),
			zap.Int64("size", n),
			zap.String("name", header.Name))
		return n, closeErr
	}
}

func (d *dockerClient) CopyFileIntoContainer(ctx context.Context, containerName, src, destDir string) error {
	f, err := os.Open(src)
	if err != nil {
		return err
	}
	defer f.Close()

	fileInfo, err := f.Stat()
	if err != nil {
		return err
	}

	pr, pw := io.Pipe()
	go func() {
		tw := tar.NewWriter(pw)
		err := tw.WriteHeader(&tar.Header{
			Name: filepath.Base(src),
			Mode: 0644,
			Size: fileInfo.Size(),
		})
		if err == nil {
			_, err = io.Copy(tw, f)
		}
		if err == nil {
			err = tw.Close()
		}
		_ = pw.CloseWithError(err)
	}()

	return d.hostClient.CopyToContainer(ctx, containerName, destDir, pr, container.CopyToContainerOptions{
		AllowOverwriteDirWithFile: true,
	})
}

func (d *dockerClient) ContainerStatus(ctx context.Context, name string) (string, error) {
	result, err := d.hostClient.ContainerInspect(ctx, name)
	if err != nil {
		return "", err
	}

	return result.State.Status, nil
}
