package docker

import (
	"bytes"
	"github.com/docker/docker/api/types/strslice"
	"github.com/docker/docker/pkg/stdcopy"
	"io"
)

type ContainerInfo struct {
	ID    string
	Name  string
	State string
}

type ContainerExecParams struct {
	ContainerName string
	Cmd           strslice.StrSlice
	Envs          []string
}

type ExecResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

func ReadExecResponse(reader io.Reader) (string, string, error) {
	var stdOut, stdErr bytes.Buffer
	_, err := stdcopy.StdCopy(&stdOut, &stdErr, reader)
	if err != nil {
		return "", "", err
	}
	return stdOut.String(), stdErr.String(), nil
}
