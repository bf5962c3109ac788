package docker

import (
	"bytes"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"testing"
)

func TestReadExecResponse(t *testing.T) {
	var buf bytes.Buffer
	_, err := stdcopy.NewStdWriter(&buf, stdcopy.Stdout).Write([]byte("dumped 3 tables\n"))
	require.NoError(t, err)
	_, err = stdcopy.NewStdWriter(&buf, stdcopy.Stderr).Write([]byte("warning: no privileges\n"))
	require.NoError(t, err)

	stdOut, stdErr, err := ReadExecResponse(&buf)
	require.NoError(t, err)
	assert.Equal(t, "dumped 3 tables\n", stdOut)
	assert.Equal(t, "warning: no privileges\n", stdErr)
}
