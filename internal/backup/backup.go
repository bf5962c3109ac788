package backup

import (
	"context"
	"github.com/pkg/errors"
	"lifeboat/internal/config"
	"lifeboat/internal/integrations/docker"
	"lifeboat/internal/types"
	"net/url"
)

type (
	DumpParams struct {
		// Path is the host file receiving the plain SQL dump
		Path string
		Type types.BackupType
		// Schema limits the dump to one namespace when set
		Schema string
	}

	// Dumper drives the datastore's own dump and restore tools.
	Dumper interface {
		Dump(ctx context.Context, params DumpParams) error
		Restore(ctx context.Context, path string) error
		Name() string
	}

	tool interface {
		name() string
		dumpCmd(params DumpParams, out string) (argv []string, env []string)
		restoreCmd(in string) (argv []string, env []string)
	}

	executor struct {
		tool   tool
		runner runner
	}
)

// New picks the tool from the connection string scheme and runs it on the
// host, or inside cfg.DumpContainer when one is configured.
func New(cfg config.Config, dc docker.Docker) (Dumper, error) {
	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is not configured")
	}
	u, err := url.Parse(cfg.DatabaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "invalid DATABASE_URL")
	}

	var t tool
	switch u.Scheme {
	case "postgres", "postgresql":
		t = newPostgres(u)
	case "mysql":
		t = newMysql(u)
	default:
		return nil, errors.Errorf("unsupported datastore scheme: %s", u.Scheme)
	}

	var r runner = localRunner{}
	if cfg.DumpContainer != "" {
		if dc == nil {
			return nil, errors.New("docker client is required to dump inside " + cfg.DumpContainer)
		}
		r = containerRunner{docker: dc, container: cfg.DumpContainer}
	}
	return &executor{tool: t, runner: r}, nil
}

func (e *executor) Name() string {
	return e.tool.name()
}

func (e *executor) Dump(ctx context.Context, params DumpParams) error {
	err := e.runner.produce(ctx, params.Path, func(out string) ([]string, []string) {
		return e.tool.dumpCmd(params, out)
	})
	return errors.Wrap(err, "failed to execute "+e.tool.name()+" dump")
}

func (e *executor) Restore(ctx context.Context, path string) error {
	err := e.runner.consume(ctx, path, e.tool.restoreCmd)
	return errors.Wrap(err, "failed to execute "+e.tool.name()+" restore")
}
