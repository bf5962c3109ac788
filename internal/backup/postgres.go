package backup

import (
	"lifeboat/internal/types"
	"net/url"
)

type postgres struct {
	dsn      string
	password string
}

// newPostgres keeps the password out of argv; it travels as PGPASSWORD.
func newPostgres(u *url.URL) tool {
	clean := *u
	password, _ := clean.User.Password()
	if clean.User != nil {
		clean.User = url.User(clean.User.Username())
	}
	return &postgres{dsn: clean.String(), password: password}
}

func (p *postgres) name() string { return "pg_dump" }

func (p *postgres) env() []string {
	if p.password == "" {
		return nil
	}
	return []string{"PGPASSWORD=" + p.password}
}

func (p *postgres) dumpCmd(params DumpParams, out string) ([]string, []string) {
	argv := []string{
		"pg_dump",
		"--dbname=" + p.dsn,
		"--no-owner",
		"--no-acl",
		"--file=" + out,
	}
	switch params.Type {
	case types.BackupTypeSchemaOnly:
		argv = append(argv, "--schema-only", "--clean", "--if-exists")
	case types.BackupTypeDataOnly:
		argv = append(argv, "--data-only")
	default:
		// logical dumps have no incremental mode; every other type is a full dump
		argv = append(argv, "--clean", "--if-exists")
	}
	if params.Schema != "" {
		argv = append(argv, "--schema="+params.Schema)
	}
	return argv, p.env()
}

func (p *postgres) restoreCmd(in string) ([]string, []string) {
	return []string{
		"psql",
		"--dbname=" + p.dsn,
		"--set=ON_ERROR_STOP=1",
		"--quiet",
		"--file=" + in,
	}, p.env()
}
