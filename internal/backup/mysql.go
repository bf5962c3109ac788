package backup

import (
	"lifeboat/internal/types"
	"net/url"
	"strings"
)

type mysql struct {
	host     string
	port     string
	user     string
	password string
	database string
}

func newMysql(u *url.URL) tool {
	m := &mysql{
		host:     u.Hostname(),
		port:     u.Port(),
		database: strings.TrimPrefix(u.Path, "/"),
	}
	if u.User != nil {
		m.user = u.User.Username()
		m.password, _ = u.User.Password()
	}
	return m
}

func (m *mysql) name() string { return "mysqldump" }

func (m *mysql) conn() []string {
	args := make([]string, 0, 3)
	if m.host != "" {
		args = append(args, "--host="+m.host)
	}
	if m.port != "" {
		args = append(args, "--port="+m.port)
	}
	if m.user != "" {
		args = append(args, "--user="+m.user)
	}
	return args
}

func (m *mysql) env() []string {
	if m.password == "" {
		return nil
	}
	return []string{"MYSQL_PWD=" + m.password}
}

// dumpCmd ignores params.Schema: a mysql database is already the tenant boundary.
func (m *mysql) dumpCmd(params DumpParams, out string) ([]string, []string) {
	argv := append([]string{"mysqldump"}, m.conn()...)
	argv = append(argv, "--single-transaction", "--routines", "--result-file="+out)
	switch params.Type {
	case types.BackupTypeSchemaOnly:
		argv = append(argv, "--no-data")
	case types.BackupTypeDataOnly:
		argv = append(argv, "--no-create-info")
	}
	argv = append(argv, m.database)
	return argv, m.env()
}

func (m *mysql) restoreCmd(in string) ([]string, []string) {
	argv := append([]string{"mysql"}, m.conn()...)
	argv = append(argv, "--database="+m.database, "--execute=source "+in)
	return argv, m.env()
}
