package integrations

import (
	"context"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
	"strings"
	"time"
)

// Pinger answers whether the datastore being backed up is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type pgPinger struct {
	dsn string
}

func NewPinger(dsn string) Pinger {
	return &pgPinger{dsn: dsn}
}

func (p *pgPinger) Ping(ctx context.Context) error {
	if p.dsn == "" {
		return errors.New("datastore is not configured")
	}
	if !strings.HasPrefix(p.dsn, "postgres://") && !strings.HasPrefix(p.dsn, "postgresql://") {
		return errors.New("datastore ping supports postgres only")
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	conn, err := pgx.Connect(ctx, p.dsn)
	if err != nil {
		return errors.Wrap(err, "failed to connect to datastore")
	}
	defer conn.Close(context.Background())

	var one int
	if err := conn.QueryRow(ctx, "SELECT 1").Scan(&one); err != nil {
		return errors.Wrap(err, "datastore query failed")
	}
	return nil
}
