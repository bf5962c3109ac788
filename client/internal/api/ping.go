package api

import (
	"context"
	"net/http"
)

type Pinger interface {
	Ping(ctx context.Context, cfg Config) error
}

type pinger struct{}

func NewPinger() Pinger {
	return pinger{}
}

// Ping checks the server is reachable and accepts the credentials in cfg.
func (pinger) Ping(ctx context.Context, cfg Config) error {
	c := NewClient(cfg)
	if err := c.Do(ctx, Params{Method: http.MethodGet, Path: "h"}); err != nil {
		return err
	}
	return c.Do(ctx, Params{Method: http.MethodGet, Path: "dashboard"})
}
