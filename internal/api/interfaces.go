package api

import (
	"context"

	"github.com/nikmy/remotetx/internal/conn"
)

type Server interface {
	Serve(ctx context.Context) error
	Shutdown(ctx context.Context) error
}

// Runner turns a request body into a query for the engine behind the
// connection; result is read after the query has run.
type Runner func(body []byte) (query conn.QueryFunc, result func() any, err error)
