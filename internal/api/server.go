package api

import (
	"context"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nikmy/remotetx/internal/conn"
	"github.com/nikmy/remotetx/pkg/errors"
	"github.com/nikmy/remotetx/pkg/logger"
	"github.com/nikmy/remotetx/pkg/tools/serial"
	"github.com/nikmy/remotetx/pkg/txn"
)

func NewServer(cfg Config, log logger.Logger, c *conn.Conn, run Runner) Server {
	serveLog := log.With("api_http_server")

	fiberCfg := fiber.Config{
		ReadTimeout:             cfg.HTTP.ReadTimeout,
		WriteTimeout:            cfg.HTTP.WriteTimeout,
		IdleTimeout:             cfg.HTTP.IdleTimeout,
		DisableStartupMessage:   true,
		EnableTrustedProxyCheck: len(cfg.Proxy.Trusted) > 0,
		ProxyHeader:             cfg.Proxy.Header,
		TrustedProxies:          cfg.Proxy.Trusted,
		RequestMethods: []string{
			fiber.MethodHead, fiber.MethodGet, fiber.MethodPost, fiber.MethodPut, fiber.MethodDelete,
		},
	}

	fiberCfg.ErrorHandler = func(c *fiber.Ctx, err error) error {
		serveLog.Warn(errors.WrapFail(err, "handle http request"))
		return c.Status(statusOf(err)).JSON(map[string]string{"status": "ERROR", "message": err.Error()})
	}

	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 64
	}

	requestTimeout := cfg.RequestTimeout
	if requestTimeout <= 0 {
		requestTimeout = defaultRequestTimeout
	}

	s := &server{
		conn:    c,
		timeout: requestTimeout,
		run:     run,
		http:    fiber.New(fiberCfg),
		addr:    cfg.HTTP.Addr,
		log:     serveLog,
	}

	// every touch of the connection happens on the executor goroutine
	s.exec = serial.New(queueSize, cfg.KeepAliveInterval, s.keepAlive)

	s.setupRoutes()

	return s
}

const defaultRequestTimeout = 30 * time.Second

type server struct {
	conn    *conn.Conn
	timeout time.Duration
	exec    *serial.Executor
	run     Runner
	http    *fiber.App
	addr    string
	log     logger.Logger
	started atomic.Bool
}

type stateView struct {
	Open       bool   `json:"open"`
	AutoCommit bool   `json:"autoCommit"`
	Isolation  string `json:"isolation"`
	ReadOnly   bool   `json:"readOnly"`
	TxID       string `json:"txId,omitempty"`
}

func (s *server) Serve(ctx context.Context) error {
	s.exec.Run(ctx)
	s.started.Store(true)

	errCh := make(chan error)
	go func() { errCh <- s.http.Listen(s.addr) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return errors.Error("serve context done")
	}
}

func (s *server) Shutdown(ctx context.Context) error {
	var errs []error

	err := s.http.ShutdownWithContext(ctx)
	if err != nil {
		errs = append(errs, errors.WrapFail(err, "shutdown http server"))
	}

	if s.started.Load() {
		select {
		case <-s.exec.Done():
		case <-ctx.Done():
			errs = append(errs, errors.WrapFail(ctx.Err(), "wait for connection executor"))
			return errors.Collapse(errs)
		}
	}
	s.conn.Close(ctx)

	return errors.Collapse(errs)
}

func (s *server) setupRoutes() {
	s.http.Get("/state", s.handleState)
	s.http.Put("/autocommit", s.handleAutoCommit)
	s.http.Put("/isolation", s.handleIsolation)
	s.http.Put("/readonly", s.handleReadOnly)
	s.http.Post("/commit", s.handleCommit)
	s.http.Post("/rollback", s.handleRollback)
	s.http.Post("/query", s.handleQuery)
	s.http.Get("/health", s.handleHealth)
	s.http.Delete("/conn", s.handleClose)
	s.http.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))
}

func (s *server) keepAlive(ctx context.Context) {
	if s.conn.IsClosed() {
		return
	}
	if !s.conn.IsValid(ctx, 0) {
		s.log.Warnf("connection keep-alive failed")
	}
}

// do runs fn on the connection goroutine. fn must not touch c, the
// request may be gone by the time a timed out fn runs.
func (s *server) do(c *fiber.Ctx, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), s.timeout)
	defer cancel()

	errCh := make(chan error, 1)
	if !s.exec.Do(ctx, func() { errCh <- fn(ctx) }) {
		return s.sendError(c, http.StatusServiceUnavailable, "connection is busy")
	}
	return <-errCh
}

func (s *server) handleState(c *fiber.Ctx) error {
	var view stateView

	err := s.do(c, func(context.Context) error {
		if s.conn.IsClosed() {
			return nil
		}

		view.Open = true
		view.TxID, _ = s.conn.TransactionID()

		var err error
		view.AutoCommit, err = s.conn.AutoCommit()
		if err != nil {
			return err
		}

		level, err := s.conn.TransactionIsolation()
		if err != nil {
			return err
		}
		view.Isolation = level.String()
		view.ReadOnly = level.ReadOnly()
		return nil
	})
	if err != nil {
		return err
	}

	return c.Status(http.StatusOK).JSON(view)
}

func (s *server) handleAutoCommit(c *fiber.Ctx) error {
	value, err := s.getBoolOrErr(c, "value")
	if err != nil {
		s.log.Warn(err)
		return s.sendError(c, http.StatusBadRequest, err.Error())
	}

	err = s.do(c, func(context.Context) error { return s.conn.SetAutoCommit(value) })
	if err != nil {
		return errors.WrapFail(err, "set autocommit")
	}

	return c.Status(http.StatusOK).Send(nil)
}

func (s *server) handleReadOnly(c *fiber.Ctx) error {
	value, err := s.getBoolOrErr(c, "value")
	if err != nil {
		s.log.Warn(err)
		return s.sendError(c, http.StatusBadRequest, err.Error())
	}

	err = s.do(c, func(context.Context) error { return s.conn.SetReadOnly(value) })
	if err != nil {
		return errors.WrapFail(err, "set read only")
	}

	return c.Status(http.StatusOK).Send(nil)
}

func (s *server) handleIsolation(c *fiber.Ctx) error {
	level, err := txn.ParseIsolationLevel(c.Query("level", ""))
	if err != nil {
		return errors.WrapFail(err, "parse isolation level")
	}

	err = s.do(c, func(context.Context) error { return s.conn.SetTransactionIsolation(level) })
	if err != nil {
		return errors.WrapFail(err, "set isolation")
	}

	return c.Status(http.StatusOK).Send(nil)
}

func (s *server) handleCommit(c *fiber.Ctx) error {
	err := s.do(c, func(ctx context.Context) error { return s.conn.Commit(ctx) })
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).Send(nil)
}

func (s *server) handleRollback(c *fiber.Ctx) error {
	err := s.do(c, func(ctx context.Context) error { return s.conn.Rollback(ctx) })
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).Send(nil)
}

func (s *server) handleQuery(c *fiber.Ctx) error {
	query, result, err := s.run(c.Body())
	if err != nil {
		s.log.Warn(err)
		return s.sendError(c, http.StatusBadRequest, "bad query payload")
	}

	var txID string
	err = s.do(c, func(ctx context.Context) error {
		err := s.conn.Query(ctx, query)
		txID, _ = s.conn.TransactionID()
		return err
	})
	if err != nil {
		return err
	}

	return c.Status(http.StatusOK).JSON(map[string]any{"result": result(), "txId": txID})
}

func (s *server) handleHealth(c *fiber.Ctx) error {
	timeout, err := time.ParseDuration(c.Query("timeout", "0s"))
	if err != nil {
		return s.sendError(c, http.StatusBadRequest, "bad \"timeout\" param")
	}

	var valid bool
	err = s.do(c, func(ctx context.Context) error {
		valid = s.conn.IsValid(ctx, timeout)
		return nil
	})
	if err != nil {
		return err
	}

	status := http.StatusOK
	if !valid {
		status = http.StatusServiceUnavailable
	}
	return c.Status(status).JSON(map[string]bool{"valid": valid})
}

func (s *server) handleClose(c *fiber.Ctx) error {
	err := s.do(c, func(ctx context.Context) error {
		s.conn.Close(ctx)
		return nil
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).Send(nil)
}

func (s *server) sendError(c *fiber.Ctx, status int, msg string) error {
	return c.Status(status).JSON(map[string]string{"status": "ERROR", "message": msg})
}

func (s *server) getBoolOrErr(c *fiber.Ctx, param string) (bool, error) {
	raw := c.Query(param, "")
	if raw == "" {
		return false, errors.Errorf("got empty %q param", param)
	}

	value, err := strconv.ParseBool(raw)
	if err != nil {
		return false, errors.WrapFailf(err, "parse %q param", param)
	}
	return value, nil
}

func statusOf(err error) int {
	var fiberErr *fiber.Error

	switch {
	case errors.As(err, &fiberErr):
		return fiberErr.Code
	case errors.Is(err, txn.ErrChangeInsideTransaction):
		return http.StatusConflict
	case errors.Is(err, txn.ErrUnsupportedIsolationLevel):
		return http.StatusBadRequest
	case errors.Is(err, txn.ErrConnectionClosed):
		return http.StatusGone
	case errors.Is(err, txn.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
