package main

import (
	"context"
	stdlog "log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nikmy/remotetx/internal/api"
	"github.com/nikmy/remotetx/internal/conn"
	"github.com/nikmy/remotetx/internal/engine/memory"
	"github.com/nikmy/remotetx/internal/engine/mongo"
	"github.com/nikmy/remotetx/pkg/errors"
	"github.com/nikmy/remotetx/pkg/logger"
	"github.com/nikmy/remotetx/pkg/txn"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := loadConfig(parseFlags())
	if err != nil {
		stdlog.Panic(errors.WrapFail(err, "load config"))
	}

	log, err := logger.New(cfg.Environment, cfg.Logger)
	if err != nil {
		stdlog.Panic(errors.WrapFail(err, "init logger"))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM, syscall.SIGABRT)
	defer cancel()

	var (
		provider txn.SessionProvider
		runner   api.Runner
		closers  []func(context.Context) error
	)

	switch cfg.Engine.Kind {
	case engineMongo:
		engine, err := mongo.Connect(ctx, log, cfg.Engine.Mongo)
		if err != nil {
			log.Panic(errors.WrapFail(err, "connect to mongo"))
		}
		provider, runner = engine, api.MongoRunner()
		closers = append(closers, engine.Close)
	default:
		provider, runner = memory.New(log, cfg.Engine.Memory), api.MemoryRunner()
	}

	c, err := conn.New(log, cfg.Conn, provider)
	if err != nil {
		log.Panic(errors.WrapFail(err, "open connection"))
	}

	server := api.NewServer(cfg.API, log, c, runner)

	stopped := make(chan struct{})
	context.AfterFunc(ctx, func() {
		defer close(stopped)
		stdlog.Println("Graceful shutdown...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		err := server.Shutdown(shutdownCtx)
		for _, closeFn := range closers {
			err = errors.Join(err, closeFn(shutdownCtx))
		}
		if err != nil {
			log.Error(errors.WrapFail(err, "shutdown"))
		}
	})

	stdlog.Printf("Console is listening on %s", cfg.API.HTTP.Addr)
	err = server.Serve(ctx)
	if err != nil && ctx.Err() == nil {
		log.Panic(errors.WrapFail(err, "serve"))
	}

	<-stopped
	stdlog.Println("Shutdown complete")
}
