package serve

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bodasure/bodasure-backend/pkg/log"
)

// Config describes one HTTP listener: the address, the handler, the timeout
// budget, and the lifecycle hooks.
type Config struct {
	ListenAddr          string
	Handler             http.Handler
	TCPKeepAlive        time.Duration
	ShutdownGracePeriod time.Duration
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	IdleTimeout         time.Duration
	OnStarting          func()
	OnStopping          func()
}

type HTTPServerInterface interface {
	Run(conf Config)
}

// HTTPServer runs a net/http server until SIGINT/SIGTERM, then drains it
// within the configured grace period.
type HTTPServer struct{}

func (h *HTTPServer) Run(conf Config) {
	server := &http.Server{
		Addr:         conf.ListenAddr,
		Handler:      conf.Handler,
		ReadTimeout:  conf.ReadTimeout,
		WriteTimeout: conf.WriteTimeout,
		IdleTimeout:  conf.IdleTimeout,
	}

	if conf.OnStarting != nil {
		conf.OnStarting()
	}

	listenConfig := net.ListenConfig{KeepAlive: conf.TCPKeepAlive}
	listener, err := listenConfig.Listen(context.Background(), "tcp", conf.ListenAddr)
	if err != nil {
		log.Fatalf("listening on %s: %v", conf.ListenAddr, err)
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.Serve(listener)
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err = <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("running HTTP server on %s: %v", conf.ListenAddr, err)
		}
		return
	case <-stop:
	}

	if conf.OnStopping != nil {
		conf.OnStopping()
	}

	gracePeriod := conf.ShutdownGracePeriod
	if gracePeriod <= 0 {
		gracePeriod = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), gracePeriod)
	defer cancel()

	if err = server.Shutdown(shutdownCtx); err != nil {
		log.Errorf("shutting down HTTP server on %s: %v", conf.ListenAddr, err)
	}
}
