package main

import (
	"bufio"
	"context"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"kaka.lopezb.com/internal/kaka/engine"
)

const (
	writeTimeout              = 5 * time.Second
	rejectionTimeout          = 500 * time.Millisecond
	errMaxConnectionsResponse = "ERR max number of clients reached\n"
)

// serverConfig is the slice of config.Server the listener needs.
type serverConfig struct {
	addr            string
	maxConnections  int
	idleTimeout     time.Duration
	shutdownTimeout time.Duration
	snapshotPath    string
}

type application struct {
	config      serverConfig
	logger      zerolog.Logger
	engine      *engine.Engine
	listener    net.Listener
	router      *Router
	metrics     *Metrics
	readyCh     chan struct{}
	wg          sync.WaitGroup
	connLimiter chan struct{}
	isSaving    atomic.Bool
	lastSave    atomic.Int64 // unix seconds
}

func newApplication(cfg serverConfig, e *engine.Engine, logger zerolog.Logger, m *Metrics) *application {
	app := &application{
		config:      cfg,
		logger:      logger,
		engine:      e,
		metrics:     m,
		connLimiter: make(chan struct{}, cfg.maxConnections),
	}
	app.router = app.commands()
	return app
}

// serve accepts connections until ctx is cancelled, then stops accepting and
// waits up to shutdownTimeout for open connections to drain.
//
// The connection limit is a buffered channel used as a semaphore: a slot is
// taken with a non-blocking send, and a client arriving at the limit gets one
// error line and is closed without being handed to a goroutine.
func (app *application) serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", app.config.addr)
	if err != nil {
		return err
	}
	app.listener = ln
	addr := ln.Addr().String()
	log := app.logger.With().Str("address", addr).Logger()

	if app.readyCh != nil {
		close(app.readyCh)
	}

	shutdownError := make(chan error, 1)
	go func() {
		<-ctx.Done()
		log.Info().Msg("shutting down server")

		tctx, cancel := context.WithTimeout(context.Background(), app.config.shutdownTimeout)
		defer cancel()

		if err := ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			shutdownError <- err
			return
		}

		drained := make(chan struct{})
		go func() {
			app.wg.Wait()
			close(drained)
		}()
		select {
		case <-drained:
			shutdownError <- nil
		case <-tctx.Done():
			shutdownError <- tctx.Err()
		}
	}()

	log.Info().Int("max_connections", app.config.maxConnections).Msg("server starting")

	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				break
			}
			log.Error().Err(err).Msg("failed to accept connection")
			continue
		}

		select {
		case app.connLimiter <- struct{}{}:
			app.wg.Add(1)
			go app.handleConnection(conn)
		default:
			app.metrics.Rejected.Add(1)
			log.Warn().Str("remote_addr", conn.RemoteAddr().String()).Msg("rejecting connection, limit reached")
			_ = conn.SetWriteDeadline(time.Now().Add(rejectionTimeout))
			_, _ = conn.Write([]byte(errMaxConnectionsResponse))
			_ = conn.Close()
		}
	}

	// The listener can also be closed directly (tests do this); only wait for
	// the drain result when shutdown was requested.
	if ctx.Err() == nil {
		return nil
	}
	if err := <-shutdownError; err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			log.Warn().Msg("shutdown timeout, abandoning open connections")
			return nil
		}
		log.Error().Err(err).Msg("server stopped with error")
		return err
	}
	log.Info().Msg("server stopped gracefully")
	return nil
}

// handleConnection runs the read-dispatch loop for one client. Replies are
// buffered and flushed only once the parser has nothing left to read, so a
// pipelined batch is answered with one write.
func (app *application) handleConnection(conn net.Conn) {
	defer func() { <-app.connLimiter }()
	defer app.wg.Done()
	defer func() { _ = conn.Close() }()

	app.metrics.TotalConnections.Add(1)
	log := app.logger.With().Str("remote_addr", conn.RemoteAddr().String()).Logger()
	log.Debug().Msg("new connection")

	parser := NewParser(conn)
	writer := bufio.NewWriterSize(conn, 4096)
	defer func() { _ = writer.Flush() }()

	for {
		if app.config.idleTimeout > 0 {
			if err := conn.SetReadDeadline(time.Now().Add(app.config.idleTimeout)); err != nil {
				log.Error().Err(err).Msg("failed to set read deadline")
				return
			}
		}

		parts, err := parser.Parse()
		if err != nil {
			if errors.Is(err, io.EOF) {
				log.Debug().Msg("client disconnected")
				return
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				log.Debug().Msg("idle timeout")
				return
			}
			// Tell the client what went wrong before hanging up.
			_ = app.writeErrorResponse(writer, err.Error())
			log.Warn().Err(err).Msg("parser error")
			return
		}

		app.router.Dispatch(app, writer, parts)

		if parser.Buffered() == 0 {
			if err := conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
				return
			}
			if err := writer.Flush(); err != nil {
				log.Error().Err(err).Msg("failed to flush response")
				return
			}
		}
	}
}
