/*
 * MIT License
 *
 * Copyright (c) 2024 Nicolas JUHEL
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 *
 */

// Package server wires the reactor, the work queue, the connection
// registry and a fixed worker pool into the accept/dispatch/shutdown
// lifecycle: one reactor goroutine multiplexes readiness over every
// open socket, and a fixed pool of workers each drain one connection's
// queued command cycle before giving the fd back to the reactor.
package server

import (
	"context"
	"net"
	"strconv"
	"sync/atomic"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/y10naoki/nestaio/internal/config"
	"github.com/y10naoki/nestaio/internal/connbuf"
	"github.com/y10naoki/nestaio/internal/logger"
	"github.com/y10naoki/nestaio/internal/protocol"
	"github.com/y10naoki/nestaio/internal/queue"
	"github.com/y10naoki/nestaio/internal/reactor"
	"github.com/y10naoki/nestaio/internal/registry"
	"github.com/y10naoki/nestaio/internal/store"
)

// Server owns the listener and every moving part of the request
// pipeline built on top of it.
type Server struct {
	cfg      config.Config
	log      logger.Logger
	handler  *protocol.Handler
	reactor  *reactor.Reactor
	queue    *queue.Queue
	registry *registry.Registry

	listener *net.TCPListener
	listenFD int

	shuttingDown atomic.Bool
}

// New builds a Server bound to st, reporting version on the `version`
// command, configured per cfg.
func New(cfg config.Config, st *store.Store, log logger.Logger, version string) (*Server, error) {
	rx, err := reactor.New()
	if err != nil {
		return nil, err
	}
	return &Server{
		cfg:      cfg,
		log:      log,
		handler:  protocol.New(st, version),
		reactor:  rx,
		queue:    queue.New(),
		registry: registry.New(),
	}, nil
}

// Run listens on cfg.PortNo and blocks until the reactor loop and
// every worker have returned, which happens once a shutdown has been
// requested (via __/shutdown/__, SIGINT/SIGTERM, or ctx cancellation).
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.ListenTCP("tcp", &net.TCPAddr{IP: net.IPv4zero, Port: int(s.cfg.PortNo)})
	if err != nil {
		return err
	}
	s.listener = ln

	fd, err := fdOf(ln)
	if err != nil {
		_ = ln.Close()
		return err
	}
	s.listenFD = fd
	if err := s.reactor.Add(fd); err != nil {
		_ = ln.Close()
		return err
	}

	workers := s.cfg.WorkerThreads
	if workers < 1 {
		workers = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		g.Go(func() error { return s.workerLoop(gctx) })
	}
	reactorDone := make(chan struct{})
	g.Go(func() error {
		defer close(reactorDone)
		return s.reactorLoop()
	})
	g.Go(func() error {
		select {
		case <-gctx.Done():
		case <-reactorDone:
		}
		s.beginShutdown()
		return nil
	})

	return g.Wait()
}

func (s *Server) reactorLoop() error {
	return s.reactor.Loop(s.onReady, s.shuttingDown.Load)
}

func (s *Server) onReady(fd int) {
	if fd == s.listenFD {
		s.acceptOne()
		return
	}
	s.queue.Push(queue.Item{FD: fd})
}

func (s *Server) acceptOne() {
	defer func() { _ = s.reactor.Enable(s.listenFD) }()

	conn, err := s.listener.Accept()
	if err != nil {
		return
	}

	// A shutdown already in progress means this socket is either the
	// wakeListener self-connect or a client that raced the listener
	// close; neither should be registered, or its fd and registry
	// entry would simply be abandoned once the reactor loop exits.
	if s.shuttingDown.Load() {
		_ = conn.Close()
		return
	}

	fd, err := fdOf(conn.(syscall.Conn))
	if err != nil {
		_ = conn.Close()
		return
	}

	s.registry.Add(fd, &registry.Conn{FD: fd, Peer: conn.RemoteAddr(), Buf: connbuf.New(conn)})
	s.log.Trace("accepted connection fd=%d peer=%s", fd, conn.RemoteAddr())

	if err := s.reactor.Add(fd); err != nil {
		s.registry.Remove(fd)
		_ = conn.Close()
	}
}

func (s *Server) workerLoop(ctx context.Context) error {
	for {
		item, ok := s.queue.Pop()
		if !ok {
			return nil
		}
		s.serviceOnce(item.FD)
	}
}

func (s *Server) serviceOnce(fd int) {
	c, ok := s.registry.Get(fd)
	if !ok {
		return
	}

	flags := s.handler.Serve(c.Buf, c.Peer)

	if flags&protocol.FlagShutdown != 0 {
		s.beginShutdown()
	}

	if flags&protocol.FlagClose != 0 {
		s.closeConn(fd)
		return
	}
	if err := s.reactor.Enable(fd); err != nil {
		s.closeConn(fd)
	}
}

func (s *Server) closeConn(fd int) {
	c, ok := s.registry.Remove(fd)
	if !ok {
		return
	}
	_ = s.reactor.Remove(fd)
	_ = c.Buf.Close()
}

// beginShutdown arms the one-shot shutdown flag and wakes the reactor:
// since the listener fd is just another epoll registrant, a loopback
// self-connect produces an ordinary readiness event for it, so no
// signal or pipe trick is needed to break EpollWait out of its block.
func (s *Server) beginShutdown() {
	if s.shuttingDown.Swap(true) {
		return
	}
	s.queue.Close()
	go s.wakeListener()
}

func (s *Server) wakeListener() {
	addr, ok := s.listener.Addr().(*net.TCPAddr)
	if !ok {
		return
	}
	conn, err := net.Dial("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(addr.Port)))
	if err != nil {
		return
	}
	_ = conn.Close()
}

// Close releases the reactor's epoll instance and the listener socket.
func (s *Server) Close() error {
	_ = s.reactor.Close()
	if s.listener != nil {
		return s.listener.Close()
	}
	return nil
}

// Addr returns the bound listener address; callers use it to discover
// the ephemeral port chosen when PortNo is 0, e.g. in tests.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

func fdOf(c syscall.Conn) (int, error) {
	rc, err := c.SyscallConn()
	if err != nil {
		return 0, err
	}
	var fd int
	ctlErr := rc.Control(func(f uintptr) { fd = int(f) })
	if ctlErr != nil {
		return 0, ctlErr
	}
	return fd, nil
}
