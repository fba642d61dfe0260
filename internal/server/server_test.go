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

package server

import (
	"bufio"
	"context"
	"net"
	"testing"
	"time"

	"github.com/y10naoki/nestaio/internal/config"
	"github.com/y10naoki/nestaio/internal/logger"
	"github.com/y10naoki/nestaio/internal/store"
)

func startTestServer(t *testing.T) (*Server, func()) {
	t.Helper()

	st, err := store.Open("", 0)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}

	lg, err := logger.New(logger.Options{})
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}

	cfg := config.Default()
	cfg.PortNo = 0
	cfg.WorkerThreads = 2

	srv, err := New(cfg, st, lg, "test-1.0")
	if err != nil {
		t.Fatalf("server.New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)

	// Run binds the listener synchronously before the accept loop
	// starts, but since binding happens inside Run itself, poll the
	// listener field briefly before dialing.
	go func() { errCh <- srv.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for srv.listener == nil {
		if time.Now().After(deadline) {
			t.Fatalf("server did not bind in time")
		}
		time.Sleep(time.Millisecond)
	}

	cleanup := func() {
		cancel()
		_ = srv.Close()
		<-errCh
		_ = st.Close()
	}
	return srv, cleanup
}

func TestServerSetGetRoundTrip(t *testing.T) {
	srv, cleanup := startTestServer(t)
	defer cleanup()

	conn, err := net.Dial("tcp", srv.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	r := bufio.NewReader(conn)

	if _, err := conn.Write([]byte("set widget 0 0 5\r\nhello\r\n")); err != nil {
		t.Fatalf("write set: %v", err)
	}
	line, err := r.ReadString('\n')
	if err != nil {
		t.Fatalf("read set reply: %v", err)
	}
	if line != "STORED\r\n" {
		t.Fatalf("set reply: got %q", line)
	}

	if _, err := conn.Write([]byte("get widget\r\n")); err != nil {
		t.Fatalf("write get: %v", err)
	}
	header, err := r.ReadString('\n')
	if err != nil {
		t.Fatalf("read get header: %v", err)
	}
	if header != "VALUE widget 0 5\r\n" {
		t.Fatalf("get header: got %q", header)
	}
	data := make([]byte, 5)
	if _, err := r.Read(data); err != nil {
		t.Fatalf("read get data: %v", err)
	}
	if string(data) != "hello" {
		t.Fatalf("get data: got %q", data)
	}
}

func TestServerShutdownViaLoopbackCommand(t *testing.T) {
	srv, cleanup := startTestServer(t)
	defer cleanup()

	conn, err := net.Dial("tcp", srv.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte("__/shutdown/__\r\n")); err != nil {
		t.Fatalf("write shutdown: %v", err)
	}

	r := bufio.NewReader(conn)
	line, err := r.ReadString('\n')
	if err != nil {
		t.Fatalf("read shutdown reply: %v", err)
	}
	if line != "stopped.\r\n" {
		t.Fatalf("shutdown reply: got %q", line)
	}

	deadline := time.Now().Add(2 * time.Second)
	for !srv.shuttingDown.Load() {
		if time.Now().After(deadline) {
			t.Fatalf("server never entered shutdown")
		}
		time.Sleep(time.Millisecond)
	}
}
