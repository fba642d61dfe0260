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

// Package protocol parses one command line at a time off a connection
// buffer, classifies it, and dispatches to the storage, replication or
// admin handler that implements its reply grammar. One Serve call runs
// every command cycle a worker owes a connection before handing it back
// to the reactor.
package protocol

import (
	"bytes"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/y10naoki/nestaio/internal/connbuf"
	"github.com/y10naoki/nestaio/internal/store"
)

// Flag bits returned by Serve, matching the worker's decision points in
// the specification's state machine: close the socket, and/or begin
// process shutdown.
const (
	FlagNone     = 0
	FlagClose    = 1 << 0
	FlagShutdown = 1 << 1
)

const maxLineLen = 8192

// bsetTimeout bounds how long handleBSet will wait for the binary body
// that follows a "bset <key>" line. Declared as a var (not const) so
// tests can shrink it rather than waiting out the real timeout.
var bsetTimeout = 3 * time.Second

const (
	replStored    = "STORED\r\n"
	replNotStored = "NOT_STORED\r\n"
	replExists    = "EXISTS\r\n"
	replNotFound  = "NOT_FOUND\r\n"
	replDeleted   = "DELETED\r\n"
	replError     = "ERROR\r\n"
	replEnd       = "END\r\n"
	replOK        = "OK\r\n"
)

// Handler holds the state shared by every command on every connection:
// the backing store and the program version string reported by
// `version`. It carries no per-connection state.
type Handler struct {
	Store   *store.Store
	Version string
}

// New builds a Handler over st, reporting version for the `version`
// command.
func New(st *store.Store, version string) *Handler {
	return &Handler{Store: st, Version: version}
}

// Serve runs command cycles on buf until the connection should close or
// no more bytes are buffered, per the worker's loop in the
// specification (run while the buffer still has queued bytes; a single
// cycle failing to find the command terminator emits ERROR and
// continues rather than closing).
func (h *Handler) Serve(buf *connbuf.Buffer, peer net.Addr) int {
	for {
		flags := h.once(buf, peer)
		if flags&FlagClose != 0 {
			return flags
		}
		if !buf.Buffered() {
			return flags
		}
	}
}

func (h *Handler) once(buf *connbuf.Buffer, peer net.Addr) int {
	line, found, err := buf.ReadLine(maxLineLen)
	if err != nil {
		// FIN or transport failure: close silently, no reply.
		return FlagClose
	}
	if !found {
		_ = buf.DrainLine()
		buf.Conn().Write([]byte(replError))
		return FlagNone
	}
	if len(line) == 0 {
		return FlagNone
	}

	raw := string(line)
	tokens := strings.Fields(raw)
	if len(tokens) == 0 {
		return FlagNone
	}

	switch tokens[0] {
	case "__/status/__":
		return h.handleStatus(buf, peer)
	case "__/shutdown/__":
		return h.handleShutdown(buf, peer)
	}

	cmd := strings.ToLower(tokens[0])
	switch cmd {
	case "set", "add", "replace", "append", "prepend":
		return h.handleStore(buf, cmd, tokens)
	case "cas":
		return h.handleCAS(buf, tokens)
	case "get", "gets":
		return h.handleGet(buf, cmd, tokens)
	case "delete":
		return h.handleDelete(buf, tokens)
	case "incr", "decr":
		return h.handleIncrDecr(buf, cmd, tokens)
	case "flush_all":
		return h.handleFlushAll(buf)
	case "stats":
		buf.Conn().Write([]byte("\r\n"))
		return FlagNone
	case "version":
		buf.Conn().Write([]byte(h.Version + "\r\n"))
		return FlagNone
	case "verbosity":
		buf.Conn().Write([]byte(replOK))
		return FlagNone
	case "quit":
		return FlagClose
	case "bget":
		return h.handleBGet(buf, tokens)
	case "bset":
		return h.handleBSet(buf, tokens)
	case "bkeys":
		return h.handleBKeys(buf, tokens)
	default:
		buf.Conn().Write([]byte(replError))
		return FlagNone
	}
}

func isNoReply(tokens []string, idx int) bool {
	return idx < len(tokens) && tokens[idx] == "noreply"
}

func reply(buf *connbuf.Buffer, noreply bool, s string) {
	if noreply {
		return
	}
	buf.Conn().Write([]byte(s))
}

func clientError(buf *connbuf.Buffer, noreply bool, detail string) {
	reply(buf, noreply, "CLIENT_ERROR "+detail+"\r\n")
}

func serverError(buf *connbuf.Buffer, noreply bool, detail string) {
	reply(buf, noreply, "SERVER_ERROR "+detail+"\r\n")
}

func parseUint32(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, err
	}
	return uint32(v), nil
}

func parseInt64(s string) (int64, error) {
	return strconv.ParseInt(s, 10, 64)
}

// readBody consumes exactly n bytes of value data followed by the
// mandatory "\r\n" terminator. ok is false (with no transport error) if
// the terminator bytes were not "\r\n" -- the client's declared length
// did not match the body it sent.
func readBody(buf *connbuf.Buffer, n int) (data []byte, ok bool, err error) {
	data, err = buf.ReadExact(n)
	if err != nil {
		return nil, false, err
	}
	trailer, err := buf.ReadExact(2)
	if err != nil {
		return nil, false, err
	}
	if trailer[0] != '\r' || trailer[1] != '\n' {
		_ = buf.DrainLine()
		return data, false, nil
	}
	return data, true, nil
}

func validKey(key string) bool {
	return len(key) > 0 && len(key) <= 250 && !bytes.ContainsAny([]byte(key), " \t")
}
