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

// Package connbuf is the per-connection read buffer the worker pool uses
// to pull CRLF-delimited command lines and fixed-length binary frames
// out of a single client socket. Two wire grammars share one stream
// (text commands and the bget/bset/bkeys binary frames), which is why
// this buffer exposes both a line reader and raw integer/byte readers
// instead of a single delimiter abstraction.
package connbuf

import (
	"bufio"
	"encoding/binary"
	"io"
	"net"
	"time"
)

// DefaultSize is the buffer capacity hint, matching the 8-16 KiB window
// named in the specification's data model.
const DefaultSize = 16 * 1024

// Buffer wraps one client connection with a buffered reader plus the
// line/frame extraction primitives the command dispatcher needs.
type Buffer struct {
	conn net.Conn
	r    *bufio.Reader
}

// New wraps conn with a read buffer of DefaultSize.
func New(conn net.Conn) *Buffer {
	return &Buffer{conn: conn, r: bufio.NewReaderSize(conn, DefaultSize)}
}

// Conn returns the underlying connection, e.g. for RemoteAddr/Close.
func (b *Buffer) Conn() net.Conn {
	return b.conn
}

// Buffered reports whether unconsumed bytes remain without blocking;
// the worker uses it to decide whether to keep servicing the same
// connection or return it to the reactor.
func (b *Buffer) Buffered() bool {
	return b.r.Buffered() > 0
}

// ReadLine reads up to limit bytes looking for a trailing "\r\n". It
// returns the line with the terminator stripped and found=true on
// success. If limit is reached first, found is false and the caller is
// expected to call DrainLine to discard the remainder of the oversized
// line. err is only non-nil on a transport failure (including EOF).
func (b *Buffer) ReadLine(limit int) (line []byte, found bool, err error) {
	buf := make([]byte, 0, 128)
	for len(buf) < limit {
		c, e := b.r.ReadByte()
		if e != nil {
			return buf, false, e
		}
		buf = append(buf, c)
		if c == '\n' {
			return trimCRLF(buf), true, nil
		}
	}
	return buf, false, nil
}

// DrainLine discards bytes up to and including the next "\n", or until
// error/EOF. Used after an oversized command line is rejected.
func (b *Buffer) DrainLine() error {
	for {
		c, err := b.r.ReadByte()
		if err != nil {
			return err
		}
		if c == '\n' {
			return nil
		}
	}
}

// ReadExact reads exactly n bytes of body (the data block following a
// storage command's header line).
func (b *Buffer) ReadExact(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(b.r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// ReadByte reads a single byte, used for the bkeys key-size prefix and
// the bget/bset stat byte.
func (b *Buffer) ReadByte() (byte, error) {
	return b.r.ReadByte()
}

// ReadUint32 reads a little-endian u32, as used by the bset size field.
func (b *Buffer) ReadUint32() (uint32, error) {
	buf, err := b.ReadExact(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf), nil
}

// ReadInt64 reads a little-endian i64, as used by the bset cas field.
func (b *Buffer) ReadInt64() (int64, error) {
	buf, err := b.ReadExact(8)
	if err != nil {
		return 0, err
	}
	return int64(binary.LittleEndian.Uint64(buf)), nil
}

// WaitData reports whether at least one byte is available within
// timeout, without consuming it. Used by bset to enforce the
// specification's "absence of data within 3 seconds is a protocol
// error" rule on the binary continuation body.
func (b *Buffer) WaitData(timeout time.Duration) (bool, error) {
	if b.r.Buffered() > 0 {
		return true, nil
	}
	if err := b.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return false, err
	}
	defer b.conn.SetReadDeadline(time.Time{})

	_, err := b.r.Peek(1)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Close closes the underlying connection.
func (b *Buffer) Close() error {
	return b.conn.Close()
}

func trimCRLF(b []byte) []byte {
	n := len(b)
	if n > 0 && b[n-1] == '\n' {
		n--
	}
	if n > 0 && b[n-1] == '\r' {
		n--
	}
	return b[:n]
}
