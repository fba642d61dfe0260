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

package protocol

import (
	"bytes"
	"encoding/binary"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/y10naoki/nestaio/internal/connbuf"
	"github.com/y10naoki/nestaio/internal/store"
)

func newTestHandler(t *testing.T) *Handler {
	t.Helper()
	st, err := store.Open("", 0)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return New(st, "test")
}

func pipePair(t *testing.T) (client net.Conn, buf *connbuf.Buffer) {
	t.Helper()
	c, s := net.Pipe()
	t.Cleanup(func() { _ = c.Close(); _ = s.Close() })
	return c, connbuf.New(s)
}

func TestHandleBGetMissingKey(t *testing.T) {
	h := newTestHandler(t)
	client, buf := pipePair(t)

	done := make(chan struct{})
	go func() {
		h.handleBGet(buf, []string{"bget", "ghost"})
		close(done)
	}()

	out := make([]byte, 1)
	if _, err := client.Read(out); err != nil {
		t.Fatalf("read: %v", err)
	}
	<-done
	if out[0] != 'n' {
		t.Fatalf("want 'n', got %q", out[0])
	}
}

func TestHandleBGetReturnsRecordAndCAS(t *testing.T) {
	h := newTestHandler(t)
	cas := h.Store.Set("widget", []byte("hello world"))

	client, buf := pipePair(t)
	done := make(chan struct{})
	go func() {
		h.handleBGet(buf, []string{"bget", "widget"})
		close(done)
	}()

	header := make([]byte, 1+4+1+8)
	if _, err := readFull(client, header); err != nil {
		t.Fatalf("read header: %v", err)
	}

	if header[0] != 'V' {
		t.Fatalf("want frame tag 'V', got %q", header[0])
	}
	size := binary.LittleEndian.Uint32(header[1:5])
	stat := header[5]
	gotCAS := int64(binary.LittleEndian.Uint64(header[6:14]))
	if gotCAS != cas {
		t.Fatalf("cas: want %d got %d", cas, gotCAS)
	}
	if stat&replZBit != 0 {
		t.Fatalf("small payload should not be compressed")
	}

	payload := make([]byte, size)
	if _, err := readFull(client, payload); err != nil {
		t.Fatalf("read payload: %v", err)
	}
	<-done
	if string(payload) != "hello world" {
		t.Fatalf("payload: got %q", payload)
	}
}

func TestHandleBSetPreservesCAS(t *testing.T) {
	h := newTestHandler(t)
	client, buf := pipePair(t)

	frame := new(bytes.Buffer)
	payload := []byte("peer-value")
	binary.Write(frame, binary.LittleEndian, uint32(len(payload)))
	frame.WriteByte(0)
	binary.Write(frame, binary.LittleEndian, int64(4242))
	frame.Write(payload)

	done := make(chan int)
	go func() {
		done <- h.handleBSet(buf, []string{"bset", "widget"})
	}()

	if _, err := client.Write(frame.Bytes()); err != nil {
		t.Fatalf("write: %v", err)
	}

	reply := make([]byte, 2)
	if _, err := readFull(client, reply); err != nil {
		t.Fatalf("read reply: %v", err)
	}
	flags := <-done
	if flags != FlagNone {
		t.Fatalf("flags: want FlagNone got %d", flags)
	}
	if string(reply) != "OK" {
		t.Fatalf("reply: want OK got %q", reply)
	}

	value, cas, ok := h.Store.Get("widget")
	if !ok {
		t.Fatalf("widget not stored")
	}
	if cas != 4242 {
		t.Fatalf("cas: want 4242 got %d", cas)
	}
	if string(value) != "peer-value" {
		t.Fatalf("value: got %q", value)
	}
}

func TestHandleBSetTimesOutWithoutBody(t *testing.T) {
	origTimeout := bsetTimeout
	bsetTimeout = 30 * time.Millisecond
	defer func() { bsetTimeout = origTimeout }()

	h := newTestHandler(t)
	client, buf := pipePair(t)
	// handleBSet writes "ER" before returning; net.Pipe is unbuffered, so
	// the reply must be read for that write to complete.
	go func() { _, _ = readFull(client, make([]byte, 2)) }()

	flags := h.handleBSet(buf, []string{"bset", "widget"})
	if flags&FlagClose == 0 {
		t.Fatalf("want FlagClose on timeout, got %d", flags)
	}
}

func TestHandleBKeysStreamsAndTerminates(t *testing.T) {
	h := newTestHandler(t)
	h.Store.Set("alpha", []byte("1"))
	h.Store.Set("beta", []byte("2"))

	client, buf := pipePair(t)
	done := make(chan struct{})
	go func() {
		h.handleBKeys(buf, []string{"bkeys"})
		close(done)
	}()

	var got []string
	for {
		sizeByte := make([]byte, 1)
		if _, err := readFull(client, sizeByte); err != nil {
			t.Fatalf("read size: %v", err)
		}
		if sizeByte[0] == 0 {
			break
		}
		key := make([]byte, sizeByte[0])
		if _, err := readFull(client, key); err != nil {
			t.Fatalf("read key: %v", err)
		}
		got = append(got, string(key))
	}
	<-done

	want := map[string]bool{"alpha": true, "beta": true}
	if len(got) != 2 {
		t.Fatalf("want 2 keys, got %v", got)
	}
	for _, k := range got {
		if !want[k] {
			t.Fatalf("unexpected key %q", k)
		}
	}
}

func TestHandleBGetCompressesLargePayload(t *testing.T) {
	h := newTestHandler(t)
	big := []byte(strings.Repeat("a", 4096))
	h.Store.Set("blob", big)

	client, buf := pipePair(t)
	done := make(chan struct{})
	go func() {
		h.handleBGet(buf, []string{"bget", "blob"})
		close(done)
	}()

	header := make([]byte, 1+4+1+8)
	if _, err := readFull(client, header); err != nil {
		t.Fatalf("read header: %v", err)
	}
	stat := header[5]
	size := binary.LittleEndian.Uint32(header[1:5])
	payload := make([]byte, size)
	if _, err := readFull(client, payload); err != nil {
		t.Fatalf("read payload: %v", err)
	}
	<-done

	if stat&replZBit == 0 {
		t.Fatalf("highly compressible large payload should set the Z bit")
	}
	if int(size) >= len(big) {
		t.Fatalf("compressed size %d should be smaller than original %d", size, len(big))
	}
}

func readFull(c net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := c.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
