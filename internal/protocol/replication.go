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
	"io"

	"github.com/klauspost/compress/zlib"

	"github.com/y10naoki/nestaio/internal/connbuf"
)

// replZBit marks a bget/bset payload as zlib-compressed in the stat byte.
const replZBit = 1 << 0

// bgetCompressThreshold is the payload length above which compression
// is worth attempting; the specification fixes it at 255 bytes.
const bgetCompressThreshold = 255

// handleBGet implements "bget <key>\r\n". The replicated payload is the
// store's raw record exactly as held (this layer never decodes the
// memcached envelope inside it); lazy expiry is a memcached-command
// concern and does not apply to the replication path.
func (h *Handler) handleBGet(buf *connbuf.Buffer, tokens []string) int {
	if len(tokens) < 2 {
		buf.Conn().Write([]byte{'e'})
		return FlagNone
	}
	key := tokens[1]

	value, cas, ok := h.Store.Get(key)
	if !ok {
		buf.Conn().Write([]byte{'n'})
		return FlagNone
	}

	payload := value
	var stat byte
	if len(payload) > bgetCompressThreshold {
		if compressed, err := zlibCompress(payload); err == nil && len(compressed) < len(payload) {
			payload = compressed
			stat |= replZBit
		}
	}

	frame := make([]byte, 0, 1+4+1+8+len(payload))
	frame = append(frame, 'V')
	frame = appendUint32(frame, uint32(len(payload)))
	frame = append(frame, stat)
	frame = appendInt64(frame, cas)
	frame = append(frame, payload...)

	buf.Conn().Write(frame)
	return FlagNone
}

// handleBSet implements "bset <key>\r\n" followed immediately (no CRLF)
// by "u32 size | u8 stat | i64 cas | <size bytes>". The write preserves
// the sender's cas token rather than minting a fresh one, which is how
// a peer's version identity survives replication.
func (h *Handler) handleBSet(buf *connbuf.Buffer, tokens []string) int {
	if len(tokens) < 2 {
		buf.Conn().Write([]byte("ER"))
		return FlagNone
	}
	key := tokens[1]

	avail, err := buf.WaitData(bsetTimeout)
	if err != nil {
		return FlagClose
	}
	if !avail {
		buf.Conn().Write([]byte("ER"))
		return FlagClose
	}

	size, err := buf.ReadUint32()
	if err != nil {
		return FlagClose
	}
	stat, err := buf.ReadByte()
	if err != nil {
		return FlagClose
	}
	cas, err := buf.ReadInt64()
	if err != nil {
		return FlagClose
	}
	if int64(size) > maxDrainBytes {
		buf.Conn().Write([]byte("ER"))
		return FlagClose
	}

	payload, err := buf.ReadExact(int(size))
	if err != nil {
		return FlagClose
	}

	if stat&replZBit != 0 {
		inflated, derr := zlibDecompress(payload)
		if derr != nil {
			buf.Conn().Write([]byte("ER"))
			return FlagNone
		}
		payload = inflated
	}

	h.Store.PutVersioned(key, payload, cas)
	buf.Conn().Write([]byte("OK"))
	return FlagNone
}

// handleBKeys implements "bkeys\r\n": a length-prefixed key stream
// terminated by a single zero byte, no CAS, no data, no CRLF.
func (h *Handler) handleBKeys(buf *connbuf.Buffer, tokens []string) int {
	for _, key := range h.Store.Keys() {
		if len(key) > 255 {
			continue
		}
		frame := make([]byte, 0, 1+len(key))
		frame = append(frame, byte(len(key)))
		frame = append(frame, key...)
		buf.Conn().Write(frame)
	}
	buf.Conn().Write([]byte{0x00})
	return FlagNone
}

func appendUint32(b []byte, v uint32) []byte {
	tmp := make([]byte, 4)
	binary.LittleEndian.PutUint32(tmp, v)
	return append(b, tmp...)
}

func appendInt64(b []byte, v int64) []byte {
	tmp := make([]byte, 8)
	binary.LittleEndian.PutUint64(tmp, uint64(v))
	return append(b, tmp...)
}

func zlibCompress(data []byte) ([]byte, error) {
	var out bytes.Buffer
	w := zlib.NewWriter(&out)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

func zlibDecompress(data []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}
