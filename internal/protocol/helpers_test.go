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
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/y10naoki/nestaio/internal/connbuf"
	"github.com/y10naoki/nestaio/internal/envelope"
)

func newConnBuf(conn net.Conn) *connbuf.Buffer {
	return connbuf.New(conn)
}

func deadlineSoon() time.Time {
	return time.Now().Add(200 * time.Millisecond)
}

func envelopeEncodeHelper(t *testing.T, data []byte) []byte {
	t.Helper()
	return envelope.Encode(envelope.Header{}, data)
}

func encode8(t *testing.T, v uint64) []byte {
	t.Helper()
	data := make([]byte, 8)
	binary.LittleEndian.PutUint64(data, v)
	return envelope.Encode(envelope.Header{}, data)
}
