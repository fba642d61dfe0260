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
	"net"

	"github.com/y10naoki/nestaio/internal/connbuf"
)

// loopbackAddr is the exact address __/status/__ and __/shutdown/__
// are gated on, matching the original admin check's strcmp(ip_addr,
// "127.0.0.1") rather than the broader notion of "any loopback IP".
const loopbackAddr = "127.0.0.1"

// isLoopback reports whether peer's address is exactly 127.0.0.1.
func isLoopback(peer net.Addr) bool {
	host, _, err := net.SplitHostPort(peer.String())
	if err != nil {
		host = peer.String()
	}
	return host == loopbackAddr
}

func (h *Handler) handleStatus(buf *connbuf.Buffer, peer net.Addr) int {
	if !isLoopback(peer) {
		buf.Conn().Write([]byte(replError))
		return FlagClose
	}
	buf.Conn().Write([]byte("running.\r\n"))
	return FlagNone
}

func (h *Handler) handleShutdown(buf *connbuf.Buffer, peer net.Addr) int {
	if !isLoopback(peer) {
		buf.Conn().Write([]byte(replError))
		return FlagClose
	}
	buf.Conn().Write([]byte("stopped.\r\n"))
	return FlagClose | FlagShutdown
}
