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
	"math"
	"time"

	"github.com/y10naoki/nestaio/internal/envelope"
	"github.com/y10naoki/nestaio/internal/store"
)

// absExptime converts a client-supplied relative exptime (seconds from
// now, 0 meaning "never") into the absolute epoch-second form stored in
// the envelope.
//
// Resolution of the specification's open question on 32-bit overflow:
// if now+relative would exceed math.MaxUint32 (the year-2106
// wraparound), the record is marked as never-expiring (0) rather than
// silently wrapping to a small absolute timestamp that would make the
// entry expire immediately on the next read. A caller asking for an
// expiry past the representable range almost certainly means "keep this
// indefinitely", not "expire now".
func absExptime(relative uint32) uint32 {
	if relative == 0 {
		return 0
	}
	abs := time.Now().Unix() + int64(relative)
	if abs <= 0 || abs > math.MaxUint32 {
		return 0
	}
	return uint32(abs)
}

func isExpired(absExp uint32) bool {
	if absExp == 0 {
		return false
	}
	return uint64(absExp) < uint64(time.Now().Unix())
}

// liveRecord looks a key up and applies lazy expiry: an expired record
// is deleted in place and reported as absent, exactly as the
// specification's data model requires.
func liveRecord(st *store.Store, key string) (hdr envelope.Header, data []byte, cas int64, found bool) {
	raw, cas, ok := st.Get(key)
	if !ok {
		return envelope.Header{}, nil, 0, false
	}
	h, d, err := envelope.Decode(raw)
	if err != nil {
		return envelope.Header{}, nil, 0, false
	}
	if isExpired(h.Exptime) {
		_ = st.Delete(key)
		return envelope.Header{}, nil, 0, false
	}
	return h, d, cas, true
}
