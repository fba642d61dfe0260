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

// Package envelope lays out and reads the fixed 9-byte header that is
// prepended to every value stored by the cache: a header-size byte, a
// 32-bit opaque flags tag, and a 32-bit absolute expiry time, both
// little-endian. The on-disk record is the 9-byte header followed by the
// data block.
package envelope

import (
	"encoding/binary"
	"errors"
)

// HeaderSize is the constant byte length of the envelope header itself
// (flags + exptime), not counting the leading size byte.
const HeaderSize = 8

// byteLen is the total length of the envelope prefix written before the
// data block: one byte holding HeaderSize, plus HeaderSize bytes of
// flags/exptime.
const byteLen = 1 + HeaderSize

// MaxValueBytes is the largest data block accepted for a stored value.
const MaxValueBytes = 1 << 20

// MaxKeyBytes is the largest key accepted by any command.
const MaxKeyBytes = 250

// ErrShortHeader is returned when a stored record is too short to contain
// a valid envelope; it indicates a corrupt or foreign record.
var ErrShortHeader = errors.New("envelope: record shorter than header")

// Header is the decoded form of a stored value's envelope.
type Header struct {
	Flags   uint32
	Exptime uint32
}

// Encode returns the header-size byte and the flags/exptime fields,
// little-endian, followed by data, as a single contiguous record ready
// to hand to the backing store.
func Encode(h Header, data []byte) []byte {
	out := make([]byte, byteLen+len(data))
	out[0] = HeaderSize
	binary.LittleEndian.PutUint32(out[1:5], h.Flags)
	binary.LittleEndian.PutUint32(out[5:9], h.Exptime)
	copy(out[byteLen:], data)
	return out
}

// Decode splits a stored record back into its header and data block.
// The returned data slice aliases rec; callers that retain it across a
// mutation of rec must copy.
func Decode(rec []byte) (Header, []byte, error) {
	if len(rec) < byteLen {
		return Header{}, nil, ErrShortHeader
	}
	if rec[0] != HeaderSize {
		return Header{}, nil, ErrShortHeader
	}
	h := Header{
		Flags:   binary.LittleEndian.Uint32(rec[1:5]),
		Exptime: binary.LittleEndian.Uint32(rec[5:9]),
	}
	return h, rec[byteLen:], nil
}

// DataOffset returns the byte offset of the data block within an encoded
// record, for callers that need to splice bytes without a full decode.
func DataOffset() int {
	return byteLen
}
