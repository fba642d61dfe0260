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
	"errors"
	"fmt"
	"strconv"

	"github.com/y10naoki/nestaio/internal/connbuf"
	"github.com/y10naoki/nestaio/internal/envelope"
	"github.com/y10naoki/nestaio/internal/store"
)

// maxDrainBytes bounds how large a declared body length this layer will
// still read-and-discard to keep the connection byte-aligned after
// rejecting an oversized request. Beyond this, resynchronizing is not
// worth the memory, and the connection is closed instead.
const maxDrainBytes = 4 * envelope.MaxValueBytes

var errTooLarge = errors.New("protocol: spliced value exceeds limit")
var errBadIncrSize = errors.New("protocol: value is not 8 bytes")

// rejectOversized replies CLIENT_ERROR for a pre-flight validation
// failure (bad key length or declared size). When the declared body
// length is itself sane it is drained first so the stream stays
// aligned on the next command; an implausible length instead closes
// the connection rather than buffering it.
func (h *Handler) rejectOversized(buf *connbuf.Buffer, noreply bool, n int64, detail string) int {
	if n >= 0 && n <= maxDrainBytes {
		if _, err := buf.ReadExact(int(n) + 2); err != nil {
			return FlagClose
		}
		clientError(buf, noreply, detail)
		return FlagNone
	}
	clientError(buf, noreply, detail)
	return FlagClose
}

func validateSize(key string, n int64) (detail string, bad bool) {
	if !validKey(key) {
		return "key too long", true
	}
	if n < 0 {
		return "invalid data length", true
	}
	if n > envelope.MaxValueBytes {
		return "data too long", true
	}
	return "", false
}

// handleStore implements set/add/replace/append/prepend: the common
// grammar "<cmd> <key> <flags> <exptime> <bytes> [noreply]".
func (h *Handler) handleStore(buf *connbuf.Buffer, cmd string, tokens []string) int {
	if len(tokens) < 5 || len(tokens) > 6 {
		buf.Conn().Write([]byte(replError))
		return FlagNone
	}
	key := tokens[1]
	flags, err1 := parseUint32(tokens[2])
	exptimeRel, err2 := parseUint32(tokens[3])
	nBytes, err3 := parseInt64(tokens[4])
	noreply := isNoReply(tokens, 5)
	if len(tokens) == 6 && !noreply {
		buf.Conn().Write([]byte(replError))
		return FlagNone
	}
	if err1 != nil || err2 != nil || err3 != nil {
		buf.Conn().Write([]byte(replError))
		return FlagNone
	}

	if detail, bad := validateSize(key, nBytes); bad {
		return h.rejectOversized(buf, noreply, nBytes, detail)
	}

	data, ok, err := readBody(buf, int(nBytes))
	if err != nil {
		return FlagClose
	}
	if !ok {
		clientError(buf, noreply, "bad data chunk")
		return FlagNone
	}

	hdr := envelope.Header{Flags: flags, Exptime: absExptime(exptimeRel)}

	switch cmd {
	case "set":
		h.Store.Mutate(key, func(raw []byte, cas int64, found bool) ([]byte, error) {
			return envelope.Encode(hdr, data), nil
		})
		reply(buf, noreply, replStored)

	case "add":
		_, err := h.Store.Mutate(key, func(raw []byte, cas int64, found bool) ([]byte, error) {
			if found && !recordExpired(raw) {
				return nil, store.ErrExists
			}
			return envelope.Encode(hdr, data), nil
		})
		if err == store.ErrExists {
			reply(buf, noreply, replExists)
		} else {
			reply(buf, noreply, replStored)
		}

	case "replace":
		_, err := h.Store.Mutate(key, func(raw []byte, cas int64, found bool) ([]byte, error) {
			if !found || recordExpired(raw) {
				return nil, store.ErrNotFound
			}
			return envelope.Encode(hdr, data), nil
		})
		if err == store.ErrNotFound {
			reply(buf, noreply, replNotFound)
		} else {
			reply(buf, noreply, replStored)
		}

	case "append", "prepend":
		_, err := h.Store.Mutate(key, func(raw []byte, cas int64, found bool) ([]byte, error) {
			if !found {
				return nil, store.ErrNotFound
			}
			oh, od, derr := envelope.Decode(raw)
			if derr != nil || recordExpired(raw) {
				return nil, store.ErrNotFound
			}
			var spliced []byte
			if cmd == "append" {
				spliced = concat(od, data)
			} else {
				spliced = concat(data, od)
			}
			if len(spliced) > envelope.MaxValueBytes {
				return nil, errTooLarge
			}
			return envelope.Encode(oh, spliced), nil
		})
		switch err {
		case nil:
			reply(buf, noreply, replStored)
		case store.ErrNotFound:
			reply(buf, noreply, replNotStored)
		case errTooLarge:
			clientError(buf, noreply, "object too large for cache")
		default:
			serverError(buf, noreply, err.Error())
		}
	}

	return FlagNone
}

// handleCAS implements "cas <key> <flags> <exptime> <bytes> <cas> [noreply]".
func (h *Handler) handleCAS(buf *connbuf.Buffer, tokens []string) int {
	if len(tokens) < 6 || len(tokens) > 7 {
		buf.Conn().Write([]byte(replError))
		return FlagNone
	}
	key := tokens[1]
	flags, err1 := parseUint32(tokens[2])
	exptimeRel, err2 := parseUint32(tokens[3])
	nBytes, err3 := parseInt64(tokens[4])
	clientCAS, err4 := parseInt64(tokens[5])
	noreply := isNoReply(tokens, 6)
	if len(tokens) == 7 && !noreply {
		buf.Conn().Write([]byte(replError))
		return FlagNone
	}
	if err1 != nil || err2 != nil || err3 != nil || err4 != nil {
		buf.Conn().Write([]byte(replError))
		return FlagNone
	}

	if detail, bad := validateSize(key, nBytes); bad {
		return h.rejectOversized(buf, noreply, nBytes, detail)
	}

	data, ok, err := readBody(buf, int(nBytes))
	if err != nil {
		return FlagClose
	}
	if !ok {
		clientError(buf, noreply, "bad data chunk")
		return FlagNone
	}

	hdr := envelope.Header{Flags: flags, Exptime: absExptime(exptimeRel)}

	_, werr := h.Store.Mutate(key, func(raw []byte, cas int64, found bool) ([]byte, error) {
		if !found || recordExpired(raw) {
			return nil, store.ErrNotFound
		}
		if cas != clientCAS {
			return nil, store.ErrCASMismatch
		}
		return envelope.Encode(hdr, data), nil
	})

	switch werr {
	case nil:
		reply(buf, noreply, replStored)
	case store.ErrNotFound:
		reply(buf, noreply, replNotFound)
	case store.ErrCASMismatch:
		reply(buf, noreply, replExists)
	default:
		serverError(buf, noreply, werr.Error())
	}
	return FlagNone
}

// handleGet implements get/gets: "<cmd> <key> [<key> ...]".
func (h *Handler) handleGet(buf *connbuf.Buffer, cmd string, tokens []string) int {
	if len(tokens) < 2 {
		buf.Conn().Write([]byte(replError))
		return FlagNone
	}

	for _, key := range tokens[1:] {
		hdr, data, cas, found := liveRecord(h.Store, key)
		if !found {
			continue
		}
		if cmd == "gets" {
			fmt.Fprintf(buf.Conn(), "VALUE %s %d %d %d\r\n", key, hdr.Flags, len(data), cas)
		} else {
			fmt.Fprintf(buf.Conn(), "VALUE %s %d %d\r\n", key, hdr.Flags, len(data))
		}
		buf.Conn().Write(data)
		buf.Conn().Write([]byte("\r\n"))
	}
	buf.Conn().Write([]byte(replEnd))
	return FlagNone
}

// handleDelete implements "delete <key> [noreply]".
func (h *Handler) handleDelete(buf *connbuf.Buffer, tokens []string) int {
	if len(tokens) < 2 {
		buf.Conn().Write([]byte(replError))
		return FlagNone
	}
	key := tokens[1]
	noreply := isNoReply(tokens, 2)

	_, _, _, found := liveRecord(h.Store, key)
	if !found {
		reply(buf, noreply, replNotFound)
		return FlagNone
	}
	if err := h.Store.Delete(key); err != nil {
		reply(buf, noreply, replNotFound)
		return FlagNone
	}
	reply(buf, noreply, replDeleted)
	return FlagNone
}

// handleFlushAll implements "flush_all": destructive, no per-key walk.
func (h *Handler) handleFlushAll(buf *connbuf.Buffer) int {
	if err := h.Store.FlushAll(); err != nil {
		buf.Conn().Write([]byte(replError))
		return FlagNone
	}
	buf.Conn().Write([]byte(replDeleted))
	return FlagNone
}

// handleIncrDecr implements "incr|decr <key> <value> [noreply]". The
// stored data block must be exactly 8 bytes, read as an unsigned 64-bit
// integer; overflow/underflow wraps modulo 2^64 per the specification.
func (h *Handler) handleIncrDecr(buf *connbuf.Buffer, cmd string, tokens []string) int {
	if len(tokens) < 3 {
		buf.Conn().Write([]byte(replError))
		return FlagNone
	}
	key := tokens[1]
	operand, err := strconv.ParseUint(tokens[2], 10, 64)
	noreply := isNoReply(tokens, 3)
	if err != nil {
		buf.Conn().Write([]byte(replError))
		return FlagNone
	}

	var result uint64
	_, werr := h.Store.Mutate(key, func(raw []byte, cas int64, found bool) ([]byte, error) {
		if !found || recordExpired(raw) {
			return nil, store.ErrNotFound
		}
		hdr, data, derr := envelope.Decode(raw)
		if derr != nil || len(data) != 8 {
			return nil, errBadIncrSize
		}
		val := binary.LittleEndian.Uint64(data)
		if cmd == "incr" {
			val += operand
		} else {
			val -= operand
		}
		result = val
		out := make([]byte, 8)
		binary.LittleEndian.PutUint64(out, val)
		return envelope.Encode(hdr, out), nil
	})

	switch werr {
	case nil:
		reply(buf, noreply, strconv.FormatUint(result, 10)+"\r\n")
	case store.ErrNotFound:
		reply(buf, noreply, replNotFound)
	case errBadIncrSize:
		clientError(buf, noreply, "cannot increment or decrement non-numeric value")
	default:
		serverError(buf, noreply, werr.Error())
	}
	return FlagNone
}

func recordExpired(raw []byte) bool {
	hdr, _, err := envelope.Decode(raw)
	if err != nil {
		return true
	}
	return isExpired(hdr.Exptime)
}

func concat(a, b []byte) []byte {
	out := make([]byte, 0, len(a)+len(b))
	out = append(out, a...)
	out = append(out, b...)
	return out
}
