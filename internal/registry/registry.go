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

// Package registry maps a socket file descriptor to its connection
// state. It is touched from two goroutines with different lifetimes:
// the reactor inserts on accept, a worker deletes on close; both must
// never block holding this map's lock across a socket read or write.
package registry

import (
	"net"
	"sync"

	"github.com/y10naoki/nestaio/internal/connbuf"
)

// Conn is one live client connection's registry entry.
type Conn struct {
	FD   int
	Peer net.Addr
	Buf  *connbuf.Buffer
}

// Registry is a concurrency-safe socket handle -> Conn map.
type Registry struct {
	mu sync.RWMutex
	m  map[int]*Conn
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{m: make(map[int]*Conn)}
}

// Add registers a new connection under fd. Called by the reactor after
// accept, before the socket is armed for readiness notifications.
func (r *Registry) Add(fd int, c *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.m[fd] = c
}

// Get returns the connection registered under fd, if any.
func (r *Registry) Get(fd int) (*Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.m[fd]
	return c, ok
}

// Remove deregisters fd, returning the removed entry if present. Called
// by a worker once it decides to close a connection.
func (r *Registry) Remove(fd int) (*Conn, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.m[fd]
	if ok {
		delete(r.m, fd)
	}
	return c, ok
}

// Len reports the number of live connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.m)
}

// Range calls fn for every registered connection. fn must not call back
// into the registry; it is invoked while holding the read lock.
func (r *Registry) Range(fn func(fd int, c *Conn) bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for fd, c := range r.m {
		if !fn(fd, c) {
			return
		}
	}
}
