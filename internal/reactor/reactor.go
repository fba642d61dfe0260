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

// Package reactor is the single-threaded multiplexer that owns the
// listener socket and every client socket. It is the Go-native stand-in
// for the original's multiplexed I/O layer: one goroutine blocks in
// EpollWait, and EPOLLONESHOT gives the enable/disable-per-socket
// semantics that guarantee at most one outstanding dispatch per
// connection between the time it is made ready and the time a worker
// re-enables it.
package reactor

import (
	"sync"

	"golang.org/x/sys/unix"
)

// Reactor multiplexes readiness over a set of file descriptors.
type Reactor struct {
	epfd int
	mu   sync.Mutex
}

// New creates an epoll instance.
func New() (*Reactor, error) {
	fd, err := unix.EpollCreate1(0)
	if err != nil {
		return nil, err
	}
	return &Reactor{epfd: fd}, nil
}

// Add registers fd for readable notifications. EPOLLONESHOT means the
// registration fires at most once until Enable re-arms it.
func (r *Reactor) Add(fd int) error {
	ev := &unix.EpollEvent{Events: unix.EPOLLIN | unix.EPOLLONESHOT, Fd: int32(fd)}
	return unix.EpollCtl(r.epfd, unix.EPOLL_CTL_ADD, fd, ev)
}

// Remove deregisters fd entirely; used when a connection closes.
func (r *Reactor) Remove(fd int) error {
	return unix.EpollCtl(r.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

// Enable re-arms fd for one more readable notification. A worker calls
// this after finishing a command pass and returning the connection to
// idle.
func (r *Reactor) Enable(fd int) error {
	ev := &unix.EpollEvent{Events: unix.EPOLLIN | unix.EPOLLONESHOT, Fd: int32(fd)}
	return unix.EpollCtl(r.epfd, unix.EPOLL_CTL_MOD, fd, ev)
}

// Disable clears fd's interest set. With EPOLLONESHOT the notification
// already disarms itself on delivery; this call makes that explicit and
// keeps the fd registered (vs. Remove) so Enable can re-arm it later.
func (r *Reactor) Disable(fd int) error {
	ev := &unix.EpollEvent{Events: 0, Fd: int32(fd)}
	return unix.EpollCtl(r.epfd, unix.EPOLL_CTL_MOD, fd, ev)
}

// Loop blocks in EpollWait, invoking onReady for each ready fd, then
// checking isShutdown between batches. It returns when isShutdown
// reports true or the wait fails for a reason other than EINTR. The
// caller is expected to have armed the listener fd so that a loopback
// self-connect unblocks this wait during shutdown.
func (r *Reactor) Loop(onReady func(fd int), isShutdown func() bool) error {
	events := make([]unix.EpollEvent, 64)

	for {
		n, err := unix.EpollWait(r.epfd, events, -1)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return err
		}

		for i := 0; i < n; i++ {
			onReady(int(events[i].Fd))
		}

		if isShutdown() {
			return nil
		}
	}
}

// Close releases the epoll instance.
func (r *Reactor) Close() error {
	return unix.Close(r.epfd)
}
