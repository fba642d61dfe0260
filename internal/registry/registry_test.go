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

package registry

import (
	"sync"
	"testing"
)

func TestAddGetRemove(t *testing.T) {
	r := New()
	r.Add(5, &Conn{FD: 5})

	c, ok := r.Get(5)
	if !ok || c.FD != 5 {
		t.Fatalf("Get(5) = %v, %v", c, ok)
	}

	removed, ok := r.Remove(5)
	if !ok || removed.FD != 5 {
		t.Fatalf("Remove(5) = %v, %v", removed, ok)
	}

	if _, ok := r.Get(5); ok {
		t.Fatalf("Get(5) after Remove still found")
	}
}

func TestRemoveMissing(t *testing.T) {
	r := New()
	if _, ok := r.Remove(99); ok {
		t.Fatalf("Remove(99) = true, want false")
	}
}

func TestLenAndRange(t *testing.T) {
	r := New()
	r.Add(1, &Conn{FD: 1})
	r.Add(2, &Conn{FD: 2})

	if r.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", r.Len())
	}

	seen := map[int]bool{}
	r.Range(func(fd int, c *Conn) bool {
		seen[fd] = true
		return true
	})
	if !seen[1] || !seen[2] {
		t.Fatalf("Range missed entries: %v", seen)
	}
}

func TestConcurrentAddRemove(t *testing.T) {
	r := New()
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r.Add(i, &Conn{FD: i})
			r.Remove(i)
		}(i)
	}
	wg.Wait()

	if r.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", r.Len())
	}
}
