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

package queue

import (
	"testing"
	"time"
)

func TestPushPopFIFO(t *testing.T) {
	q := New()
	q.Push(Item{FD: 1})
	q.Push(Item{FD: 2})

	i1, ok := q.Pop()
	if !ok || i1.FD != 1 {
		t.Fatalf("Pop() = %v, %v, want FD=1", i1, ok)
	}
	i2, ok := q.Pop()
	if !ok || i2.FD != 2 {
		t.Fatalf("Pop() = %v, %v, want FD=2", i2, ok)
	}
}

func TestPopBlocksUntilPush(t *testing.T) {
	q := New()
	done := make(chan Item, 1)

	go func() {
		item, ok := q.Pop()
		if ok {
			done <- item
		}
	}()

	time.Sleep(20 * time.Millisecond)
	q.Push(Item{FD: 42})

	select {
	case item := <-done:
		if item.FD != 42 {
			t.Fatalf("item.FD = %d, want 42", item.FD)
		}
	case <-time.After(time.Second):
		t.Fatal("Pop did not wake after Push")
	}
}

func TestCloseUnblocksWaitingPop(t *testing.T) {
	q := New()
	done := make(chan bool, 1)

	go func() {
		_, ok := q.Pop()
		done <- ok
	}()

	time.Sleep(20 * time.Millisecond)
	q.Close()

	select {
	case ok := <-done:
		if ok {
			t.Fatalf("ok = true, want false after Close with empty queue")
		}
	case <-time.After(time.Second):
		t.Fatal("Pop did not wake after Close")
	}
}

func TestLen(t *testing.T) {
	q := New()
	q.Push(Item{FD: 1})
	q.Push(Item{FD: 2})
	if q.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", q.Len())
	}
}
