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

// Package store is the backing hash database the protocol layer stores
// raw records into. It stands in for the external nio_* hash database
// named in the specification's out-of-scope collaborators: per-key CAS
// token issuance, a flush_all that empties the table and its on-disk
// bucket (the database file itself is kept, not recreated), and a
// key cursor for replication's bkeys. The store itself is agnostic of
// the envelope framing above it; it only moves opaque byte slices.
//
// The CAS-versioned table is an in-memory map guarded by a single
// mutex: every operation this package exposes is a precondition check
// plus a write, and nutsdb's own transaction boundary (one bucket, one
// key, compare-then-put) doesn't give us a way to fail a Put on a CAS
// mismatch without first doing our own Get inside the same Update
// call anyway — at which point the map and a hand-rolled mutex already
// say everything the transaction would. What nutsdb is a genuine fit
// for is what the original hash database's nio.database_file and
// nio.nio_bucket_num knobs describe: a persistent, bucket-based file
// behind the table. When Open is given a path, every write is mirrored
// into a nutsdb database at that path and replayed back on the next
// Open, so the table survives a restart; the map stays the single
// source of truth a live process reads and CAS-checks against.
package store

import (
	"encoding/binary"
	"os"
	"sync"
	"sync/atomic"

	"github.com/nutsdb/nutsdb"
)

// dataBucket is the sole nutsdb bucket this store writes into; the
// table has no notion of multiple namespaces today.
const dataBucket = "nestaio"

type entry struct {
	value []byte
	cas   int64
}

// Store is a CAS-versioned, in-memory key/value table optionally
// mirrored to a nutsdb database on disk. All operations are serialized
// by a single mutex, mirroring the original hash database's own
// internal locking: callers must not hold their own lock across a
// Store call.
type Store struct {
	mu   sync.Mutex
	data map[string]*entry
	path string
	db   *nutsdb.DB
	seq  int64
}

// Open creates a Store. If path is non-empty, a nutsdb database rooted
// at path is opened (created if absent), its contents are loaded back
// into the in-memory table, and every subsequent write is mirrored to
// it so FlushAll and a process restart both see a real file on disk;
// bucketNum only sizes the initial map capacity hint.
func Open(path string, bucketNum int) (*Store, error) {
	s := &Store{
		data: make(map[string]*entry, bucketNum),
		path: path,
	}
	if path == "" {
		return s, nil
	}

	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, err
	}
	opts := nutsdb.DefaultOptions
	opts.Dir = path
	db, err := nutsdb.Open(opts)
	if err != nil {
		return nil, err
	}
	s.db = db

	if err := s.loadFromDisk(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// loadFromDisk replays the nutsdb bucket into the in-memory table and
// fast-forwards the CAS sequence past the highest token found, so a
// restarted process keeps handing out strictly increasing tokens.
func (s *Store) loadFromDisk() error {
	return s.db.View(func(tx *nutsdb.Tx) error {
		entries, err := tx.GetAll(dataBucket)
		if err != nil {
			// A brand new database has no bucket yet; nothing to load.
			return nil
		}
		for _, e := range entries {
			cas, value := decodeRecord(e.Value)
			s.data[string(e.Key)] = &entry{value: value, cas: cas}
			if cas > s.seq {
				s.seq = cas
			}
		}
		return nil
	})
}

// persist mirrors key's current record to the nutsdb database. Write
// failures are not propagated: the in-memory table is the source of
// truth a running process reads from, and a disk hiccup here costs
// only durability across the next restart, not correctness now.
func (s *Store) persist(key string, e *entry) {
	if s.db == nil {
		return
	}
	_ = s.db.Update(func(tx *nutsdb.Tx) error {
		return tx.Put(dataBucket, []byte(key), encodeRecord(e.cas, e.value), 0)
	})
}

func (s *Store) persistDelete(key string) {
	if s.db == nil {
		return
	}
	_ = s.db.Update(func(tx *nutsdb.Tx) error {
		return tx.Delete(dataBucket, []byte(key))
	})
}

func encodeRecord(cas int64, value []byte) []byte {
	out := make([]byte, 8+len(value))
	binary.LittleEndian.PutUint64(out[:8], uint64(cas))
	copy(out[8:], value)
	return out
}

func decodeRecord(raw []byte) (cas int64, value []byte) {
	if len(raw) < 8 {
		return 0, cloneBytes(raw)
	}
	cas = int64(binary.LittleEndian.Uint64(raw[:8]))
	return cas, cloneBytes(raw[8:])
}

// Close releases the backing nutsdb database, if any.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *Store) nextCAS() int64 {
	return atomic.AddInt64(&s.seq, 1)
}

// Get returns a copy of the stored record and its CAS token. ok is false
// if the key is absent. Expiry is the protocol layer's concern: this
// layer stores and returns whatever bytes it was given.
func (s *Store) Get(key string) (value []byte, cas int64, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, found := s.data[key]
	if !found {
		return nil, 0, false
	}
	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, e.cas, true
}

// Set unconditionally writes value, assigning it a fresh, strictly
// greater CAS token.
func (s *Store) Set(key string, value []byte) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	cas := s.nextCAS()
	e := &entry{value: cloneBytes(value), cas: cas}
	s.data[key] = e
	s.persist(key, e)
	return cas
}

// Add writes value only if key is absent, returning ErrExists otherwise.
func (s *Store) Add(key string, value []byte) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, found := s.data[key]; found {
		return 0, ErrExists
	}
	cas := s.nextCAS()
	e := &entry{value: cloneBytes(value), cas: cas}
	s.data[key] = e
	s.persist(key, e)
	return cas, nil
}

// Replace writes value only if key is present, returning ErrNotFound
// otherwise.
func (s *Store) Replace(key string, value []byte) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, found := s.data[key]; !found {
		return 0, ErrNotFound
	}
	cas := s.nextCAS()
	e := &entry{value: cloneBytes(value), cas: cas}
	s.data[key] = e
	s.persist(key, e)
	return cas, nil
}

// CompareAndSwap writes value only if key is present and its current CAS
// token equals expected; returns ErrNotFound or ErrCASMismatch otherwise.
// A successful swap assigns a fresh token; replication's bset, which
// keeps the peer's token, writes through PutVersioned instead.
func (s *Store) CompareAndSwap(key string, value []byte, expected int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, found := s.data[key]
	if !found {
		return 0, ErrNotFound
	}
	if e.cas != expected {
		return 0, ErrCASMismatch
	}
	cas := s.nextCAS()
	ne := &entry{value: cloneBytes(value), cas: cas}
	s.data[key] = ne
	s.persist(key, ne)
	return cas, nil
}

// PutVersioned stores value and forces the CAS token to be exactly cas,
// used only by the replication bset handler, which must preserve the
// sender's version rather than minting a fresh one. The internal
// sequence counter is advanced past cas so subsequent Set/Add/Replace
// calls still hand out strictly increasing tokens.
func (s *Store) PutVersioned(key string, value []byte, cas int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := &entry{value: cloneBytes(value), cas: cas}
	s.data[key] = e
	s.persist(key, e)
	for {
		cur := atomic.LoadInt64(&s.seq)
		if cas <= cur {
			break
		}
		if atomic.CompareAndSwapInt64(&s.seq, cur, cas) {
			break
		}
	}
}

// Delete removes key, returning ErrNotFound if it was already absent.
func (s *Store) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, found := s.data[key]; !found {
		return ErrNotFound
	}
	delete(s.data, key)
	s.persistDelete(key)
	return nil
}

// Mutate performs an atomic read-modify-write. fn observes the current
// value/cas/found state and returns the new value to store; returning a
// non-nil error aborts without writing. This is the single primitive
// append/prepend/incr/decr build on, so their precondition check (key
// must exist) and their write happen under one lock acquisition.
func (s *Store) Mutate(key string, fn func(value []byte, cas int64, found bool) ([]byte, error)) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, found := s.data[key]
	var cur []byte
	var curCAS int64
	if found {
		cur = cloneBytes(e.value)
		curCAS = e.cas
	}

	next, err := fn(cur, curCAS, found)
	if err != nil {
		return 0, err
	}

	cas := s.nextCAS()
	e2 := &entry{value: cloneBytes(next), cas: cas}
	s.data[key] = e2
	s.persist(key, e2)
	return cas, nil
}

// Keys returns a snapshot of all keys currently stored, in unspecified
// order, for replication's bkeys cursor.
func (s *Store) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]string, 0, len(s.data))
	for k := range s.data {
		out = append(out, k)
	}
	return out
}

// Len reports the number of keys currently stored.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data)
}

// FlushAll discards every key and, when backed by a database, empties
// it too. The in-memory table is replaced in one step; the nutsdb
// bucket is emptied by deleting its entries one by one inside a single
// transaction. The database directory stays open and is not removed or
// recreated.
func (s *Store) FlushAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data = make(map[string]*entry)

	if s.db == nil {
		return nil
	}
	return s.db.Update(func(tx *nutsdb.Tx) error {
		entries, err := tx.GetAll(dataBucket)
		if err != nil {
			// Nothing written yet; an empty bucket is already flushed.
			return nil
		}
		for _, e := range entries {
			if err := tx.Delete(dataBucket, e.Key); err != nil {
				return err
			}
		}
		return nil
	})
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
