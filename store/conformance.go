package store

import (
	"bytes"
	"math/rand"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

// Conformance runs the same read/write/range/concurrency checks against any
// store.Supplier implementation (store/moss, store/leveldb), adapted from
// the teacher's TestStore helper to the name-only Supplier signature of
// this package's per-vertex Store contract.
func Conformance(t *testing.T, supplier Supplier) {
	s, err := supplier(randString(8))
	assert.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	key := randStringBytes(8)
	value := randStringBytes(32)

	t.Run("get inexistent key", func(t *testing.T) {
		_, err := s.Get(key)
		assert.Equal(t, ErrKeyNotFound, err)
	})

	t.Run("set and get", func(t *testing.T) {
		assert.NoError(t, s.Set(key, value))

		v, err := s.Get(key)
		assert.NoError(t, err)
		assert.Equal(t, 0, bytes.Compare(v, value))
	})

	t.Run("delete", func(t *testing.T) {
		assert.NoError(t, s.Delete(key))

		_, err := s.Get(key)
		assert.Equal(t, ErrKeyNotFound, err)
	})

	keys := make([][]byte, 10)
	for x := 0; x < 10; x++ {
		keys[x] = randStringBytes(4)
	}
	sorted := make([][]byte, 10)
	copy(sorted, keys)
	sort.Slice(sorted, func(i, j int) bool { return string(sorted[i]) < string(sorted[j]) })

	t.Run("range lexicographical", func(t *testing.T) {
		for x := len(keys) - 1; x >= 0; x-- {
			assert.NoError(t, s.Set(keys[x], value))
		}

		idx := 1
		err := s.Range(sorted[1], sorted[3], func(key, value []byte) error {
			assert.Equal(t, 0, bytes.Compare(key, sorted[idx]))
			idx++
			return nil
		})
		assert.NoError(t, err)
	})

	t.Run("range all lexicographical", func(t *testing.T) {
		idx := 0
		err := s.Range(nil, nil, func(key, value []byte) error {
			assert.Equal(t, 0, bytes.Compare(key, sorted[idx]))
			idx++
			return nil
		})
		assert.NoError(t, err)
		assert.Equal(t, len(sorted), idx)
	})

	t.Run("range prefix", func(t *testing.T) {
		prefix := sorted[0][:2]
		err := s.Range(nil, nil, func(key, value []byte) error {
			if !bytes.HasPrefix(key, prefix) {
				return nil
			}
			return s.Delete(key) // exercise that Range sees live keys without asserting count
		})
		assert.NoError(t, err)
		for x := range keys {
			assert.NoError(t, s.Set(keys[x], value))
		}
	})

	t.Run("concurrent set and get", func(t *testing.T) {
		start := make(chan struct{})
		var wg sync.WaitGroup

		wg.Add(1)
		go func() {
			<-start
			for x := 0; x < 100; x++ {
				for i := range sorted {
					_, err := s.Get(sorted[i])
					assert.True(t, err == nil || err == ErrKeyNotFound)
				}
			}
			wg.Done()
		}()

		wg.Add(1)
		go func() {
			close(start)
			for x := 0; x < 100; x++ {
				for i := range keys {
					assert.NoError(t, s.Set(keys[i], value))
				}
			}
			wg.Done()
		}()
		wg.Wait()
	})
}

const (
	letterBytes   = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"
	letterIdxBits = 6
	letterIdxMask = 1<<letterIdxBits - 1
	letterIdxMax  = 63 / letterIdxBits
)

func randStringBytes(n int) []byte {
	b := make([]byte, n)
	for i, cache, remain := n-1, rand.Int63(), letterIdxMax; i >= 0; {
		if remain == 0 {
			cache, remain = rand.Int63(), letterIdxMax
		}
		if idx := int(cache & letterIdxMask); idx < len(letterBytes) {
			b[i] = letterBytes[idx]
			i--
		}
		cache >>= letterIdxBits
		remain--
	}
	return b
}

func randString(n int) string { return string(randStringBytes(n)) }
