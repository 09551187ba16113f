package cache_test

import (
	"bytes"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systemslab/segproxy/cache"
)

// Property 9: concurrent readers observing the same non-null find result
// receive byte-identical responses.
func TestProperty_ConcurrentReadersSeeIdenticalBytes(t *testing.T) {
	ca := cache.New(cache.MaxCacheSize)
	want := bytes.Repeat([]byte("reply-body"), 100)
	require.True(t, ca.Insert("GET /x HTTP/1.0\r\n", want))

	var wg sync.WaitGroup
	results := make([][]byte, 32)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ca.RLock()
			o, ok := ca.Find("GET /x HTTP/1.0\r\n")
			if ok {
				cp := make([]byte, len(o.Value))
				copy(cp, o.Value)
				results[i] = cp
			}
			ca.RUnlock()
		}(i)
	}
	wg.Wait()

	for i, got := range results {
		require.NotNil(t, got, "reader %d saw a nil result", i)
		assert.Equal(t, want, got)
	}
}

func TestConcurrentInsertAndFindDoNotRace(t *testing.T) {
	ca := cache.New(cache.MaxCacheSize)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := keyFor(i)
			ca.Insert(key, bytes.Repeat([]byte{byte(i)}, 1000))

			ca.RLock()
			if o, ok := ca.Find(key); ok {
				_ = o.Value[0]
			}
			ca.RUnlock()
		}(i)
	}
	wg.Wait()
}
