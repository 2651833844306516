// Package statetest holds the behaviour every state.Store must share.
package statetest

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metcalfc/lire/internal/state"
)

// Run exercises a Store built by open. open is called once per subtest.
func Run(t *testing.T, open func(t *testing.T) state.Store) {
	t.Helper()

	t.Run("missing key", func(t *testing.T) {
		s := open(t)
		_, err := s.Get(context.Background(), "progress/current")
		assert.ErrorIs(t, err, state.ErrNotFound)
	})

	t.Run("put get overwrite", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()

		require.NoError(t, s.Put(ctx, "settings/default", []byte(`{"wpm":250}`)))
		got, err := s.Get(ctx, "settings/default")
		require.NoError(t, err)
		assert.JSONEq(t, `{"wpm":250}`, string(got))

		require.NoError(t, s.Put(ctx, "settings/default", []byte(`{"wpm":300}`)))
		got, err = s.Get(ctx, "settings/default")
		require.NoError(t, err)
		assert.JSONEq(t, `{"wpm":300}`, string(got))
	})

	t.Run("returned value is a copy", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()

		require.NoError(t, s.Put(ctx, "k", []byte(`"abc"`)))
		got, err := s.Get(ctx, "k")
		require.NoError(t, err)
		got[1] = 'z'

		again, err := s.Get(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, `"abc"`, string(again))
	})

	t.Run("delete", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()

		require.NoError(t, s.Put(ctx, "progress/current", []byte(`{}`)))
		require.NoError(t, s.Delete(ctx, "progress/current"))
		_, err := s.Get(ctx, "progress/current")
		assert.ErrorIs(t, err, state.ErrNotFound)

		assert.NoError(t, s.Delete(ctx, "progress/current"), "deleting a missing key")
	})

	t.Run("cancelled context", func(t *testing.T) {
		s := open(t)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		assert.ErrorIs(t, s.Put(ctx, "k", []byte(`1`)), context.Canceled)
		_, err := s.Get(ctx, "k")
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("concurrent writers", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()

		var wg sync.WaitGroup
		for i := range 16 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				key := fmt.Sprintf("books/%d", i)
				assert.NoError(t, s.Put(ctx, key, []byte(fmt.Sprintf(`{"n":%d}`, i))))
			}()
		}
		wg.Wait()

		for i := range 16 {
			got, err := s.Get(ctx, fmt.Sprintf("books/%d", i))
			require.NoError(t, err)
			assert.JSONEq(t, fmt.Sprintf(`{"n":%d}`, i), string(got))
		}
	})
}
