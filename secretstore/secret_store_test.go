package secretstore

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestStaticSource(t *testing.T) {
	t.Run("returns configured secrets", func(t *testing.T) {
		s := NewStaticSource()
		s.Set("echo.example.com", "s3cr3t")

		secret, err := s.Secret(context.Background(), "echo.example.com")
		require.NoError(t, err)
		assert.Equal(t, "s3cr3t", secret)
	})

	t.Run("returns ErrNotFound for unknown subdomains", func(t *testing.T) {
		s := NewStaticSource()
		_, err := s.Secret(context.Background(), "missing.example.com")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("delete removes the secret", func(t *testing.T) {
		s := NewStaticSource()
		s.Set("echo.example.com", "s3cr3t")
		s.Delete("echo.example.com")

		_, err := s.Secret(context.Background(), "echo.example.com")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

// countingSource counts upstream fetches.
type countingSource struct {
	fetches atomic.Int32
	secret  string
	err     error
}

func (c *countingSource) Secret(context.Context, string) (string, error) {
	c.fetches.Add(1)
	if c.err != nil {
		return "", c.err
	}
	return c.secret, nil
}

func TestCachedSource(t *testing.T) {
	t.Run("fetches once and serves from cache", func(t *testing.T) {
		upstream := &countingSource{secret: "s3cr3t"}
		cached := NewCachedSource(upstream, time.Minute, time.Minute)

		for i := 0; i < 5; i++ {
			secret, err := cached.Secret(context.Background(), "echo.example.com")
			require.NoError(t, err)
			assert.Equal(t, "s3cr3t", secret)
		}

		assert.Equal(t, int32(1), upstream.fetches.Load())
	})

	t.Run("suppresses concurrent fetches for the same subdomain", func(t *testing.T) {
		upstream := &countingSource{secret: "s3cr3t"}
		cached := NewCachedSource(upstream, time.Minute, time.Minute)

		var g errgroup.Group
		for i := 0; i < 20; i++ {
			g.Go(func() error {
				_, err := cached.Secret(context.Background(), "echo.example.com")
				return err
			})
		}
		require.NoError(t, g.Wait())

		assert.Equal(t, int32(1), upstream.fetches.Load())
	})

	t.Run("does not cache failures", func(t *testing.T) {
		upstream := &countingSource{err: errors.New("upstream down")}
		cached := NewCachedSource(upstream, time.Minute, time.Minute)

		_, err := cached.Secret(context.Background(), "echo.example.com")
		require.Error(t, err)

		upstream.err = nil
		upstream.secret = "recovered"

		secret, err := cached.Secret(context.Background(), "echo.example.com")
		require.NoError(t, err)
		assert.Equal(t, "recovered", secret)
	})

	t.Run("invalidate forces a refetch", func(t *testing.T) {
		upstream := &countingSource{secret: "old"}
		cached := NewCachedSource(upstream, time.Minute, time.Minute)

		_, err := cached.Secret(context.Background(), "echo.example.com")
		require.NoError(t, err)

		upstream.secret = "new"
		cached.Invalidate("echo.example.com")

		secret, err := cached.Secret(context.Background(), "echo.example.com")
		require.NoError(t, err)
		assert.Equal(t, "new", secret)
		assert.Equal(t, int32(2), upstream.fetches.Load())
	})
}
