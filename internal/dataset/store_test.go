package dataset

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func countingLoader(calls *atomic.Int32) LoadFunc {
	return func(path string) (*Dataset, error) {
		calls.Add(1)
		time.Sleep(5 * time.Millisecond)
		return Load(path)
	}
}

func TestStore_GetMemoizes(t *testing.T) {
	path := writeFile(t, "no2.csv", "city,date,value\nBerlin,2020-01,20\n")
	var calls atomic.Int32
	s := NewStoreWithLoader(countingLoader(&calls), zap.NewNop())

	first, err := s.Get(context.Background(), path)
	require.NoError(t, err)
	second, err := s.Get(context.Background(), path)
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, int32(1), calls.Load())
}

func TestStore_ConcurrentGetLoadsOnce(t *testing.T) {
	path := writeFile(t, "no2.csv", "city,date,value\nBerlin,2020-01,20\n")
	var calls atomic.Int32
	s := NewStoreWithLoader(countingLoader(&calls), nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Get(context.Background(), path)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), calls.Load())
}

func TestStore_GetFailureNotMemoized(t *testing.T) {
	var calls atomic.Int32
	s := NewStoreWithLoader(func(path string) (*Dataset, error) {
		calls.Add(1)
		return nil, &LoadError{Path: path, Reason: "boom"}
	}, nil)

	_, err := s.Get(context.Background(), "x.csv")
	require.Error(t, err)
	_, err = s.Get(context.Background(), "x.csv")
	require.Error(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestStore_GetHonorsContext(t *testing.T) {
	release := make(chan struct{})
	s := NewStoreWithLoader(func(path string) (*Dataset, error) {
		<-release
		return nil, errors.New("late")
	}, nil)
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.Get(ctx, "slow.csv")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStore_InvalidateForcesReload(t *testing.T) {
	path := writeFile(t, "no2.csv", "city,date,value\nBerlin,2020-01,20\n")
	var calls atomic.Int32
	s := NewStoreWithLoader(countingLoader(&calls), nil)

	_, err := s.Get(context.Background(), path)
	require.NoError(t, err)
	assert.True(t, s.Invalidate(path))
	assert.False(t, s.Invalidate(path))

	_, err = s.Reload(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestStore_RefreshOnlyOnFileChange(t *testing.T) {
	path := writeFile(t, "no2.csv", "city,date,value\nBerlin,2020-01,20\n")
	var calls atomic.Int32
	s := NewStoreWithLoader(countingLoader(&calls), nil)
	ctx := context.Background()

	first, err := s.Get(ctx, path)
	require.NoError(t, err)

	changed, err := s.Refresh(ctx, path)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, int32(1), calls.Load())

	require.NoError(t, os.WriteFile(path, []byte("city,date,value\nBerlin,2020-01,20\nBerlin,2020-02,22\n"), 0o644))
	later := first.ModTime.Add(2 * time.Second)
	require.NoError(t, os.Chtimes(path, later, later))

	changed, err = s.Refresh(ctx, path)
	require.NoError(t, err)
	assert.True(t, changed)

	second, err := s.Get(ctx, path)
	require.NoError(t, err)
	assert.Len(t, second.Records, 2)
	assert.NotEqual(t, first.Version, second.Version)
}

func TestStore_RefreshFailureKeepsPrevious(t *testing.T) {
	path := writeFile(t, "no2.csv", "city,date,value\nBerlin,2020-01,20\n")
	s := NewStore(nil)
	ctx := context.Background()

	first, err := s.Get(ctx, path)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("broken,header\n1,2\n"), 0o644))
	later := first.ModTime.Add(2 * time.Second)
	require.NoError(t, os.Chtimes(path, later, later))

	changed, err := s.Refresh(ctx, path)
	require.Error(t, err)
	assert.False(t, changed)

	current, err := s.Get(ctx, path)
	require.NoError(t, err)
	assert.Same(t, first, current)
}
