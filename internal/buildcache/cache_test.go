package buildcache

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openMemory(t *testing.T) *Badger {
	t.Helper()
	b, err := OpenBadger("")
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })
	return b
}

func builder(data string, calls *int) func(context.Context) ([]byte, error) {
	return func(context.Context) ([]byte, error) {
		*calls++
		return []byte(data), nil
	}
}

func TestSessionFetchBuildsOnce(t *testing.T) {
	ctx := context.Background()
	c := New(openMemory(t))
	s := c.Begin()
	calls := 0

	data, reused, err := s.Fetch(ctx, "frag/n1/x", builder("one", &calls))
	require.NoError(t, err)
	assert.False(t, reused)
	assert.Equal(t, "one", string(data))

	data, reused, err = s.Fetch(ctx, "frag/n1/x", builder("two", &calls))
	require.NoError(t, err)
	assert.True(t, reused)
	assert.Equal(t, "one", string(data))
	assert.Equal(t, 1, calls)

	reusedN, rebuiltN := s.Stats()
	assert.Equal(t, 1, reusedN)
	assert.Equal(t, 1, rebuiltN)
	assert.Equal(t, []string{"frag/n1/x"}, s.Staged())
}

func TestCommittedEntriesReusedAcrossSessions(t *testing.T) {
	ctx := context.Background()
	backend := openMemory(t)
	c := New(backend)
	calls := 0

	s := c.Begin()
	_, _, err := s.Fetch(ctx, "frag/n1/x", builder("one", &calls))
	require.NoError(t, err)
	_, err = s.Commit(ctx)
	require.NoError(t, err)

	s2 := c.Begin()
	data, reused, err := s2.Fetch(ctx, "frag/n1/x", builder("two", &calls))
	require.NoError(t, err)
	assert.True(t, reused)
	assert.Equal(t, "one", string(data))
	assert.Equal(t, 1, calls)
	s2.Discard()
}

func TestDiscardWritesNothing(t *testing.T) {
	ctx := context.Background()
	backend := openMemory(t)
	c := New(backend)
	calls := 0

	s := c.Begin()
	_, _, err := s.Fetch(ctx, "frag/n1/x", builder("one", &calls))
	require.NoError(t, err)
	s.Discard()

	keys, err := c.Keys(ctx, PrefixFragment)
	require.NoError(t, err)
	assert.Empty(t, keys)

	_, err = s.Commit(ctx)
	require.Error(t, err)
}

func TestBuildErrorIsNotStaged(t *testing.T) {
	ctx := context.Background()
	c := New(openMemory(t))
	s := c.Begin()
	boom := errors.New("boom")

	_, _, err := s.Fetch(ctx, "frag/n1/x", func(context.Context) ([]byte, error) { return nil, boom })
	require.ErrorIs(t, err, boom)
	assert.Empty(t, s.Staged())
}

func TestDropRemovesNodeEntriesAtCommit(t *testing.T) {
	ctx := context.Background()
	backend := openMemory(t)
	require.NoError(t, backend.Put(ctx, map[string][]byte{
		"frag/n1/a":  []byte("1"),
		"art/n1/a":   []byte("2"),
		"frag/n10/a": []byte("3"),
		"frag/n2/a":  []byte("4"),
	}))
	c := New(backend)

	s := c.Begin()
	s.Drop("n1")
	keys, err := c.Keys(ctx, "")
	require.NoError(t, err)
	assert.Len(t, keys, 4, "drops wait for commit")

	dropped, err := s.Commit(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, dropped)

	keys, err = c.Keys(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"frag/n10/a", "frag/n2/a"}, keys)
}

func TestManifestRoundTrip(t *testing.T) {
	ctx := context.Background()
	c := New(openMemory(t))
	key := ManifestKey("pipeline", "stm32f407", "throughput")
	assert.NotEqual(t, key, ManifestKey("pipeline", "stm32f407", "balanced"))

	m, err := c.Manifest(ctx, key)
	require.NoError(t, err)
	assert.Nil(t, m)

	want := Manifest{Graph: "pipeline", Target: "stm32f407", Profile: "throughput", Nodes: []string{"a", "b"}}
	s := c.Begin()
	require.NoError(t, s.PutManifest(key, want))
	_, err = s.Commit(ctx)
	require.NoError(t, err)

	m, err = c.Manifest(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, want, *m)
}

func TestFetchSurvivesAnotherCallersCancellation(t *testing.T) {
	c := New(openMemory(t))
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	build := func(ctx context.Context) ([]byte, error) {
		once.Do(func() { close(started) })
		<-release
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return []byte("shared"), nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() {
		_, _, err := c.Begin().Fetch(ctx, "frag/n1/x", build)
		first <- err
	}()
	<-started

	type result struct {
		data []byte
		err  error
	}
	second := make(chan result, 1)
	go func() {
		data, _, err := c.Begin().Fetch(context.Background(), "frag/n1/x", build)
		second <- result{data, err}
	}()

	cancel()
	require.ErrorIs(t, <-first, context.Canceled)

	close(release)
	r := <-second
	require.NoError(t, r.err)
	assert.Equal(t, "shared", string(r.data))
}

// recordingBackend counts Apply calls.
type recordingBackend struct {
	Backend
	applies int
	drops   []string
	entries int
}

func (r *recordingBackend) Apply(ctx context.Context, drops []string, entries map[string][]byte) (int, error) {
	r.applies++
	r.drops = drops
	r.entries = len(entries)
	return r.Backend.Apply(ctx, drops, entries)
}

func TestCommitIsOneTransaction(t *testing.T) {
	ctx := context.Background()
	inner := openMemory(t)
	require.NoError(t, inner.Put(ctx, map[string][]byte{"frag/n1/a": []byte("old")}))
	rec := &recordingBackend{Backend: inner}
	c := New(rec)

	s := c.Begin()
	s.Drop("n1")
	calls := 0
	_, _, err := s.Fetch(ctx, "frag/n1/b", builder("new", &calls))
	require.NoError(t, err)

	dropped, err := s.Commit(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, dropped)
	assert.Equal(t, 1, rec.applies)
	assert.Equal(t, []string{"art/n1/", "frag/n1/"}, rec.drops)
	assert.Equal(t, 1, rec.entries)

	keys, err := c.Keys(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"frag/n1/b"}, keys)
}

func TestApplyDropThenRewriteSameKey(t *testing.T) {
	ctx := context.Background()
	b := openMemory(t)
	require.NoError(t, b.Put(ctx, map[string][]byte{"frag/n1/a": []byte("old"), "frag/n2/a": []byte("keep")}))

	dropped, err := b.Apply(ctx, []string{"frag/n1/"}, map[string][]byte{"frag/n1/a": []byte("new")})
	require.NoError(t, err)
	assert.Equal(t, 1, dropped)

	data, ok, err := b.Get(ctx, "frag/n1/a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "new", string(data))

	n, err := b.DropPrefix(ctx, "frag/")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	keys, err := b.Keys(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, keys)
}
