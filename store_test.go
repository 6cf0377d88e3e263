package notify

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
)

func TestStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	badgerStore, err := NewBadgerStoreWithDefaults(ctx, "")
	assert.Equal(t, err, nil)
	defer badgerStore.Close()

	memoryStore := NewMemoryStore()
	defer memoryStore.Close()

	stores := map[string]Store{
		"badger": badgerStore,
		"memory": memoryStore,
	}

	for name, store := range stores {
		key := fmt.Sprintf("notify/last-sync/%s", NewId())

		_, ok, err := store.Get(key)
		assert.Equal(t, err, nil)
		assert.Equal(t, ok, false)

		err = store.Set(key, []byte("2025-03-07T12:00:00Z"), 0)
		assert.Equal(t, err, nil)

		value, ok, err := store.Get(key)
		assert.Equal(t, err, nil)
		assert.Equal(t, ok, true)
		assert.Equal(t, value, []byte("2025-03-07T12:00:00Z"))

		// overwrite
		err = store.Set(key, []byte("2025-03-07T13:00:00Z"), 0)
		assert.Equal(t, err, nil)
		value, _, _ = store.Get(key)
		assert.Equal(t, value, []byte("2025-03-07T13:00:00Z"))

		err = store.Delete(key)
		assert.Equal(t, err, nil)
		_, ok, err = store.Get(key)
		assert.Equal(t, err, nil)
		if ok {
			t.Fatalf("%s: deleted key still readable", name)
		}
		// deleting again is a no-op
		assert.Equal(t, store.Delete(key), nil)
	}
}

func TestMemoryStoreTtl(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()

	err := store.Set("k", []byte("v"), 25*time.Millisecond)
	assert.Equal(t, err, nil)
	_, ok, _ := store.Get("k")
	assert.Equal(t, ok, true)

	time.Sleep(80 * time.Millisecond)
	_, ok, _ = store.Get("k")
	assert.Equal(t, ok, false)
}

func TestBadgerStoreTtl(t *testing.T) {
	if testing.Short() {
		t.Skip("ttl expiry wait")
	}

	ctx := context.Background()
	store, err := NewBadgerStoreWithDefaults(ctx, "")
	assert.Equal(t, err, nil)
	defer store.Close()

	// expiry rounds to seconds
	err = store.Set("k", []byte("v"), time.Second)
	assert.Equal(t, err, nil)

	time.Sleep(2100 * time.Millisecond)
	_, ok, err := store.Get("k")
	assert.Equal(t, err, nil)
	assert.Equal(t, ok, false)
}

func TestInvalidatePattern(t *testing.T) {
	ctx := context.Background()
	badgerStore, err := NewBadgerStoreWithDefaults(ctx, "")
	assert.Equal(t, err, nil)
	defer badgerStore.Close()

	memoryStore := NewMemoryStore()
	defer memoryStore.Close()

	stores := map[string]Store{
		"badger": badgerStore,
		"memory": memoryStore,
	}

	for name, store := range stores {
		userA := NewId()
		userB := NewId()

		invalidated := []string{
			fmt.Sprintf("notify/page/%s/0/20", userA),
			fmt.Sprintf("notify/page/%s/1/20", userA),
			fmt.Sprintf("notify/page/%s/0/20/unseen", userA),
		}
		kept := []string{
			fmt.Sprintf("notify/page/%s/0/20", userB),
			fmt.Sprintf("notify/last-sync/%s", userA),
		}
		for _, key := range append(append([]string{}, invalidated...), kept...) {
			assert.Equal(t, store.Set(key, []byte("x"), 0), nil)
		}

		// the glob crosses path segments
		err := store.InvalidatePattern(fmt.Sprintf("notify/page/%s/*", userA))
		assert.Equal(t, err, nil)

		for _, key := range invalidated {
			_, ok, _ := store.Get(key)
			if ok {
				t.Fatalf("%s: %s survived invalidation", name, key)
			}
		}
		for _, key := range kept {
			_, ok, _ := store.Get(key)
			if !ok {
				t.Fatalf("%s: %s was wrongly invalidated", name, key)
			}
		}
	}
}

func TestCompileGlob(t *testing.T) {
	pattern, err := compileGlob("notify/page/u.1/*")
	assert.Equal(t, err, nil)
	// the dot is literal, the star crosses segments
	assert.Equal(t, pattern.MatchString("notify/page/u.1/0/20"), true)
	assert.Equal(t, pattern.MatchString("notify/page/uX1/0/20"), false)
	assert.Equal(t, pattern.MatchString("notify/page/u.1"), false)
	assert.Equal(t, pattern.MatchString("prefix/notify/page/u.1/0"), false)

	single, err := compileGlob("notify/?")
	assert.Equal(t, err, nil)
	assert.Equal(t, single.MatchString("notify/a"), true)
	assert.Equal(t, single.MatchString("notify/ab"), false)

	assert.Equal(t, globPrefix("notify/page/u/*"), "notify/page/u/")
	assert.Equal(t, globPrefix("notify/?/x"), "notify/")
	assert.Equal(t, globPrefix("plain"), "plain")
}
