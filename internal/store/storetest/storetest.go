// Package storetest holds the behaviour every store.Store backend must share.
package storetest

import (
	"fmt"
	"sync"
	"testing"

	"settingsd/internal/store"
)

// Opener returns a fresh, empty store. It should register its own cleanup.
type Opener func(t *testing.T) store.Store

var testBucket = []byte("test-bucket")

// Run exercises a backend against the store.Store contract.
func Run(t *testing.T, open Opener) {
	t.Run("SetAndGet", func(t *testing.T) { testSetAndGet(t, open(t)) })
	t.Run("GetNonexistentBucket", func(t *testing.T) { testGetNonexistentBucket(t, open(t)) })
	t.Run("GetNonexistentKey", func(t *testing.T) { testGetNonexistentKey(t, open(t)) })
	t.Run("EmptyValue", func(t *testing.T) { testEmptyValue(t, open(t)) })
	t.Run("SetOverwrite", func(t *testing.T) { testSetOverwrite(t, open(t)) })
	t.Run("Delete", func(t *testing.T) { testDelete(t, open(t)) })
	t.Run("DeleteNonexistent", func(t *testing.T) { testDeleteNonexistent(t, open(t)) })
	t.Run("ForEach", func(t *testing.T) { testForEach(t, open(t)) })
	t.Run("ForEachNonexistentBucket", func(t *testing.T) { testForEachNonexistentBucket(t, open(t)) })
	t.Run("ForEachStopsOnError", func(t *testing.T) { testForEachStopsOnError(t, open(t)) })
	t.Run("Snapshot", func(t *testing.T) { testSnapshot(t, open(t)) })
	t.Run("SnapshotReturnsCopy", func(t *testing.T) { testSnapshotReturnsCopy(t, open(t)) })
	t.Run("GetReturnsCopy", func(t *testing.T) { testGetReturnsCopy(t, open(t)) })
	t.Run("MultipleBuckets", func(t *testing.T) { testMultipleBuckets(t, open(t)) })
	t.Run("Concurrent", func(t *testing.T) { testConcurrent(t, open(t)) })
}

func mustSet(t *testing.T, s store.Store, bucket []byte, k, v string) {
	t.Helper()
	if err := s.Set(bucket, []byte(k), []byte(v)); err != nil {
		t.Fatalf("Set(%q): %v", k, err)
	}
}

func mustGet(t *testing.T, s store.Store, bucket []byte, k string) []byte {
	t.Helper()
	val, err := s.Get(bucket, []byte(k))
	if err != nil {
		t.Fatalf("Get(%q): %v", k, err)
	}
	return val
}

func testSetAndGet(t *testing.T, s store.Store) {
	mustSet(t, s, testBucket, "key1", "val1")
	if val := mustGet(t, s, testBucket, "key1"); string(val) != "val1" {
		t.Fatalf("expected val1, got %q", val)
	}
}

func testGetNonexistentBucket(t *testing.T, s store.Store) {
	if val := mustGet(t, s, []byte("no-bucket"), "key"); val != nil {
		t.Fatalf("expected nil for nonexistent bucket, got %q", val)
	}
}

func testGetNonexistentKey(t *testing.T, s store.Store) {
	mustSet(t, s, testBucket, "other", "val")
	if val := mustGet(t, s, testBucket, "missing"); val != nil {
		t.Fatalf("expected nil for missing key, got %q", val)
	}
}

func testEmptyValue(t *testing.T, s store.Store) {
	mustSet(t, s, testBucket, "empty", "")
	val := mustGet(t, s, testBucket, "empty")
	if val == nil {
		t.Fatal("empty value should be present, got nil")
	}
	if len(val) != 0 {
		t.Fatalf("expected empty value, got %q", val)
	}
}

func testSetOverwrite(t *testing.T, s store.Store) {
	mustSet(t, s, testBucket, "k", "v1")
	mustSet(t, s, testBucket, "k", "v2")
	if val := mustGet(t, s, testBucket, "k"); string(val) != "v2" {
		t.Fatalf("expected v2 after overwrite, got %q", val)
	}
}

func testDelete(t *testing.T, s store.Store) {
	mustSet(t, s, testBucket, "k", "v")
	if err := s.Delete(testBucket, []byte("k")); err != nil {
		t.Fatal(err)
	}
	if val := mustGet(t, s, testBucket, "k"); val != nil {
		t.Fatalf("expected nil after delete, got %q", val)
	}
}

func testDeleteNonexistent(t *testing.T, s store.Store) {
	if err := s.Delete([]byte("no-bucket"), []byte("key")); err != nil {
		t.Fatalf("delete in missing bucket: %v", err)
	}
	mustSet(t, s, testBucket, "present", "v")
	if err := s.Delete(testBucket, []byte("absent")); err != nil {
		t.Fatalf("delete of missing key: %v", err)
	}
}

func testForEach(t *testing.T, s store.Store) {
	keys := []string{"a", "b", "c"}
	for _, k := range keys {
		mustSet(t, s, testBucket, k, "val-"+k)
	}

	seen := make(map[string]string)
	err := s.ForEach(testBucket, func(k, v []byte) error {
		seen[string(k)] = string(v)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(seen) != len(keys) {
		t.Fatalf("expected %d entries, got %d", len(keys), len(seen))
	}
	for _, k := range keys {
		if seen[k] != "val-"+k {
			t.Fatalf("expected val-%s, got %q", k, seen[k])
		}
	}
}

func testForEachNonexistentBucket(t *testing.T, s store.Store) {
	count := 0
	err := s.ForEach([]byte("no-bucket"), func(k, v []byte) error {
		count++
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Fatal("iterating nonexistent bucket should yield 0 entries")
	}
}

func testForEachStopsOnError(t *testing.T, s store.Store) {
	mustSet(t, s, testBucket, "a", "1")
	mustSet(t, s, testBucket, "b", "2")
	stop := fmt.Errorf("stop")
	calls := 0
	err := s.ForEach(testBucket, func(k, v []byte) error {
		calls++
		return stop
	})
	if err != stop {
		t.Fatalf("expected callback error to propagate, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected iteration to stop after 1 call, got %d", calls)
	}
}

func testSnapshot(t *testing.T, s store.Store) {
	mustSet(t, s, testBucket, "x", "1")
	mustSet(t, s, testBucket, "y", "2")

	snap, err := s.Snapshot(testBucket)
	if err != nil {
		t.Fatal(err)
	}
	if len(snap) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(snap))
	}
	if string(snap["x"]) != "1" || string(snap["y"]) != "2" {
		t.Fatalf("unexpected snapshot content: %v", snap)
	}

	empty, err := s.Snapshot([]byte("no-bucket"))
	if err != nil {
		t.Fatal(err)
	}
	if len(empty) != 0 {
		t.Fatalf("expected empty snapshot, got %d entries", len(empty))
	}
}

func testSnapshotReturnsCopy(t *testing.T, s store.Store) {
	mustSet(t, s, testBucket, "k", "original")

	snap, err := s.Snapshot(testBucket)
	if err != nil {
		t.Fatal(err)
	}
	snap["k"][0] = 'X'

	if val := mustGet(t, s, testBucket, "k"); string(val) != "original" {
		t.Fatal("snapshot mutation should not affect store")
	}
}

func testGetReturnsCopy(t *testing.T, s store.Store) {
	value := []byte("original")
	if err := s.Set(testBucket, []byte("k"), value); err != nil {
		t.Fatal(err)
	}
	value[0] = 'X'

	got := mustGet(t, s, testBucket, "k")
	if string(got) != "original" {
		t.Fatalf("mutating the input slice changed the stored value: %q", got)
	}
	got[0] = 'Y'
	if again := mustGet(t, s, testBucket, "k"); string(again) != "original" {
		t.Fatalf("mutating a returned value changed the stored value: %q", again)
	}
}

func testMultipleBuckets(t *testing.T, s store.Store) {
	b1 := []byte("bucket1")
	b2 := []byte("bucket2")
	mustSet(t, s, b1, "k", "v1")
	mustSet(t, s, b2, "k", "v2")

	v1 := mustGet(t, s, b1, "k")
	v2 := mustGet(t, s, b2, "k")
	if string(v1) != "v1" || string(v2) != "v2" {
		t.Fatal("buckets should be isolated")
	}
}

func testConcurrent(t *testing.T, s store.Store) {
	const workers = 8
	const perWorker = 20

	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				key := []byte(fmt.Sprintf("w%d-k%d", w, i))
				if err := s.Set(testBucket, key, []byte("v")); err != nil {
					errs <- err
					return
				}
				if _, err := s.Get(testBucket, key); err != nil {
					errs <- err
					return
				}
			}
		}(w)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent access: %v", err)
	}

	snap, err := s.Snapshot(testBucket)
	if err != nil {
		t.Fatal(err)
	}
	if len(snap) != workers*perWorker {
		t.Fatalf("expected %d entries, got %d", workers*perWorker, len(snap))
	}
}
