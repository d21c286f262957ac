package cache

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tabwright-labs/tabwright/pkg/tmdl"
)

const salesModel = "table Sales\n\tmeasure Total = SUM(Sales[Amount])\n"

func writeModel(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	return path
}

func TestCache_GetCachesDocument(t *testing.T) {
	dir := t.TempDir()
	path := writeModel(t, dir, "sales.tmdl", salesModel)
	c := New(nil)

	first, err := c.Get(path)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if first.Table("Sales") == nil {
		t.Fatal("expected table Sales in parsed document")
	}

	// A direct rewrite on disk is not visible until invalidation.
	writeModel(t, dir, "sales.tmdl", "table Sales\n\tmeasure Total = 2\n")

	second, err := c.Get(path)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if first != second {
		t.Error("expected cached document pointer on second Get")
	}
}

func TestCache_Invalidate(t *testing.T) {
	dir := t.TempDir()
	path := writeModel(t, dir, "sales.tmdl", salesModel)
	c := New(nil)

	if _, err := c.Get(path); err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	writeModel(t, dir, "sales.tmdl", "table Sales\n\tmeasure Total = 2\n")
	c.Invalidate(path)

	doc, err := c.Get(path)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	m := doc.Table("Sales").Measure("Total")
	if m == nil || m.Expression != "2" {
		t.Fatalf("expected reloaded expression, got %+v", m)
	}
}

func TestCache_NotifyInvalidate(t *testing.T) {
	dir := t.TempDir()
	path := writeModel(t, dir, "sales.tmdl", salesModel)
	c := New(nil)

	if _, err := c.Get(path); err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	var notified []string
	c.NotifyInvalidate(func(p string) {
		notified = append(notified, p)
		// Re-entry from the hook must not deadlock.
		if _, err := c.Get(p); err != nil {
			t.Errorf("Get from hook failed: %v", err)
		}
	})

	c.Invalidate(path)
	want := []string{filepath.Clean(path)}
	if !reflect.DeepEqual(notified, want) {
		t.Errorf("expected hook calls %v, got %v", want, notified)
	}
}

func TestCache_Replace(t *testing.T) {
	dir := t.TempDir()
	path := writeModel(t, dir, "sales.tmdl", salesModel)
	c := New(nil)

	if _, err := c.Get(path); err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	updated, err := tmdl.Parse(path, []byte("table Sales\n\tmeasure Total = 3\n"))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	c.Replace(updated)

	doc, err := c.Get(path)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if doc != updated {
		t.Error("expected Get to return the replaced document")
	}
}

func TestCache_Paths(t *testing.T) {
	dir := t.TempDir()
	b := writeModel(t, dir, "b.tmdl", salesModel)
	a := writeModel(t, dir, "a.tmdl", "table Orders\n\tmeasure Count = COUNTROWS(Orders)\n")
	c := New(nil)

	if _, err := c.Get(b); err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if _, err := c.Get(a); err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	want := []string{filepath.Clean(a), filepath.Clean(b)}
	if got := c.Paths(); !reflect.DeepEqual(got, want) {
		t.Errorf("expected paths %v, got %v", want, got)
	}
	if c.Len() != 2 {
		t.Errorf("expected 2 cached documents, got %d", c.Len())
	}
}

func TestCache_GetMissingFile(t *testing.T) {
	c := New(nil)
	_, err := c.Get(filepath.Join(t.TempDir(), "absent.tmdl"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	if !strings.Contains(err.Error(), "failed to read") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestCache_ConcurrentGet(t *testing.T) {
	dir := t.TempDir()
	path := writeModel(t, dir, "sales.tmdl", salesModel)
	c := New(nil)

	const workers = 16
	docs := make([]*tmdl.Document, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			doc, err := c.Get(path)
			if err != nil {
				t.Errorf("Get failed: %v", err)
				return
			}
			docs[i] = doc
		}(i)
	}
	wg.Wait()

	for i := 1; i < workers; i++ {
		if docs[i] != docs[0] {
			t.Fatalf("worker %d got a different document instance", i)
		}
	}
}

func TestCache_WatchInvalidates(t *testing.T) {
	dir := t.TempDir()
	path := writeModel(t, dir, "sales.tmdl", salesModel)
	c := New(nil)

	if _, err := c.Get(path); err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = c.Watch(ctx, dir) }()

	updated := "table Sales\n\tmeasure Total = 2\n"
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		writeModel(t, dir, "sales.tmdl", updated)
		time.Sleep(50 * time.Millisecond)

		doc, err := c.Get(path)
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if m := doc.Table("Sales").Measure("Total"); m != nil && m.Expression == "2" {
			return
		}
	}
	t.Fatal("cache entry was not invalidated after the file changed on disk")
}
