package memory

import (
	"bytes"
	"context"
	"testing"
)

func TestBlobStorePutObjectCopiesData(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	payload := []byte(`{"data":{}}`)
	uri, err := store.PutObject(context.Background(), "raw/C1/1.json", "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("PutObject() error = %v", err)
	}
	if uri != "memory://raw/C1/1.json" {
		t.Fatalf("unexpected uri %s", uri)
	}
	payload[0] = 'X'
	stored, contentType, ok := store.Object("raw/C1/1.json")
	if !ok {
		t.Fatal("expected object to exist")
	}
	if string(stored) != `{"data":{}}` {
		t.Fatalf("expected stored copy to be immutable, got %q", stored)
	}
	if contentType != "application/json" {
		t.Fatalf("unexpected content type %q", contentType)
	}
}

func TestBlobStorePaths(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	for _, p := range []string{"b", "a", "c"} {
		if _, err := store.PutObject(context.Background(), p, "", bytes.NewReader(nil)); err != nil {
			t.Fatal(err)
		}
	}
	got := store.Paths()
	if len(got) != 3 || got[0] != "a" || got[2] != "c" {
		t.Fatalf("unexpected paths %v", got)
	}
	if _, _, ok := store.Object("missing"); ok {
		t.Fatal("expected missing object")
	}
}
