package diskstore

import (
	"testing"

	"github.com/gogpu/compose/imagekey"
	"github.com/gogpu/compose/store"
)

func testKey() imagekey.Key {
	return imagekey.Key{
		NodeHash:   7,
		Time:       1,
		View:       0,
		Mip:        0,
		Components: imagekey.ComponentsRGBA,
		Depth:      imagekey.Depth8,
		Plane:      imagekey.ColorPlane,
	}
}

func makeTestImage(t *testing.T, key imagekey.Key) *store.Image {
	t.Helper()
	bounds := imagekey.PixelRect{X0: 0, Y0: 0, X1: 4, Y1: 4}
	rod := imagekey.Rect{MinX: 0, MinY: 0, MaxX: 4, MaxY: 4}
	img, _ := store.New(8).LookupOrCreate(key, store.NewImageParams{
		Bounds:      bounds,
		RoD:         rod,
		PixelAspect: 1,
	})
	buf := img.Buf()
	data := buf.Data()
	for i := range data {
		data[i] = byte(i)
	}
	return img
}

func TestStoreLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	ds, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer ds.Close()

	key := testKey()
	img := makeTestImage(t, key)

	if err := ds.Store(key, img); err != nil {
		t.Fatalf("Store: %v", err)
	}

	got, ok := ds.Load(key)
	if !ok {
		t.Fatalf("Load after Store: not found")
	}
	if got.Bounds != img.Bounds {
		t.Fatalf("Bounds mismatch: got %+v, want %+v", got.Bounds, img.Bounds)
	}
	if got.Buf().Width() != img.Buf().Width() {
		t.Fatalf("width mismatch after round trip")
	}
}

func TestLoadMissingKey(t *testing.T) {
	dir := t.TempDir()
	ds, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer ds.Close()

	if _, ok := ds.Load(testKey()); ok {
		t.Fatalf("Load on empty store returned ok=true")
	}
}

func TestEvictRemovesEntry(t *testing.T) {
	dir := t.TempDir()
	ds, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer ds.Close()

	key := testKey()
	img := makeTestImage(t, key)
	if err := ds.Store(key, img); err != nil {
		t.Fatalf("Store: %v", err)
	}
	ds.Evict(key)

	if _, ok := ds.Load(key); ok {
		t.Fatalf("Load after Evict returned ok=true")
	}
}

func TestReopenLoadsIndex(t *testing.T) {
	dir := t.TempDir()
	ds, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	key := testKey()
	img := makeTestImage(t, key)
	if err := ds.Store(key, img); err != nil {
		t.Fatalf("Store: %v", err)
	}
	ds.Close()

	ds2, err := Open(dir)
	if err != nil {
		t.Fatalf("reopen Open: %v", err)
	}
	defer ds2.Close()

	if _, ok := ds2.Load(key); !ok {
		t.Fatalf("Load after reopen: not found, index was not persisted")
	}
}
