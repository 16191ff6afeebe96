package store

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/gogpu/compose/imagekey"
)

func testKey(nodeHash uint64) imagekey.Key {
	return imagekey.Key{
		NodeHash:   nodeHash,
		Time:       1,
		View:       0,
		Mip:        0,
		Components: imagekey.ComponentsRGBA,
		Depth:      imagekey.Depth32Float,
		Plane:      imagekey.ColorPlane,
	}
}

func testParams() NewImageParams {
	return NewImageParams{
		Bounds:      imagekey.PixelRect{X0: 0, Y0: 0, X1: 32, Y1: 32},
		RoD:         imagekey.Rect{MinX: 0, MinY: 0, MaxX: 32, MaxY: 32},
		PixelAspect: 1,
	}
}

// TestLookupOrCreateSingleCreation exercises spec.md §8 property 4 /
// scenario S5: concurrent requests for the same key must all observe the
// same Image instance, and exactly one of them must see created == true.
func TestLookupOrCreateSingleCreation(t *testing.T) {
	s := New(64)
	key := testKey(1)

	const n = 64
	var wg sync.WaitGroup
	wg.Add(n)
	results := make([]*Image, n)
	var createdCount atomic.Int32

	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			img, created := s.LookupOrCreate(key, testParams())
			results[i] = img
			if created {
				createdCount.Add(1)
			}
		}(i)
	}
	wg.Wait()

	if got := createdCount.Load(); got != 1 {
		t.Fatalf("created count = %d, want exactly 1", got)
	}
	first := results[0]
	for i, img := range results {
		if img != first {
			t.Fatalf("result[%d] = %p, want same instance as result[0] = %p", i, img, first)
		}
	}
}

func TestLookupMiss(t *testing.T) {
	s := New(64)
	if got := s.Lookup(testKey(1)); got != nil {
		t.Fatalf("Lookup on empty store = %v, want nil", got)
	}
}

func TestLookupAfterCreate(t *testing.T) {
	s := New(64)
	key := testKey(1)
	created, _ := s.LookupOrCreate(key, testParams())

	got := s.Lookup(key)
	if len(got) != 1 {
		t.Fatalf("Lookup returned %d images, want 1", len(got))
	}
	if got[0] != created {
		t.Fatalf("Lookup returned a different instance than LookupOrCreate")
	}
}

func TestRemove(t *testing.T) {
	s := New(64)
	key := testKey(1)
	s.LookupOrCreate(key, testParams())
	s.Remove(key)
	if got := s.Lookup(key); got != nil {
		t.Fatalf("Lookup after Remove = %v, want nil", got)
	}
}

func TestRemoveAllWithHolderExceptHash(t *testing.T) {
	s := New(64)
	holder := "node-a"

	keyKeep := testKey(1)
	keyDrop := testKey(2)

	paramsKeep := testParams()
	paramsKeep.Holder = holder
	paramsDrop := testParams()
	paramsDrop.Holder = holder

	s.LookupOrCreate(keyKeep, paramsKeep)
	s.LookupOrCreate(keyDrop, paramsDrop)

	s.RemoveAllWithHolder(holder, keyKeep.NodeHash)

	if got := s.Lookup(keyKeep); got == nil {
		t.Fatalf("expected keyKeep to survive RemoveAllWithHolder")
	}
	if got := s.Lookup(keyDrop); got != nil {
		t.Fatalf("expected keyDrop to be evicted by RemoveAllWithHolder")
	}
}

func TestSetDiskBudgetNoTierIsNoop(t *testing.T) {
	s := New(64)
	s.SetDiskBudget(1024) // must not panic with no disk tier attached
}

// fakeDiskTier is a minimal in-memory DiskTier double recording every key
// demoted to it, so tests can assert SetRAMBudget actually moves evicted
// entries to the disk tier instead of just dropping them.
type fakeDiskTier struct {
	mu      sync.Mutex
	stored  map[imagekey.Key]*Image
	evicted []imagekey.Key
}

func newFakeDiskTier() *fakeDiskTier {
	return &fakeDiskTier{stored: make(map[imagekey.Key]*Image)}
}

func (f *fakeDiskTier) Load(key imagekey.Key) (*Image, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	img, ok := f.stored[key]
	return img, ok
}

func (f *fakeDiskTier) Store(key imagekey.Key, img *Image) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stored[key] = img
	return nil
}

func (f *fakeDiskTier) Evict(key imagekey.Key) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.stored, key)
	f.evicted = append(f.evicted, key)
}

func (f *fakeDiskTier) SetBudget(bytes int64) {}

func (f *fakeDiskTier) len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.stored)
}

// TestSetRAMBudgetEvictsAndDemotesToDisk exercises the real eviction path:
// SetRAMBudget must actually shrink the RAM tier's footprint to fit the
// budget, and the entries it evicts to do so must land in the disk tier
// rather than simply disappearing.
func TestSetRAMBudgetEvictsAndDemotesToDisk(t *testing.T) {
	s := New(64)
	disk := newFakeDiskTier()
	s.AttachDisk(disk)

	const imageBytes = 32 * 32 * 4 * 4 // 32x32 RGBA32F, matches testParams()
	const n = 4
	for i := uint64(1); i <= n; i++ {
		if _, created := s.LookupOrCreate(testKey(i), testParams()); !created {
			t.Fatalf("key %d: expected a fresh image to be created", i)
		}
	}
	if got := s.Stats().Len; got != n {
		t.Fatalf("Stats.Len = %d before budget enforcement, want %d", got, n)
	}

	s.SetRAMBudget(imageBytes * 2) // fits half the images

	if got := s.ramBytes.Load(); got > imageBytes*2 {
		t.Fatalf("ramBytes = %d after SetRAMBudget, want <= %d", got, imageBytes*2)
	}
	if got := s.Stats().Len; got > 2 {
		t.Fatalf("Stats.Len = %d after SetRAMBudget, want <= 2", got)
	}
	if disk.len() == 0 {
		t.Fatalf("expected at least one evicted image to be demoted to the disk tier")
	}
	if disk.len()+s.Stats().Len != n {
		t.Fatalf("disk tier has %d + RAM tier has %d, want %d total (no image silently dropped)", disk.len(), s.Stats().Len, n)
	}
}

// TestSetRAMBudgetZeroIsNoop matches the existing "budget <= 0 disables
// enforcement" contract: entries are never evicted purely for existing.
func TestSetRAMBudgetZeroIsNoop(t *testing.T) {
	s := New(64)
	s.LookupOrCreate(testKey(1), testParams())
	s.SetRAMBudget(0)
	if got := s.Stats().Len; got != 1 {
		t.Fatalf("Stats.Len = %d after a zero budget, want 1 (no eviction)", got)
	}
}

func TestStatsReflectsActivity(t *testing.T) {
	s := New(64)
	key := testKey(1)
	s.LookupOrCreate(key, testParams())
	s.Lookup(key)

	st := s.Stats()
	if st.Len != 1 {
		t.Fatalf("Stats.Len = %d, want 1", st.Len)
	}
	if st.Hits == 0 {
		t.Fatalf("Stats.Hits = 0, want > 0 after a successful Lookup")
	}
}
