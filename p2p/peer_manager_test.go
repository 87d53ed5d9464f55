package p2p

import "testing"

func TestNewPeerManagerSeedsBootstrap(t *testing.T) {
	pm := NewPeerManager([]string{"1.2.3.4:1234", "5.6.7.8:5678"}, 8)
	addrs := pm.GetAddresses(10)
	if len(addrs) != 2 {
		t.Fatalf("GetAddresses returned %d addresses, want 2", len(addrs))
	}
}

func TestMarkTriedPromotesAddress(t *testing.T) {
	pm := NewPeerManager(nil, 8)
	pm.AddAddress("9.9.9.9:9999", "9.9.9.9:9999")
	pm.MarkTried("9.9.9.9:9999")

	found := false
	for _, b := range pm.tried {
		if info, ok := b["9.9.9.9:9999"]; ok {
			found = true
			if !info.Tried {
				t.Fatalf("tried entry should have Tried=true")
			}
		}
	}
	if !found {
		t.Fatalf("address should be present in a tried bucket after MarkTried")
	}
	for _, b := range pm.new {
		if _, ok := b["9.9.9.9:9999"]; ok {
			t.Fatalf("address should no longer be in a new bucket after MarkTried")
		}
	}
}

func TestAddAddressDoesNotDemoteTried(t *testing.T) {
	pm := NewPeerManager(nil, 8)
	pm.AddAddress("1.1.1.1:1", "1.1.1.1:1")
	pm.MarkTried("1.1.1.1:1")
	pm.AddAddress("1.1.1.1:1", "2.2.2.2:2") // re-observed from a different source

	for _, b := range pm.new {
		if _, ok := b["1.1.1.1:1"]; ok {
			t.Fatalf("a tried address must not be re-added to a new bucket")
		}
	}
}

func TestBucketEvictsOldestOnFull(t *testing.T) {
	pm := NewPeerManager(nil, 8)
	// Force every address into the same bucket by sharing a source group,
	// then overflow it to exercise the least-recently-seen eviction path.
	group := "shared-source"
	idx := bucketIndex(group, newBucketCount)
	for i := 0; i < bucketCapacity+1; i++ {
		addr := group + "/" + string(rune('a'+i%26)) + string(rune(i))
		pm.AddAddress(addr, group)
	}
	if len(pm.new[idx]) > bucketCapacity {
		t.Fatalf("bucket size %d exceeds capacity %d after overflow", len(pm.new[idx]), bucketCapacity)
	}
}

func TestMarkFailedIncrementsAttempts(t *testing.T) {
	pm := NewPeerManager(nil, 8)
	pm.AddAddress("3.3.3.3:3", "3.3.3.3:3")
	pm.MarkFailed("3.3.3.3:3")

	idx := bucketIndex("3.3.3.3:3", newBucketCount)
	info, ok := pm.new[idx]["3.3.3.3:3"]
	if !ok {
		t.Fatalf("address should still be present in its new bucket")
	}
	if info.Attempts != 1 {
		t.Fatalf("Attempts = %d, want 1", info.Attempts)
	}
}

func TestOutboundLimit(t *testing.T) {
	pm := NewPeerManager(nil, 16)
	if pm.OutboundLimit() != 16 {
		t.Fatalf("OutboundLimit() = %d, want 16", pm.OutboundLimit())
	}
}
