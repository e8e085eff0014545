package relay

import (
	"net"
	"testing"
)

func _newMockConnPair(t *testing.T) (net.Conn, net.Conn) {
	t.Helper()
	c1, c2 := net.Pipe()
	t.Cleanup(func() {
		c1.Close()
		c2.Close()
	})
	return c1, c2
}

func TestSlotTableAddAssignsStableIDs(t *testing.T) {
	table := NewSlotTable(4)
	var k [32]byte

	a, _ := _newMockConnPair(t)
	b, _ := _newMockConnPair(t)

	id1, err := table.Add(a, k)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	id2, err := table.Add(b, k)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if id1 == id2 {
		t.Fatal("expected distinct slot ids")
	}
	if table.Len() != 2 {
		t.Fatalf("expected 2 active slots, got %d", table.Len())
	}
}

func TestSlotTableAddRefusesPastCapacity(t *testing.T) {
	table := NewSlotTable(2) // capacity-1 == 1 active slot allowed
	var k [32]byte

	a, _ := _newMockConnPair(t)
	if _, err := table.Add(a, k); err != nil {
		t.Fatalf("Add: %v", err)
	}

	b, _ := _newMockConnPair(t)
	if _, err := table.Add(b, k); err != ErrCapacityExceeded {
		t.Fatalf("expected ErrCapacityExceeded, got %v", err)
	}
}

func TestSlotTableRemoveByIDSurvivesCompaction(t *testing.T) {
	table := NewSlotTable(8)
	var k [32]byte

	conns := make([]net.Conn, 3)
	remotes := make([]net.Conn, 3)
	ids := make([]int, 3)
	for i := 0; i < 3; i++ {
		c, r := _newMockConnPair(t)
		conns[i] = c
		remotes[i] = r
		id, err := table.Add(c, k)
		if err != nil {
			t.Fatalf("Add: %v", err)
		}
		ids[i] = id
	}

	// Remove the first slot; the table compacts by swapping the last slot
	// into its place, so id[2]'s connection now lives at table position 0.
	table.Remove(ids[0])
	if table.Len() != 2 {
		t.Fatalf("expected 2 active slots after removal, got %d", table.Len())
	}

	// Fanout excluding ids[2] should only reach ids[1]'s connection,
	// regardless of where compaction moved it in the slice.
	received := make(chan []byte, 1)
	go func() {
		buf := make([]byte, 1)
		n, _ := remotes[1].Read(buf)
		received <- buf[:n]
	}()
	if errs := table.Fanout([]byte("x"), ids[2]); len(errs) != 0 {
		t.Fatalf("unexpected fanout errors: %v", errs)
	}
	if got := <-received; string(got) != "x" {
		t.Fatalf("ids[1] received %q, want %q", got, "x")
	}

	// Removing the same id twice is a no-op, not a panic or double-close.
	table.Remove(ids[0])
	if table.Len() != 2 {
		t.Fatalf("expected no-op removal of already-absent id, got len %d", table.Len())
	}
}

func TestSlotTableFanoutExcludesSender(t *testing.T) {
	table := NewSlotTable(8)
	var k [32]byte

	senderLocal, senderRemote := _newMockConnPair(t)
	peerLocal, peerRemote := _newMockConnPair(t)

	senderID, _ := table.Add(senderLocal, k)
	_, _ = table.Add(peerLocal, k)
	_ = senderRemote

	received := make(chan []byte, 1)
	go func() {
		buf := make([]byte, 1)
		n, _ := peerRemote.Read(buf)
		received <- buf[:n]
	}()

	errs := table.Fanout([]byte("y"), senderID)
	if len(errs) != 0 {
		t.Fatalf("unexpected fanout errors: %v", errs)
	}

	got := <-received
	if string(got) != "y" {
		t.Fatalf("unexpected payload %q", got)
	}
}
