package relay

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"
)

func TestRegistryRegisterDevice(t *testing.T) {
	r := NewRegistry()
	conn := newFakeConn()

	outcome := r.RegisterDevice("esp-1", conn, json.RawMessage(`{"relay":"off"}`))
	if outcome != OutcomeRegistered {
		t.Errorf("Outcome = %v, want OutcomeRegistered", outcome)
	}

	got, ok := r.LookupDevice("esp-1")
	if !ok {
		t.Fatal("LookupDevice() returned false for registered id")
	}
	if got != conn {
		t.Error("LookupDevice() returned wrong connection")
	}

	state, ok := r.DeviceState("esp-1")
	if !ok {
		t.Fatal("DeviceState() returned false for registered id")
	}
	if string(state) != `{"relay":"off"}` {
		t.Errorf("DeviceState() = %s, want initial register state", state)
	}
}

func TestRegistryLastWriterWins(t *testing.T) {
	r := NewRegistry()
	first := newFakeConn()
	second := newFakeConn()

	r.RegisterDevice("esp-1", first, nil)
	outcome := r.RegisterDevice("esp-1", second, nil)

	if outcome != OutcomeReplaced {
		t.Errorf("Outcome = %v, want OutcomeReplaced", outcome)
	}
	if !first.isClosed() {
		t.Error("previous connection was not closed on replacement")
	}
	if second.isClosed() {
		t.Error("replacement connection must stay open")
	}

	got, ok := r.LookupDevice("esp-1")
	if !ok || got != second {
		t.Error("registry does not map id to the latest connection")
	}

	if ids := r.OnlineDeviceIDs(); len(ids) != 1 {
		t.Errorf("OnlineDeviceIDs() has %d entries after replacement, want 1", len(ids))
	}
}

func TestRegistryReplacedKeepsOrderSlot(t *testing.T) {
	r := NewRegistry()
	r.RegisterDevice("esp-a", newFakeConn(), nil)
	r.RegisterDevice("esp-b", newFakeConn(), nil)
	r.RegisterDevice("esp-a", newFakeConn(), nil)

	ids := r.OnlineDeviceIDs()
	want := []string{"esp-a", "esp-b"}
	if len(ids) != len(want) {
		t.Fatalf("OnlineDeviceIDs() = %v, want %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Errorf("OnlineDeviceIDs()[%d] = %s, want %s", i, ids[i], want[i])
		}
	}
}

func TestRegistryRemoveDeviceIdempotent(t *testing.T) {
	r := NewRegistry()
	r.RegisterDevice("esp-1", newFakeConn(), nil)

	if !r.RemoveDevice("esp-1") {
		t.Error("first RemoveDevice() = false, want true")
	}
	if r.RemoveDevice("esp-1") {
		t.Error("second RemoveDevice() = true, want false")
	}
	if _, ok := r.LookupDevice("esp-1"); ok {
		t.Error("device still resolvable after removal")
	}
	if ids := r.OnlineDeviceIDs(); len(ids) != 0 {
		t.Errorf("OnlineDeviceIDs() = %v after removal, want empty", ids)
	}
}

func TestRegistryRemoveDeviceConnGuardsReconnect(t *testing.T) {
	r := NewRegistry()
	stale := newFakeConn()
	live := newFakeConn()

	r.RegisterDevice("esp-1", stale, nil)
	r.RegisterDevice("esp-1", live, nil)

	// The stale connection's teardown must not evict the replacement.
	if r.RemoveDeviceConn("esp-1", stale) {
		t.Error("RemoveDeviceConn() removed entry owned by a newer connection")
	}
	if _, ok := r.LookupDevice("esp-1"); !ok {
		t.Fatal("live registration lost after stale teardown")
	}

	if !r.RemoveDeviceConn("esp-1", live) {
		t.Error("RemoveDeviceConn() = false for the owning connection")
	}
}

func TestRegistryUpdateDeviceState(t *testing.T) {
	r := NewRegistry()
	r.RegisterDevice("esp-1", newFakeConn(), json.RawMessage(`{"relay":"off"}`))

	if !r.UpdateDeviceState("esp-1", json.RawMessage(`{"relay":"on"}`)) {
		t.Fatal("UpdateDeviceState() = false for live device")
	}
	state, _ := r.DeviceState("esp-1")
	if string(state) != `{"relay":"on"}` {
		t.Errorf("DeviceState() = %s, want updated state", state)
	}

	if r.UpdateDeviceState("esp-missing", nil) {
		t.Error("UpdateDeviceState() = true for unknown id")
	}
}

func TestRegistryFrontendSelection(t *testing.T) {
	r := NewRegistry()
	sessA := r.RegisterFrontend(newFakeConn())
	sessB := r.RegisterFrontend(newFakeConn())

	if sessA == sessB {
		t.Fatal("session ids must be unique")
	}

	if !r.SetSelected(sessA, "esp-1") {
		t.Fatal("SetSelected() = false for live session")
	}
	r.SetSelected(sessB, "esp-2")

	if id, ok := r.SelectedDevice(sessA); !ok || id != "esp-1" {
		t.Errorf("SelectedDevice() = %q, %v, want esp-1, true", id, ok)
	}

	selecting := r.FrontendsSelecting("esp-1")
	if len(selecting) != 1 || selecting[0].SessionID != sessA {
		t.Errorf("FrontendsSelecting(esp-1) = %v, want only session A", selecting)
	}

	cleared := r.ClearSelection("esp-1")
	if len(cleared) != 1 || cleared[0] != sessA {
		t.Errorf("ClearSelection() = %v, want [%s]", cleared, sessA)
	}
	if _, ok := r.SelectedDevice(sessA); ok {
		t.Error("selection survived ClearSelection()")
	}
	if id, ok := r.SelectedDevice(sessB); !ok || id != "esp-2" {
		t.Error("ClearSelection() touched an unrelated session")
	}
}

func TestRegistryRemoveFrontend(t *testing.T) {
	r := NewRegistry()
	sess := r.RegisterFrontend(newFakeConn())

	r.RemoveFrontend(sess)
	if _, ok := r.Frontend(sess); ok {
		t.Error("frontend still resolvable after removal")
	}

	// Removing again must be a no-op.
	r.RemoveFrontend(sess)

	if _, frontends := r.Counts(); frontends != 0 {
		t.Errorf("Counts() frontends = %d, want 0", frontends)
	}
}

func TestRegistryConcurrentAccess(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id := fmt.Sprintf("esp-%d", n%5)
			r.RegisterDevice(id, newFakeConn(), nil)
			r.OnlineDeviceIDs()
			r.UpdateDeviceState(id, json.RawMessage(`{}`))
			if n%2 == 0 {
				r.RemoveDevice(id)
			}
		}(i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			sess := r.RegisterFrontend(newFakeConn())
			r.SetSelected(sess, "esp-0")
			r.Frontends()
			r.RemoveFrontend(sess)
		}()
	}
	wg.Wait()

	// Membership and the ordered list must agree after the churn.
	devices, _ := r.Counts()
	if got := len(r.OnlineDeviceIDs()); got != devices {
		t.Errorf("order list has %d ids, map has %d entries", got, devices)
	}
}
