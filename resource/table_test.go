package resource

import (
	"testing"
)

type testObserver struct {
	events []Event
}

func (o *testObserver) OnResourceEvent(e Event) {
	o.events = append(o.events, e)
}

type dropCounter struct {
	drops *int
}

func (d dropCounter) Drop() { *d.drops++ }

func TestTable_Basic(t *testing.T) {
	table := NewTable()

	h := table.Insert(KindConn, "conn")
	if h == 0 {
		t.Fatal("expected non-zero handle")
	}

	val, ok := table.Get(h)
	if !ok || val != "conn" {
		t.Fatalf("Get = %v, %v", val, ok)
	}
	if _, ok := table.GetTyped(h, KindConn); !ok {
		t.Fatal("GetTyped with matching kind failed")
	}
	if _, ok := table.GetTyped(h, KindListener); ok {
		t.Fatal("GetTyped with wrong kind should fail")
	}

	val, ok = table.Remove(h)
	if !ok || val != "conn" {
		t.Fatalf("Remove = %v, %v", val, ok)
	}
	if table.Len() != 0 {
		t.Fatalf("Len = %d after Remove", table.Len())
	}
	if _, ok := table.Remove(h); ok {
		t.Fatal("second Remove should fail")
	}
}

func TestTable_HandleReuse(t *testing.T) {
	table := NewTable()
	h1 := table.Insert(KindConn, 1)
	table.Insert(KindConn, 2)
	table.Remove(h1)

	h3 := table.Insert(KindConn, 3)
	if h3 != h1 {
		t.Errorf("expected reuse of handle %d, got %d", h1, h3)
	}
	if v, _ := table.Get(h3); v != 3 {
		t.Errorf("reused handle holds %v", v)
	}
}

func TestTable_InvalidHandles(t *testing.T) {
	table := NewTable()
	if _, ok := table.Get(0); ok {
		t.Error("handle 0 must be invalid")
	}
	if _, ok := table.Get(99); ok {
		t.Error("unknown handle must be invalid")
	}
}

func TestTable_Observer(t *testing.T) {
	table := NewTable()
	obs := &testObserver{}
	table.Subscribe(obs)

	h := table.Insert(KindListener, "l")
	table.Remove(h)

	if len(obs.events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(obs.events))
	}
	if obs.events[0].Type != EventCreated || obs.events[0].Kind != KindListener {
		t.Errorf("first event = %+v", obs.events[0])
	}
	if obs.events[1].Type != EventDropped || obs.events[1].Handle != h {
		t.Errorf("second event = %+v", obs.events[1])
	}

	table.Unsubscribe(obs)
	table.Insert(KindConn, "c")
	if len(obs.events) != 2 {
		t.Error("unsubscribed observer still notified")
	}
}

func TestTable_DropperCalled(t *testing.T) {
	drops := 0
	table := NewTable()

	h := table.Insert(KindConn, dropCounter{drops: &drops})
	table.Remove(h)
	if drops != 1 {
		t.Fatalf("Remove: drops = %d", drops)
	}

	table.Insert(KindConn, dropCounter{drops: &drops})
	table.Insert(KindConn, dropCounter{drops: &drops})
	if err := table.Close(); err != nil {
		t.Fatal(err)
	}
	if drops != 3 {
		t.Fatalf("Close: drops = %d", drops)
	}
	if h := table.Insert(KindConn, "late"); h != 0 {
		t.Error("Insert after Close should return 0")
	}
}

func TestTable_Clear(t *testing.T) {
	table := NewTable()
	for i := 0; i < 5; i++ {
		table.Insert(KindExternRef, i)
	}
	table.Clear()
	if table.Len() != 0 {
		t.Errorf("Len = %d after Clear", table.Len())
	}
}

func TestRefs_Interning(t *testing.T) {
	table := NewTable()
	refs := table.Refs()

	w1 := refs.Insert("payload")
	w2 := refs.Insert("payload")
	if w1 == 0 || w1 != w2 {
		t.Fatalf("comparable payloads should share a word: %d, %d", w1, w2)
	}
	if table.Len() != 1 {
		t.Fatalf("Len = %d", table.Len())
	}

	s1 := refs.Insert([]int{1})
	s2 := refs.Insert([]int{1})
	if s1 == s2 {
		t.Error("non-comparable payloads must get distinct words")
	}

	v, ok := refs.Lookup(w1)
	if !ok || v != "payload" {
		t.Errorf("Lookup = %v, %v", v, ok)
	}

	table.Remove(Handle(w1))
	if w3 := refs.Insert("payload"); w3 == 0 {
		t.Error("payload should be re-insertable after removal")
	}
}

func TestRefs_LookupRejectsOtherKinds(t *testing.T) {
	table := NewTable()
	h := table.Insert(KindConn, "conn")

	if _, ok := table.Refs().Lookup(uint64(h)); ok {
		t.Error("socket handle must not resolve as externref")
	}
	if _, ok := table.Refs().Lookup(0); ok {
		t.Error("word 0 is null")
	}
	if _, ok := table.Refs().Lookup(1 << 40); ok {
		t.Error("out of range word must not resolve")
	}
}
