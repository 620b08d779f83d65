package interaction

import (
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"maprender/internal/event"
	"maprender/pkg/geo"
)

// mockQuerier reports a hit for the layers in hits, regardless of the
// point.
type mockQuerier struct {
	hits    map[string]bool
	queries int
}

func (m *mockQuerier) QueryPoint(_ geo.ScreenPoint, layerID string) []*geojson.Feature {
	m.queries++
	if m.hits[layerID] {
		return []*geojson.Feature{geojson.NewFeature(orb.Point{0, 0})}
	}
	return nil
}

func move(x, y float64) event.Event {
	return event.Event{Type: MouseMove, Point: geo.ScreenPoint{X: x, Y: y}}
}

func TestGlobalListenersSeeEveryRawEvent(t *testing.T) {
	d := New(&mockQuerier{})

	var got []string
	d.On(Click, func(ev event.Event) { got = append(got, ev.Type) })
	d.On(MouseMove, func(ev event.Event) { got = append(got, ev.Type) })

	d.Dispatch(event.Event{Type: Click})
	d.Dispatch(move(1, 1))
	d.Dispatch(event.Event{Type: MouseDown}) // nobody listening

	if len(got) != 2 || got[0] != Click || got[1] != MouseMove {
		t.Fatalf("got = %v", got)
	}
}

func TestDelegatedClickRequiresHit(t *testing.T) {
	q := &mockQuerier{hits: map[string]bool{}}
	d := New(q)

	var fired int
	var feats int
	d.OnLayer(Click, "pois", func(ev event.Event) {
		fired++
		feats = len(ev.Features)
	})

	d.Dispatch(event.Event{Type: Click})
	if fired != 0 {
		t.Fatal("delegated listener fired without a hit")
	}

	q.hits["pois"] = true
	d.Dispatch(event.Event{Type: Click})
	if fired != 1 {
		t.Fatalf("fired = %d", fired)
	}
	if feats != 1 {
		t.Fatalf("features on event = %d", feats)
	}
}

func TestFeaturesDoNotLeakAcrossDispatches(t *testing.T) {
	q := &mockQuerier{hits: map[string]bool{"pois": true}}
	d := New(q)

	d.OnLayer(Click, "pois", func(ev event.Event) {
		ev.Features = append(ev.Features, geojson.NewFeature(orb.Point{9, 9}))
	})
	var seen int
	d.OnLayer(Click, "pois", func(ev event.Event) { seen = len(ev.Features) })

	d.Dispatch(event.Event{Type: Click})
	d.Dispatch(event.Event{Type: Click})
	if seen != 1 {
		t.Fatalf("second listener saw %d features, want its own fresh hit list", seen)
	}
}

func TestMouseEnterFiresOncePerDwell(t *testing.T) {
	q := &mockQuerier{hits: map[string]bool{}}
	d := New(q)

	var enters int
	d.OnLayer(MouseEnter, "pois", func(ev event.Event) {
		if ev.Type != MouseEnter {
			t.Errorf("event type = %q", ev.Type)
		}
		if len(ev.Features) == 0 {
			t.Error("enter event carried no features")
		}
		enters++
	})

	q.hits["pois"] = true
	d.Dispatch(move(1, 1))
	d.Dispatch(move(2, 2))
	d.Dispatch(move(3, 3))
	if enters != 1 {
		t.Fatalf("enters = %d during one dwell", enters)
	}

	q.hits["pois"] = false
	d.Dispatch(move(4, 4))
	q.hits["pois"] = true
	d.Dispatch(move(5, 5))
	if enters != 2 {
		t.Fatalf("enters = %d after leaving and re-entering", enters)
	}
}

func TestMouseOutResetsEnterState(t *testing.T) {
	q := &mockQuerier{hits: map[string]bool{"pois": true}}
	d := New(q)

	var enters int
	d.OnLayer(MouseEnter, "pois", func(event.Event) { enters++ })

	d.Dispatch(move(1, 1))
	d.Dispatch(event.Event{Type: MouseOut}) // pointer left the surface
	d.Dispatch(move(2, 2))
	if enters != 2 {
		t.Fatalf("enters = %d, want re-entry after surface exit", enters)
	}
}

func TestMouseLeaveFiresOncePerExit(t *testing.T) {
	q := &mockQuerier{hits: map[string]bool{"pois": true}}
	d := New(q)

	var leaves int
	d.OnLayer(MouseLeave, "pois", func(ev event.Event) {
		if ev.Type != MouseLeave {
			t.Errorf("event type = %q", ev.Type)
		}
		leaves++
	})

	d.Dispatch(move(1, 1)) // inside
	q.hits["pois"] = false
	d.Dispatch(move(2, 2))
	d.Dispatch(move(3, 3))
	if leaves != 1 {
		t.Fatalf("leaves = %d after one exit", leaves)
	}

	// Repeated raw mouseout must not fire again while already outside.
	d.Dispatch(event.Event{Type: MouseOut})
	d.Dispatch(event.Event{Type: MouseOut})
	if leaves != 1 {
		t.Fatalf("leaves = %d after redundant mouseout", leaves)
	}

	q.hits["pois"] = true
	d.Dispatch(move(4, 4))
	d.Dispatch(event.Event{Type: MouseOut})
	if leaves != 2 {
		t.Fatalf("leaves = %d after surface exit from inside", leaves)
	}
}

func TestEnterAndLeaveTrackStateIndependently(t *testing.T) {
	q := &mockQuerier{hits: map[string]bool{}}
	d := New(q)

	var enters, leaves int
	d.OnLayer(MouseEnter, "pois", func(event.Event) { enters++ })

	// The leave listener registers mid-dwell: it never saw the pointer
	// inside, so the first exit must not fire it.
	q.hits["pois"] = true
	d.Dispatch(move(1, 1))
	d.OnLayer(MouseLeave, "pois", func(event.Event) { leaves++ })
	q.hits["pois"] = false
	d.Dispatch(move(2, 2))

	if enters != 1 || leaves != 0 {
		t.Fatalf("enters = %d, leaves = %d", enters, leaves)
	}
}

func TestOffLayerRemovesDerivedSubscriptionsExactly(t *testing.T) {
	q := &mockQuerier{hits: map[string]bool{"a": true, "b": true}}
	d := New(q)

	var aFired, bFired int
	onA := func(event.Event) { aFired++ }
	onB := func(event.Event) { bFired++ }

	d.OnLayer(MouseEnter, "a", onA)
	d.OnLayer(MouseEnter, "b", onB)
	if got := d.RawListenerCount(MouseMove); got != 2 {
		t.Fatalf("raw mousemove listeners = %d, want 2", got)
	}
	if got := d.RawListenerCount(MouseOut); got != 2 {
		t.Fatalf("raw mouseout listeners = %d, want 2", got)
	}

	d.OffLayer(MouseEnter, "a", onA)
	if got := d.RawListenerCount(MouseMove); got != 1 {
		t.Fatalf("raw mousemove listeners after Off = %d, want 1", got)
	}

	d.Dispatch(move(1, 1))
	if aFired != 0 || bFired != 1 {
		t.Fatalf("aFired = %d, bFired = %d after removing a", aFired, bFired)
	}

	// Unknown triples are a no-op.
	d.OffLayer(MouseEnter, "a", onA)
	d.OffLayer(Click, "b", onB)
	if got := d.RawListenerCount(MouseMove); got != 1 {
		t.Fatalf("no-op Off changed listener count to %d", got)
	}
}

func TestRepeatedOnLayerStacksRegistrations(t *testing.T) {
	q := &mockQuerier{hits: map[string]bool{"pois": true}}
	d := New(q)

	var fired int
	fn := func(event.Event) { fired++ }
	d.OnLayer(Click, "pois", fn)
	d.OnLayer(Click, "pois", fn)

	d.Dispatch(event.Event{Type: Click})
	if fired != 2 {
		t.Fatalf("fired = %d for one click with two registrations", fired)
	}

	// One OffLayer removes one registration, not both.
	d.OffLayer(Click, "pois", fn)
	d.Dispatch(event.Event{Type: Click})
	if fired != 3 {
		t.Fatalf("fired = %d after removing one registration", fired)
	}
	d.OffLayer(Click, "pois", fn)
	d.Dispatch(event.Event{Type: Click})
	if fired != 3 {
		t.Fatalf("fired = %d after removing both registrations", fired)
	}
}

func TestSameLiteralClosuresStayIndependent(t *testing.T) {
	q := &mockQuerier{hits: map[string]bool{"pois": true}}
	d := New(q)

	// Both listeners come from one function literal and therefore share a
	// code pointer; each must still register and cancel on its own.
	counts := make(map[string]int)
	listen := func(tag string) event.Listener {
		return func(event.Event) { counts[tag]++ }
	}
	cancelA := d.OnLayer(Click, "pois", listen("a"))
	d.OnLayer(Click, "pois", listen("b"))

	d.Dispatch(event.Event{Type: Click})
	if counts["a"] != 1 || counts["b"] != 1 {
		t.Fatalf("counts = %v, want both listeners fired", counts)
	}

	cancelA()
	d.Dispatch(event.Event{Type: Click})
	if counts["a"] != 1 || counts["b"] != 2 {
		t.Fatalf("counts = %v after cancelling a", counts)
	}
	cancelA() // second cancel is a no-op
	if got := d.RawListenerCount(Click); got != 1 {
		t.Fatalf("raw click listeners = %d, want 1", got)
	}
}

func TestRemoveDropsEverything(t *testing.T) {
	q := &mockQuerier{hits: map[string]bool{"pois": true}}
	d := New(q)

	var fired int
	d.On(Click, func(event.Event) { fired++ })
	d.OnLayer(MouseEnter, "pois", func(event.Event) { fired++ })

	d.Remove()
	d.Dispatch(event.Event{Type: Click})
	d.Dispatch(move(1, 1))
	if fired != 0 {
		t.Fatalf("fired = %d after Remove", fired)
	}
	if got := d.RawListenerCount(MouseMove); got != 0 {
		t.Fatalf("raw listeners after Remove = %d", got)
	}
}
