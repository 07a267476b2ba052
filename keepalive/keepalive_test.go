package keepalive

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"
)

type fakeCap struct {
	name       string
	acquireErr error
	releaseErr error

	mu       sync.Mutex
	acquired int
	released int
	order    *[]string
	meta     Metadata
}

func (f *fakeCap) Name() string { return f.name }

func (f *fakeCap) Acquire(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.acquireErr != nil {
		return f.acquireErr
	}
	f.acquired++
	return nil
}

func (f *fakeCap) Release() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released++
	if f.order != nil {
		*f.order = append(*f.order, f.name)
	}
	return f.releaseErr
}

func (f *fakeCap) SetMetadata(md Metadata) { f.meta = md }

func TestEngageSkipsFailures(t *testing.T) {
	ok1 := &fakeCap{name: "a"}
	bad := &fakeCap{name: "b", acquireErr: errors.New("no bus")}
	unsupported := &fakeCap{name: "c", acquireErr: ErrUnsupported}
	ok2 := &fakeCap{name: "d"}

	var failures []string
	s := NewSet(ok1, bad, unsupported, ok2)
	s.OnFailure(func(name string, _ error) { failures = append(failures, name) })

	if n := s.Engage(context.Background()); n != 2 {
		t.Errorf("held = %d, want 2", n)
	}
	if got := s.Held(); !reflect.DeepEqual(got, []string{"a", "d"}) {
		t.Errorf("held = %v", got)
	}
	if !reflect.DeepEqual(failures, []string{"b", "c"}) {
		t.Errorf("failures = %v", failures)
	}
}

func TestEngageIdempotent(t *testing.T) {
	c := &fakeCap{name: "a"}
	s := NewSet(c)
	s.Engage(context.Background())
	s.Engage(context.Background())
	if c.acquired != 1 {
		t.Errorf("acquired %d times, want 1", c.acquired)
	}
}

func TestDisengageReleasesInReverseOnce(t *testing.T) {
	var order []string
	a := &fakeCap{name: "a", order: &order}
	b := &fakeCap{name: "b", order: &order, releaseErr: errors.New("already gone")}
	c := &fakeCap{name: "c", order: &order}
	s := NewSet(a, b, c)

	s.Disengage() // before Engage
	s.Engage(context.Background())
	s.Disengage()
	s.Disengage()

	if !reflect.DeepEqual(order, []string{"c", "b", "a"}) {
		t.Errorf("release order = %v", order)
	}
	if len(s.Held()) != 0 {
		t.Errorf("still held: %v", s.Held())
	}

	// A new recording can engage again.
	if n := s.Engage(context.Background()); n != 3 {
		t.Errorf("re-engage held = %d, want 3", n)
	}
}

func TestSetMetadataForwardsToDescribers(t *testing.T) {
	c := &fakeCap{name: "a"}
	n := &Notification{notify: func(string, string) error { return nil }}
	s := NewSet(c, n, NewWakeLock("test"))
	md := Metadata{RecordingID: "r1", Title: "Standup", Started: time.Unix(1, 0)}
	s.SetMetadata(md)
	if c.meta != md || n.meta != md {
		t.Errorf("metadata not forwarded: %+v %+v", c.meta, n.meta)
	}
}

func TestNotification(t *testing.T) {
	var sent []string
	n := &Notification{notify: func(title, msg string) error {
		sent = append(sent, title+"|"+msg)
		return nil
	}}
	n.SetMetadata(Metadata{Title: "Standup"})

	n.Release() // not active: nothing posted
	if err := n.Acquire(context.Background()); err != nil {
		t.Fatal(err)
	}
	n.Release()
	n.Release()

	want := []string{"livescribe|Recording in progress: Standup", "livescribe|Recording stopped"}
	if !reflect.DeepEqual(sent, want) {
		t.Errorf("sent = %v, want %v", sent, want)
	}
}

func TestNotificationFailureIsNotFatal(t *testing.T) {
	n := &Notification{notify: func(string, string) error { return errors.New("no daemon") }}
	s := NewSet(n)
	if held := s.Engage(context.Background()); held != 0 {
		t.Errorf("held = %d, want 0", held)
	}
	s.Disengage()
}

func TestMediaActionsStop(t *testing.T) {
	m := NewMediaSession()
	stopped := make(chan struct{}, 3)
	m.OnStop(func() { stopped <- struct{}{} })

	a := mediaActions{session: m}
	a.Stop()
	a.PlayPause()
	a.Play()

	for i := 0; i < 2; i++ {
		select {
		case <-stopped:
		case <-time.After(time.Second):
			t.Fatalf("stop action %d not delivered", i+1)
		}
	}
	select {
	case <-stopped:
		t.Error("Play must not stop the recording")
	case <-time.After(20 * time.Millisecond):
	}
}

func TestMediaSessionReleaseWithoutAcquire(t *testing.T) {
	m := NewMediaSession()
	if err := m.Release(); err != nil {
		t.Errorf("Release = %v", err)
	}
	m.requestStop() // no handler set
}
