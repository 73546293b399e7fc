package location

import (
	"context"
	"errors"
	"testing"

	"geohunt/internal/geo"
)

func TestCurrent(t *testing.T) {
	p := NewStaticProvider(geo.Coordinates{Latitude: 43.47, Longitude: -80.54})

	pos, err := p.Current(context.Background())
	if err != nil {
		t.Fatalf("Current() error: %v", err)
	}
	if pos.Latitude != 43.47 || pos.Longitude != -80.54 {
		t.Errorf("pos = %+v", pos)
	}
}

func TestCurrent_PermissionDenied(t *testing.T) {
	p := NewStaticProvider(geo.Coordinates{})
	p.SetPermission(PermissionDenied)

	if _, err := p.Current(context.Background()); !errors.Is(err, ErrPermissionDenied) {
		t.Errorf("err = %v, want ErrPermissionDenied", err)
	}
	if _, err := p.Watch(func(geo.Coordinates) {}); !errors.Is(err, ErrPermissionDenied) {
		t.Errorf("Watch err = %v, want ErrPermissionDenied", err)
	}
}

func TestWatchReceivesPushes(t *testing.T) {
	p := NewStaticProvider(geo.Coordinates{})

	var got []geo.Coordinates
	stop, err := p.Watch(func(pos geo.Coordinates) {
		got = append(got, pos)
	})
	if err != nil {
		t.Fatalf("Watch() error: %v", err)
	}

	p.Push(geo.Coordinates{Latitude: 1})
	p.Push(geo.Coordinates{Latitude: 2})

	if len(got) != 2 || got[0].Latitude != 1 || got[1].Latitude != 2 {
		t.Fatalf("got = %+v, want two fixes", got)
	}

	stop()
	stop() // idempotent

	p.Push(geo.Coordinates{Latitude: 3})
	if len(got) != 2 {
		t.Errorf("watcher fired after stop: %+v", got)
	}

	pos, err := p.Current(context.Background())
	if err != nil {
		t.Fatalf("Current() error: %v", err)
	}
	if pos.Latitude != 3 {
		t.Errorf("Current after push = %+v, want latitude 3", pos)
	}
}
