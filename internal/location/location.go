// Package location abstracts the device geolocation service, including
// its permission model.
package location

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"geohunt/internal/geo"
)

// Permission is the user's answer to the location prompt.
type Permission string

const (
	PermissionGranted = Permission("granted")
	// PermissionDenied is permanent: the caller should route the user to
	// system settings instead of prompting again.
	PermissionDenied = Permission("denied")
	// PermissionUndetermined means the prompt can still be shown.
	PermissionUndetermined = Permission("undetermined")
)

var ErrPermissionDenied = errors.New("location permission denied")

// Provider reads device coordinates.
type Provider interface {
	Permission() Permission
	Current(ctx context.Context) (geo.Coordinates, error)
	// Watch invokes fn on each position fix until the returned stop
	// function is called. Stop is idempotent.
	Watch(fn func(geo.Coordinates)) (stop func(), err error)
}

// StaticProvider reports a fixed position. Used in tests and local runs;
// Push lets a test feed fixes to watchers.
type StaticProvider struct {
	mu       sync.Mutex
	pos      geo.Coordinates
	perm     Permission
	watchers map[int]func(geo.Coordinates)
	nextID   int
}

func NewStaticProvider(pos geo.Coordinates) *StaticProvider {
	return &StaticProvider{
		pos:      pos,
		perm:     PermissionGranted,
		watchers: make(map[int]func(geo.Coordinates)),
	}
}

// SetPermission overrides the reported permission state.
func (p *StaticProvider) SetPermission(perm Permission) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.perm = perm
}

func (p *StaticProvider) Permission() Permission {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.perm
}

func (p *StaticProvider) Current(_ context.Context) (geo.Coordinates, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.perm != PermissionGranted {
		return geo.Coordinates{}, fmt.Errorf("%w (%s)", ErrPermissionDenied, p.perm)
	}
	return p.pos, nil
}

func (p *StaticProvider) Watch(fn func(geo.Coordinates)) (func(), error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.perm != PermissionGranted {
		return nil, fmt.Errorf("%w (%s)", ErrPermissionDenied, p.perm)
	}
	id := p.nextID
	p.nextID++
	p.watchers[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			delete(p.watchers, id)
			p.mu.Unlock()
		})
	}, nil
}

// Push moves the provider's position and notifies watchers.
func (p *StaticProvider) Push(pos geo.Coordinates) {
	p.mu.Lock()
	p.pos = pos
	fns := make([]func(geo.Coordinates), 0, len(p.watchers))
	for _, fn := range p.watchers {
		fns = append(fns, fn)
	}
	p.mu.Unlock()

	for _, fn := range fns {
		fn(pos)
	}
}
