package remote

import (
	"context"
	"errors"
)

// ErrNoMirror is returned by None.Put.
var ErrNoMirror = errors.New("no remote mirror configured")

// None is the mirror used when nothing is configured. It holds nothing and
// never hands out revisions, so local entries stay pending until a real
// mirror is set up.
type None struct{}

func (None) Name() string { return StrategyNone }

func (None) List(context.Context, string) ([]Object, error) { return nil, nil }

func (None) Get(context.Context, string) (Object, error) { return Object{}, ErrNotFound }

func (None) Put(context.Context, string, []byte, string) (string, error) { return "", ErrNoMirror }

func (None) Delete(context.Context, string, string) error { return ErrNotFound }

// IsNone reports whether m keeps no remote copy at all.
func IsNone(m Mirror) bool {
	switch m.(type) {
	case None, *None:
		return true
	}
	return false
}
