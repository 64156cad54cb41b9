package web

import (
	"context"

	"gshare/internal/perm"
)

type contextKey int

const viewerKey contextKey = iota

func WithViewer(ctx context.Context, viewer perm.Viewer) context.Context {
	return context.WithValue(ctx, viewerKey, viewer)
}

// CurrentViewer returns the authenticated viewer, or the anonymous one.
func CurrentViewer(ctx context.Context) perm.Viewer {
	if viewer, ok := ctx.Value(viewerKey).(perm.Viewer); ok {
		return viewer
	}
	return perm.Anonymous()
}
