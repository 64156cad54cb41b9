package web

import (
	"html/template"

	"gshare/internal/content"
	"gshare/internal/perm"
	"gshare/internal/syncer"
)

type ViewData struct {
	Title           string
	ContentTemplate string
	ContentHTML     template.HTML
	Viewer          perm.Viewer
	Categories      []content.Category
	Category        content.Category
	SearchQuery     string
	Items           []content.Listing
	Item            content.Item
	RenderedHTML    template.HTML
	Decision        perm.Decision
	CanEdit         bool
	IsNew           bool
	Form            itemForm
	Error           string
	Delete          *syncer.DeleteReport
}
