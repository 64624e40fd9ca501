// Package compositor lays out the paginated recommendations report.
//
// A Compositor owns one document for the lifetime of one export job: a cover
// page followed by exactly one page per record, sealed by Finalize.
package compositor

import (
	"errors"

	"github.com/example/art-gallery/api-go/internal/model"
)

const DefaultFileName = "art-recommendations.pdf"

var (
	ErrFinalized = errors.New("document already finalized")
	ErrPageOrder = errors.New("cover page must be added exactly once, before any record page")
)

type Compositor interface {
	AddTitlePage() error
	// AddRecordPage appends one page for rec. img may be nil when the image
	// could not be resolved; embedded reports whether it made it onto the page.
	AddRecordPage(rec model.Record, img *model.Image) (embedded bool, err error)
	Finalize() (*Artifact, error)
}

// Artifact is a sealed document ready to be written out.
type Artifact struct {
	FileName    string
	ContentType string
	Pages       int
	Data        []byte
}
