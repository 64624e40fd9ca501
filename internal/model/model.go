package model

import (
	"errors"
	"time"
)

type JobStatus string

const (
	JobQueued  JobStatus = "queued"
	JobRunning JobStatus = "running"
	JobDone    JobStatus = "done"
	JobError   JobStatus = "error"
)

var ErrNotFound = errors.New("not found")

// Record is one recommended artwork as produced by the recommendation backend.
//
// - ImageURL is untrusted and may point at any origin; it is only ever handed to the relay.
// - Artist, Dimensions and Period are optional; the empty string means absent.
type Record struct {
	ID          string   `json:"id,omitempty"`
	Title       string   `json:"title"`
	Artist      string   `json:"artist,omitempty"`
	Price       float64  `json:"price"`
	Medium      string   `json:"medium"`
	Dimensions  string   `json:"dimensions,omitempty"`
	Period      string   `json:"period,omitempty"`
	Style       []string `json:"style"`
	Colors      []string `json:"colors"`
	Mood        []string `json:"mood"`
	ImageURL    string   `json:"image_url"`
	Description string   `json:"description,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

// Clone returns a deep copy so later mutation of the source slices cannot reach it.
func (r Record) Clone() Record {
	out := r
	out.Style = cloneStrings(r.Style)
	out.Colors = cloneStrings(r.Colors)
	out.Mood = cloneStrings(r.Mood)
	out.Tags = cloneStrings(r.Tags)
	return out
}

// Snapshot deep-copies a record list.
func Snapshot(records []Record) []Record {
	out := make([]Record, len(records))
	for i, rec := range records {
		out[i] = rec.Clone()
	}
	return out
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

// Image is an inline image payload decoded from a relay data URL.
type Image struct {
	MIMEType string
	Data     []byte
}

type OutcomeStatus string

const (
	OutcomeResolved OutcomeStatus = "resolved"
	OutcomeFailed   OutcomeStatus = "failed"
)

// Outcome is the resolution result for a single record image.
type Outcome struct {
	RecordIndex int
	Status      OutcomeStatus
	Image       *Image
	Attempts    int
}

func (o Outcome) Resolved() bool { return o.Status == OutcomeResolved && o.Image != nil }

// Job represents an export job record in the job store.
//
// - OutputKey is a relative key in the blob store, set once the document is sealed.
// - Progress holds the live "(k/N images loaded)" text while the job runs.
type Job struct {
	ID        string    `json:"id"`
	SessionID string    `json:"sessionId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	Status    JobStatus `json:"status"`
	Total     int       `json:"total"`
	Loaded    int       `json:"loaded"`
	Failed    int       `json:"failed"`
	Progress  string    `json:"progress,omitempty"`
	Message   string    `json:"message,omitempty"`
	OutputKey string    `json:"outputKey,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// JobPatch is used for partial updates.
type JobPatch struct {
	Status    *string
	Loaded    *int
	Failed    *int
	Progress  *string
	Message   *string
	OutputKey *string
	Error     *string
}
