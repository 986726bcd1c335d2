// Package models defines core data structures for cases, documents, chat and AI results.
package models

import "time"

// Stage is the position of a case in its progress model.
type Stage string

const (
	StageRequiresDocs Stage = "requiere"
	StageReceived     Stage = "recibido"
	StageUnderReview  Stage = "en_revision"
	StageApproved     Stage = "aprobado"
	StageAlternative  Stage = "alternativa"
)

// Stages lists every stage in lifecycle order.
var Stages = []Stage{StageRequiresDocs, StageReceived, StageUnderReview, StageApproved, StageAlternative}

var stagePercent = map[Stage]int{
	StageRequiresDocs: 10,
	StageReceived:     40,
	StageUnderReview:  60,
	StageApproved:     100,
	StageAlternative:  100,
}

// Valid reports whether s is one of the known stages.
func (s Stage) Valid() bool {
	_, ok := stagePercent[s]
	return ok
}

// StagePercent returns the progress percentage for stage and whether the stage is known.
func StagePercent(s Stage) (int, bool) {
	p, ok := stagePercent[s]
	return p, ok
}

// Upload is the metadata of the latest file received for a document slot.
type Upload struct {
	MimeType     string    `json:"mimetype"`
	Size         int64     `json:"size"`
	OriginalName string    `json:"originalname"`
	BlobKey      string    `json:"blob_key,omitempty"`
	ReceivedAt   time.Time `json:"ts"`
}

// TimelineEntry is one append-only line of a case's history.
type TimelineEntry struct {
	Timestamp time.Time `json:"ts"`
	Stage     Stage     `json:"type"`
	Text      string    `json:"text"`
}

// Case is one application in progress.
type Case struct {
	ID        string                 `json:"id"`
	Product   string                 `json:"product"`
	Channel   string                 `json:"channel"`
	Owner     string                 `json:"owner"`
	Stage     Stage                  `json:"stage"`
	Missing   []string               `json:"missing"`
	Uploaded  map[string]Upload      `json:"uploaded"`
	Timeline  []TimelineEntry        `json:"timeline"`
	Percent   int                    `json:"percent"`
	Applicant map[string]interface{} `json:"applicant"`
	CreatedAt time.Time              `json:"created_at"`
}

// PublicCase is the projection returned by read endpoints. Upload records are never exposed.
type PublicCase struct {
	ID        string                 `json:"id"`
	Product   string                 `json:"product"`
	Channel   string                 `json:"channel"`
	Owner     string                 `json:"owner"`
	Stage     Stage                  `json:"stage"`
	Missing   []string               `json:"missing"`
	Percent   int                    `json:"percent"`
	Timeline  []TimelineEntry        `json:"timeline"`
	Applicant map[string]interface{} `json:"applicant"`
	CreatedAt time.Time              `json:"created_at"`
}

// Public returns the read-only projection of c.
func (c *Case) Public() *PublicCase {
	cp := c.Clone()
	return &PublicCase{
		ID:        cp.ID,
		Product:   cp.Product,
		Channel:   cp.Channel,
		Owner:     cp.Owner,
		Stage:     cp.Stage,
		Missing:   cp.Missing,
		Percent:   cp.Percent,
		Timeline:  cp.Timeline,
		Applicant: cp.Applicant,
		CreatedAt: cp.CreatedAt,
	}
}

// Clone returns a deep copy of c so snapshots never alias stored state.
func (c *Case) Clone() *Case {
	if c == nil {
		return nil
	}
	out := *c
	out.Missing = append(make([]string, 0, len(c.Missing)), c.Missing...)
	out.Timeline = append(make([]TimelineEntry, 0, len(c.Timeline)), c.Timeline...)
	out.Uploaded = make(map[string]Upload, len(c.Uploaded))
	for k, v := range c.Uploaded {
		out.Uploaded[k] = v
	}
	out.Applicant = make(map[string]interface{}, len(c.Applicant))
	for k, v := range c.Applicant {
		out.Applicant[k] = v
	}
	return &out
}

// HasMissing reports whether docType is still outstanding.
func (c *Case) HasMissing(docType string) bool {
	for _, m := range c.Missing {
		if m == docType {
			return true
		}
	}
	return false
}

// File is one uploaded document, including its bytes.
type File struct {
	Slot         string `json:"fieldname"`
	MimeType     string `json:"mimetype"`
	Size         int64  `json:"size"`
	OriginalName string `json:"originalname"`
	Content      []byte `json:"-"`
	// BlobKey is set once the bytes have been written to the blob store.
	BlobKey string `json:"-"`
}
