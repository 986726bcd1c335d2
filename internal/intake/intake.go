// Package intake records uploaded documents against a case and hands them to the
// reading pipeline without waiting for it.
package intake

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/hyperjump/bami/internal/blobstore"
	"github.com/hyperjump/bami/internal/cases"
	"github.com/hyperjump/bami/internal/models"
	"github.com/hyperjump/bami/internal/pipeline"
	"go.uber.org/zap"
)

var (
	ErrNoFiles      = errors.New("no files in upload")
	ErrTooManyFiles = errors.New("too many files in upload")
	ErrFileTooLarge = errors.New("file too large")
	ErrNoSlot       = errors.New("file has no document slot")
)

// Default limits per upload batch.
const (
	DefaultMaxFileBytes = 10 << 20
	DefaultMaxFiles     = 12
)

// Scheduler accepts a batch for background processing.
type Scheduler interface {
	Start(caseID string, files []models.File) error
}

// Limits bound one upload batch. Zero values use the defaults.
type Limits struct {
	MaxFileBytes int64
	MaxFiles     int
}

// FileBytes returns the per-file size cap.
func (l Limits) FileBytes() int64 {
	if l.MaxFileBytes <= 0 {
		return DefaultMaxFileBytes
	}
	return l.MaxFileBytes
}

func (l Limits) check(files []models.File) error {
	maxFiles := l.MaxFiles
	if maxFiles <= 0 {
		maxFiles = DefaultMaxFiles
	}
	maxBytes := l.FileBytes()
	if len(files) == 0 {
		return ErrNoFiles
	}
	if len(files) > maxFiles {
		return fmt.Errorf("%w: %d > %d", ErrTooManyFiles, len(files), maxFiles)
	}
	for _, f := range files {
		if f.Slot == "" {
			return fmt.Errorf("%w: %s", ErrNoSlot, f.OriginalName)
		}
		if f.Size > maxBytes || int64(len(f.Content)) > maxBytes {
			return fmt.Errorf("%w: %s", ErrFileTooLarge, f.OriginalName)
		}
	}
	return nil
}

// Intake is the document intake service.
type Intake struct {
	store     *cases.Store
	blobs     blobstore.Store
	publisher pipeline.Publisher
	runner    Scheduler
	limits    Limits
	logger    *zap.Logger
}

// Option configures an Intake.
type Option func(*Intake)

// WithLogger sets the intake logger.
func WithLogger(l *zap.Logger) Option {
	return func(in *Intake) { in.logger = l }
}

// WithLimits overrides the batch limits.
func WithLimits(l Limits) Option {
	return func(in *Intake) { in.limits = l }
}

// WithBlobStore persists upload bytes to s. Without it bytes only travel with the batch.
func WithBlobStore(s blobstore.Store) Option {
	return func(in *Intake) { in.blobs = s }
}

// New creates an Intake.
func New(store *cases.Store, publisher pipeline.Publisher, runner Scheduler, opts ...Option) *Intake {
	in := &Intake{
		store:     store,
		publisher: publisher,
		runner:    runner,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(in)
	}
	return in
}

// ReceivedNarration is the acknowledgment published when a batch is recorded.
func ReceivedNarration(n int) string {
	return fmt.Sprintf("📥 Recibí %d archivo(s). Preparando lectura…", n)
}

// Upload records files against caseID, acknowledges them to subscribers and schedules
// the reading pipeline. It returns as soon as the files are recorded.
func (in *Intake) Upload(ctx context.Context, caseID string, files []models.File) (*models.PublicCase, error) {
	if _, err := in.store.GetCase(ctx, caseID); err != nil {
		return nil, err
	}
	if err := in.limits.check(files); err != nil {
		return nil, err
	}

	batch := make([]models.File, len(files))
	copy(batch, files)
	for i := range batch {
		if batch[i].Size == 0 {
			batch[i].Size = int64(len(batch[i].Content))
		}
		in.persist(ctx, caseID, &batch[i])
	}

	c, err := in.store.RecordUploadedFiles(ctx, caseID, batch)
	if err != nil {
		return nil, err
	}
	in.publisher.Publish(caseID, models.AINarration(ReceivedNarration(len(batch))))

	if err := in.runner.Start(caseID, batch); err != nil {
		in.logger.Warn("reading pipeline not scheduled", zap.String("case_id", caseID), zap.Error(err))
	}
	in.logger.Info("upload recorded", zap.String("case_id", caseID), zap.Int("files", len(batch)))
	return c.Public(), nil
}

// persist writes the bytes to the blob store. Failures are logged and the upload goes on.
func (in *Intake) persist(ctx context.Context, caseID string, f *models.File) {
	if in.blobs == nil {
		return
	}
	key := blobstore.Key(caseID, f.Slot, f.OriginalName)
	if err := in.blobs.Put(ctx, key, bytes.NewReader(f.Content), int64(len(f.Content)), f.MimeType); err != nil {
		in.logger.Warn("failed to store upload", zap.String("case_id", caseID), zap.String("key", key), zap.Error(err))
		return
	}
	f.BlobKey = key
}

// MarkSubmitted records that docs were sent without attaching files.
func (in *Intake) MarkSubmitted(ctx context.Context, caseID string, docs []string) (*cases.MarkResult, error) {
	res, err := in.store.MarkDocumentsSubmitted(ctx, caseID, docs)
	if err != nil {
		return nil, err
	}
	in.logger.Info("documents marked", zap.String("case_id", caseID), zap.Strings("docs", docs), zap.Int("missing_after", len(res.After)))
	return res, nil
}
