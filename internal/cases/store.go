// Package cases implements the case store and its stage state machine.
//
// The store owns every mutation of a case. Each mutating call loads the case,
// applies the change, appends exactly one timeline entry and saves it while
// holding that case's lock, so a transition and its timeline line are never
// observed apart. Any stage may be set from any stage.
package cases

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hyperjump/bami/internal/models"
	"github.com/hyperjump/bami/internal/storage"
	"go.uber.org/zap"
)

// ErrNotFound is returned for unknown case ids.
var ErrNotFound = storage.ErrNotFound

const (
	defaultChannel = "web"
	defaultOwner   = "María"
	idAttempts     = 5
)

// Store is the case repository front end enforcing stage bookkeeping.
type Store struct {
	repo     storage.Repository
	logger   *zap.Logger
	now      func() time.Time
	newID    func() string
	onChange []func(*models.Case)

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithLogger sets the logger used for mutation traces.
func WithLogger(l *zap.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) { s.now = now }
}

// WithIDGenerator overrides case id allocation (tests).
func WithIDGenerator(fn func() string) StoreOption {
	return func(s *Store) { s.newID = fn }
}

// WithOnChange registers a callback invoked with a copy of every created or mutated case.
func WithOnChange(fn func(*models.Case)) StoreOption {
	return func(s *Store) { s.onChange = append(s.onChange, fn) }
}

// NewStore creates a store over repo.
func NewStore(repo storage.Repository, opts ...StoreOption) *Store {
	s := &Store{
		repo:   repo,
		logger: zap.NewNop(),
		now:    func() time.Time { return time.Now().UTC() },
		newID:  NewCaseID,
		locks:  make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewCaseID returns an identifier like "C-1A2B3C4D".
func NewCaseID() string {
	raw := strings.ReplaceAll(uuid.New().String(), "-", "")
	return "C-" + strings.ToUpper(raw[:8])
}

// CreateInput holds the attributes of a new case.
type CreateInput struct {
	Product   string                 `json:"product"`
	Applicant map[string]interface{} `json:"applicant"`
	Channel   string                 `json:"channel"`
	Owner     string                 `json:"owner"`
}

// CreateCase allocates a new case in stage requiere with the product's checklist outstanding.
func (s *Store) CreateCase(ctx context.Context, in CreateInput) (*models.Case, error) {
	if in.Product == "" {
		in.Product = DefaultProduct
	}
	if in.Channel == "" {
		in.Channel = defaultChannel
	}
	if in.Owner == "" {
		in.Owner = defaultOwner
	}
	applicant := in.Applicant
	if applicant == nil {
		applicant = map[string]interface{}{}
	}
	now := s.now()
	c := &models.Case{
		Product:   in.Product,
		Channel:   in.Channel,
		Owner:     in.Owner,
		Stage:     models.StageRequiresDocs,
		Missing:   Checklist(in.Product),
		Uploaded:  map[string]models.Upload{},
		Timeline:  []models.TimelineEntry{{Timestamp: now, Stage: models.StageRequiresDocs, Text: "Expediente iniciado"}},
		Percent:   10,
		Applicant: applicant,
		CreatedAt: now,
	}

	var err error
	for attempt := 0; attempt < idAttempts; attempt++ {
		c.ID = s.newID()
		err = s.repo.CreateCase(ctx, c)
		if !errors.Is(err, storage.ErrExists) {
			break
		}
	}
	if err != nil {
		return nil, fmt.Errorf("create case: %w", err)
	}
	s.logger.Info("case created",
		zap.String("case_id", c.ID),
		zap.String("product", c.Product),
		zap.String("channel", c.Channel),
		zap.Int("required_docs", len(c.Missing)),
	)
	s.notify(c)
	return c.Clone(), nil
}

// GetCase returns a snapshot of the case.
func (s *Store) GetCase(ctx context.Context, id string) (*models.Case, error) {
	return s.repo.GetCase(ctx, id)
}

// ListCases returns snapshots of every case in no particular order.
func (s *Store) ListCases(ctx context.Context) ([]*models.Case, error) {
	return s.repo.ListCases(ctx)
}

// CountCases returns the number of stored cases.
func (s *Store) CountCases(ctx context.Context) (int64, error) {
	return s.repo.CountCases(ctx)
}

// MarkResult reports the missing set around a MarkDocumentsSubmitted call.
type MarkResult struct {
	Before []string `json:"before"`
	After  []string `json:"after"`
}

// MarkDocumentsSubmitted removes docTypes from the missing set without receiving files.
// Names that are not missing are ignored. The case moves to recibido and its percent
// is raised to at least 40.
func (s *Store) MarkDocumentsSubmitted(ctx context.Context, id string, docTypes []string) (*MarkResult, error) {
	var result MarkResult
	_, err := s.mutate(ctx, id, func(c *models.Case) {
		result.Before = append([]string{}, c.Missing...)
		c.Missing = without(c.Missing, docTypes)
		listed := strings.Join(docTypes, ", ")
		if listed == "" {
			listed = "ninguno (simulado)"
		}
		s.enter(c, models.StageReceived, "Documentos marcados como enviados: "+listed)
		raisePercent(c, 40)
		result.After = append([]string{}, c.Missing...)
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// RecordUploadedFiles stores upload metadata per slot (last write wins), removes the
// slots from the missing set and moves the case to recibido.
func (s *Store) RecordUploadedFiles(ctx context.Context, id string, files []models.File) (*models.Case, error) {
	return s.mutate(ctx, id, func(c *models.Case) {
		now := s.now()
		slots := make([]string, 0, len(files))
		for _, f := range files {
			c.Uploaded[f.Slot] = models.Upload{
				MimeType:     f.MimeType,
				Size:         f.Size,
				OriginalName: f.OriginalName,
				BlobKey:      f.BlobKey,
				ReceivedAt:   now,
			}
			slots = append(slots, f.Slot)
		}
		c.Missing = without(c.Missing, slots)
		listed := strings.Join(slots, ", ")
		if listed == "" {
			listed = "ninguno"
		}
		s.enter(c, models.StageReceived, "Archivos recibidos: "+listed)
		raisePercent(c, 40)
	})
}

// AdvanceStage sets the stage unconditionally. Percent follows the stage table; an
// unrecognized stage leaves it unchanged. An empty note gets a default text.
func (s *Store) AdvanceStage(ctx context.Context, id string, stage models.Stage, note string) (*models.Case, error) {
	return s.mutate(ctx, id, func(c *models.Case) {
		if note == "" {
			note = fmt.Sprintf("Estado → %s", stage)
		}
		s.enter(c, stage, note)
		if p, ok := models.StagePercent(stage); ok {
			c.Percent = p
		}
	})
}

// AppendChatMessage appends to the case's chat history and returns the updated history.
// A history is created on demand when none exists.
func (s *Store) AppendChatMessage(ctx context.Context, id, role, content string) ([]models.ChatMessage, error) {
	history, err := s.repo.AppendChat(ctx, id, models.ChatMessage{Role: role, Content: content, Timestamp: s.now()})
	if err != nil {
		return nil, fmt.Errorf("append chat %s: %w", id, err)
	}
	s.logger.Debug("chat+", zap.String("case_id", id), zap.String("role", role))
	return history, nil
}

// GetChatHistory returns the chat history in order; empty when none exists.
func (s *Store) GetChatHistory(ctx context.Context, id string) ([]models.ChatMessage, error) {
	return s.repo.GetChat(ctx, id)
}

// enter sets the stage and appends the single timeline entry for this mutation.
func (s *Store) enter(c *models.Case, stage models.Stage, text string) {
	c.Stage = stage
	c.Timeline = append(c.Timeline, models.TimelineEntry{Timestamp: s.now(), Stage: stage, Text: text})
}

// mutate applies fn to the stored case under its lock and saves the result.
func (s *Store) mutate(ctx context.Context, id string, fn func(c *models.Case)) (*models.Case, error) {
	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	c, err := s.repo.GetCase(ctx, id)
	if err != nil {
		return nil, err
	}
	from := c.Stage
	fn(c)
	if err := s.repo.UpdateCase(ctx, c); err != nil {
		return nil, fmt.Errorf("update case %s: %w", id, err)
	}
	s.logger.Debug("case updated",
		zap.String("case_id", id),
		zap.String("from", string(from)),
		zap.String("to", string(c.Stage)),
		zap.Int("percent", c.Percent),
	)
	s.notify(c)
	return c.Clone(), nil
}

func (s *Store) lockFor(id string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.locks[id]; ok {
		return l
	}
	l := &sync.Mutex{}
	s.locks[id] = l
	return l
}

func (s *Store) notify(c *models.Case) {
	for _, fn := range s.onChange {
		fn(c.Clone())
	}
}

func raisePercent(c *models.Case, floor int) {
	if c.Percent < floor {
		c.Percent = floor
	}
}

// without returns items minus every element of remove, preserving order.
func without(items, remove []string) []string {
	drop := make(map[string]struct{}, len(remove))
	for _, r := range remove {
		drop[r] = struct{}{}
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		if _, ok := drop[it]; !ok {
			out = append(out, it)
		}
	}
	return out
}
