package intake

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hyperjump/bami/internal/blobstore"
	"github.com/hyperjump/bami/internal/cases"
	"github.com/hyperjump/bami/internal/models"
	"github.com/hyperjump/bami/internal/storage"
	"go.uber.org/zap"
)

type recordingPublisher struct {
	mu    sync.Mutex
	texts []string
}

func (p *recordingPublisher) Publish(_ string, payload interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if n, ok := payload.(models.Narration); ok {
		p.texts = append(p.texts, n.Text)
	}
}

type fakeScheduler struct {
	mu      sync.Mutex
	batches [][]models.File
	err     error
}

func (s *fakeScheduler) Start(_ string, files []models.File) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, files)
	return s.err
}

type failingBlobs struct{ blobstore.Store }

func (failingBlobs) Put(context.Context, string, io.Reader, int64, string) error {
	return errors.New("bucket unavailable")
}

func setup(t *testing.T, opts ...Option) (*Intake, *cases.Store, *recordingPublisher, *fakeScheduler) {
	t.Helper()
	store := cases.NewStore(storage.NewMemoryStorage())
	pub := &recordingPublisher{}
	sched := &fakeScheduler{}
	opts = append([]Option{WithLogger(zap.NewNop())}, opts...)
	return New(store, pub, sched, opts...), store, pub, sched
}

func files(slots ...string) []models.File {
	out := make([]models.File, 0, len(slots))
	for _, s := range slots {
		out = append(out, models.File{Slot: s, MimeType: "image/png", OriginalName: s + ".png", Content: []byte("bytes-" + s)})
	}
	return out
}

func TestUpload(t *testing.T) {
	blobs := blobstore.NewMemory()
	in, store, pub, sched := setup(t, WithBlobStore(blobs))
	ctx := context.Background()
	c, err := store.CreateCase(ctx, cases.CreateInput{Product: cases.ProductCreditCard})
	if err != nil {
		t.Fatal(err)
	}

	got, err := in.Upload(ctx, c.ID, files("dpi", "selfie"))
	if err != nil {
		t.Fatal(err)
	}
	if got.Stage != models.StageReceived || got.Percent < 40 {
		t.Errorf("stage/percent = %s/%d", got.Stage, got.Percent)
	}
	if len(got.Missing) != 1 || got.Missing[0] != "comprobante_domicilio" {
		t.Errorf("missing = %v", got.Missing)
	}
	if len(pub.texts) != 1 || pub.texts[0] != "📥 Recibí 2 archivo(s). Preparando lectura…" {
		t.Errorf("narration = %v", pub.texts)
	}
	if len(sched.batches) != 1 || len(sched.batches[0]) != 2 {
		t.Fatalf("scheduled = %v", sched.batches)
	}
	if blobs.Len() != 2 {
		t.Errorf("blobs stored = %d", blobs.Len())
	}

	stored, _ := store.GetCase(ctx, c.ID)
	up := stored.Uploaded["dpi"]
	if up.BlobKey != "cases/"+c.ID+"/dpi/dpi.png" || up.Size != int64(len("bytes-dpi")) {
		t.Errorf("upload record = %+v", up)
	}
	if sched.batches[0][0].BlobKey == "" {
		t.Error("scheduled batch lacks blob key")
	}
}

func TestUpload_UnknownCaseHasNoSideEffects(t *testing.T) {
	blobs := blobstore.NewMemory()
	in, _, pub, sched := setup(t, WithBlobStore(blobs))

	_, err := in.Upload(context.Background(), "C-MISSING", files("dpi"))
	if !errors.Is(err, cases.ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
	if len(pub.texts) != 0 || len(sched.batches) != 0 || blobs.Len() != 0 {
		t.Error("side effects on unknown case")
	}
}

func TestUpload_Limits(t *testing.T) {
	ctx := context.Background()
	big := files("dpi")
	big[0].Content = []byte(strings.Repeat("x", 11))
	noSlot := files("dpi")
	noSlot[0].Slot = ""

	tests := []struct {
		name  string
		batch []models.File
		want  error
	}{
		{"empty", nil, ErrNoFiles},
		{"too many", files("a", "b", "c"), ErrTooManyFiles},
		{"too large", big, ErrFileTooLarge},
		{"no slot", noSlot, ErrNoSlot},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in, store, _, sched := setup(t, WithLimits(Limits{MaxFileBytes: 10, MaxFiles: 2}))
			c, _ := store.CreateCase(ctx, cases.CreateInput{})
			if _, err := in.Upload(ctx, c.ID, tt.batch); !errors.Is(err, tt.want) {
				t.Errorf("got %v, want %v", err, tt.want)
			}
			if len(sched.batches) != 0 {
				t.Error("rejected batch was scheduled")
			}
			after, _ := store.GetCase(ctx, c.ID)
			if after.Stage != models.StageRequiresDocs {
				t.Errorf("stage changed to %s", after.Stage)
			}
		})
	}
}

func TestUpload_BlobFailureIsNotFatal(t *testing.T) {
	in, store, _, sched := setup(t, WithBlobStore(failingBlobs{}))
	ctx := context.Background()
	c, _ := store.CreateCase(ctx, cases.CreateInput{})

	if _, err := in.Upload(ctx, c.ID, files("dpi")); err != nil {
		t.Fatal(err)
	}
	stored, _ := store.GetCase(ctx, c.ID)
	if stored.Uploaded["dpi"].BlobKey != "" {
		t.Error("blob key set after failed put")
	}
	if len(sched.batches) != 1 {
		t.Error("batch not scheduled")
	}
}

func TestUpload_SchedulerErrorIsNotFatal(t *testing.T) {
	in, store, _, sched := setup(t)
	sched.err = errors.New("stopped")
	ctx := context.Background()
	c, _ := store.CreateCase(ctx, cases.CreateInput{})
	if _, err := in.Upload(ctx, c.ID, files("dpi")); err != nil {
		t.Errorf("unexpected error %v", err)
	}
}

func TestMarkSubmitted(t *testing.T) {
	in, store, _, _ := setup(t)
	ctx := context.Background()
	c, _ := store.CreateCase(ctx, cases.CreateInput{Product: cases.ProductCreditCard})

	res, err := in.MarkSubmitted(ctx, c.ID, []string{"dpi", "pasaporte"})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Before) != 3 || len(res.After) != 2 {
		t.Errorf("before=%v after=%v", res.Before, res.After)
	}
	if _, err := in.MarkSubmitted(ctx, "C-NOPE", nil); !errors.Is(err, cases.ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}

func TestParseDropPath(t *testing.T) {
	root := filepath.Join("var", "drop")
	tests := []struct {
		path         string
		caseID, slot string
		ok           bool
	}{
		{filepath.Join(root, "C-1", "dpi.pdf"), "C-1", "dpi", true},
		{filepath.Join(root, "C-1", "comprobante_domicilio.jpg"), "C-1", "comprobante_domicilio", true},
		{filepath.Join(root, "dpi.pdf"), "", "", false},
		{filepath.Join(root, "C-1", "x", "dpi.pdf"), "", "", false},
		{filepath.Join(root, "C-1", ".dpi.pdf.swp"), "", "", false},
		{filepath.Join(root, RejectedDir, "dpi.pdf"), "", "", false},
		{filepath.Join(root, RejectedDir, "C-1", "dpi.pdf"), "", "", false},
		{filepath.Join("elsewhere", "C-1", "dpi.pdf"), "", "", false},
	}
	for _, tt := range tests {
		caseID, slot, ok := parseDropPath(root, tt.path)
		if ok != tt.ok || caseID != tt.caseID || slot != tt.slot {
			t.Errorf("parseDropPath(%q) = %q, %q, %v", tt.path, caseID, slot, ok)
		}
	}
}

type recordingUploader struct {
	mu    sync.Mutex
	calls map[string][]models.File
	// errs fails uploads for the given case ids.
	errs     map[string]error
	attempts int
}

func (u *recordingUploader) Upload(_ context.Context, caseID string, files []models.File) (*models.PublicCase, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.attempts++
	if err := u.errs[caseID]; err != nil {
		return nil, err
	}
	if u.calls == nil {
		u.calls = make(map[string][]models.File)
	}
	u.calls[caseID] = append(u.calls[caseID], files...)
	return &models.PublicCase{ID: caseID}, nil
}

func (u *recordingUploader) count() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	n := 0
	for _, f := range u.calls {
		n += len(f)
	}
	return n
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestDropWatcher(t *testing.T) {
	root := t.TempDir()
	existing := filepath.Join(root, "C-AAAA0001", "dpi.pdf")
	if err := os.MkdirAll(filepath.Dir(existing), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(existing, []byte("%PDF-1.4"), 0644); err != nil {
		t.Fatal(err)
	}

	up := &recordingUploader{}
	w := NewDropWatcher(root, up, WithDebounce(20*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	waitFor(t, func() bool { return up.count() == 1 })
	waitFor(t, func() bool {
		_, err := os.Stat(existing)
		return os.IsNotExist(err)
	})

	// New case directory after start, plus an ignored extension.
	dir := filepath.Join(root, "C-BBBB0002")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	time.Sleep(50 * time.Millisecond)
	if err := os.WriteFile(filepath.Join(dir, "notes.exe"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "selfie.png"), []byte("\x89PNG"), 0644); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return up.count() == 2 })

	up.mu.Lock()
	defer up.mu.Unlock()
	pdf := up.calls["C-AAAA0001"][0]
	if pdf.Slot != "dpi" || pdf.MimeType != "application/pdf" || pdf.OriginalName != "dpi.pdf" {
		t.Errorf("dropped pdf = %+v", pdf)
	}
	png := up.calls["C-BBBB0002"][0]
	if png.Slot != "selfie" || png.MimeType != "image/png" {
		t.Errorf("dropped png = %+v", png)
	}
}

func TestDropWatcher_rejectsFilesThatCannotUpload(t *testing.T) {
	root := t.TempDir()
	write := func(caseID, name string, content []byte) string {
		path := filepath.Join(root, caseID, name)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, content, 0644); err != nil {
			t.Fatal(err)
		}
		return path
	}
	big := write("C-AAAA0001", "dpi.pdf", []byte(strings.Repeat("x", 64)))
	orphan := write("C-GONE0000", "selfie.png", []byte("\x89PNG"))
	ok := write("C-AAAA0001", "selfie.png", []byte("\x89PNG"))

	up := &recordingUploader{errs: map[string]error{"C-GONE0000": cases.ErrNotFound}}
	w := NewDropWatcher(root, up,
		WithDebounce(20*time.Millisecond),
		WithDropLimits(Limits{MaxFileBytes: 16}),
	)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	gone := func(path string) func() bool {
		return func() bool {
			_, err := os.Stat(path)
			return os.IsNotExist(err)
		}
	}
	waitFor(t, gone(big))
	waitFor(t, gone(orphan))
	waitFor(t, gone(ok))

	for _, rel := range []string{
		filepath.Join(RejectedDir, "C-AAAA0001", "dpi.pdf"),
		filepath.Join(RejectedDir, "C-GONE0000", "selfie.png"),
	} {
		if _, err := os.Stat(filepath.Join(root, rel)); err != nil {
			t.Errorf("%s not moved to the rejected folder: %v", rel, err)
		}
	}

	// Touching the rejected folder must not trigger another attempt.
	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(filepath.Join(root, RejectedDir, "C-GONE0000", "selfie.png"), []byte("again"), 0644); err != nil {
		t.Fatal(err)
	}
	time.Sleep(100 * time.Millisecond)

	up.mu.Lock()
	defer up.mu.Unlock()
	if up.attempts != 2 {
		t.Errorf("upload attempts = %d, want 2 (oversized file must not be sent)", up.attempts)
	}
	if files := up.calls["C-AAAA0001"]; len(files) != 1 || files[0].Slot != "selfie" {
		t.Errorf("uploaded = %+v", files)
	}
}

func TestLimits_FileBytes(t *testing.T) {
	if got := (Limits{}).FileBytes(); got != DefaultMaxFileBytes {
		t.Errorf("default = %d", got)
	}
	if got := (Limits{MaxFileBytes: 42}).FileBytes(); got != 42 {
		t.Errorf("explicit = %d", got)
	}
}
