package blobstore

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/hyperjump/bami/internal/config"
)

func TestKey(t *testing.T) {
	tests := []struct {
		caseID, slot, name string
		want               string
	}{
		{"C-1", "dpi", "dpi.png", "cases/C-1/dpi/dpi.png"},
		{"C-1", "dpi", "../../etc/passwd", "cases/C-1/dpi/passwd"},
		{"C-1", "selfie", `C:\fotos\yo.jpg`, "cases/C-1/selfie/yo.jpg"},
		{"C-1", "nit", "", "cases/C-1/nit/archivo"},
	}
	for _, tt := range tests {
		if got := Key(tt.caseID, tt.slot, tt.name); got != tt.want {
			t.Errorf("Key(%q, %q, %q) = %q, want %q", tt.caseID, tt.slot, tt.name, got, tt.want)
		}
	}
}

func TestMemory(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	if err := m.Put(ctx, "k", strings.NewReader("hola"), 4, "text/plain"); err != nil {
		t.Fatal(err)
	}
	got, err := m.Get(ctx, "k")
	if err != nil || string(got) != "hola" {
		t.Fatalf("get = %q, %v", got, err)
	}
	got[0] = 'X'
	again, _ := m.Get(ctx, "k")
	if string(again) != "hola" {
		t.Error("get returned stored slice")
	}
	if err := m.Delete(ctx, "k"); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Get(ctx, "k"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if m.Len() != 0 {
		t.Errorf("len = %d", m.Len())
	}
}

func TestNew(t *testing.T) {
	s, err := New(context.Background(), &config.BlobConfig{Driver: config.DriverMemory})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := s.(*Memory); !ok {
		t.Errorf("memory driver returned %T", s)
	}
	if _, err := New(context.Background(), &config.BlobConfig{Driver: "ftp"}); err == nil {
		t.Error("expected error for unknown driver")
	}
}

func TestNewMinio(t *testing.T) {
	s, err := NewMinio(&config.BlobConfig{Endpoint: "localhost:9000", AccessKey: "a", SecretKey: "b", Bucket: "docs"})
	if err != nil {
		t.Fatal(err)
	}
	if s.bucket != "docs" {
		t.Errorf("bucket = %q", s.bucket)
	}
}
