package registry

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"crbs/internal/toolchain"
)

func sampleInstalled(id string) toolchain.Installed {
	return toolchain.Installed{
		ID:          id,
		Version:     "7.1",
		Family:      "crbasic",
		Path:        filepath.Join("/data", id),
		Executable:  "CRBasicCompiler.exe",
		Platforms:   []string{"windows"},
		Checksum:    "abc123",
		InstalledAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func TestRegistryPersistsAcrossOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", FileName)
	reg, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if len(reg.List()) != 0 {
		t.Fatal("expected empty registry for missing file")
	}
	if err := reg.Put(sampleInstalled("cr1000x")); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := reg.Put(sampleInstalled("cr300")); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := reg.SetAssociation(".CR1X", "cr1000x"); err != nil {
		t.Fatalf("associate: %v", err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	list := reopened.List()
	if len(list) != 2 || list[0].ID != "cr1000x" || list[1].ID != "cr300" {
		t.Fatalf("unexpected list after reopen: %+v", list)
	}
	got, ok := reopened.Get("cr1000x")
	if !ok || got.Checksum != "abc123" || !got.InstalledAt.Equal(sampleInstalled("x").InstalledAt) {
		t.Fatalf("unexpected record: %+v", got)
	}
	if id, ok := reopened.ResolveAssociation("cr1x"); !ok || id != "cr1000x" {
		t.Fatalf("association lost: %q %v", id, ok)
	}
}

func TestDeleteUnknownLeavesRegistryUnchanged(t *testing.T) {
	reg := NewMemory()
	if err := reg.Put(sampleInstalled("cr1000x")); err != nil {
		t.Fatal(err)
	}
	err := reg.Delete("ghost")
	var notInstalled *toolchain.ToolchainNotInstalledError
	if !errors.As(err, &notInstalled) || notInstalled.ID != "ghost" {
		t.Fatalf("expected ToolchainNotInstalledError, got %v", err)
	}
	if len(reg.List()) != 1 {
		t.Fatal("registry changed after failed delete")
	}
}

func TestUnsetAssociationResolvesToNothing(t *testing.T) {
	reg := NewMemory()
	if err := reg.SetAssociation("cr2", "cr800"); err != nil {
		t.Fatal(err)
	}
	removed, err := reg.UnsetAssociation(".cr2")
	if err != nil || !removed {
		t.Fatalf("unset = %v, %v", removed, err)
	}
	if id, ok := reg.ResolveAssociation("cr2"); ok || id != "" {
		t.Fatalf("expected no association, got %q", id)
	}
	removed, err = reg.UnsetAssociation("cr2")
	if err != nil || removed {
		t.Fatalf("second unset = %v, %v", removed, err)
	}
}

func TestAssociationMayReferenceMissingToolchain(t *testing.T) {
	reg := NewMemory()
	if err := reg.SetAssociation("cr2", "compA"); err != nil {
		t.Fatalf("associate: %v", err)
	}
	if _, ok := reg.Get("compA"); ok {
		t.Fatal("compA should not be installed")
	}
	if id, _ := reg.ResolveAssociation("cr2"); id != "compA" {
		t.Fatalf("got %q", id)
	}
}

func TestSetAssociationRejectsBadExtension(t *testing.T) {
	reg := NewMemory()
	for _, ext := range []string{"", "...", "tar.gz"} {
		err := reg.SetAssociation(ext, "x")
		if !errors.Is(err, toolchain.ErrInvalidExtension) {
			t.Fatalf("%q: expected invalid extension, got %v", ext, err)
		}
	}
	if len(reg.Associations()) != 0 {
		t.Fatal("invalid extension was stored")
	}
}

func TestWriteFailureRollsBack(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "reg")
	reg, err := Open(filepath.Join(dir, FileName))
	if err != nil {
		t.Fatal(err)
	}
	// A regular file where the directory should be makes every write fail.
	if err := os.WriteFile(dir, []byte("blocker"), 0o644); err != nil {
		t.Fatal(err)
	}
	err = reg.Put(sampleInstalled("cr1000x"))
	if !errors.Is(err, toolchain.ErrRegistryIO) {
		t.Fatalf("expected registry io error, got %v", err)
	}
	if _, ok := reg.Get("cr1000x"); ok {
		t.Fatal("failed put left record in memory")
	}
	if err := reg.SetAssociation("cr2", "cr1000x"); !errors.Is(err, toolchain.ErrRegistryIO) {
		t.Fatalf("expected registry io error, got %v", err)
	}
	if _, ok := reg.ResolveAssociation("cr2"); ok {
		t.Fatal("failed association left mapping in memory")
	}
}

func TestListReturnsCopies(t *testing.T) {
	reg := NewMemory()
	if err := reg.Put(sampleInstalled("cr1000x")); err != nil {
		t.Fatal(err)
	}
	list := reg.List()
	list[0].Platforms[0] = "linux"
	got, _ := reg.Get("cr1000x")
	if got.Platforms[0] != "windows" {
		t.Fatal("List aliased registry state")
	}
}
