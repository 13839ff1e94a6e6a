package history

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/manash/jewelshoot/internal/studio"
	"github.com/manash/jewelshoot/pkg/models"
)

func testManager(t *testing.T) *Manager {
	t.Helper()
	return NewManager(testStore(t), t.TempDir(), zerolog.Nop())
}

func pngImage(t *testing.T) models.Image {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 2, 2))); err != nil {
		t.Fatal(err)
	}
	return models.NewImage(buf.Bytes(), "image/png")
}

func TestManager_StartShoot(t *testing.T) {
	mgr := testManager(t)
	ctx := context.Background()
	src := pngImage(t)

	sh, err := mgr.StartShoot(ctx, "Pearl", src, models.NewSizing(models.Resolution2K, models.AspectReels))
	if err != nil {
		t.Fatalf("StartShoot() error = %v", err)
	}
	if sh.ID == "" {
		t.Error("StartShoot() shoot ID is empty")
	}
	if mgr.Current() != sh {
		t.Error("Current() != started shoot")
	}
	if sh.Resolution != models.Resolution2K || sh.AspectRatio != models.AspectReels {
		t.Errorf("StartShoot() sizing = %s/%s", sh.Resolution, sh.AspectRatio)
	}

	got, err := mgr.SourceImage(sh)
	if err != nil {
		t.Fatalf("SourceImage() error = %v", err)
	}
	if got.MIMEType != "image/png" || !bytes.Equal(got.Data, src.Data) {
		t.Errorf("SourceImage() = %s, %d bytes", got.MIMEType, len(got.Data))
	}
}

func TestManager_RecordIteration_RequiresShoot(t *testing.T) {
	mgr := testManager(t)
	_, err := mgr.RecordIteration(context.Background(), models.Concept{ID: "a"}, OpGenerate, "p", pngImage(t))
	if !errors.Is(err, ErrNoShoot) {
		t.Errorf("RecordIteration() error = %v, want %v", err, ErrNoShoot)
	}
}

func TestManager_RecordIteration_Chains(t *testing.T) {
	mgr := testManager(t)
	ctx := context.Background()
	if _, err := mgr.StartShoot(ctx, "", models.Image{}, models.DefaultSizing()); err != nil {
		t.Fatal(err)
	}

	c := models.Concept{ID: "a", Style: models.StyleNature}
	first, err := mgr.RecordIteration(ctx, c, OpGenerate, "gen", pngImage(t))
	if err != nil {
		t.Fatalf("RecordIteration() error = %v", err)
	}
	if first.ParentID != "" {
		t.Errorf("first iteration ParentID = %q, want empty", first.ParentID)
	}

	other, err := mgr.RecordIteration(ctx, models.Concept{ID: "b", Style: models.StyleLuxury}, OpGenerate, "gen b", pngImage(t))
	if err != nil {
		t.Fatal(err)
	}

	second, err := mgr.RecordIteration(ctx, c, OpEdit, "edit", pngImage(t))
	if err != nil {
		t.Fatal(err)
	}
	if second.ParentID != first.ID {
		t.Errorf("second.ParentID = %q, want %q", second.ParentID, first.ID)
	}
	if other.ParentID != "" {
		t.Error("iterations of other concepts should not be parents")
	}

	if _, err := os.Stat(second.ImagePath); err != nil {
		t.Errorf("iteration image not written: %v", err)
	}
	if filepath.Ext(second.ImagePath) != ".png" {
		t.Errorf("ImagePath = %s, want .png", second.ImagePath)
	}

	hist, err := mgr.ConceptHistory(ctx, "a")
	if err != nil {
		t.Fatalf("ConceptHistory() error = %v", err)
	}
	if len(hist) != 2 || hist[0].Operation != OpGenerate || hist[1].Operation != OpEdit {
		t.Errorf("ConceptHistory() = %v", hist)
	}
}

func TestManager_ResumeAndDelete(t *testing.T) {
	mgr := testManager(t)
	ctx := context.Background()

	sh, err := mgr.StartShoot(ctx, "Ring", pngImage(t), models.DefaultSizing())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := mgr.RecordIteration(ctx, models.Concept{ID: "a"}, OpGenerate, "p", pngImage(t)); err != nil {
		t.Fatal(err)
	}

	other := NewManager(mgr.store, mgr.imageDir, zerolog.Nop())
	resumed, err := other.Resume(ctx, sh.ID)
	if err != nil {
		t.Fatalf("Resume() error = %v", err)
	}
	if resumed.Name != "Ring" || other.Current() == nil {
		t.Errorf("Resume() = %+v", resumed)
	}

	if _, err := other.Resume(ctx, "missing"); !errors.Is(err, ErrShootNotFound) {
		t.Errorf("Resume(missing) error = %v, want %v", err, ErrShootNotFound)
	}

	if err := mgr.Delete(ctx, sh.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if mgr.Current() != nil {
		t.Error("Delete() should clear the current shoot")
	}
	if _, err := os.Stat(mgr.shootDir(sh.ID)); !os.IsNotExist(err) {
		t.Error("Delete() should remove stored images")
	}
	shoots, _ := mgr.List(ctx)
	if len(shoots) != 0 {
		t.Errorf("List() after delete returned %d shoots", len(shoots))
	}
}

func TestManager_UpdateSizing(t *testing.T) {
	mgr := testManager(t)
	ctx := context.Background()

	if err := mgr.UpdateSizing(ctx, models.DefaultSizing()); !errors.Is(err, ErrNoShoot) {
		t.Errorf("UpdateSizing() without shoot error = %v, want %v", err, ErrNoShoot)
	}

	sh, _ := mgr.StartShoot(ctx, "", models.Image{}, models.DefaultSizing())
	if err := mgr.UpdateSizing(ctx, models.NewSizing(models.Resolution2K, models.AspectReels)); err != nil {
		t.Fatalf("UpdateSizing() error = %v", err)
	}

	got, _ := mgr.store.GetShoot(ctx, sh.ID)
	if got.Resolution != models.Resolution2K || got.AspectRatio != models.AspectReels {
		t.Errorf("stored sizing = %s/%s", got.Resolution, got.AspectRatio)
	}
}

func TestManager_Observe(t *testing.T) {
	mgr := testManager(t)
	ctx := context.Background()
	if _, err := mgr.StartShoot(ctx, "", models.Image{}, models.DefaultSizing()); err != nil {
		t.Fatal(err)
	}

	img := pngImage(t)
	snap := studio.Snapshot{Concepts: []models.Concept{{ID: "a", Style: models.StyleMinimalist, Image: &img}, {ID: "b"}}}

	events := []studio.Event{
		{Type: studio.EventConceptUpdated, ConceptID: "a", Operation: studio.OpGenerate, Prompt: "p", Snapshot: snap},
		{Type: studio.EventConceptUpdated, ConceptID: "a", Operation: studio.OpRegenerate, Snapshot: snap},
		{Type: studio.EventConceptUpdated, ConceptID: "b", Operation: studio.OpGenerate, Prompt: "p", Snapshot: snap},
		{Type: studio.EventConceptUpdated, ConceptID: "a", Operation: studio.OpEdit, Prompt: "p", Err: errors.New("x"), Snapshot: snap},
		{Type: studio.EventStatusChanged, Snapshot: snap},
	}
	for _, ev := range events {
		mgr.Observe(ev)
	}

	hist, err := mgr.ConceptHistory(ctx, "a")
	if err != nil {
		t.Fatal(err)
	}
	if len(hist) != 1 || hist[0].Operation != OpGenerate || hist[0].Style != models.StyleMinimalist {
		t.Errorf("ConceptHistory() = %v, want one generate iteration", hist)
	}
	if hist, _ := mgr.ConceptHistory(ctx, "b"); len(hist) != 0 {
		t.Error("concept without image should not be recorded")
	}
}
