package trainer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"sigverify/database"
	"sigverify/loss"
	"sigverify/model"
	"sigverify/siamese"
	"sigverify/sigerr"
	"sigverify/types"
)

func writeSample(t *testing.T, path string, period, phase int) {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 48, 40))
	for y := 0; y < 40; y++ {
		for x := 0; x < 48; x++ {
			v := uint8(255)
			if (x+y*phase)%period == 0 {
				v = 0
			}
			img.SetGray(x, y, color.Gray{Y: v})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		t.Fatal(err)
	}
}

func sampleTree(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	for s := 1; s <= 3; s++ {
		for k := 1; k <= 4; k++ {
			writeSample(t, filepath.Join(dir, "full_org", fmt.Sprintf("original_%d_%d.png", s, k)), 4+s, k)
		}
		for k := 1; k <= 2; k++ {
			writeSample(t, filepath.Join(dir, "full_forg", fmt.Sprintf("forgeries_%d_%d.png", s, k)), 3, s*10+k)
		}
	}
	return dir
}

func TestPipelineRun(t *testing.T) {
	dir := sampleTree(t)
	db, err := database.InitDatabase(filepath.Join(t.TempDir(), "catalogue.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	holder := model.NewHolder()
	p := &Pipeline{
		Train:     tinyConfig(),
		Folders:   []string{dir},
		ModelPath: filepath.Join(t.TempDir(), "model.cbor"),
		DB:        db,
		Holder:    holder,
		Quiet:     true,
	}
	res, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	snap, err := holder.Current()
	if err != nil {
		t.Fatalf("nothing published: %v", err)
	}
	if snap.Artifact.ID != res.Artifact.ID || snap.Test.Len() != res.Test.Len() {
		t.Errorf("published snapshot does not match the run")
	}
	if _, err := os.Stat(p.ModelPath); err != nil {
		t.Errorf("artifact not saved: %v", err)
	}

	rec, err := database.LatestModel(db)
	if err != nil || rec == nil {
		t.Fatalf("LatestModel = %v, %v", rec, err)
	}
	if rec.ID != res.Artifact.ID || rec.TestPairs != res.Test.Len() {
		t.Errorf("catalogue row = %+v", rec)
	}

	reloaded := model.NewHolder()
	again, err := LoadLatest(db, "", reloaded)
	if err != nil {
		t.Fatalf("LoadLatest: %v", err)
	}
	if again.Artifact.ID != res.Artifact.ID || again.Test.Len() != 0 {
		t.Errorf("LoadLatest returned model %s with %d test pairs", again.Artifact.ID, again.Test.Len())
	}
}

func TestPipelineEmptyCorpus(t *testing.T) {
	holder := model.NewHolder()
	p := &Pipeline{Train: tinyConfig(), Folders: []string{t.TempDir()}, Holder: holder, Quiet: true}
	_, err := p.Run(context.Background())
	var te *sigerr.TrainingError
	if !errors.As(err, &te) || te.Stage != "scan" {
		t.Fatalf("err = %v, want scan TrainingError", err)
	}
	if holder.Loaded() {
		t.Error("failed run published a model")
	}
}

func TestLoadLatestWithoutModel(t *testing.T) {
	if _, err := LoadLatest(nil, "", model.NewHolder()); !errors.Is(err, sigerr.ErrModelNotLoaded) {
		t.Fatalf("err = %v, want ErrModelNotLoaded", err)
	}
}

func TestLoadLatestFallsBackWhenCataloguedFileIsGone(t *testing.T) {
	db, err := database.InitDatabase(filepath.Join(t.TempDir(), "catalogue.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	gone := filepath.Join(t.TempDir(), "deleted.cbor")
	if err := database.RecordModel(db, types.ModelRecord{ID: "gone", Path: gone, CreatedAt: "2024-06-01T10:00:00Z"}); err != nil {
		t.Fatal(err)
	}

	net, err := siamese.NewNetwork(tinyConfig().Arch, 5)
	if err != nil {
		t.Fatal(err)
	}
	fallback := filepath.Join(t.TempDir(), "model.cbor")
	saved := model.NewArtifact(net, loss.Default())
	if err := saved.Save(fallback); err != nil {
		t.Fatal(err)
	}

	holder := model.NewHolder()
	snap, err := LoadLatest(db, fallback, holder)
	if err != nil {
		t.Fatalf("LoadLatest: %v", err)
	}
	if snap.Artifact.ID != saved.ID || snap.Path != fallback {
		t.Errorf("loaded %s from %s, want %s from %s", snap.Artifact.ID, snap.Path, saved.ID, fallback)
	}
	if !holder.Loaded() {
		t.Error("fallback model not published")
	}

	if _, err := LoadLatest(db, "", model.NewHolder()); err == nil {
		t.Error("missing catalogued file without a fallback loaded")
	}
}
