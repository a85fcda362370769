package scanner

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"sigverify/database"
	"sigverify/imageprocessor"
	"sigverify/types"
)

var testShape = imageprocessor.Shape{Width: 22, Height: 14}

func writePNG(t *testing.T, path string, offset int) {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 44, 28))
	for y := 0; y < 28; y++ {
		for x := 0; x < 44; x++ {
			v := uint8(255)
			if (x+y+offset)%9 == 0 {
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

// corpusDir lays out a small CEDAR-style tree with one unreadable file, one
// duplicate and one unrelated image
func corpusDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "full_org", "original_1_2.png"), 2)
	writePNG(t, filepath.Join(dir, "full_org", "original_1_1.png"), 1)
	writePNG(t, filepath.Join(dir, "full_org", "original_1_10.png"), 3)
	writePNG(t, filepath.Join(dir, "full_forg", "forgeries_1_1.png"), 4)
	writePNG(t, filepath.Join(dir, "full_org", "original_2_1.png"), 5)
	writePNG(t, filepath.Join(dir, "full_org", "original_2_2.png"), 5)
	writePNG(t, filepath.Join(dir, "misc", "notes.png"), 6)
	if err := os.WriteFile(filepath.Join(dir, "full_org", "original_3_1.png"), []byte("corrupt"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "README.txt"), []byte("cedar"), 0644); err != nil {
		t.Fatal(err)
	}
	return dir
}

func TestParseSampleName(t *testing.T) {
	for _, tc := range []struct {
		path   string
		ok     bool
		signer int
		kind   types.SampleKind
		index  int
	}{
		{"/x/original_12_3.png", true, 12, types.Original, 3},
		{"forgeries_5_24.PNG", true, 5, types.Forgery, 24},
		{"a/b/original_1_1.pgm", true, 1, types.Original, 1},
		{"original_1_1.txt", false, 0, 0, 0},
		{"original_x_1.png", false, 0, 0, 0},
		{"signature.png", false, 0, 0, 0},
	} {
		signer, kind, index, ok := ParseSampleName(tc.path)
		if ok != tc.ok || signer != tc.signer || kind != tc.kind || index != tc.index {
			t.Errorf("ParseSampleName(%q) = %d %v %d %v", tc.path, signer, kind, index, ok)
		}
	}
}

func TestLoadCorpora(t *testing.T) {
	dir := corpusDir(t)
	corpora, report, err := LoadCorpora(context.Background(), Options{
		FolderPaths: []string{dir},
		Shape:       testShape,
		Quiet:       true,
		MaxWorkers:  3,
	})
	if err != nil {
		t.Fatalf("LoadCorpora: %v", err)
	}

	if len(corpora) != 2 || report.Signers != 2 {
		t.Fatalf("signers = %d (report %d), want 2", len(corpora), report.Signers)
	}
	one := corpora[1]
	if len(one.Originals) != 3 || len(one.Forgeries) != 1 {
		t.Fatalf("signer 1 has %d originals, %d forgeries", len(one.Originals), len(one.Forgeries))
	}
	// numeric, not lexical, sample order
	for i, want := range []int{1, 2, 10} {
		if got := one.Originals[i].Index; got != want {
			t.Errorf("original %d has index %d, want %d", i, got, want)
		}
	}
	img := one.Originals[0].Image
	if img.H != 14 || img.W != 22 || img.C != 1 {
		t.Errorf("sample shape %v", img)
	}

	if len(corpora[2].Originals) != 1 || len(report.Duplicates) != 1 {
		t.Errorf("duplicate content kept: %d originals, %d duplicates", len(corpora[2].Originals), len(report.Duplicates))
	}
	if len(report.Errors) != 1 || report.Errors[0].Signer != 3 || report.Errors[0].Kind != "original" {
		t.Fatalf("errors = %v", report.Errors)
	}
	if len(report.Ignored) != 1 {
		t.Errorf("ignored = %v", report.Ignored)
	}
	if report.Files != 7 || report.Loaded != 5 {
		t.Errorf("files %d loaded %d, want 7 and 5", report.Files, report.Loaded)
	}
}

func TestLoadCorporaOverlappingRoots(t *testing.T) {
	dir := corpusDir(t)
	corpora, report, err := LoadCorpora(context.Background(), Options{
		FolderPaths: []string{dir, filepath.Join(dir, "full_org")},
		Shape:       testShape,
		Quiet:       true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(corpora[1].Originals) != 3 {
		t.Errorf("signer 1 originals = %d, want 3", len(corpora[1].Originals))
	}
	if report.Loaded != 5 {
		t.Errorf("loaded = %d, want 5", report.Loaded)
	}
}

func TestLoadCorporaCatalogues(t *testing.T) {
	dir := corpusDir(t)
	db, err := database.InitDatabase(filepath.Join(t.TempDir(), "catalogue.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	opts := Options{FolderPaths: []string{dir}, Shape: testShape, Quiet: true, DB: db}
	for i := 0; i < 2; i++ {
		if _, _, err := LoadCorpora(context.Background(), opts); err != nil {
			t.Fatal(err)
		}
	}
	stats, err := database.GetScanStats(db, 0)
	if err != nil {
		t.Fatal(err)
	}
	// every decodable sample, duplicates included, is catalogued exactly once
	if stats.TotalSamples != 6 || stats.Signers != 2 || stats.Forgeries != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestLoadCorporaErrors(t *testing.T) {
	if _, _, err := LoadCorpora(context.Background(), Options{FolderPaths: []string{filepath.Join(t.TempDir(), "absent")}, Quiet: true}); err == nil {
		t.Error("missing folder should fail")
	}
	if _, _, err := LoadCorpora(context.Background(), Options{Quiet: true}); err == nil {
		t.Error("no folder should fail")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, _, err := LoadCorpora(ctx, Options{FolderPaths: []string{corpusDir(t)}, Quiet: true}); err == nil {
		t.Error("cancelled scan should fail")
	}
}
