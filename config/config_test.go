package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultMatchesReferenceSetup(t *testing.T) {
	c := Default()
	if c.Image.Width != 110 || c.Image.Height != 70 {
		t.Errorf("image = %dx%d, want 110x70", c.Image.Width, c.Image.Height)
	}
	if c.Training.BatchSize != 128 || c.Training.Epochs != 10 {
		t.Errorf("batch/epochs = %d/%d", c.Training.BatchSize, c.Training.Epochs)
	}
	if c.Training.LearningRate != 0.0001 || c.Training.WeightDecay != 0.0005 {
		t.Errorf("lr/wd = %v/%v", c.Training.LearningRate, c.Training.WeightDecay)
	}
	if c.Dataset.TestFraction != 0.3 || c.Dataset.ValFraction != 0.5 {
		t.Errorf("fractions = %v/%v", c.Dataset.TestFraction, c.Dataset.ValFraction)
	}
	if c.Dataset.SeedTest != 2 || c.Dataset.SeedVal != 24 {
		t.Errorf("seeds = %d/%d", c.Dataset.SeedTest, c.Dataset.SeedVal)
	}
	if c.Loss.Margin != 1 || c.Loss.Alpha != 1 || c.Loss.Beta != 1 {
		t.Errorf("loss = %+v", c.Loss)
	}
	if c.Model.Threshold != 0.5 {
		t.Errorf("threshold = %v", c.Model.Threshold)
	}
	if err := c.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sigverify.toml")
	content := `
database = "other.db"

[training]
epochs = 3
batch_size = 16

[loss]
margin = 0.8
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Training.Epochs != 3 || c.Training.BatchSize != 16 {
		t.Errorf("training = %+v", c.Training)
	}
	if c.Loss.Margin != 0.8 || c.Loss.Alpha != 1 {
		t.Errorf("loss = %+v", c.Loss)
	}
	if c.Database != "other.db" {
		t.Errorf("database = %q", c.Database)
	}
	if c.Image.Width != 110 {
		t.Errorf("untouched default changed: %d", c.Image.Width)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	c, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Training.Epochs != 10 {
		t.Errorf("epochs = %d", c.Training.Epochs)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	if err := os.WriteFile(path, []byte("[dataset]\ntest_fraction = 1.5\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error for test_fraction 1.5")
	}
}
