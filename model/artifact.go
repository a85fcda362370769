// Package model persists trained networks and holds the one currently served.
package model

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"sigverify/loss"
	"sigverify/siamese"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
)

// FormatVersion is bumped whenever the encoded layout changes incompatibly
const FormatVersion = 1

// Hyperparameters records how a network was trained
type Hyperparameters struct {
	Epochs       int     `json:"epochs" cbor:"epochs"`
	BatchSize    int     `json:"batch_size" cbor:"batch_size"`
	LearningRate float64 `json:"learning_rate" cbor:"learning_rate"`
	WeightDecay  float64 `json:"weight_decay" cbor:"weight_decay"`
	Seed         int64   `json:"seed" cbor:"seed"`
	TestFraction float64 `json:"test_fraction" cbor:"test_fraction"`
	ValFraction  float64 `json:"val_fraction" cbor:"val_fraction"`
	SeedTest     int64   `json:"seed_test" cbor:"seed_test"`
	SeedVal      int64   `json:"seed_val" cbor:"seed_val"`
	Workers      int     `json:"workers" cbor:"workers"`
}

// SplitSizes is the number of pairs in each partition
type SplitSizes struct {
	Train int `json:"train" cbor:"train"`
	Val   int `json:"val" cbor:"val"`
	Test  int `json:"test" cbor:"test"`
}

// Metrics are the last epoch's figures
type Metrics struct {
	TrainLoss     float64 `json:"train_loss" cbor:"train_loss"`
	TrainAccuracy float64 `json:"train_accuracy" cbor:"train_accuracy"`
	ValLoss       float64 `json:"val_loss" cbor:"val_loss"`
	ValAccuracy   float64 `json:"val_accuracy" cbor:"val_accuracy"`
}

// Artifact is a self-describing trained model: loading it needs nothing but
// the bytes, including the loss it was trained with.
type Artifact struct {
	Version   int              `json:"version" cbor:"version"`
	ID        string           `json:"id" cbor:"id"`
	CreatedAt time.Time        `json:"created_at" cbor:"created_at"`
	Arch      siamese.Arch     `json:"arch" cbor:"arch"`
	Loss      loss.Contrastive `json:"loss" cbor:"loss"`
	Training  Hyperparameters  `json:"training" cbor:"training"`
	Split     SplitSizes       `json:"split" cbor:"split"`
	Metrics   Metrics          `json:"metrics" cbor:"metrics"`
	Network   *siamese.Network `json:"-" cbor:"network"`
}

// NewArtifact wraps a trained network with a fresh id and timestamp
func NewArtifact(net *siamese.Network, lossCfg loss.Contrastive) *Artifact {
	return &Artifact{
		Version:   FormatVersion,
		ID:        uuid.NewString(),
		CreatedAt: time.Now().UTC(),
		Arch:      net.Arch(),
		Loss:      lossCfg,
		Network:   net,
	}
}

var encMode, decMode = mustModes()

func mustModes() (cbor.EncMode, cbor.DecMode) {
	opts := cbor.CoreDetEncOptions()
	opts.Time = cbor.TimeRFC3339Nano
	em, err := opts.EncMode()
	if err != nil {
		panic(err)
	}
	dm, err := cbor.DecOptions{MaxArrayElements: 1 << 30}.DecMode()
	if err != nil {
		panic(err)
	}
	return em, dm
}

// Encode serializes the artifact
func (a *Artifact) Encode() ([]byte, error) {
	if a.Network == nil {
		return nil, errors.New("artifact has no network")
	}
	return encMode.Marshal(a)
}

// Decode parses and checks an encoded artifact
func Decode(data []byte) (*Artifact, error) {
	var a Artifact
	if err := decMode.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("decode model artifact: %w", err)
	}
	if a.Version != FormatVersion {
		return nil, fmt.Errorf("model artifact version %d, this build reads %d", a.Version, FormatVersion)
	}
	if a.Network == nil {
		return nil, errors.New("model artifact has no network")
	}
	if err := a.Arch.Validate(); err != nil {
		return nil, fmt.Errorf("model artifact architecture: %w", err)
	}
	if err := checkParams(&a); err != nil {
		return nil, err
	}
	return &a, nil
}

// checkParams verifies that every weight slice matches the recorded
// architecture, so a truncated file cannot be served.
func checkParams(a *Artifact) error {
	a.Network.Embedder.Arch = a.Arch
	if err := a.Network.Validate(); err != nil {
		return fmt.Errorf("model artifact weights: %w", err)
	}
	return nil
}

// Save writes the artifact to path through a temporary file in the same
// directory, so readers never see a partial model.
func (a *Artifact) Save(path string) error {
	data, err := a.Encode()
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create model directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temporary model file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write model: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync model: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close model: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("install model: %w", err)
	}
	return nil
}

// Load reads an artifact written by Save
func Load(path string) (*Artifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read model %s: %w", path, err)
	}
	return Decode(data)
}
