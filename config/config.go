// Package config loads run settings from a TOML file, fills unset fields from
// struct-tag defaults and validates the result.
package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"github.com/mcuadros/go-defaults"
)

// Image is the model input shape
type Image struct {
	Width  int `toml:"width" default:"110" validate:"gte=8"`
	Height int `toml:"height" default:"70" validate:"gte=8"`
}

// Dataset describes where the signer corpus lives and how pairs are split
type Dataset struct {
	Path         string  `toml:"path" default:"./dataset/signatures"`
	TestFraction float64 `toml:"test_fraction" default:"0.3" validate:"gte=0,lt=1"`
	ValFraction  float64 `toml:"val_fraction" default:"0.5" validate:"gte=0,lt=1"`
	SeedTest     int64   `toml:"seed_test" default:"2"`
	SeedVal      int64   `toml:"seed_val" default:"24"`
}

// Training holds optimizer and schedule settings
type Training struct {
	BatchSize    int     `toml:"batch_size" default:"128" validate:"gte=1"`
	Epochs       int     `toml:"epochs" default:"10" validate:"gte=1"`
	LearningRate float64 `toml:"learning_rate" default:"0.0001" validate:"gt=0"`
	WeightDecay  float64 `toml:"weight_decay" default:"0.0005" validate:"gte=0"`
	Seed         int64   `toml:"seed" default:"42"`
	Workers      int     `toml:"workers" default:"0" validate:"gte=0"`
}

// Loss holds the contrastive loss hyperparameters
type Loss struct {
	Margin float64 `toml:"margin" default:"1.0" validate:"gt=0"`
	Alpha  float64 `toml:"alpha" default:"1.0" validate:"gte=0"`
	Beta   float64 `toml:"beta" default:"1.0" validate:"gte=0"`
}

// Model holds artifact and decision settings
type Model struct {
	Path      string  `toml:"path" default:"./siamese_model.cbor"`
	Threshold float64 `toml:"threshold" default:"0.5" validate:"gte=0,lte=1"`
}

// Server holds HTTP settings
type Server struct {
	Listen string `toml:"listen" default:":5000"`
}

// Config is the complete run configuration
type Config struct {
	Image    Image    `toml:"image"`
	Dataset  Dataset  `toml:"dataset"`
	Training Training `toml:"training"`
	Loss     Loss     `toml:"loss"`
	Model    Model    `toml:"model"`
	Server   Server   `toml:"server"`
	Database string   `toml:"database" default:"signatures.db"`
	LogFile  string   `toml:"log_file"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Default returns a validated configuration built only from defaults
func Default() Config {
	var c Config
	defaults.SetDefaults(&c)
	return c
}

// Load reads path (if it exists) over the defaults and validates the result.
// A missing file is not an error; the defaults are used.
func Load(path string) (Config, error) {
	c := Default()
	if path != "" {
		if _, err := toml.DecodeFile(path, &c); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return c, fmt.Errorf("read config %s: %w", path, err)
			}
		}
	}
	if err := c.Validate(); err != nil {
		return c, err
	}
	return c, nil
}

// Validate checks field constraints
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
