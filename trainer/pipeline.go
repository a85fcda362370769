package trainer

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"sigverify/config"
	"sigverify/database"
	"sigverify/imageprocessor"
	"sigverify/logging"
	"sigverify/model"
	"sigverify/scanner"
	"sigverify/sigerr"
	"sigverify/types"
)

// Pipeline is a complete training run: scan the corpus, fit, save the
// artifact, catalogue it and publish it
type Pipeline struct {
	Train     Config
	Folders   []string
	ModelPath string
	// DB and Holder are optional
	DB          *sql.DB
	Holder      *model.Holder
	ScanWorkers int
	Quiet       bool
}

// NewPipeline builds a pipeline from run settings
func NewPipeline(c config.Config, db *sql.DB, holder *model.Holder) *Pipeline {
	return &Pipeline{
		Train:     FromConfig(c),
		Folders:   []string{c.Dataset.Path},
		ModelPath: c.Model.Path,
		DB:        db,
		Holder:    holder,
	}
}

// Run executes the pipeline. On any failure nothing is published and the
// error is a *sigerr.TrainingError.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	in := p.Train.Arch.Input
	corpora, report, err := scanner.LoadCorpora(ctx, scanner.Options{
		FolderPaths: p.Folders,
		Shape:       imageprocessor.Shape{Width: in.Width, Height: in.Height},
		DB:          p.DB,
		MaxWorkers:  p.ScanWorkers,
		Quiet:       p.Quiet,
	})
	if err != nil {
		return nil, &sigerr.TrainingError{Stage: "scan", Err: err}
	}
	if len(corpora) == 0 {
		return nil, &sigerr.TrainingError{Stage: "scan", Err: errors.New("no signature samples found")}
	}
	logging.LogInfo("Loaded %d samples from %d signers (%d errors)", report.Loaded, report.Signers, len(report.Errors))

	res, err := Train(ctx, corpora, p.Train)
	if err != nil {
		return nil, err
	}

	if p.ModelPath != "" {
		if err := res.Artifact.Save(p.ModelPath); err != nil {
			return nil, &sigerr.TrainingError{Stage: "save", Err: err}
		}
		logging.LogInfo("Saved model %s to %s", res.Artifact.ID, p.ModelPath)
	}
	if p.DB != nil {
		if err := database.RecordModel(p.DB, Record(res, p.ModelPath)); err != nil {
			// the artifact on disk is still valid
			logging.LogWarning("Cannot catalogue model %s: %v", res.Artifact.ID, err)
		}
	}
	if p.Holder != nil {
		p.Holder.Publish(model.NewSnapshot(res.Artifact, p.ModelPath, res.Test))
	}
	return res, nil
}

// Record is the catalogue row of a finished run
func Record(res *Result, path string) types.ModelRecord {
	a := res.Artifact
	return types.ModelRecord{
		ID:          a.ID,
		Path:        path,
		CreatedAt:   a.CreatedAt.UTC().Format(database.CreatedAtLayout),
		Margin:      a.Loss.Margin,
		Alpha:       a.Loss.Alpha,
		Beta:        a.Loss.Beta,
		Epochs:      a.Training.Epochs,
		TrainPairs:  a.Split.Train,
		ValPairs:    a.Split.Val,
		TestPairs:   a.Split.Test,
		ValLoss:     a.Metrics.ValLoss,
		ValAccuracy: a.Metrics.ValAccuracy,
	}
}

// LoadLatest publishes the newest catalogued model, falling back to
// fallbackPath when the catalogue has none or its file no longer loads. The
// test split of an earlier run is not stored, so the snapshot has none.
func LoadLatest(db *sql.DB, fallbackPath string, holder *model.Holder) (*model.Snapshot, error) {
	path := fallbackPath
	if db != nil {
		rec, err := database.LatestModel(db)
		if err != nil {
			return nil, err
		}
		if rec != nil {
			path = rec.Path
		}
	}
	if path == "" {
		return nil, &sigerr.ModelNotLoadedError{Reason: "no model path configured"}
	}
	a, err := model.Load(path)
	if err != nil && fallbackPath != "" && fallbackPath != path {
		logging.LogWarning("Catalogued model %s did not load (%v); trying %s", path, err, fallbackPath)
		path = fallbackPath
		a, err = model.Load(path)
	}
	if err != nil {
		return nil, fmt.Errorf("load model %s: %w", path, err)
	}
	snap := model.NewSnapshot(a, path, types.Dataset{})
	holder.Publish(snap)
	return snap, nil
}
