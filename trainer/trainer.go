// Package trainer fits the twin network on pairs generated from a signer
// corpus and produces a model artifact.
package trainer

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"runtime"
	"sync"
	"time"

	"sigverify/config"
	"sigverify/logging"
	"sigverify/loss"
	"sigverify/model"
	"sigverify/pairs"
	"sigverify/sigerr"
	"sigverify/siamese"
	"sigverify/types"
	"sigverify/verifier"
)

// maxDefaultWorkers bounds the worker count picked when none is configured;
// every worker holds a full gradient buffer.
const maxDefaultWorkers = 4

// Config is everything a training run needs
type Config struct {
	Arch   siamese.Arch
	Loss   loss.Contrastive
	Params model.Hyperparameters
	// OnEpoch, when set, is called after every epoch
	OnEpoch func(EpochStats)
}

// FromConfig builds a training configuration from run settings
func FromConfig(c config.Config) Config {
	return Config{
		Arch: siamese.DefaultArch(c.Image.Height, c.Image.Width),
		Loss: loss.Contrastive{Margin: c.Loss.Margin, Alpha: c.Loss.Alpha, Beta: c.Loss.Beta},
		Params: model.Hyperparameters{
			Epochs:       c.Training.Epochs,
			BatchSize:    c.Training.BatchSize,
			LearningRate: c.Training.LearningRate,
			WeightDecay:  c.Training.WeightDecay,
			Seed:         c.Training.Seed,
			TestFraction: c.Dataset.TestFraction,
			ValFraction:  c.Dataset.ValFraction,
			SeedTest:     c.Dataset.SeedTest,
			SeedVal:      c.Dataset.SeedVal,
			Workers:      c.Training.Workers,
		},
	}
}

// EpochStats are the figures logged after each epoch
type EpochStats struct {
	Epoch         int           `json:"epoch"`
	TrainLoss     float64       `json:"train_loss"`
	TrainAccuracy float64       `json:"train_accuracy"`
	ValLoss       float64       `json:"val_loss"`
	ValAccuracy   float64       `json:"val_accuracy"`
	Duration      time.Duration `json:"duration"`
}

// Result is a finished run. The artifact has not been saved or published.
type Result struct {
	Artifact *model.Artifact
	Train    types.Dataset
	Val      types.Dataset
	Test     types.Dataset
	History  []EpochStats
}

// Train generates pairs, splits them, and fits a freshly initialized network.
// Every failure, including cancellation of ctx, comes back as a
// *sigerr.TrainingError.
func Train(ctx context.Context, corpora map[int]*types.SignerCorpus, cfg Config) (*Result, error) {
	if err := cfg.validate(); err != nil {
		return nil, &sigerr.TrainingError{Stage: "config", Err: err}
	}

	ds := pairs.Generate(corpora)
	pos, neg := pairs.Count(corpora)
	logging.LogInfo("Generated %d pairs (%d genuine, %d forged) from %d signers", ds.Len(), pos, neg, len(corpora))
	if ds.Len() == 0 {
		return nil, &sigerr.TrainingError{Stage: "pairs", Err: errors.New("corpus produced no pairs")}
	}

	p := cfg.Params
	train, val, test, err := pairs.Split(ds, p.TestFraction, p.ValFraction, p.SeedTest, p.SeedVal)
	if err != nil {
		return nil, &sigerr.TrainingError{Stage: "split", Err: err}
	}
	if train.Len() == 0 {
		return nil, &sigerr.TrainingError{Stage: "split", Err: fmt.Errorf("no training pairs left out of %d", ds.Len())}
	}
	logging.LogInfo("Split: %d train, %d validation, %d test pairs", train.Len(), val.Len(), test.Len())

	net, err := siamese.NewNetwork(cfg.Arch, p.Seed)
	if err != nil {
		return nil, &sigerr.TrainingError{Stage: "init", Err: err}
	}
	logging.LogInfo("Initialized %s", net)

	f := newFitter(net, cfg)
	var history []EpochStats
	for epoch := 0; epoch < p.Epochs; epoch++ {
		stats, err := f.epoch(ctx, epoch, train)
		if err != nil {
			return nil, &sigerr.TrainingError{Stage: fmt.Sprintf("epoch %d", epoch+1), Err: err}
		}
		if val.Len() > 0 {
			ev, err := verifier.EvaluateNetwork(net, cfg.Loss, val, f.workers)
			if err != nil {
				return nil, &sigerr.TrainingError{Stage: "validation", Err: err}
			}
			stats.ValLoss, stats.ValAccuracy = ev.Loss, ev.Accuracy
		}
		logging.LogInfo("Epoch %d/%d: loss %.4f accuracy %.4f val_loss %.4f val_accuracy %.4f (%s)",
			epoch+1, p.Epochs, stats.TrainLoss, stats.TrainAccuracy, stats.ValLoss, stats.ValAccuracy,
			stats.Duration.Round(time.Millisecond))
		history = append(history, stats)
		if cfg.OnEpoch != nil {
			cfg.OnEpoch(stats)
		}
	}

	art := model.NewArtifact(net, cfg.Loss)
	art.Training = p
	art.Training.Workers = f.workers
	art.Split = model.SplitSizes{Train: train.Len(), Val: val.Len(), Test: test.Len()}
	last := history[len(history)-1]
	art.Metrics = model.Metrics{
		TrainLoss:     last.TrainLoss,
		TrainAccuracy: last.TrainAccuracy,
		ValLoss:       last.ValLoss,
		ValAccuracy:   last.ValAccuracy,
	}
	return &Result{Artifact: art, Train: train, Val: val, Test: test, History: history}, nil
}

func (c Config) validate() error {
	p := c.Params
	if p.Epochs < 1 {
		return fmt.Errorf("epochs must be at least 1, got %d", p.Epochs)
	}
	if p.BatchSize < 1 {
		return fmt.Errorf("batch size must be at least 1, got %d", p.BatchSize)
	}
	if p.LearningRate <= 0 {
		return fmt.Errorf("learning rate must be positive, got %v", p.LearningRate)
	}
	if p.Workers < 0 {
		return fmt.Errorf("workers must not be negative, got %d", p.Workers)
	}
	return c.Arch.Validate()
}

// fitter owns the optimizer state and per-worker gradient buffers of a run
type fitter struct {
	net     *siamese.Network
	cfg     Config
	opt     *siamese.AdamW
	workers int
	grads   []*siamese.Network
}

func newFitter(net *siamese.Network, cfg Config) *fitter {
	workers := cfg.Params.Workers
	if workers == 0 {
		workers = min(runtime.GOMAXPROCS(0), maxDefaultWorkers)
	}
	f := &fitter{
		net:     net,
		cfg:     cfg,
		opt:     siamese.NewAdamW(cfg.Params.LearningRate, cfg.Params.WeightDecay),
		workers: workers,
	}
	for i := 0; i < workers; i++ {
		f.grads = append(f.grads, net.ZeroLike())
	}
	return f
}

// epoch runs one shuffled pass over train. ctx is checked before each batch.
func (f *fitter) epoch(ctx context.Context, epoch int, train types.Dataset) (EpochStats, error) {
	start := time.Now()
	p := f.cfg.Params
	order := rand.New(rand.NewSource(p.Seed + int64(epoch) + 1)).Perm(train.Len())

	var lossSum float64
	correct := 0
	for lo := 0; lo < len(order); lo += p.BatchSize {
		if err := ctx.Err(); err != nil {
			return EpochStats{}, err
		}
		hi := min(lo+p.BatchSize, len(order))
		batch := order[lo:hi]

		labels := make([]int, len(batch))
		for i, idx := range batch {
			labels[i] = train.Labels[idx]
		}
		scores, err := f.step(epoch, batch, train)
		if err != nil {
			return EpochStats{}, err
		}
		l, err := f.cfg.Loss.Loss(labels, scores)
		if err != nil {
			return EpochStats{}, err
		}
		lossSum += l * float64(len(batch))
		for i, s := range scores {
			if (s > 0.5) == (labels[i] == 1) {
				correct++
			}
		}
	}

	n := float64(len(order))
	return EpochStats{
		Epoch:         epoch + 1,
		TrainLoss:     lossSum / n,
		TrainAccuracy: float64(correct) / n,
		Duration:      time.Since(start),
	}, nil
}

// step computes the batch gradient and applies one optimizer update. The
// batch is cut into one contiguous chunk per worker and the chunk gradients
// are summed in worker order, so a fixed seed and worker count always give
// the same weights.
func (f *fitter) step(epoch int, batch []int, train types.Dataset) ([]float64, error) {
	scores := make([]float64, len(batch))
	chunk := (len(batch) + f.workers - 1) / f.workers
	scale := 1 / float64(len(batch))

	var wg sync.WaitGroup
	errs := make([]error, f.workers)
	used := 0
	for w := 0; w < f.workers; w++ {
		lo := w * chunk
		if lo >= len(batch) {
			break
		}
		hi := min(lo+chunk, len(batch))
		used++
		g := f.grads[w]
		g.Zero()

		wg.Add(1)
		go func(w, lo, hi int) {
			defer wg.Done()
			for i := lo; i < hi; i++ {
				idx := batch[i]
				pair := train.Pairs[idx]
				rng := rand.New(rand.NewSource(dropoutSeed(f.cfg.Params.Seed, epoch, idx)))
				tr, err := f.net.ForwardPair(pair.A, pair.B, rng)
				if err != nil {
					errs[w] = err
					return
				}
				scores[i] = tr.Score
				f.net.BackwardPair(tr, f.cfg.Loss.ExampleGrad(train.Labels[idx], tr.Score)*scale, g)
			}
		}(w, lo, hi)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	total := f.grads[0]
	for w := 1; w < used; w++ {
		total.Accumulate(f.grads[w])
	}
	if err := f.opt.Step(f.net.Vectors(), total.Vectors()); err != nil {
		return nil, err
	}
	return scores, nil
}

// dropoutSeed derives the mask seed of one example in one epoch
func dropoutSeed(seed int64, epoch, example int) int64 {
	return seed*1_000_003 + int64(epoch)*7_919_993 + int64(example)
}
