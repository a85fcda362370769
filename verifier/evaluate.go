package verifier

import (
	"runtime"
	"sync"

	"sigverify/loss"
	"sigverify/model"
	"sigverify/siamese"
	"sigverify/types"
)

// Evaluate scores every pair of ds with the snapshot's network and reports
// the loss the model was trained with and its accuracy.
func Evaluate(snap *model.Snapshot, ds types.Dataset) (types.EvalResult, error) {
	return EvaluateNetwork(snap.Network(), snap.Artifact.Loss, ds, runtime.GOMAXPROCS(0))
}

// EvaluateNetwork is Evaluate for a network that has not been published
func EvaluateNetwork(net *siamese.Network, lossCfg loss.Contrastive, ds types.Dataset, workers int) (types.EvalResult, error) {
	scores, err := Scores(net, ds, workers)
	if err != nil {
		return types.EvalResult{}, err
	}
	l, err := lossCfg.Loss(ds.Labels, scores)
	if err != nil {
		return types.EvalResult{}, err
	}
	return types.EvalResult{Loss: l, Accuracy: Accuracy(ds.Labels, scores)}, nil
}

// Accuracy is the fraction of pairs where score > 0.5 agrees with label 1
func Accuracy(labels []int, scores []float64) float64 {
	if len(scores) == 0 {
		return 0
	}
	correct := 0
	for i, s := range scores {
		if (s > 0.5) == (labels[i] == 1) {
			correct++
		}
	}
	return float64(correct) / float64(len(scores))
}

// Scores runs inference over ds on at most workers goroutines. The result
// is in pair order.
func Scores(net *siamese.Network, ds types.Dataset, workers int) ([]float64, error) {
	if workers < 1 {
		workers = 1
	}
	scores := make([]float64, ds.Len())

	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error
	semaphore := make(chan struct{}, workers)

	for i := range ds.Pairs {
		wg.Add(1)
		semaphore <- struct{}{}
		go func(i int) {
			defer wg.Done()
			defer func() { <-semaphore }()

			s, err := net.Score(ds.Pairs[i].A, ds.Pairs[i].B)
			if err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
				return
			}
			scores[i] = s
		}(i)
	}
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	return scores, nil
}
