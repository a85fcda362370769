// Package scanner finds signature images on disk, normalizes them on a
// bounded worker pool and groups them into per-signer corpora.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"sigverify/imageprocessor"
	"sigverify/logging"
	"sigverify/sigerr"
	"sigverify/types"

	"github.com/emirpasic/gods/sets/hashset"
)

const defaultWorkers = 8

// LoadCorpora loads every recognised sample under options.FolderPaths. A file
// that cannot be read or decoded is recorded in the report and skipped; only
// an unreadable root or a cancelled ctx fails the whole scan.
func LoadCorpora(ctx context.Context, options Options) (map[int]*types.SignerCorpus, *Report, error) {
	startTime := time.Now()
	if options.Shape.Width <= 0 || options.Shape.Height <= 0 {
		options.Shape = imageprocessor.DefaultShape
	}
	workers := options.MaxWorkers
	if workers <= 0 {
		workers = defaultWorkers
	}

	report := &Report{}
	candidates, err := findCandidates(options, report)
	if err != nil {
		return nil, nil, err
	}
	stats := FileStats{totalFiles: len(candidates)}
	for _, c := range candidates {
		if c.Kind == types.Forgery {
			stats.forgeries++
		} else {
			stats.originals++
		}
	}
	report.Files = len(candidates)
	PrintStartupInfo(stats, options)

	var wg sync.WaitGroup
	resultsChan := make(chan ProcessSampleResult, 100)
	semaphore := make(chan struct{}, workers)
	tracker := NewProgressTracker(stats, resultsChan, options.Quiet)

	for _, c := range candidates {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		semaphore <- struct{}{}
		go func(c candidate) {
			defer wg.Done()
			defer func() { <-semaphore }()
			resultsChan <- processSample(ctx, c, options)
		}(c)
	}

	wg.Wait()
	close(resultsChan)
	close(semaphore)
	results := tracker.Results()
	tracker.Stop()

	if err := ctx.Err(); err != nil {
		return nil, nil, fmt.Errorf("scan cancelled: %w", err)
	}

	corpora := assemble(results, report)
	report.Signers = len(corpora)
	report.Elapsed = time.Since(startTime)
	PrintCompletionStats(report, options)
	return corpora, report, nil
}

// findCandidates walks every root and returns recognised sample files in
// path order
func findCandidates(options Options, report *Report) ([]candidate, error) {
	if len(options.FolderPaths) == 0 {
		return nil, errors.New("no dataset folder given")
	}
	var out []candidate
	for _, root := range options.FolderPaths {
		if _, err := os.Stat(root); err != nil {
			return nil, fmt.Errorf("cannot access dataset folder: %w", err)
		}
		if options.DebugMode {
			logging.DebugLog("Starting corpus scan on folder: %s", root)
		}
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				logging.LogError("Error accessing path %s: %v", path, err)
				return nil
			}
			if d.IsDir() {
				return nil
			}
			signer, kind, index, ok := ParseSampleName(path)
			if !ok {
				if imageprocessor.IsImageFile(path) {
					report.Ignored = append(report.Ignored, path)
				}
				return nil
			}
			if abs, err := filepath.Abs(path); err == nil {
				path = abs
			}
			out = append(out, candidate{Path: path, Signer: signer, Kind: kind, Index: index})
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

// processSample reads, normalizes and optionally catalogues one file
func processSample(ctx context.Context, c candidate, options Options) ProcessSampleResult {
	result := ProcessSampleResult{candidate: c}
	fail := func(err error) ProcessSampleResult {
		result.Error = &sigerr.SampleError{Signer: c.Signer, Kind: c.Kind.String(), Path: c.Path, Err: err}
		return result
	}
	if err := ctx.Err(); err != nil {
		return fail(err)
	}

	raw, err := os.ReadFile(c.Path)
	if err != nil {
		return fail(err)
	}
	img, err := imageprocessor.NormalizeNamed(c.Path, raw, options.Shape)
	if err != nil {
		return fail(err)
	}
	digest := imageprocessor.ContentDigest(raw)

	if options.DB != nil {
		if err := catalogueSample(options.DB, c, raw, digest, options); err != nil {
			// the sample is still usable for training
			logging.LogWarning("Cannot catalogue %s: %v", c.Path, err)
		}
	}

	result.Sample = &types.Sample{
		Signer: c.Signer,
		Kind:   c.Kind,
		Index:  c.Index,
		Path:   c.Path,
		Digest: digest,
		Image:  img,
	}
	return result
}

// assemble groups loaded samples by signer, ordered by sample number then
// path, dropping repeated paths and repeated content within a signer
func assemble(results []ProcessSampleResult, report *Report) map[int]*types.SignerCorpus {
	sort.Slice(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.Signer != b.Signer {
			return a.Signer < b.Signer
		}
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		if a.Index != b.Index {
			return a.Index < b.Index
		}
		return a.Path < b.Path
	})

	corpora := make(map[int]*types.SignerCorpus)
	seenPaths := hashset.New()
	for _, r := range results {
		if r.Error != nil {
			var se *sigerr.SampleError
			if errors.As(r.Error, &se) {
				report.Errors = append(report.Errors, se)
			}
			continue
		}
		// overlapping roots yield the same path twice
		if seenPaths.Contains(r.Path) {
			report.Duplicates = append(report.Duplicates, r.Path)
			continue
		}
		seenPaths.Add(r.Path)

		corpus, ok := corpora[r.Signer]
		if !ok {
			corpus = types.NewSignerCorpus(r.Signer)
			corpora[r.Signer] = corpus
		}
		if !corpus.Add(r.Sample) {
			logging.LogWarning("Dropping duplicate content for signer %d: %s", r.Signer, r.Path)
			report.Duplicates = append(report.Duplicates, r.Path)
			continue
		}
		report.Loaded++
	}
	return corpora
}
