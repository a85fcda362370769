package scanner

import (
	"fmt"
	"time"

	"sigverify/logging"
	"sigverify/types"
)

// NewProgressTracker starts consuming results and, unless quiet, printing
// progress twice a second
func NewProgressTracker(stats FileStats, resultsChan chan ProcessSampleResult, quiet bool) *ProgressTracker {
	tracker := &ProgressTracker{
		ticker:     time.NewTicker(500 * time.Millisecond),
		done:       make(chan bool),
		finished:   make(chan struct{}),
		quiet:      quiet,
		totalFiles: stats.totalFiles,
	}

	go tracker.displayProgress()
	go tracker.processResults(resultsChan)

	return tracker
}

// displayProgress shows the progress periodically
func (p *ProgressTracker) displayProgress() {
	for {
		select {
		case <-p.done:
			return
		case <-p.ticker.C:
			if p.quiet {
				continue
			}
			p.mu.Lock()
			if p.errors > 0 {
				fmt.Printf("\rProgress: %d/%d (Errors: %d, originals: %d, forgeries: %d)",
					p.processed, p.totalFiles, p.errors, p.originals, p.forgeries)
			} else {
				fmt.Printf("\rProgress: %d/%d (originals: %d, forgeries: %d)",
					p.processed, p.totalFiles, p.originals, p.forgeries)
			}
			p.mu.Unlock()
		}
	}
}

// processResults updates the tracker state and keeps every result
func (p *ProgressTracker) processResults(resultsChan chan ProcessSampleResult) {
	defer close(p.finished)
	for result := range resultsChan {
		p.mu.Lock()
		p.processed++
		p.results = append(p.results, result)

		if result.Error != nil {
			p.errors++
			logging.LogSampleProcessed(result.Path, false, result.Error.Error())
		} else {
			if result.Kind == types.Forgery {
				p.forgeries++
			} else {
				p.originals++
			}
			logging.LogSampleProcessed(result.Path, true, "")
		}

		p.mu.Unlock()
	}
}

// Results waits until the result channel is closed and drained
func (p *ProgressTracker) Results() []ProcessSampleResult {
	<-p.finished
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.results
}

// Stop ends the progress display
func (p *ProgressTracker) Stop() {
	p.ticker.Stop()
	p.done <- true
}

// PrintStartupInfo displays information about the scan before starting
func PrintStartupInfo(stats FileStats, options Options) {
	if options.Quiet {
		return
	}
	fmt.Printf("Loading signature corpus...\nTotal sample files: %d (%d originals, %d forgeries)\n",
		stats.totalFiles, stats.originals, stats.forgeries)
	if options.DB != nil {
		fmt.Printf("Cataloguing samples, force rewrite: %v\n", options.ForceRewrite)
	}

	if options.DebugMode {
		fmt.Printf("Debug mode: enabled\n")
		logging.DebugLog("Found %d sample files to load (%d originals, %d forgeries)",
			stats.totalFiles, stats.originals, stats.forgeries)
	}
}

// PrintCompletionStats displays statistics after the scan
func PrintCompletionStats(report *Report, options Options) {
	logging.LogInfo("Scan completed in %v. Files: %d, loaded: %d, duplicates: %d, errors: %d, signers: %d",
		report.Elapsed, report.Files, report.Loaded, len(report.Duplicates), len(report.Errors), report.Signers)
	if options.Quiet {
		return
	}

	fmt.Println("\nLoading complete.")
	fmt.Printf("Loaded %d samples from %d signers in %v.\n", report.Loaded, report.Signers, report.Elapsed.Round(time.Millisecond))

	if len(report.Duplicates) > 0 {
		fmt.Printf("Dropped %d duplicate samples.\n", len(report.Duplicates))
	}
	if len(report.Errors) > 0 {
		fmt.Printf("Encountered %d unreadable samples.\n", len(report.Errors))
		fmt.Println("Check the log file for details.")
	}
}
