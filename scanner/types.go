package scanner

import (
	"database/sql"
	"sync"
	"time"

	"sigverify/imageprocessor"
	"sigverify/sigerr"
	"sigverify/types"
)

// Options defines what to scan and how
type Options struct {
	// FolderPaths are walked recursively; overlapping roots are fine
	FolderPaths []string
	Shape       imageprocessor.Shape
	// DB, when set, receives a catalogue row for every loaded sample
	DB           *sql.DB
	ForceRewrite bool
	DebugMode    bool
	MaxWorkers   int // 0 means 8
	Quiet        bool
}

// Report summarizes a scan
type Report struct {
	Files      int
	Loaded     int
	Ignored    []string
	Duplicates []string
	Errors     []*sigerr.SampleError
	Signers    int
	Elapsed    time.Duration
}

// candidate is a corpus file recognised by name
type candidate struct {
	Path   string
	Signer int
	Kind   types.SampleKind
	Index  int
}

// ProcessSampleResult holds the outcome of loading one candidate
type ProcessSampleResult struct {
	candidate
	Sample *types.Sample
	Error  error
}

// FileStats counts the candidates before loading starts
type FileStats struct {
	totalFiles int
	originals  int
	forgeries  int
}

// ProgressTracker tracks progress of the scan operation
type ProgressTracker struct {
	processed  int
	errors     int
	originals  int
	forgeries  int
	ticker     *time.Ticker
	done       chan bool
	finished   chan struct{}
	mu         sync.Mutex
	quiet      bool
	totalFiles int
	results    []ProcessSampleResult
}
