package scanner

import (
	"database/sql"
	"fmt"
	"os"
	"time"

	"sigverify/database"
	"sigverify/imageprocessor"
	"sigverify/logging"
	"sigverify/types"
)

// unchangedInCatalogue reports whether path is already catalogued with a
// modification time no older than the file's
func unchangedInCatalogue(db *sql.DB, path string, info os.FileInfo, options Options) (bool, error) {
	exists, storedModTime, err := database.CheckSampleExists(db, path)
	if err != nil {
		return false, err
	}
	if !exists {
		return false, nil
	}

	storedTime, err := time.Parse(time.RFC3339, storedModTime)
	if err != nil {
		return false, fmt.Errorf("cannot parse stored time for %s: %v", path, err)
	}
	if !info.ModTime().After(storedTime) {
		if options.DebugMode {
			logging.DebugLog("Catalogue entry is current: %s", path)
		}
		return true, nil
	}
	return false, nil
}

// catalogueSample records a loaded sample unless the catalogue already has
// an up-to-date row for it
func catalogueSample(db *sql.DB, c candidate, raw []byte, digest string, options Options) error {
	info, err := os.Stat(c.Path)
	if err != nil {
		return fmt.Errorf("cannot stat file %s: %v", c.Path, err)
	}
	if !options.ForceRewrite {
		current, err := unchangedInCatalogue(db, c.Path, info, options)
		if err != nil {
			return err
		}
		if current {
			return nil
		}
	}

	img, err := imageprocessor.DefaultRegistry().Decode(c.Path, raw)
	if err != nil {
		return err
	}
	defer img.Close()

	avgHash, err := imageprocessor.ComputeAverageHash(img)
	if err != nil {
		return fmt.Errorf("cannot compute average hash for %s: %v", c.Path, err)
	}

	rec := types.SampleRecord{
		Path:        c.Path,
		Signer:      c.Signer,
		Kind:        c.Kind,
		Index:       c.Index,
		Width:       img.Cols(),
		Height:      img.Rows(),
		ModifiedAt:  info.ModTime().Format(time.RFC3339),
		Size:        info.Size(),
		Digest:      digest,
		AverageHash: avgHash,
	}
	// a stale row must be replaced, not ignored
	return database.StoreSample(db, rec, true)
}
