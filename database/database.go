package database

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"sigverify/logging"
	"sigverify/types"

	_ "github.com/mattn/go-sqlite3"
)

// InitDatabase opens dbPath and creates the catalogue tables if missing
func InitDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}
	// scanner workers write concurrently; one connection avoids "database is locked"
	db.SetMaxOpenConns(1)

	createTableSQL := `
	CREATE TABLE IF NOT EXISTS samples (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		path TEXT NOT NULL UNIQUE,
		signer INTEGER NOT NULL,
		kind TEXT NOT NULL,
		sample_index INTEGER,
		width INTEGER,
		height INTEGER,
		created_at TEXT,
		modified_at TEXT,
		size INTEGER,
		digest TEXT,
		average_hash TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_samples_signer ON samples(signer, kind);
	CREATE INDEX IF NOT EXISTS idx_samples_digest ON samples(digest);

	CREATE TABLE IF NOT EXISTS models (
		id TEXT PRIMARY KEY,
		path TEXT NOT NULL,
		created_at TEXT NOT NULL,
		margin REAL,
		alpha REAL,
		beta REAL,
		epochs INTEGER,
		train_pairs INTEGER,
		val_pairs INTEGER,
		test_pairs INTEGER,
		val_loss REAL,
		val_accuracy REAL
	);
	CREATE INDEX IF NOT EXISTS idx_models_created ON models(created_at);`

	if _, err = db.Exec(createTableSQL); err != nil {
		db.Close()
		return nil, err
	}

	// Older catalogues were written before average hashes were recorded
	var hasHashColumn bool
	err = db.QueryRow("SELECT COUNT(*) FROM pragma_table_info('samples') WHERE name='average_hash'").Scan(&hasHashColumn)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("error checking for average_hash column: %v", err)
	}
	if !hasHashColumn {
		if _, err = db.Exec("ALTER TABLE samples ADD COLUMN average_hash TEXT;"); err != nil {
			db.Close()
			return nil, fmt.Errorf("error adding average_hash column: %v", err)
		}
		logging.DebugLog("Added 'average_hash' column to existing database schema")
	}

	return db, nil
}

// CheckSampleExists reports whether path is catalogued and, if so, the
// modification time stored with it
func CheckSampleExists(db *sql.DB, path string) (bool, string, error) {
	var storedModTime string
	err := db.QueryRow("SELECT modified_at FROM samples WHERE path = ?", path).Scan(&storedModTime)
	if errors.Is(err, sql.ErrNoRows) {
		return false, "", nil
	}
	if err != nil {
		return false, "", fmt.Errorf("database error for %s: %v", path, err)
	}
	return true, storedModTime, nil
}

// StoreSample records one scanned file. With forceRewrite an existing row
// for the same path is replaced; otherwise it is kept.
func StoreSample(db *sql.DB, rec types.SampleRecord, forceRewrite bool) error {
	now := time.Now().Format(time.RFC3339)

	verb := "INSERT OR IGNORE"
	if forceRewrite {
		verb = "INSERT OR REPLACE"
	}
	stmt, err := db.Prepare(verb + ` INTO samples (
			path, signer, kind, sample_index, width, height, created_at, modified_at, size, digest, average_hash
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("cannot prepare statement for %s: %v", rec.Path, err)
	}
	defer stmt.Close()

	_, err = stmt.Exec(
		rec.Path,
		rec.Signer,
		rec.Kind.String(),
		rec.Index,
		rec.Width,
		rec.Height,
		now,
		rec.ModifiedAt,
		rec.Size,
		rec.Digest,
		rec.AverageHash,
	)
	if err != nil {
		return fmt.Errorf("cannot insert data for %s: %v", rec.Path, err)
	}
	return nil
}

// CreatedAtLayout is the fixed-width UTC form models.created_at is stored
// in, so that text order is creation order
const CreatedAtLayout = "2006-01-02T15:04:05.000000000Z07:00"

// RecordModel catalogues a saved model artifact. CreatedAt may be any
// RFC 3339 time; it is stored in CreatedAtLayout.
func RecordModel(db *sql.DB, rec types.ModelRecord) error {
	created, err := time.Parse(time.RFC3339Nano, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("cannot record model %s: bad creation time: %v", rec.ID, err)
	}
	rec.CreatedAt = created.UTC().Format(CreatedAtLayout)
	_, err = db.Exec(`
		INSERT OR REPLACE INTO models (
			id, path, created_at, margin, alpha, beta, epochs, train_pairs, val_pairs, test_pairs, val_loss, val_accuracy
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Path, rec.CreatedAt, rec.Margin, rec.Alpha, rec.Beta, rec.Epochs,
		rec.TrainPairs, rec.ValPairs, rec.TestPairs, rec.ValLoss, rec.ValAccuracy,
	)
	if err != nil {
		return fmt.Errorf("cannot record model %s: %v", rec.ID, err)
	}
	return nil
}

// LatestModel returns the most recently created model, or nil when none
// has been recorded
func LatestModel(db *sql.DB) (*types.ModelRecord, error) {
	var rec types.ModelRecord
	err := db.QueryRow(`
		SELECT id, path, created_at, margin, alpha, beta, epochs, train_pairs, val_pairs, test_pairs, val_loss, val_accuracy
		FROM models ORDER BY created_at DESC LIMIT 1`).Scan(
		&rec.ID, &rec.Path, &rec.CreatedAt, &rec.Margin, &rec.Alpha, &rec.Beta, &rec.Epochs,
		&rec.TrainPairs, &rec.ValPairs, &rec.TestPairs, &rec.ValLoss, &rec.ValAccuracy,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read latest model: %v", err)
	}
	return &rec, nil
}

// ScanStats summarizes the sample catalogue
type ScanStats struct {
	TotalSamples  int
	Signers       int
	Originals     int
	Forgeries     int
	UniqueDigests int
}

// GetScanStats counts catalogued samples, optionally for one signer only
// (signer <= 0 means all)
func GetScanStats(db *sql.DB, signer int) (*ScanStats, error) {
	var stats ScanStats

	where := ""
	var args []interface{}
	if signer > 0 {
		where = " WHERE signer = ?"
		args = append(args, signer)
	}

	err := db.QueryRow("SELECT COUNT(*), COUNT(DISTINCT signer), COUNT(DISTINCT digest) FROM samples"+where, args...).
		Scan(&stats.TotalSamples, &stats.Signers, &stats.UniqueDigests)
	if err != nil {
		return nil, fmt.Errorf("failed to get sample counts: %v", err)
	}

	rows, err := db.Query("SELECT kind, COUNT(*) FROM samples"+where+" GROUP BY kind", args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get per-kind counts: %v", err)
	}
	defer rows.Close()
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, fmt.Errorf("failed to read per-kind counts: %v", err)
		}
		switch kind {
		case types.Original.String():
			stats.Originals = n
		case types.Forgery.String():
			stats.Forgeries = n
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read per-kind counts: %v", err)
	}

	return &stats, nil
}
