package repository

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"assetstore/extractor/internal/domain"

	log "github.com/sirupsen/logrus"
)

// ParseError reports a persisted file that is not valid JSON.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("corrupt record file %s: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

type RecordRepository interface {
	// Load returns nil without error when no record exists for sourceFile.
	Load(sourceFile string) (*domain.AssetRecord, error)
	Save(record domain.AssetRecord) error
	List() ([]domain.AssetRecord, error)
	Path(sourceFile string) string
}

type fileRecordRepository struct {
	dir       string
	sourceExt string
}

// NewFileRecordRepository stores one indented JSON file per source file in dir.
func NewFileRecordRepository(dir, sourceExt string) RecordRepository {
	return &fileRecordRepository{
		dir:       dir,
		sourceExt: sourceExt,
	}
}

func (r *fileRecordRepository) Path(sourceFile string) string {
	return filepath.Join(r.dir, RecordFileName(sourceFile, r.sourceExt))
}

func (r *fileRecordRepository) Load(sourceFile string) (*domain.AssetRecord, error) {
	path := r.Path(sourceFile)

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read record %s: %w", path, err)
	}

	var record domain.AssetRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}

	return &record, nil
}

func (r *fileRecordRepository) Save(record domain.AssetRecord) error {
	content, err := EncodeRecord(record)
	if err != nil {
		return err
	}
	return writeFileAtomic(r.Path(record.SourceFile), content)
}

// List returns every readable record sorted by source file. Corrupt files
// are logged and skipped.
func (r *fileRecordRepository) List() ([]domain.AssetRecord, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list records in %s: %w", r.dir, err)
	}

	records := make([]domain.AssetRecord, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}

		path := filepath.Join(r.dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			log.Warnf("⚠️ Failed to read %s: %v", path, err)
			continue
		}

		var record domain.AssetRecord
		if err := json.Unmarshal(data, &record); err != nil {
			log.Warnf("⚠️ Skipping corrupt record %s: %v", path, err)
			continue
		}
		if record.SourceFile == "" {
			log.Debugf("Skipping %s: no sourceFile", path)
			continue
		}

		records = append(records, record)
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].SourceFile < records[j].SourceFile
	})

	return records, nil
}

// RecordFileName maps a source file name to its record file name.
func RecordFileName(sourceFile, sourceExt string) string {
	base := filepath.Base(sourceFile)
	if sourceExt != "" && strings.HasSuffix(strings.ToLower(base), strings.ToLower(sourceExt)) {
		base = base[:len(base)-len(sourceExt)]
	}
	return base + ".json"
}

// EncodeRecord renders a record the way it is stored on disk.
func EncodeRecord(record domain.AssetRecord) ([]byte, error) {
	content, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode record %s: %w", record.SourceFile, err)
	}
	return content, nil
}

func writeFileAtomic(path string, content []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", path, err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, content, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", tmp, err)
	}

	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}

	return nil
}
