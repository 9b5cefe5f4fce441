package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"assetstore/extractor/internal/domain"

	log "github.com/sirupsen/logrus"
)

// Result describes what an upsert did, or would do in dry-run mode.
type Result struct {
	Decision domain.Decision
	Record   domain.AssetRecord
	Content  []byte
}

// Reconciler writes records only when their content changed.
type Reconciler struct {
	repo   RecordRepository
	sink   RecordSink
	dryRun bool
	locks  keyedMutex
}

// NewReconciler builds a reconciler. sink may be nil.
func NewReconciler(repo RecordRepository, sink RecordSink, dryRun bool) *Reconciler {
	return &Reconciler{
		repo:   repo,
		sink:   sink,
		dryRun: dryRun,
	}
}

func (r *Reconciler) DryRun() bool {
	return r.dryRun
}

// Upsert compares record with the persisted version, ignoring updatedAt.
// createdAt is always taken from the persisted version. Unchanged records are
// not written and keep their persisted updatedAt. A corrupt persisted file is
// treated as absent.
func (r *Reconciler) Upsert(ctx context.Context, record domain.AssetRecord) (Result, error) {
	if record.SourceFile == "" {
		return Result{}, errors.New("record has no sourceFile")
	}

	unlock := r.locks.lock(record.SourceFile)
	defer unlock()

	existing, err := r.repo.Load(record.SourceFile)
	if err != nil {
		var parseErr *ParseError
		if !errors.As(err, &parseErr) {
			return Result{}, fmt.Errorf("failed to load existing record: %w", err)
		}
		log.Warnf("⚠️ %v, it will be overwritten", parseErr)
		existing = nil
	}

	decision := domain.DecisionCreated
	if existing != nil {
		if existing.CreatedAt != "" {
			record.CreatedAt = existing.CreatedAt
		}

		if record.SameContent(*existing) {
			decision = domain.DecisionUnchanged
			record.UpdatedAt = existing.UpdatedAt
		} else {
			decision = domain.DecisionUpdated
		}
	}

	content, err := EncodeRecord(record)
	if err != nil {
		return Result{}, err
	}

	result := Result{Decision: decision, Record: record, Content: content}
	if r.dryRun || decision == domain.DecisionUnchanged {
		return result, nil
	}

	if err := r.repo.Save(record); err != nil {
		return Result{}, fmt.Errorf("failed to save record: %w", err)
	}

	if r.sink != nil {
		if err := r.sink.Upsert(ctx, record); err != nil {
			log.Errorf("❌ Failed to sync %s to database: %v", record.SourceFile, err)
		}
	}

	return result, nil
}

// keyedMutex serializes work per key and drops idle keys.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	sync.Mutex
	refs int
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*keyLock)
	}
	l, ok := k.locks[key]
	if !ok {
		l = &keyLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.Lock()

	return func() {
		l.Unlock()

		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
