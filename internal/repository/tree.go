package repository

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"assetstore/extractor/internal/domain"

	log "github.com/sirupsen/logrus"
)

// TreeStore persists the category tree as one JSON file.
type TreeStore struct {
	path string
}

func NewTreeStore(path string) *TreeStore {
	return &TreeStore{path: path}
}

func (s *TreeStore) Path() string {
	return s.path
}

// Load returns the stored tree. A missing, empty or corrupt file yields an
// empty tree.
func (s *TreeStore) Load() (*domain.CategoryTree, error) {
	tree := domain.NewCategoryTree()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return tree, nil
		}
		return nil, fmt.Errorf("failed to read category tree %s: %w", s.path, err)
	}

	if len(data) == 0 {
		return tree, nil
	}

	if err := json.Unmarshal(data, tree); err != nil {
		log.Warnf("⚠️ Could not parse %s, starting with a new tree: %v", s.path, err)
		return domain.NewCategoryTree(), nil
	}

	return tree, nil
}

func (s *TreeStore) Save(tree *domain.CategoryTree) error {
	content, err := json.MarshalIndent(tree, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode category tree: %w", err)
	}
	return writeFileAtomic(s.path, content)
}
