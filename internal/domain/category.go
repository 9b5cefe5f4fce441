package domain

import (
	"encoding/json"
	"sync"

	"assetstore/extractor/internal/textnorm"
)

type CategoryNode struct {
	Name     string                   `json:"name"`
	Slug     string                   `json:"slug"`
	Children map[string]*CategoryNode `json:"children"`
}

// CategoryTree is the slug-keyed category hierarchy. It only grows.
type CategoryTree struct {
	mu    sync.Mutex
	roots map[string]*CategoryNode
}

func NewCategoryTree() *CategoryTree {
	return &CategoryTree{roots: make(map[string]*CategoryNode)}
}

// InsertPath walks names from the root, creating missing nodes. Names that
// slugify to "" are skipped.
func (t *CategoryTree) InsertPath(names []string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	level := t.roots
	for _, name := range names {
		slug := textnorm.Slugify(name)
		if slug == "" {
			continue
		}

		node, ok := level[slug]
		if !ok {
			node = &CategoryNode{Name: name, Slug: slug, Children: make(map[string]*CategoryNode)}
			level[slug] = node
		}
		level = node.Children
	}
}

// Len returns the total number of nodes.
func (t *CategoryTree) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return countNodes(t.roots)
}

// Roots returns a deep copy of the top-level nodes.
func (t *CategoryTree) Roots() map[string]*CategoryNode {
	t.mu.Lock()
	defer t.mu.Unlock()
	return cloneNodes(t.roots)
}

func (t *CategoryTree) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.Roots())
}

func (t *CategoryTree) UnmarshalJSON(data []byte) error {
	roots := make(map[string]*CategoryNode)
	if err := json.Unmarshal(data, &roots); err != nil {
		return err
	}
	normalizeNodes(roots)

	t.mu.Lock()
	t.roots = roots
	t.mu.Unlock()
	return nil
}

func countNodes(level map[string]*CategoryNode) int {
	n := 0
	for _, node := range level {
		n += 1 + countNodes(node.Children)
	}
	return n
}

func cloneNodes(level map[string]*CategoryNode) map[string]*CategoryNode {
	out := make(map[string]*CategoryNode, len(level))
	for slug, node := range level {
		out[slug] = &CategoryNode{Name: node.Name, Slug: node.Slug, Children: cloneNodes(node.Children)}
	}
	return out
}

func normalizeNodes(level map[string]*CategoryNode) {
	for slug, node := range level {
		if node == nil {
			delete(level, slug)
			continue
		}
		if node.Children == nil {
			node.Children = make(map[string]*CategoryNode)
		}
		normalizeNodes(node.Children)
	}
}
