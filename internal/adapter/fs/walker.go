package fs

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"notesrag/internal/domain"
)

// DefaultIncludes are the note files picked up when no include globs are given.
var DefaultIncludes = []string{"**/*.md", "**/*.txt"}

type Walker struct {
	includes    []string
	excludes    []string
	titleHeader bool
}

func NewWalker(includes, excludes []string, titleHeader bool) *Walker {
	if len(includes) == 0 {
		includes = DefaultIncludes
	}
	return &Walker{
		includes:    includes,
		excludes:    excludes,
		titleHeader: titleHeader,
	}
}

type FileInfo struct {
	Path    string
	RelPath string // slash-separated, relative to the walk root
	ModTime int64
	Size    int64
}

func (w *Walker) Walk(root string) ([]FileInfo, error) {
	var files []FileInfo

	root, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}

	err = filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		relPath, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		relPath = filepath.ToSlash(relPath)

		if info.IsDir() {
			if relPath != "." && w.shouldExclude(relPath+"/") {
				return filepath.SkipDir
			}
			return nil
		}

		if w.shouldInclude(relPath) && !w.shouldExclude(relPath) {
			files = append(files, FileInfo{
				Path:    path,
				RelPath: relPath,
				ModTime: info.ModTime().Unix(),
				Size:    info.Size(),
			})
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(files, func(i, j int) bool { return files[i].RelPath < files[j].RelPath })
	return files, nil
}

// LoadDocuments reads every matching file under root. A document's name is
// its relative path without extension.
func (w *Walker) LoadDocuments(root string) ([]domain.Document, error) {
	files, err := w.Walk(root)
	if err != nil {
		return nil, err
	}

	docs := make([]domain.Document, 0, len(files))
	for _, f := range files {
		content, err := ReadFile(f.Path)
		if err != nil {
			return nil, err
		}
		name := strings.TrimSuffix(f.RelPath, filepath.Ext(f.RelPath))
		if w.titleHeader {
			content = filepath.Base(name) + "\n\n" + content
		}
		docs = append(docs, domain.Document{Name: name, Content: content})
	}
	return docs, nil
}

func (w *Walker) shouldInclude(path string) bool {
	for _, pattern := range w.includes {
		matched, err := doublestar.Match(pattern, path)
		if err == nil && matched {
			return true
		}
	}
	return false
}

func (w *Walker) shouldExclude(path string) bool {
	for _, pattern := range w.excludes {
		matched, err := doublestar.Match(pattern, path)
		if err == nil && matched {
			return true
		}
	}
	return false
}

func ReadFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
