package utils

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"
)

const (
	indentPrefix    = "    "
	entryPrefix     = "├── "
	lastEntryPrefix = "└── "
	verticalLine    = "│   "
	partialSuffix   = ".part"
)

// TreeOptions controls WriteTree output
type TreeOptions struct {
	Sizes       bool // Append human-readable file sizes
	ShowPartial bool // Include in-flight ".part" downloads
}

// TreeSummary counts what WriteTree listed
type TreeSummary struct {
	Dirs  int
	Files int
	Bytes int64
}

// WriteTree writes root as an indented directory tree, directories first
func WriteTree(w io.Writer, root string, opts TreeOptions, log *logrus.Entry) (TreeSummary, error) {
	var sum TreeSummary
	info, err := os.Stat(root)
	if err != nil {
		return sum, fmt.Errorf("%w: %v", ErrFilesystem, err)
	}
	if !info.IsDir() {
		return sum, fmt.Errorf("%w: '%s' is not a directory", ErrFilesystem, root)
	}

	if _, err := fmt.Fprintf(w, "%s/\n", filepath.Base(filepath.Clean(root))); err != nil {
		return sum, err
	}
	if err := walkTree(w, root, "", opts, &sum, log); err != nil {
		return sum, err
	}
	_, err = fmt.Fprintf(w, "\n%d directories, %d files, %s\n", sum.Dirs, sum.Files, humanize.Bytes(uint64(sum.Bytes)))
	return sum, err
}

func walkTree(w io.Writer, dir, indent string, opts TreeOptions, sum *TreeSummary, log *logrus.Entry) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		log.Warnf("Failed to read directory '%s': %v", dir, err)
		return fmt.Errorf("%w: %v", ErrFilesystem, err)
	}
	if !opts.ShowPartial {
		entries = slices.DeleteFunc(entries, func(e os.DirEntry) bool {
			return !e.IsDir() && strings.HasSuffix(e.Name(), partialSuffix)
		})
	}

	slices.SortFunc(entries, func(a, b os.DirEntry) int {
		if a.IsDir() != b.IsDir() {
			if a.IsDir() {
				return -1
			}
			return 1
		}
		return strings.Compare(strings.ToLower(a.Name()), strings.ToLower(b.Name()))
	})

	for i, entry := range entries {
		last := i == len(entries)-1
		connector, next := entryPrefix, indent+verticalLine
		if last {
			connector, next = lastEntryPrefix, indent+indentPrefix
		}

		label := entry.Name()
		if entry.IsDir() {
			sum.Dirs++
			label += "/"
		} else {
			sum.Files++
			if fi, err := entry.Info(); err == nil {
				sum.Bytes += fi.Size()
				if opts.Sizes {
					label += " (" + humanize.Bytes(uint64(fi.Size())) + ")"
				}
			}
		}
		if _, err := fmt.Fprintf(w, "%s%s%s\n", indent, connector, label); err != nil {
			return err
		}

		if entry.IsDir() {
			if err := walkTree(w, filepath.Join(dir, entry.Name()), next, opts, sum, log); err != nil {
				return err
			}
		}
	}
	return nil
}
