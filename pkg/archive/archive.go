// Package archive copies fetched artifacts to their external location.
package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/Sriram-PR/clip-harvester/pkg/models"
	"github.com/Sriram-PR/clip-harvester/pkg/utils"
)

// Strategy is one external location an artifact can be stored to
type Strategy interface {
	Name() string
	Store(ctx context.Context, localPath string, segments []string) (*models.StoreResult, error)
}

// Chain tries each strategy in order; the first that accepts the file wins
type Chain struct {
	strategies []Strategy
	log        *logrus.Entry
}

// NewChain creates a store chain
func NewChain(log *logrus.Entry, strategies ...Strategy) *Chain {
	return &Chain{strategies: strategies, log: log}
}

// Store implements the processor's store collaborator
func (c *Chain) Store(ctx context.Context, localPath string, segments []string) (*models.StoreResult, error) {
	var errs []error
	for _, s := range c.strategies {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res, err := s.Store(ctx, localPath, segments)
		if err == nil {
			res.Strategy = s.Name()
			return res, nil
		}
		c.log.WithFields(logrus.Fields{"strategy": s.Name(), "path": localPath}).Warnf("Store strategy failed: %v", err)
		errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
	}
	if len(errs) == 0 {
		return nil, fmt.Errorf("%w: no store strategy configured", utils.ErrStore)
	}
	return nil, fmt.Errorf("%w: %w", utils.ErrStore, errors.Join(errs...))
}

// Metadata is the sidecar written next to every stored artifact
type Metadata struct {
	File       string    `yaml:"file"`
	SHA256     string    `yaml:"sha256"`
	SizeBytes  int64     `yaml:"size_bytes"`
	Folder     string    `yaml:"folder"`
	SourcePath string    `yaml:"source_path"`
	StoredAt   time.Time `yaml:"stored_at"`
}

// FolderStore stores artifacts under root/base/<segments...>/
type FolderStore struct {
	root          string
	base          string
	writeMetadata bool
	log           *logrus.Entry
	now           func() time.Time
}

// NewFolderStore creates a FolderStore rooted at root. base may be empty.
func NewFolderStore(root, base string, writeMetadata bool, log *logrus.Entry) *FolderStore {
	return &FolderStore{root: root, base: base, writeMetadata: writeMetadata, log: log, now: time.Now}
}

func (s *FolderStore) Name() string { return "folder:" + s.root }

// Store copies localPath into the folder for segments. The content hash is the
// external id; a file already present with the same hash is reused.
func (s *FolderStore) Store(ctx context.Context, localPath string, segments []string) (*models.StoreResult, error) {
	info, err := os.Stat(s.root)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: root '%s' is not an accessible directory", utils.ErrFilesystem, s.root)
	}

	hash, err := utils.CalculateFileSHA256(localPath)
	if err != nil {
		return nil, fmt.Errorf("%w: hash '%s': %v", utils.ErrFilesystem, localPath, err)
	}

	folderParts := utils.SanitizeSegments(append(strings.Split(s.base, "/"), segments...))
	folder := strings.Join(folderParts, "/")
	dir := filepath.Join(append([]string{s.root}, folderParts...)...)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create '%s': %v", utils.ErrFilesystem, dir, err)
	}

	name := filepath.Base(localPath)
	dest := filepath.Join(dir, name)
	storeLog := s.log.WithFields(logrus.Fields{"root": s.root, "dest": dest})

	if existing, err := utils.CalculateFileSHA256(dest); err == nil && existing == hash {
		storeLog.Debug("Identical file already stored, reusing")
	} else {
		if err := copyFile(ctx, localPath, dest); err != nil {
			return nil, err
		}
	}

	res := &models.StoreResult{
		ExternalID: hash,
		Link:       "file://" + filepath.ToSlash(dest),
		Folder:     folder,
	}
	if s.writeMetadata {
		metaID, err := s.writeSidecar(dest, localPath, folder, hash)
		if err != nil {
			storeLog.Warnf("Could not write metadata sidecar: %v", err)
		} else {
			res.MetadataID = metaID
		}
	}
	storeLog.Debugf("Stored as %s", hash)
	return res, nil
}

// writeSidecar writes <name>.yaml next to dest and returns its path relative to root
func (s *FolderStore) writeSidecar(dest, source, folder, hash string) (string, error) {
	info, err := os.Stat(dest)
	if err != nil {
		return "", err
	}
	meta := Metadata{
		File:       filepath.Base(dest),
		SHA256:     hash,
		SizeBytes:  info.Size(),
		Folder:     folder,
		SourcePath: source,
		StoredAt:   s.now().UTC(),
	}
	data, err := yaml.Marshal(&meta)
	if err != nil {
		return "", fmt.Errorf("%w: %v", utils.ErrParsing, err)
	}
	sidecar := strings.TrimSuffix(dest, filepath.Ext(dest)) + ".yaml"
	if err := os.WriteFile(sidecar, data, 0o644); err != nil {
		return "", fmt.Errorf("%w: %v", utils.ErrFilesystem, err)
	}
	rel, err := filepath.Rel(s.root, sidecar)
	if err != nil {
		return sidecar, nil
	}
	return filepath.ToSlash(rel), nil
}

// ReadMetadata loads a sidecar written by FolderStore
func ReadMetadata(path string) (*Metadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", utils.ErrFilesystem, err)
	}
	var meta Metadata
	if err := yaml.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("%w: %v", utils.ErrParsing, err)
	}
	return &meta, nil
}

// copyFile copies src to dst through a temporary file in the destination directory
func copyFile(ctx context.Context, src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("%w: open '%s': %v", utils.ErrFilesystem, src, err)
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".*")
	if err != nil {
		return fmt.Errorf("%w: temp file for '%s': %v", utils.ErrFilesystem, dst, err)
	}
	tmpName := tmp.Name()
	cleanup := func() { tmp.Close(); os.Remove(tmpName) }

	if _, err := io.Copy(tmp, &ctxReader{ctx: ctx, r: in}); err != nil {
		cleanup()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: copy to '%s': %v", utils.ErrFilesystem, dst, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: close '%s': %v", utils.ErrFilesystem, tmpName, err)
	}
	if err := os.Rename(tmpName, dst); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: rename to '%s': %v", utils.ErrFilesystem, dst, err)
	}
	return nil
}

// ctxReader stops a copy once ctx ends
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
