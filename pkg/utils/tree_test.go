package utils

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

func testTreeLogger() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}

func mustWrite(t *testing.T, path string, size int) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, bytes.Repeat([]byte("x"), size), 0644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestWriteTree_Layout(t *testing.T) {
	root := filepath.Join(t.TempDir(), "downloads")
	mustWrite(t, filepath.Join(root, "profile", "alice", "111.mp4"), 10)
	mustWrite(t, filepath.Join(root, "profile", "alice", "222.mp4"), 20)
	mustWrite(t, filepath.Join(root, "notes.txt"), 5)

	var buf bytes.Buffer
	sum, err := WriteTree(&buf, root, TreeOptions{}, testTreeLogger())
	if err != nil {
		t.Fatalf("WriteTree() error = %v", err)
	}

	want := strings.Join([]string{
		"downloads/",
		"├── profile/",
		"│   └── alice/",
		"│       ├── 111.mp4",
		"│       └── 222.mp4",
		"└── notes.txt",
		"",
		"2 directories, 3 files, 35 B",
		"",
	}, "\n")
	if buf.String() != want {
		t.Errorf("WriteTree() output =\n%s\nwant\n%s", buf.String(), want)
	}
	if sum.Dirs != 2 || sum.Files != 3 || sum.Bytes != 35 {
		t.Errorf("summary = %+v, want 2 dirs, 3 files, 35 bytes", sum)
	}
}

func TestWriteTree_SortIsCaseInsensitiveDirsFirst(t *testing.T) {
	root := t.TempDir()
	mustWrite(t, filepath.Join(root, "b.mp4"), 1)
	mustWrite(t, filepath.Join(root, "A.mp4"), 1)
	mustWrite(t, filepath.Join(root, "zdir", "c.mp4"), 1)

	var buf bytes.Buffer
	if _, err := WriteTree(&buf, root, TreeOptions{}, testTreeLogger()); err != nil {
		t.Fatalf("WriteTree() error = %v", err)
	}
	out := buf.String()
	iDir, iA, iB := strings.Index(out, "zdir/"), strings.Index(out, "A.mp4"), strings.Index(out, "b.mp4")
	if !(iDir < iA && iA < iB) {
		t.Errorf("unexpected order:\n%s", out)
	}
}

func TestWriteTree_PartialFiles(t *testing.T) {
	root := t.TempDir()
	mustWrite(t, filepath.Join(root, "done.mp4"), 4)
	mustWrite(t, filepath.Join(root, "busy.mp4.part"), 4)

	var buf bytes.Buffer
	sum, err := WriteTree(&buf, root, TreeOptions{}, testTreeLogger())
	if err != nil {
		t.Fatalf("WriteTree() error = %v", err)
	}
	if strings.Contains(buf.String(), ".part") || sum.Files != 1 {
		t.Errorf("partial download listed by default:\n%s", buf.String())
	}

	buf.Reset()
	sum, err = WriteTree(&buf, root, TreeOptions{ShowPartial: true}, testTreeLogger())
	if err != nil {
		t.Fatalf("WriteTree() error = %v", err)
	}
	if !strings.Contains(buf.String(), "busy.mp4.part") || sum.Files != 2 {
		t.Errorf("partial download missing with ShowPartial:\n%s", buf.String())
	}
}

func TestWriteTree_Sizes(t *testing.T) {
	root := t.TempDir()
	mustWrite(t, filepath.Join(root, "clip.mp4"), 2048)

	var buf bytes.Buffer
	if _, err := WriteTree(&buf, root, TreeOptions{Sizes: true}, testTreeLogger()); err != nil {
		t.Fatalf("WriteTree() error = %v", err)
	}
	if !strings.Contains(buf.String(), "└── clip.mp4 (2.0 kB)") {
		t.Errorf("size missing:\n%s", buf.String())
	}
}

func TestWriteTree_EmptyDir(t *testing.T) {
	root := t.TempDir()

	var buf bytes.Buffer
	sum, err := WriteTree(&buf, root, TreeOptions{}, testTreeLogger())
	if err != nil {
		t.Fatalf("WriteTree() error = %v", err)
	}
	if sum != (TreeSummary{}) {
		t.Errorf("summary = %+v, want zero", sum)
	}
	if !strings.Contains(buf.String(), "0 directories, 0 files, 0 B") {
		t.Errorf("unexpected output:\n%s", buf.String())
	}
}

func TestWriteTree_NotADirectory(t *testing.T) {
	tmp := t.TempDir()
	file := filepath.Join(tmp, "file.mp4")
	mustWrite(t, file, 1)

	var buf bytes.Buffer
	if _, err := WriteTree(&buf, file, TreeOptions{}, testTreeLogger()); !errors.Is(err, ErrFilesystem) {
		t.Errorf("file target error = %v, want ErrFilesystem", err)
	}
	if _, err := WriteTree(&buf, filepath.Join(tmp, "missing"), TreeOptions{}, testTreeLogger()); !errors.Is(err, ErrFilesystem) {
		t.Errorf("missing target error = %v, want ErrFilesystem", err)
	}
}
