package lsm

import (
	"io"
	"os"
	"path/filepath"

	"github.com/edsrzf/mmap-go"
	"github.com/pkg/errors"
)

// FileBlockStore is the default BlockStore: every URI is a plain file
// beneath rootDir. It is deliberately dumb; a production embedding
// supplies its own BlockStore backed by whatever the outer database's
// block manager looks like.
type FileBlockStore struct {
	rootDir string
}

// NewFileBlockStore creates rootDir if necessary and returns a BlockStore
// rooted there.
func NewFileBlockStore(rootDir string) (*FileBlockStore, error) {
	if err := os.MkdirAll(rootDir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "create block store root %q", rootDir)
	}
	return &FileBlockStore{rootDir: rootDir}, nil
}

func (f *FileBlockStore) path(uri string) string {
	return filepath.Join(f.rootDir, filepath.FromSlash(uri))
}

func (f *FileBlockStore) Create(uri string) (io.WriteCloser, error) {
	p := f.path(uri)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return nil, errors.Wrapf(err, "mkdir for %q", uri)
	}
	fh, err := os.Create(p)
	if err != nil {
		return nil, errors.Wrapf(err, "create %q", uri)
	}
	return fh, nil
}

// Open maps the file read-only when it is large enough to be worth it,
// falling back to a plain file handle for small or empty files (mmap-go
// refuses to map a zero-length file).
func (f *FileBlockStore) Open(uri string) (io.ReadCloser, error) {
	p := f.path(uri)
	fh, err := os.Open(p)
	if err != nil {
		return nil, errors.Wrapf(err, "open %q", uri)
	}

	info, err := fh.Stat()
	if err != nil {
		fh.Close()
		return nil, errors.Wrapf(err, "stat %q", uri)
	}

	if info.Size() < mmapThreshold {
		return fh, nil
	}

	m, err := mmap.Map(fh, mmap.RDONLY, 0)
	if err != nil {
		// mmap can legitimately fail on some filesystems (tmpfs edge cases,
		// exotic CI sandboxes); fall back to a regular read rather than
		// failing the whole chunk load.
		return fh, nil
	}

	return &mmapReadCloser{data: m, file: fh}, nil
}

func (f *FileBlockStore) Remove(uri string) error {
	err := os.Remove(f.path(uri))
	if err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "remove %q", uri)
	}
	return nil
}

func (f *FileBlockStore) Size(uri string) (int64, error) {
	info, err := os.Stat(f.path(uri))
	if err != nil {
		return 0, errors.Wrapf(err, "stat %q", uri)
	}
	return info.Size(), nil
}

// mmapThreshold is the size below which memory-mapping a chunk file isn't
// worth the syscall overhead.
const mmapThreshold = 64 * 1024

type mmapReadCloser struct {
	data mmap.MMap
	file *os.File
	pos  int
}

func (m *mmapReadCloser) Read(p []byte) (int, error) {
	if m.pos >= len(m.data) {
		return 0, io.EOF
	}
	n := copy(p, m.data[m.pos:])
	m.pos += n
	return n, nil
}

func (m *mmapReadCloser) Close() error {
	if err := m.data.Unmap(); err != nil {
		m.file.Close()
		return err
	}
	return m.file.Close()
}
