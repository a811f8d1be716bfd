package transfer

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/andresuchdata/batchsync/internal/source"
	"github.com/andresuchdata/batchsync/internal/storage"
	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/require"
)

var errUnreachable = errors.New("dial tcp 10.0.0.5:22: i/o timeout")

type fakeSource struct {
	mu         sync.Mutex
	files      map[string][]byte
	connectErr error
	listErr    error
	fetchErr   map[string]error
	connects   int
	closes     int
}

func newFakeSource(files map[string][]byte) *fakeSource {
	return &fakeSource{files: files, fetchErr: map[string]error{}}
}

func (f *fakeSource) Connect(ctx context.Context) (source.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	if f.connectErr != nil {
		return nil, f.connectErr
	}
	return &fakeSession{src: f}, nil
}

func (f *fakeSource) connectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects
}

type fakeSession struct {
	src *fakeSource
}

func (s *fakeSession) List(ctx context.Context) ([]string, error) {
	if s.src.listErr != nil {
		return nil, s.src.listErr
	}
	names := make([]string, 0, len(s.src.files))
	for name := range s.src.files {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (s *fakeSession) Fetch(ctx context.Context, name string, w io.Writer) error {
	if err := s.src.fetchErr[name]; err != nil {
		return err
	}
	data, ok := s.src.files[name]
	if !ok {
		return os.ErrNotExist
	}
	_, err := w.Write(data)
	return err
}

func (s *fakeSession) Close() error {
	s.src.mu.Lock()
	s.src.closes++
	s.src.mu.Unlock()
	return nil
}

type fakeStore struct {
	mu        sync.Mutex
	bucket    string
	objects   map[string][]byte
	listErr   error
	checkErr  error
	uploadErr map[string]error
	lists     int
	uploads   int
}

func newFakeStore(keys ...string) *fakeStore {
	s := &fakeStore{bucket: "test-bucket", objects: map[string][]byte{}, uploadErr: map[string]error{}}
	for _, k := range keys {
		s.objects[k] = []byte("existing")
	}
	return s
}

func (s *fakeStore) ListObjects(ctx context.Context, prefix string) ([]storage.ObjectInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lists++
	if s.listErr != nil {
		return nil, s.listErr
	}
	var out []storage.ObjectInfo
	for k, v := range s.objects {
		if strings.HasPrefix(k, prefix) {
			out = append(out, storage.ObjectInfo{Key: k, Size: int64(len(v)), Updated: time.Now()})
		}
	}
	return out, nil
}

func (s *fakeStore) UploadFile(ctx context.Context, key, localPath string) error {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return err
	}
	return s.UploadObject(ctx, key, data)
}

func (s *fakeStore) UploadObject(ctx context.Context, key string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uploads++
	if err := s.uploadErr[key]; err != nil {
		return err
	}
	s.objects[key] = append([]byte(nil), data...)
	return nil
}

func (s *fakeStore) CheckBucket(ctx context.Context) error { return s.checkErr }
func (s *fakeStore) Bucket() string                        { return s.bucket }
func (s *fakeStore) Close() error                          { return nil }

func (s *fakeStore) keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.objects))
	for k := range s.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (s *fakeStore) uploadCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.uploads
}

func gzipped(t *testing.T, content string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

// 2024-01-05T10:00 in UTC, the "now" of the reference scenario.
var scenarioNow = time.Date(2024, 1, 5, 10, 0, 0, 0, time.UTC)

func newTestOrchestrator(t *testing.T, src *fakeSource, dest *fakeStore) (*Orchestrator, string) {
	t.Helper()
	scratchParent := t.TempDir()
	o := NewOrchestrator(src, dest, Options{
		Prefix:        "Otros/",
		CompressedExt: ".gz",
		LookbackDays:  7,
		ScratchDir:    scratchParent,
		Location:      time.UTC,
	})
	o.now = func() time.Time { return scenarioNow }
	return o, scratchParent
}

func assertDirEmpty(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Empty(t, entries, "scratch resources left behind")
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
