package transfer

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/andresuchdata/batchsync/internal/source"
	"github.com/klauspost/compress/gzip"
	"github.com/rs/zerolog"
)

// StagedFile is a decompressed copy of a source file inside the scratch dir.
type StagedFile struct {
	Source string
	Name   string
	Path   string
}

// FetchOutcome is the per-file result of the fetch and decompress stage.
// Exactly one of Staged and Err is set.
type FetchOutcome struct {
	Name   string
	Staged *StagedFile
	Err    error
}

// fetchAndDecompress processes names one at a time. A failure on one file is
// recorded in its outcome and the loop moves on.
func fetchAndDecompress(ctx context.Context, session source.Session, scratch string, names []string, ext string, log zerolog.Logger) []FetchOutcome {
	outcomes := make([]FetchOutcome, 0, len(names))
	for _, name := range names {
		staged, err := fetchOne(ctx, session, scratch, name, ext)
		if err != nil {
			log.Warn().Str("file", name).Str("stage", failureStage(err)).Err(err).Msg("skipping file")
			outcomes = append(outcomes, FetchOutcome{Name: name, Err: err})
			continue
		}
		log.Info().Str("file", name).Str("staged", staged.Name).Msg("file staged")
		outcomes = append(outcomes, FetchOutcome{Name: name, Staged: staged})
	}
	return outcomes
}

func fetchOne(ctx context.Context, session source.Session, scratch, name, ext string) (*StagedFile, error) {
	decompressedName := strings.TrimSuffix(name, ext)
	if !safeName(name) || !safeName(decompressedName) {
		return nil, &TransferError{Name: name, Op: "stage", Err: errors.New("unsafe file name")}
	}

	compressedPath := filepath.Join(scratch, name)
	decompressedPath := filepath.Join(scratch, decompressedName)
	if pathTaken(compressedPath) || pathTaken(decompressedPath) {
		return nil, &TransferError{Name: name, Op: "stage", Err: errors.New("name collides with a file already staged in this run")}
	}

	if err := download(ctx, session, name, compressedPath); err != nil {
		return nil, err
	}
	defer os.Remove(compressedPath)

	if err := decompress(compressedPath, decompressedPath, name); err != nil {
		os.Remove(decompressedPath)
		return nil, err
	}

	return &StagedFile{Source: name, Name: decompressedName, Path: decompressedPath}, nil
}

func pathTaken(p string) bool {
	_, err := os.Lstat(p)
	return err == nil
}

func download(ctx context.Context, session source.Session, name, dst string) error {
	f, err := os.Create(dst)
	if err != nil {
		return &TransferError{Name: name, Op: "stage", Err: err}
	}

	if err := session.Fetch(ctx, name, f); err != nil {
		f.Close()
		os.Remove(dst)
		return &TransferError{Name: name, Op: "download", Err: err}
	}
	if err := f.Close(); err != nil {
		os.Remove(dst)
		return &TransferError{Name: name, Op: "stage", Err: err}
	}
	return nil
}

// decompress reads a single gzip member; bytes after it are ignored.
func decompress(src, dst, name string) error {
	in, err := os.Open(src)
	if err != nil {
		return &TransferError{Name: name, Op: "stage", Err: err}
	}
	defer in.Close()

	zr, err := gzip.NewReader(in)
	if err != nil {
		return &DecompressError{Name: name, Err: err}
	}
	defer zr.Close()
	zr.Multistream(false)

	out, err := os.Create(dst)
	if err != nil {
		return &TransferError{Name: name, Op: "stage", Err: err}
	}

	if _, err := io.Copy(out, zr); err != nil {
		out.Close()
		var pathErr *fs.PathError
		if errors.As(err, &pathErr) {
			return &TransferError{Name: name, Op: "stage", Err: err}
		}
		return &DecompressError{Name: name, Err: err}
	}
	if err := out.Close(); err != nil {
		return &TransferError{Name: name, Op: "stage", Err: err}
	}
	return nil
}

func safeName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	return !strings.ContainsAny(name, `/\`) && filepath.Base(name) == name
}

func failureStage(err error) string {
	var (
		te *TransferError
		de *DecompressError
	)
	switch {
	case errors.As(err, &de):
		return "decompress"
	case errors.As(err, &te):
		return te.Op
	default:
		return "unknown"
	}
}
