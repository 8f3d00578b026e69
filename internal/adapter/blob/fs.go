// Package blob implements filesystem blob storage for job artifacts and
// result archives. Every write lands in a sibling ".validating" file first
// and is renamed into place, so readers never observe partial blobs.
package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// Store keeps job artifacts under JobsDir/{job_id}/{name} and results under
// ResultsDir/{job_id}.zip.
type Store struct {
	JobsDir    string
	ResultsDir string
}

// New constructs a Store, creating both roots if necessary.
func New(jobsDir, resultsDir string) (*Store, error) {
	for _, dir := range []string{jobsDir, resultsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("op=blob.init dir=%s: %w", dir, err)
		}
	}
	return &Store{JobsDir: jobsDir, ResultsDir: resultsDir}, nil
}

const validatingSuffix = ".validating"

func writeAtomic(path string, r io.Reader) (int64, error) {
	tmp := path + validatingSuffix
	f, err := os.Create(tmp)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmp)
		return 0, err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return 0, err
	}
	return n, nil
}

// WriteArtifact stores one artifact blob for a job under its file name.
func (s *Store) WriteArtifact(_ context.Context, jobID, name string, data []byte) error {
	dir := filepath.Join(s.JobsDir, jobID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("op=blob.write_artifact job=%s: %w", jobID, err)
	}
	if _, err := writeAtomic(filepath.Join(dir, name), bytes.NewReader(data)); err != nil {
		return fmt.Errorf("op=blob.write_artifact job=%s name=%s: %w", jobID, name, err)
	}
	return nil
}

// WriteResult stores the result archive for a job, overwriting any previous
// upload. Returns the number of bytes written.
func (s *Store) WriteResult(_ context.Context, jobID string, r io.Reader) (int64, error) {
	n, err := writeAtomic(s.resultPath(jobID), r)
	if err != nil {
		return 0, fmt.Errorf("op=blob.write_result job=%s: %w", jobID, err)
	}
	return n, nil
}

// OpenResult opens the result archive for streaming and reports its size.
func (s *Store) OpenResult(_ context.Context, jobID string) (io.ReadCloser, int64, error) {
	f, err := os.Open(s.resultPath(jobID))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, 0, fmt.Errorf("op=blob.open_result job=%s: %w", jobID, fs.ErrNotExist)
		}
		return nil, 0, fmt.Errorf("op=blob.open_result job=%s: %w", jobID, err)
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, 0, fmt.Errorf("op=blob.open_result job=%s: %w", jobID, err)
	}
	return f, st.Size(), nil
}

// ResultExists reports whether a fully written result archive is present.
// In-flight ".validating" files do not count.
func (s *Store) ResultExists(_ context.Context, jobID string) (bool, error) {
	_, err := os.Stat(s.resultPath(jobID))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("op=blob.result_exists job=%s: %w", jobID, err)
}

func (s *Store) resultPath(jobID string) string {
	return filepath.Join(s.ResultsDir, jobID+".zip")
}
