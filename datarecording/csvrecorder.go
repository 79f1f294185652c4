package datarecording

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"sync"
)

var errClosed = errors.New("recorder closed")

type csvRecorder struct {
	lock   sync.Mutex
	path   string
	file   *os.File
	writer *csv.Writer
	header []string
	rows   [][]string
}

func newCSVRecorder(path string, header []string) (*csvRecorder, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create record: %w", err)
	}

	r := &csvRecorder{
		path:   path,
		file:   file,
		writer: csv.NewWriter(file),
		header: header,
	}

	if err := r.writer.Write(header); err != nil {
		file.Close()
		return nil, err
	}

	r.writer.Flush()
	if err := r.writer.Error(); err != nil {
		file.Close()
		return nil, err
	}

	return r, nil
}

func (r *csvRecorder) Path() string {
	return r.path
}

func (r *csvRecorder) Record(row []string) error {
	if err := checkRow(r.header, row); err != nil {
		return err
	}

	r.lock.Lock()
	defer r.lock.Unlock()

	if r.file == nil {
		return errClosed
	}

	r.rows = append(r.rows, row)

	return nil
}

func (r *csvRecorder) Flush() error {
	r.lock.Lock()
	defer r.lock.Unlock()

	return r.flush()
}

func (r *csvRecorder) flush() error {
	if r.file == nil || len(r.rows) == 0 {
		return nil
	}

	if err := r.writer.WriteAll(r.rows); err != nil {
		return fmt.Errorf("write record: %w", err)
	}

	r.rows = nil

	return r.file.Sync()
}

func (r *csvRecorder) Close() error {
	r.lock.Lock()
	defer r.lock.Unlock()

	if r.file == nil {
		return nil
	}

	err := r.flush()
	err = errors.Join(err, r.file.Close())
	r.file = nil

	return err
}
