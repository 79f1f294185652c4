package datarecording

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/sarchlab/cosim/store"
)

// TableName is the table a sqlite record is written to.
const TableName = "scada_values"

type sqliteRecorder struct {
	lock   sync.Mutex
	path   string
	db     *sql.DB
	header []string
	rows   [][]string
}

func newSQLiteRecorder(path, driver string, header []string) (*sqliteRecorder, error) {
	for _, f := range []string{path, path + "-wal", path + "-shm"} {
		if err := os.Remove(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("replace record: %w", err)
		}
	}

	db, err := store.Open(path, driver)
	if err != nil {
		return nil, err
	}

	columns := make([]string, len(header))
	for i, h := range header {
		columns[i] = quote(h) + " TEXT"
	}

	createTableSQL := "CREATE TABLE " + TableName +
		" (\n\t" + strings.Join(columns, ",\n\t") + "\n);"
	if _, err := db.Exec(createTableSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("create record table: %w", err)
	}

	return &sqliteRecorder{
		path:   path,
		db:     db,
		header: header,
	}, nil
}

func quote(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func (r *sqliteRecorder) Path() string {
	return r.path
}

func (r *sqliteRecorder) Record(row []string) error {
	if err := checkRow(r.header, row); err != nil {
		return err
	}

	r.lock.Lock()
	defer r.lock.Unlock()

	if r.db == nil {
		return errClosed
	}

	r.rows = append(r.rows, row)

	return nil
}

func (r *sqliteRecorder) Flush() error {
	r.lock.Lock()
	defer r.lock.Unlock()

	return r.flush()
}

func (r *sqliteRecorder) flush() error {
	if r.db == nil || len(r.rows) == 0 {
		return nil
	}

	tx, err := r.db.Begin()
	if err != nil {
		return err
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(r.header)), ", ")
	stmt, err := tx.Prepare("INSERT INTO " + TableName + " VALUES (" + placeholders + ")")
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, row := range r.rows {
		args := make([]any, len(row))
		for i, v := range row {
			args[i] = v
		}

		if _, err := stmt.Exec(args...); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("write record: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	r.rows = nil

	return nil
}

func (r *sqliteRecorder) Close() error {
	r.lock.Lock()
	defer r.lock.Unlock()

	if r.db == nil {
		return nil
	}

	err := r.flush()
	err = errors.Join(err, r.db.Close())
	r.db = nil

	return err
}
