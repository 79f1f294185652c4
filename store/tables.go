package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// MasterTime returns the simulated time.
func MasterTime(ctx context.Context, e *Executor) (int, error) {
	var t int

	err := e.QueryRow(ctx, "SELECT time FROM master_time WHERE id = 1", nil, &t)
	if err != nil {
		return 0, fmt.Errorf("read master clock: %w", err)
	}

	return t, nil
}

// AdvanceMasterTime increments the simulated time and returns the new value.
func AdvanceMasterTime(ctx context.Context, e *Executor) (int, error) {
	var t int

	err := e.Tx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			"UPDATE master_time SET time = time + 1 WHERE id = 1"); err != nil {
			return err
		}

		return tx.QueryRowContext(ctx,
			"SELECT time FROM master_time WHERE id = 1").Scan(&t)
	})
	if err != nil {
		return 0, fmt.Errorf("advance master clock: %w", err)
	}

	return t, nil
}

// SetMasterTime overwrites the simulated time.
func SetMasterTime(ctx context.Context, e *Executor, t int) error {
	_, err := e.Exec(ctx, "UPDATE master_time SET time = ? WHERE id = 1", t)
	if err != nil {
		return fmt.Errorf("set master clock: %w", err)
	}

	return nil
}

// PlantValue returns the value of one tag.
func PlantValue(ctx context.Context, e *Executor, name string) (string, error) {
	var v sql.NullString

	err := e.QueryRow(ctx,
		"SELECT value FROM plant WHERE name = ? AND pid = ?",
		[]any{name, PlantPID}, &v)
	if err != nil {
		return "", fmt.Errorf("read plant value %s: %w", name, err)
	}

	return v.String, nil
}

// PlantValues returns the values of the named tags. Every name must exist.
func PlantValues(ctx context.Context, e *Executor, names []string) (map[string]string, error) {
	values := make(map[string]string, len(names))
	if len(names) == 0 {
		return values, nil
	}

	args := make([]any, 0, len(names)+1)
	args = append(args, PlantPID)
	for _, n := range names {
		args = append(args, n)
	}

	query := "SELECT name, value FROM plant WHERE pid = ? AND name IN (" +
		placeholders(len(names)) + ")"

	err := e.Query(ctx, func(rows *sql.Rows) error {
		clear(values)
		for rows.Next() {
			var (
				name  string
				value sql.NullString
			)
			if err := rows.Scan(&name, &value); err != nil {
				return err
			}
			values[name] = value.String
		}
		return nil
	}, query, args...)
	if err != nil {
		return nil, fmt.Errorf("read plant values: %w", err)
	}

	for _, n := range names {
		if _, ok := values[n]; !ok {
			return nil, fmt.Errorf("read plant values: unknown tag %s", n)
		}
	}

	return values, nil
}

// AllPlantValues returns every tag of the plant.
func AllPlantValues(ctx context.Context, e *Executor) (map[string]string, error) {
	values := map[string]string{}

	err := e.Query(ctx, func(rows *sql.Rows) error {
		clear(values)
		for rows.Next() {
			var (
				name  string
				value sql.NullString
			)
			if err := rows.Scan(&name, &value); err != nil {
				return err
			}
			values[name] = value.String
		}
		return nil
	}, "SELECT name, value FROM plant WHERE pid = ?", PlantPID)
	if err != nil {
		return nil, fmt.Errorf("read plant: %w", err)
	}

	return values, nil
}

// SetPlantValues writes several tags in one transaction.
func SetPlantValues(ctx context.Context, e *Executor, values map[string]string) error {
	if len(values) == 0 {
		return nil
	}

	err := e.Tx(ctx, func(tx *sql.Tx) error {
		for name, value := range values {
			res, err := tx.ExecContext(ctx,
				"UPDATE plant SET value = ? WHERE name = ? AND pid = ?",
				value, name, PlantPID)
			if err != nil {
				return err
			}

			if n, err := res.RowsAffected(); err == nil && n == 0 {
				return fmt.Errorf("unknown tag %s", name)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("write plant values: %w", err)
	}

	return nil
}

// AttackFlag tells whether the named attack is active.
func AttackFlag(ctx context.Context, e *Executor, name string) (bool, error) {
	var flag int

	err := e.QueryRow(ctx, "SELECT flag FROM attack WHERE name = ?",
		[]any{name}, &flag)
	if err != nil {
		return false, fmt.Errorf("read attack %s: %w", name, err)
	}

	return flag != 0, nil
}

// SetAttackFlag marks the named attack active or inactive.
func SetAttackFlag(ctx context.Context, e *Executor, name string, active bool) error {
	flag := 0
	if active {
		flag = 1
	}

	res, err := e.Exec(ctx, "UPDATE attack SET flag = ? WHERE name = ?", flag, name)
	if err != nil {
		return fmt.Errorf("write attack %s: %w", name, err)
	}

	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("write attack %s: unknown attack", name)
	}

	return nil
}

// AttackFlags returns every attack flag.
func AttackFlags(ctx context.Context, e *Executor) (map[string]bool, error) {
	return boolTable(ctx, e, "SELECT name, flag FROM attack")
}

// SyncFlags returns every persisted sync flag of a store.
func SyncFlags(ctx context.Context, e *Executor) (map[string]bool, error) {
	return boolTable(ctx, e, "SELECT name, flag FROM sync")
}

func boolTable(ctx context.Context, e *Executor, query string) (map[string]bool, error) {
	flags := map[string]bool{}

	err := e.Query(ctx, func(rows *sql.Rows) error {
		clear(flags)
		for rows.Next() {
			var (
				name string
				flag int
			)
			if err := rows.Scan(&name, &flag); err != nil {
				return err
			}
			flags[name] = flag != 0
		}
		return nil
	}, query)
	if err != nil {
		return nil, err
	}

	return flags, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
