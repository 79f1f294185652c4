package store

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"github.com/sarchlab/cosim/config"
)

// Simulation store tables.
const simulationSchema = `
CREATE TABLE plant (
	name  TEXT    NOT NULL,
	pid   INTEGER NOT NULL,
	value TEXT,
	PRIMARY KEY (name, pid)
);
CREATE TABLE master_time (id INTEGER PRIMARY KEY, time INTEGER);
CREATE TABLE sync (
	name TEXT NOT NULL,
	flag INT  NOT NULL CHECK (flag IN (0, 1)),
	PRIMARY KEY (name)
);
CREATE TABLE attack (
	name TEXT NOT NULL,
	flag INT  NOT NULL,
	PRIMARY KEY (name)
);
`

// Control store tables.
const controlSchema = `
CREATE TABLE state_space (
	id    TEXT    NOT NULL,
	value INTEGER NOT NULL,
	PRIMARY KEY (id)
);
CREATE TABLE action_space (
	id    TEXT    NOT NULL,
	value INTEGER NOT NULL,
	PRIMARY KEY (id)
);
CREATE TABLE master_time (id INTEGER PRIMARY KEY, time INTEGER);
CREATE TABLE sync (
	name TEXT NOT NULL,
	flag INT  NOT NULL CHECK (flag IN (0, 1)),
	PRIMARY KEY (name)
);
`

var (
	simulationTables = []string{"plant", "master_time", "sync", "attack"}
	controlTables    = []string{"state_space", "action_space", "master_time", "sync"}
)

// PlantPID is the plant instance every value belongs to.
const PlantPID = 1

// InitSimulation drops and recreates the simulation store and seeds it from
// cfg, all in one transaction. Every sync flag starts at 1, which leaves the
// first turn to the physical process.
func InitSimulation(ctx context.Context, e *Executor, cfg *config.Config) error {
	return e.Tx(ctx, func(tx *sql.Tx) error {
		if err := dropTables(ctx, tx, simulationTables); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, simulationSchema); err != nil {
			return fmt.Errorf("create simulation tables: %w", err)
		}

		for _, a := range cfg.Actuators {
			if err := insert(ctx, tx,
				"INSERT INTO plant VALUES (?, ?, ?)",
				a.Name, PlantPID, fmt.Sprint(a.InitialValue())); err != nil {
				return err
			}
		}

		for _, plc := range cfg.PLCs {
			for _, sensor := range plc.Sensors {
				if err := insert(ctx, tx,
					"INSERT INTO plant VALUES (?, ?, '0')",
					sensor, PlantPID); err != nil {
					return err
				}
			}
		}

		if err := insert(ctx, tx,
			"INSERT INTO master_time (id, time) VALUES (1, 0)"); err != nil {
			return err
		}

		for _, name := range cfg.Pipeline() {
			if err := insert(ctx, tx,
				"INSERT INTO sync (name, flag) VALUES (?, 1)", name); err != nil {
				return err
			}
		}

		for _, name := range cfg.AttackNames() {
			if err := insert(ctx, tx,
				"INSERT INTO attack (name, flag) VALUES (?, 0)", name); err != nil {
				return err
			}
		}

		return nil
	})
}

// InitControl drops and recreates the control store and seeds it from cfg.
// The agent holds the first turn.
func InitControl(ctx context.Context, e *Executor, cfg *config.Config) error {
	return e.Tx(ctx, func(tx *sql.Tx) error {
		if err := dropTables(ctx, tx, controlTables); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, controlSchema); err != nil {
			return fmt.Errorf("create control tables: %w", err)
		}

		for _, sensor := range cfg.Sensors() {
			if err := insert(ctx, tx,
				"INSERT INTO state_space VALUES (?, 0)", sensor); err != nil {
				return err
			}
		}

		for _, a := range cfg.Actuators {
			if err := insert(ctx, tx,
				"INSERT INTO action_space VALUES (?, ?)",
				a.Name, a.InitialValue()); err != nil {
				return err
			}
		}

		if err := insert(ctx, tx,
			"INSERT INTO master_time VALUES (1, 0)"); err != nil {
			return err
		}

		if err := insert(ctx, tx,
			"INSERT INTO sync VALUES (?, 1)", config.ScadaName); err != nil {
			return err
		}

		return insert(ctx, tx,
			"INSERT INTO sync VALUES (?, 0)", config.AgentName)
	})
}

// DropSimulation removes every simulation table.
func DropSimulation(ctx context.Context, e *Executor) error {
	return e.Tx(ctx, func(tx *sql.Tx) error {
		return dropTables(ctx, tx, simulationTables)
	})
}

// DropControl removes every control table.
func DropControl(ctx context.Context, e *Executor) error {
	return e.Tx(ctx, func(tx *sql.Tx) error {
		return dropTables(ctx, tx, controlTables)
	})
}

func dropTables(ctx context.Context, tx *sql.Tx, tables []string) error {
	for _, t := range tables {
		if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+t); err != nil {
			return fmt.Errorf("drop %s: %w", t, err)
		}
	}

	return nil
}

func insert(ctx context.Context, tx *sql.Tx, query string, args ...any) error {
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("seed: %w", err)
	}

	return nil
}

// PrimaryKeys returns the primary key columns of table in key order. A table
// without a primary key, or a missing table, is a SchemaError.
func PrimaryKeys(ctx context.Context, e *Executor, table string) ([]string, error) {
	type column struct {
		name string
		pk   int
	}

	var columns []column

	err := e.Query(ctx, func(rows *sql.Rows) error {
		columns = columns[:0]
		for rows.Next() {
			var (
				cid       int
				name      string
				colType   string
				notNull   int
				dfltValue sql.NullString
				pk        int
			)
			if err := rows.Scan(&cid, &name, &colType,
				&notNull, &dfltValue, &pk); err != nil {
				return err
			}

			if pk > 0 {
				columns = append(columns, column{name: name, pk: pk})
			}
		}
		return nil
	}, "PRAGMA table_info("+quoteIdent(table)+")")
	if err != nil {
		return nil, err
	}

	if len(columns) == 0 {
		return nil, &SchemaError{Table: table, Msg: "no primary key found"}
	}

	sort.Slice(columns, func(i, j int) bool { return columns[i].pk < columns[j].pk })

	keys := make([]string, len(columns))
	for i, c := range columns {
		keys[i] = c.name
	}

	return keys, nil
}

func quoteIdent(name string) string {
	quoted := make([]byte, 0, len(name)+2)
	quoted = append(quoted, '"')
	for i := 0; i < len(name); i++ {
		if name[i] == '"' {
			quoted = append(quoted, '"')
		}
		quoted = append(quoted, name[i])
	}

	return string(append(quoted, '"'))
}
