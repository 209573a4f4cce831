// migrations.go - Schema-Migrationen der Laufhistorie
// Enthaelt: migrate, migrateV1ToV2, Schema-Version-Handling

package results

import (
	"database/sql"
	"errors"
	"fmt"
)

// migrate bringt eine bestehende Datenbank Version fuer Version auf
// currentSchemaVersion.
func (s *Store) migrate() error {
	version, err := s.getSchemaVersion()
	if err != nil {
		return fmt.Errorf("get schema version: %w", err)
	}

	for version < currentSchemaVersion {
		switch version {
		case 1:
			// duration_ms Spalte zur runs Tabelle hinzufuegen
			if err := s.migrateV1ToV2(); err != nil {
				return fmt.Errorf("migrate v1 to v2: %w", err)
			}
			version = 2
		default:
			// unbekannte Version: auf aktuell setzen
			version = currentSchemaVersion
		}
	}

	return s.setSchemaVersion(version)
}

func (s *Store) getSchemaVersion() (int, error) {
	var version int
	err := s.conn.QueryRow(`SELECT schema_version FROM meta WHERE id = 1`).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return currentSchemaVersion, nil
	}
	return version, err
}

func (s *Store) setSchemaVersion(version int) error {
	_, err := s.conn.Exec(`UPDATE meta SET schema_version = ? WHERE id = 1`, version)
	return err
}

// columnExists prueft ob eine Spalte in einer Tabelle existiert.
func (s *Store) columnExists(table, column string) (bool, error) {
	var count int
	err := s.conn.QueryRow(`SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?`, table, column).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// migrateV1ToV2 fuegt die Laufzeit eines Runs hinzu.
func (s *Store) migrateV1ToV2() error {
	exists, err := s.columnExists("runs", "duration_ms")
	if err != nil {
		return fmt.Errorf("check duration_ms column: %w", err)
	}
	if exists {
		return nil
	}
	_, err = s.conn.Exec(`ALTER TABLE runs ADD COLUMN duration_ms INTEGER NOT NULL DEFAULT 0`)
	if err != nil {
		return fmt.Errorf("add duration_ms column: %w", err)
	}
	return nil
}
