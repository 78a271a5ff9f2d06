package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Record is one row of a SQLite record store. Seq is the dense record index
// starting at zero.
type Record struct {
	Seq   int    `gorm:"primaryKey;autoIncrement:false"`
	Key   string `gorm:"uniqueIndex;not null"`
	Value []byte `gorm:"not null"`
}

// SQLite is a Store backed by a single SQLite file.
type SQLite struct {
	db *gorm.DB

	mu   sync.RWMutex
	n    int
	size int64
}

var _ Store = (*SQLite)(nil)

func getMigrator(db *gorm.DB) *gormigrate.Gormigrate {
	return gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		{
			ID: "0",
			Migrate: func(txn *gorm.DB) error {
				return txn.AutoMigrate(&Record{})
			},
			Rollback: func(txn *gorm.DB) error {
				return txn.Migrator().DropTable(&Record{})
			},
		},
	})
}

// OpenSQLite opens (creating if needed) the record store at path.
func OpenSQLite(path string) (*SQLite, error) {
	if err := os.MkdirAll(filepath.Dir(path), os.ModePerm); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open record store %s: %w", path, err)
	}

	s := &SQLite{db: db}
	if err := getMigrator(db).Migrate(); err != nil {
		s.Close() //nolint:errcheck
		return nil, fmt.Errorf("failed to migrate record store %s: %w", path, err)
	}
	if err := s.refresh(); err != nil {
		s.Close() //nolint:errcheck
		return nil, err
	}
	return s, nil
}

// OpenSQLiteExisting opens the record store at path and fails if the file
// does not exist, instead of creating an empty store.
func OpenSQLiteExisting(path string) (*SQLite, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("record store %s: %w", path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("record store %s is a directory", path)
	}
	return OpenSQLite(path)
}

func (s *SQLite) refresh() error {
	var n int64
	if err := s.db.Model(&Record{}).Count(&n).Error; err != nil {
		return fmt.Errorf("failed to count records: %w", err)
	}

	var size int64
	if err := s.db.Model(&Record{}).Select("COALESCE(SUM(LENGTH(value)), 0)").Scan(&size).Error; err != nil {
		return fmt.Errorf("failed to sum record sizes: %w", err)
	}

	s.mu.Lock()
	s.n, s.size = int(n), size
	s.mu.Unlock()
	return nil
}

// Len implements the Store interface.
func (s *SQLite) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.n
}

// Size implements the Store interface.
func (s *SQLite) Size() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.size
}

// ReadRange implements the Store interface. A gap in the sequence numbers is
// reported as an error since it means the store is corrupt.
func (s *SQLite) ReadRange(ctx context.Context, start, end int, fn func(int, []byte) error) error {
	if err := checkRange(s, start, end); err != nil {
		return err
	}
	if start == end {
		return nil
	}

	rows, err := s.db.WithContext(ctx).
		Model(&Record{}).
		Where("seq >= ? AND seq < ?", start, end).
		Order("seq").
		Rows()
	if err != nil {
		return fmt.Errorf("failed to query records [%d, %d): %w", start, end, err)
	}
	defer rows.Close()

	next := start
	for rows.Next() {
		var rec Record
		if err := s.db.ScanRows(rows, &rec); err != nil {
			return fmt.Errorf("failed to scan record %d: %w", next, err)
		}
		if rec.Seq != next {
			return fmt.Errorf("record store is missing record %d (found %d)", next, rec.Seq)
		}
		if err := fn(rec.Seq, rec.Value); err != nil {
			return err
		}
		next++
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to iterate records: %w", err)
	}
	if next != end {
		return fmt.Errorf("record store is missing records [%d, %d)", next, end)
	}
	return nil
}

// Append writes values as new records after the existing ones.
func (s *SQLite) Append(ctx context.Context, values [][]byte) error {
	if len(values) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	records := make([]Record, len(values))
	var added int64
	for i, v := range values {
		seq := s.n + i
		records[i] = Record{Seq: seq, Key: fmt.Sprintf("%010d", seq), Value: v}
		added += int64(len(v))
	}

	if err := s.db.WithContext(ctx).CreateInBatches(records, 256).Error; err != nil {
		return fmt.Errorf("failed to append %d records: %w", len(values), err)
	}

	s.n += len(values)
	s.size += added
	return nil
}

// Close implements the Store interface.
func (s *SQLite) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql db: %w", err)
	}
	return sqlDB.Close()
}
