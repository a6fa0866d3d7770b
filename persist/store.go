package persist

import (
	"context"
	"database/sql"
	"errors"
	"hash/crc32"

	"github.com/facebookgo/stackerr"
	"github.com/golang/snappy"
	_ "github.com/mattn/go-sqlite3"
)

const schemaSQL = `CREATE TABLE IF NOT EXISTS kv
 (key VARCHAR(250) PRIMARY KEY,
  flags INTEGER(4),
  exptime INTEGER(4),
  hash INTEGER(4),
  value BLOB)`

const (
	putSQL  = `INSERT OR REPLACE INTO kv (key, flags, exptime, hash, value) VALUES (?, ?, ?, ?, ?)`
	getSQL  = `SELECT flags, exptime, hash, value FROM kv WHERE key = ?`
	scanSQL = `SELECT key, flags, exptime, hash, value FROM kv`
)

// ErrChecksum means a stored value does not match its hash column.
var ErrChecksum = errors.New("value checksum mismatch")

// Record is the durable representation of one key. Hash is the CRC-32
// (IEEE) of the uncompressed value; it is written on every Put and verified
// on every read.
type Record struct {
	Key     string
	Flags   uint32
	Exptime int64
	Hash    uint32
	Value   []byte
}

type Options struct {
	// Compress stores values snappy-compressed. Reads assume the same
	// setting the store was written with.
	Compress bool
	ReadOnly bool
}

// Store is the embedded relational store. It is safe for use from multiple
// goroutines; database/sql serializes access to the underlying connection.
type Store struct {
	db       *sql.DB
	compress bool
}

func Open(path string, opts Options) (*Store, error) {
	dsn := "file:" + path + "?_busy_timeout=5000"
	if opts.ReadOnly {
		dsn += "&mode=ro"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, stackerr.Wrap(err)
	}
	if !opts.ReadOnly {
		if _, err := db.Exec(schemaSQL); err != nil {
			db.Close()
			return nil, stackerr.Wrap(err)
		}
	}
	return &Store{db: db, compress: opts.Compress}, nil
}

func (s *Store) Close() error {
	return stackerr.Wrap(s.db.Close())
}

// Put upserts one record. rec.Hash is computed here and any caller-provided
// value is ignored.
func (s *Store) Put(ctx context.Context, rec Record) error {
	hash := crc32.ChecksumIEEE(rec.Value)
	value := rec.Value
	if s.compress {
		value = snappy.Encode(nil, value)
	}
	_, err := s.db.ExecContext(ctx, putSQL, rec.Key, rec.Flags, rec.Exptime, hash, value)
	return stackerr.Wrap(err)
}

// Get performs a point lookup. found is false when there is no row.
func (s *Store) Get(ctx context.Context, key string) (rec Record, found bool, err error) {
	rec.Key = key
	var value []byte
	err = s.db.QueryRowContext(ctx, getSQL, key).Scan(&rec.Flags, &rec.Exptime, &rec.Hash, &value)
	if err == sql.ErrNoRows {
		return rec, false, nil
	}
	if err != nil {
		return rec, false, stackerr.Wrap(err)
	}
	if rec.Value, err = s.decode(rec.Hash, value); err != nil {
		return rec, false, err
	}
	return rec, true, nil
}

// Scan streams every record to fn. A non-nil fn error aborts the scan.
func (s *Store) Scan(ctx context.Context, fn func(Record) error) error {
	rows, err := s.db.QueryContext(ctx, scanSQL)
	if err != nil {
		return stackerr.Wrap(err)
	}
	defer rows.Close()
	for rows.Next() {
		var rec Record
		var value []byte
		if err := rows.Scan(&rec.Key, &rec.Flags, &rec.Exptime, &rec.Hash, &value); err != nil {
			return stackerr.Wrap(err)
		}
		if rec.Value, err = s.decode(rec.Hash, value); err != nil {
			return err
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return stackerr.Wrap(rows.Err())
}

func (s *Store) decode(hash uint32, value []byte) ([]byte, error) {
	if s.compress {
		var err error
		if value, err = snappy.Decode(nil, value); err != nil {
			return nil, stackerr.Wrap(err)
		}
	}
	if crc32.ChecksumIEEE(value) != hash {
		return nil, ErrChecksum
	}
	return value, nil
}
