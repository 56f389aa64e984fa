package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/viniciushammett/go-build-inspector/internal/report"
)

var (
	bReports = []byte("reports") // key=id (uuid v7, time ordered), val=json

	ErrNotFound = errors.New("report not found")
	ErrCorrupt  = errors.New("corrupt report record")
)

type Store struct{ db *bolt.DB }

func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, e := tx.CreateBucketIfNotExists(bReports)
		return e
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Put(r *report.Report) error {
	b, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bReports).Put([]byte(r.ID), b)
	})
}

func (s *Store) Get(id string) (*report.Report, error) {
	var out *report.Report
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bReports).Get([]byte(id))
		if v == nil {
			return ErrNotFound
		}
		var r report.Report
		if err := json.Unmarshal(v, &r); err != nil {
			return err
		}
		out = &r
		return nil
	})
	return out, err
}

// List returns stored reports newest first; limit <= 0 means all.
// Records that fail to decode are skipped and reported through an error
// wrapping ErrCorrupt, returned alongside the readable reports.
func (s *Store) List(limit int) ([]report.Report, error) {
	out := []report.Report{}
	var bad []string
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bReports).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			var r report.Report
			if json.Unmarshal(v, &r) != nil {
				bad = append(bad, string(k))
				continue
			}
			out = append(out, r)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(bad) > 0 {
		return out, fmt.Errorf("%w: %s", ErrCorrupt, strings.Join(bad, ", "))
	}
	return out, nil
}
