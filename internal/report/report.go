// Package report persists the results of host-checking runs so a failing
// host's history survives the process. Reports are kept in a local bolt
// database keyed by run ID.
package report

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/boltdb/bolt"
	"github.com/google/uuid"
)

var (
	runsBucket = []byte("runs")

	// ErrNoRun is returned when a run ID is not in the store.
	ErrNoRun = errors.New("no such run")
)

// HostResult is one host's outcome within a run.
type HostResult struct {
	Host       string `json:"host"`
	Status     string `json:"status"`
	Error      string `json:"error,omitempty"`
	Suppressed bool   `json:"suppressed,omitempty"`
}

// Run is a persisted host-checking run.
type Run struct {
	ID       string       `json:"id"`
	Started  time.Time    `json:"started"`
	Fix      bool         `json:"fix"`
	Failures int          `json:"failures"`
	Results  []HostResult `json:"results"`
}

// Store keeps run reports in a bolt database.
type Store struct {
	db *bolt.DB
}

// Open creates or opens the report database at path.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0644, bolt.DefaultOptions)
	if err != nil {
		return nil, fmt.Errorf("open report store %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(runsBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create runs bucket: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save persists a run under a fresh ID and returns it.
func (s *Store) Save(run Run) (string, error) {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.Started.IsZero() {
		run.Started = time.Now()
	}

	data, err := json.Marshal(run)
	if err != nil {
		return "", err
	}

	err = s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(runsBucket)
		return b.Put([]byte(run.ID), data)
	})
	if err != nil {
		return "", fmt.Errorf("save run %s: %w", run.ID, err)
	}
	return run.ID, nil
}

// Run retrieves one run by ID.
func (s *Store) Run(id string) (*Run, error) {
	var run Run

	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(runsBucket)

		data := b.Get([]byte(id))
		if data == nil {
			return ErrNoRun
		}
		return json.Unmarshal(data, &run)
	})
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// Runs lists every stored run, oldest start first.
func (s *Store) Runs() ([]Run, error) {
	var runs []Run

	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(runsBucket)

		return b.ForEach(func(_, data []byte) error {
			var run Run
			if err := json.Unmarshal(data, &run); err != nil {
				return err
			}
			runs = append(runs, run)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(runs, func(i, j int) bool {
		return runs[i].Started.Before(runs[j].Started)
	})
	return runs, nil
}

// Prune removes runs that started before the cutoff and reports how many
// were deleted.
func (s *Store) Prune(before time.Time) (int, error) {
	removed := 0

	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(runsBucket)

		var stale [][]byte
		err := b.ForEach(func(key, data []byte) error {
			var run Run
			if err := json.Unmarshal(data, &run); err != nil {
				return err
			}
			if run.Started.Before(before) {
				stale = append(stale, append([]byte(nil), key...))
			}
			return nil
		})
		if err != nil {
			return err
		}

		for _, key := range stale {
			if err := b.Delete(key); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}
