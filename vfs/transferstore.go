package vfs

import (
	"errors"
	"fmt"
	"sort"

	"github.com/asdine/storm/v3"
	"github.com/asdine/storm/v3/codec/gob"
)

// TransferStore persists TransferRecords so a crash leaves resumable
// records rather than silent data loss. Records survive until explicitly
// pruned; ledger retention never touches them.
type TransferStore struct {
	db *storm.DB
}

// OpenTransferStore opens (or creates) the transfer database at path.
// Records are encoded with gob so fields hidden from the API (WriterToken)
// still survive a restart.
func OpenTransferStore(path string) (*TransferStore, error) {
	db, err := storm.Open(path, storm.Codec(gob.Codec))
	if err != nil {
		return nil, fmt.Errorf("open transfer db: %w", err)
	}
	sub("transferstore").Info("transfer database opened", "path", path)
	return &TransferStore{db: db}, nil
}

// Close closes the underlying database.
func (s *TransferStore) Close() error {
	return s.db.Close()
}

// Save inserts or updates a record.
func (s *TransferStore) Save(rec *TransferRecord) error {
	if err := s.db.Save(rec); err != nil {
		return fmt.Errorf("save transfer %s: %w", rec.ID, err)
	}
	return nil
}

// Get returns a record by id, or nil if unknown.
func (s *TransferStore) Get(id string) (*TransferRecord, error) {
	var rec TransferRecord
	err := s.db.One("ID", id, &rec)
	if errors.Is(err, storm.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get transfer %s: %w", id, err)
	}
	return &rec, nil
}

// ByKind returns all records of one kind, newest first.
func (s *TransferStore) ByKind(kind TransferKind) ([]TransferRecord, error) {
	var recs []TransferRecord
	err := s.db.Find("Kind", kind, &recs)
	if errors.Is(err, storm.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find transfers by kind: %w", err)
	}
	sortNewestFirst(recs)
	return recs, nil
}

// ByStatus returns all records in one status.
func (s *TransferStore) ByStatus(status TransferStatus) ([]TransferRecord, error) {
	var recs []TransferRecord
	err := s.db.Find("Status", status, &recs)
	if errors.Is(err, storm.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find transfers by status: %w", err)
	}
	sortNewestFirst(recs)
	return recs, nil
}

// All returns every record, newest first.
func (s *TransferStore) All() ([]TransferRecord, error) {
	var recs []TransferRecord
	if err := s.db.All(&recs); err != nil {
		return nil, fmt.Errorf("list transfers: %w", err)
	}
	sortNewestFirst(recs)
	return recs, nil
}

// Delete removes a record from history.
func (s *TransferStore) Delete(id string) error {
	rec, err := s.Get(id)
	if err != nil || rec == nil {
		return err
	}
	if err := s.db.DeleteStruct(rec); err != nil {
		return fmt.Errorf("delete transfer %s: %w", id, err)
	}
	return nil
}

func sortNewestFirst(recs []TransferRecord) {
	sort.Slice(recs, func(i, j int) bool {
		return recs[i].CreatedAt.After(recs[j].CreatedAt)
	})
}
