package sysfile

import (
	"fmt"
	"os"
	"path/filepath"

	"distcoord/configs"
	"distcoord/dcerr"
)

// Store owns the two on-disk copies of the restart record (spec §4.7:
// "two files in distinct directories... Any update writes both before
// declaring durability"). Raw os.File I/O is used deliberately: this is
// a small fixed-record dual-copy persistence primitive, not a general
// storage engine, and no pack dependency (pgx, mongo-driver, tidwall/wal)
// models "write the same fixed record to two directories atomically".
type Store struct {
	paths [configs.SysfileCopyCount]string
}

// NewStore builds a two-copy store from the cluster's configured data
// directories, mirroring the file name the spec names:
// "D1/.../S0.SYSFILE" and "D2/.../S0.SYSFILE".
func NewStore(dataDir1, dataDir2 string) *Store {
	return &Store{paths: [configs.SysfileCopyCount]string{
		filepath.Join(dataDir1, "S0.SYSFILE"),
		filepath.Join(dataDir2, "S0.SYSFILE"),
	}}
}

// Write persists s to both copies, in order, and only returns success
// once both have been written and synced. A failure on either copy is
// returned to the caller (the coordinator treats a single-copy write
// failure as retryable, not fatal — only a dual-copy *read* failure at
// restart is fatal, per §6's EXIT_SR_FAILURE).
func (st *Store) Write(s *Sysfile) error {
	words, err := s.Encode()
	if err != nil {
		return fmt.Errorf("sysfile: encode: %w", err)
	}
	buf := ToBytes(words)

	for _, p := range st.paths {
		if err := writeFileSync(p, buf); err != nil {
			return fmt.Errorf("sysfile: write %s: %w", p, err)
		}
	}
	return nil
}

func writeFileSync(path string, buf []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(buf); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Read tries copy 0 first; on any error (open, read, corrupt) it falls
// back to copy 1. If both fail, restart is impossible (spec §4.7/§6:
// EXIT_SR_FAILURE).
func (st *Store) Read() (*Sysfile, error) {
	var lastErr error
	for _, p := range st.paths {
		s, err := readOne(p)
		if err == nil {
			return s, nil
		}
		lastErr = err
	}
	return nil, dcerr.Fatal(dcerr.ExitSRFailure, fmt.Sprintf("both sysfile copies unreadable: %v", lastErr))
}

func readOne(path string) (*Sysfile, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Decode(FromBytes(buf))
}
