package tablestore

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"

	"distcoord/configs"
	"distcoord/dcerr"
	"distcoord/model"
)

// Store owns the two FRAGLIST file copies for every table (spec §6:
// "Two table files per table: D1/.../S<tabId>.FRAGLIST,
// D2/.../S<tabId>.FRAGLIST"). Built the same way sysfile.Store is: raw
// file I/O, atomic temp-file-then-rename writes, read-with-fallback.
type Store struct {
	dataDir1, dataDir2 string
}

func NewStore(dataDir1, dataDir2 string) *Store {
	return &Store{dataDir1: dataDir1, dataDir2: dataDir2}
}

func (st *Store) paths(tableID model.TableID) [configs.SysfileCopyCount]string {
	name := fmt.Sprintf("S%d.FRAGLIST", tableID)
	return [configs.SysfileCopyCount]string{
		filepath.Join(st.dataDir1, name),
		filepath.Join(st.dataDir2, name),
	}
}

// Write packs and persists a table's fragment descriptors to both
// copies, in order; both must succeed before the write is durable.
func (st *Store) Write(t *model.Table, pool *model.Pool[model.Replica], h Header) error {
	pages, err := Pack(t, pool, h)
	if err != nil {
		return fmt.Errorf("tablestore: pack table %d: %w", t.ID, err)
	}
	buf := pagesToBytes(pages)
	for _, p := range st.paths(t.ID) {
		if err := writeFileSync(p, buf); err != nil {
			return fmt.Errorf("tablestore: write %s: %w", p, err)
		}
	}
	return nil
}

// Read loads a table's FRAGLIST, trying copy 0 then copy 1; both
// unreadable is the same EXIT_SR_FAILURE condition as a sysfile read
// failure (spec §6).
func (st *Store) Read(tableID model.TableID, pool *model.Pool[model.Replica], schemaVersion uint32) (*model.Table, Header, error) {
	var lastErr error
	for _, p := range st.paths(tableID) {
		pages, err := readPages(p)
		if err != nil {
			lastErr = err
			continue
		}
		t, h, err := Unpack(pages, pool, tableID, schemaVersion)
		if err != nil {
			lastErr = err
			continue
		}
		return t, h, nil
	}
	return nil, Header{}, dcerr.Fatal(dcerr.ExitSRFailure, fmt.Sprintf("both FRAGLIST copies for table %d unreadable: %v", tableID, lastErr))
}

func pagesToBytes(pages [][]uint32) []byte {
	buf := make([]byte, 0, len(pages)*PageWords*4)
	for _, p := range pages {
		for _, w := range p {
			var b [4]byte
			binary.BigEndian.PutUint32(b[:], w)
			buf = append(buf, b[:]...)
		}
	}
	return buf
}

func readPages(path string) ([][]uint32, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(raw)%(PageWords*4) != 0 {
		return nil, fmt.Errorf("tablestore: %s is not a whole number of pages", path)
	}
	numPages := len(raw) / (PageWords * 4)
	pages := make([][]uint32, numPages)
	for i := 0; i < numPages; i++ {
		page := make([]uint32, PageWords)
		for j := 0; j < PageWords; j++ {
			off := (i*PageWords + j) * 4
			page[j] = binary.BigEndian.Uint32(raw[off:])
		}
		pages[i] = page
	}
	return pages, nil
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
