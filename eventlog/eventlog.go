// Package eventlog is an append-only journal of protocol round
// milestones (GCP save, LCP round end, take-over end) backed by
// github.com/tidwall/wal, the same dependency and batching shape the
// teacher's network/coordinator/log_manager.go uses for its own
// transaction-state WAL: a background goroutine drains a batch on a
// fixed interval rather than fsyncing on every append, since this
// journal is a restart diagnostic aid, not durability-critical state
// (the sysfile/tablestore two-copy stores already own that).
package eventlog

import (
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/tidwall/wal"

	"distcoord/configs"
	"distcoord/model"
)

// Entry is one journal record. Kind is a short milestone tag
// ("gcp_save", "lcp_round_end", "takeover_end"); Detail carries
// milestone-specific fields as a flat map so the journal schema never
// needs to change shape when a new milestone is added.
type Entry struct {
	Kind   string                 `json:"kind"`
	Detail map[string]interface{} `json:"detail"`
}

// Log wraps one wal.Log and a write-behind batch, grounded directly on
// LogManager in the teacher's network/coordinator/log_manager.go
// (same lsn counter, same buffer-then-WriteBatch-on-a-ticker shape).
type Log struct {
	mu          sync.Mutex
	lsn         uint64
	lastFlushed uint64
	logs        *wal.Log
	buffer      *wal.Batch
	stop        chan struct{}
}

// Open creates (or resumes) the journal at dir. Returns nil if
// configs.UseWAL is false, matching the teacher's own
// "NewLogManager returns a no-op when WAL is disabled" convention; every
// method on a nil *Log is a safe no-op via the nil-receiver guards below.
func Open(dir string) (*Log, error) {
	if !configs.UseWAL {
		return nil, nil
	}
	logs, err := wal.Open(dir, nil)
	if err != nil {
		return nil, err
	}
	lsn, err := logs.LastIndex()
	if err != nil {
		return nil, err
	}
	l := &Log{
		logs:   logs,
		lsn:    lsn,
		buffer: &wal.Batch{},
		stop:   make(chan struct{}),
	}
	go l.syncLoop()
	return l, nil
}

func (l *Log) syncLoop() {
	t := time.NewTicker(configs.LogBatchInterval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			l.flush()
		case <-l.stop:
			return
		}
	}
}

func (l *Log) flush() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.lsn == l.lastFlushed {
		return
	}
	if err := l.logs.WriteBatch(l.buffer); err != nil {
		configs.Warn(false, "eventlog batch write failed: "+err.Error())
		return
	}
	l.buffer.Clear()
	l.lastFlushed = l.lsn
}

func (l *Log) append(kind string, detail map[string]interface{}) {
	if l == nil {
		return
	}
	body, err := json.Marshal(Entry{Kind: kind, Detail: detail})
	if err != nil {
		configs.Warn(false, "eventlog marshal failed: "+err.Error())
		return
	}
	l.mu.Lock()
	l.lsn++
	l.buffer.Write(l.lsn, body)
	l.mu.Unlock()
}

// RecordGcpSave journals a completed GCP save (spec §4.3 step 3).
func (l *Log) RecordGcpSave(oldGCI, newestRestorableGCI uint64) {
	l.append("gcp_save", map[string]interface{}{
		"oldGCI":               oldGCI,
		"newestRestorableGCI":  newestRestorableGCI,
	})
}

// RecordLcpRoundEnd journals an LCP round boundary (spec §4.4 Completion).
func (l *Log) RecordLcpRoundEnd(lcpID uint32) {
	l.append("lcp_round_end", map[string]interface{}{"lcpId": lcpID})
}

// RecordTakeoverEnd journals a completed take-over (spec §4.5 "Ending").
func (l *Log) RecordTakeoverEnd(startingNode, failedNode model.NodeID) {
	l.append("takeover_end", map[string]interface{}{
		"startingNode": startingNode,
		"failedNode":   failedNode,
	})
}

// Close stops the sync loop and flushes any buffered entries.
func (l *Log) Close() error {
	if l == nil {
		return nil
	}
	close(l.stop)
	l.flush()
	return l.logs.Close()
}
