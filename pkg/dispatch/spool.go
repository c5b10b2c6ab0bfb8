// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-devsub.
//
// go-devsub is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package dispatch

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"

	"github.com/jeremyhahn/go-devsub/pkg/common"
)

const (
	spoolOpEnqueue = "enqueue"
	spoolOpDone    = "done"

	// DefaultCompactEvery is how many completions trigger a spool rewrite.
	DefaultCompactEvery = 1000

	maxSpoolLine = 1024 * 1024
)

// spoolRecord is one JSON line of the spool.
type spoolRecord struct {
	Op   string       `json:"op"`
	Seq  uint64       `json:"seq"`
	Task *common.Task `json:"task,omitempty"`
}

// SpooledTask is a task that was enqueued but not yet completed.
type SpooledTask struct {
	Seq  uint64
	Task common.Task
}

// Spool is an append-only JSON Lines journal of enqueued tasks. A task
// stays pending until a matching done record is written.
type Spool struct {
	file         *os.File
	path         string
	mu           sync.Mutex
	nextSeq      uint64
	doneSince    int
	compactEvery int
}

// OpenSpool opens or creates the spool at path.
func OpenSpool(path string) (*Spool, error) {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0600) // #nosec G304 -- path from configuration
	if err != nil {
		return nil, fmt.Errorf("failed to open task spool: %w", err)
	}
	s := &Spool{file: file, path: path, compactEvery: DefaultCompactEvery}

	records, err := s.readAll()
	if err != nil {
		_ = file.Close()
		return nil, err
	}
	for _, rec := range records {
		if rec.Seq >= s.nextSeq {
			s.nextSeq = rec.Seq + 1
		}
	}
	if s.nextSeq == 0 {
		s.nextSeq = 1
	}
	if info, err := file.Stat(); err == nil && info.Size() > 0 {
		// drops completed work and any torn trailing line
		if err := s.compact(); err != nil {
			_ = file.Close()
			return nil, err
		}
	}
	return s, nil
}

// Path returns the spool file path.
func (s *Spool) Path() string {
	return s.path
}

// Append durably records a task and returns its sequence number.
func (s *Spool) Append(task common.Task) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seq := s.nextSeq
	if err := s.write(spoolRecord{Op: spoolOpEnqueue, Seq: seq, Task: &task}); err != nil {
		return 0, err
	}
	s.nextSeq++
	return seq, nil
}

// MarkDone records that the task with seq finished.
func (s *Spool) MarkDone(seq uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.write(spoolRecord{Op: spoolOpDone, Seq: seq}); err != nil {
		return err
	}
	s.doneSince++
	if s.doneSince >= s.compactEvery {
		return s.compact()
	}
	return nil
}

// Pending returns unfinished tasks in enqueue order.
func (s *Spool) Pending() ([]SpooledTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending()
}

// Compact rewrites the spool with only the pending tasks.
func (s *Spool) Compact() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.compact()
}

// Close closes the spool file.
func (s *Spool) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file != nil {
		return s.file.Close()
	}
	return nil
}

func (s *Spool) write(rec spoolRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal spool record: %w", err)
	}
	if _, err := s.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write spool record: %w", err)
	}
	if err := s.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync spool: %w", err)
	}
	return nil
}

func (s *Spool) readAll() ([]spoolRecord, error) {
	if _, err := s.file.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("failed to seek spool: %w", err)
	}

	var records []spoolRecord
	scanner := bufio.NewScanner(s.file)
	scanner.Buffer(make([]byte, 64*1024), maxSpoolLine)
	for scanner.Scan() {
		var rec spoolRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			// a torn final line from a crash is skipped
			continue
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error scanning spool: %w", err)
	}
	return records, nil
}

func (s *Spool) pending() ([]SpooledTask, error) {
	records, err := s.readAll()
	if err != nil {
		return nil, err
	}
	open := make(map[uint64]common.Task)
	for _, rec := range records {
		switch rec.Op {
		case spoolOpEnqueue:
			if rec.Task != nil {
				open[rec.Seq] = *rec.Task
			}
		case spoolOpDone:
			delete(open, rec.Seq)
		}
	}
	out := make([]SpooledTask, 0, len(open))
	for seq, task := range open {
		out = append(out, SpooledTask{Seq: seq, Task: task})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

func (s *Spool) compact() error {
	pending, err := s.pending()
	if err != nil {
		return err
	}
	if err := s.file.Truncate(0); err != nil {
		return fmt.Errorf("failed to truncate spool: %w", err)
	}
	if _, err := s.file.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("failed to seek spool: %w", err)
	}
	for _, p := range pending {
		task := p.Task
		data, err := json.Marshal(spoolRecord{Op: spoolOpEnqueue, Seq: p.Seq, Task: &task})
		if err != nil {
			return fmt.Errorf("failed to marshal spool record: %w", err)
		}
		if _, err := s.file.Write(append(data, '\n')); err != nil {
			return fmt.Errorf("failed to write spool record: %w", err)
		}
	}
	if err := s.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync spool: %w", err)
	}
	s.doneSince = 0
	return nil
}
