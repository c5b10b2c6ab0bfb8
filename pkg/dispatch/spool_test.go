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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-devsub/pkg/common"
)

func TestSpoolPending(t *testing.T) {
	s, err := OpenSpool(filepath.Join(t.TempDir(), "spool.jsonl"))
	require.NoError(t, err)
	defer s.Close()

	seqA, err := s.Append(common.Task{ID: "a", Name: common.TaskRunSubscribe})
	require.NoError(t, err)
	seqB, err := s.Append(common.Task{ID: "b", Name: common.TaskRunUnsubscribe})
	require.NoError(t, err)
	assert.Greater(t, seqB, seqA)

	require.NoError(t, s.MarkDone(seqA))

	pending, err := s.Pending()
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "b", pending[0].Task.ID)
	assert.Equal(t, seqB, pending[0].Seq)
}

func TestSpoolCompact(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spool.jsonl")
	s, err := OpenSpool(path)
	require.NoError(t, err)
	defer s.Close()
	s.compactEvery = 2

	seqs := make([]uint64, 0, 3)
	for _, id := range []string{"a", "b", "c"} {
		seq, err := s.Append(common.Task{ID: id, Name: common.TaskRunSubscribe})
		require.NoError(t, err)
		seqs = append(seqs, seq)
	}
	require.NoError(t, s.MarkDone(seqs[0]))
	require.NoError(t, s.MarkDone(seqs[1]))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 1, countLines(data))

	pending, err := s.Pending()
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "c", pending[0].Task.ID)
}

func TestSpoolSurvivesTornLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spool.jsonl")
	s, err := OpenSpool(path)
	require.NoError(t, err)
	seq, err := s.Append(common.Task{ID: "a", Name: common.TaskRunSubscribe})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0600)
	require.NoError(t, err)
	_, err = f.WriteString(`{"op":"enq`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	s, err = OpenSpool(path)
	require.NoError(t, err)
	defer s.Close()

	next, err := s.Append(common.Task{ID: "b", Name: common.TaskRunSubscribe})
	require.NoError(t, err)
	assert.Greater(t, next, seq)

	pending, err := s.Pending()
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "a", pending[0].Task.ID)
	assert.Equal(t, "b", pending[1].Task.ID)
}

func countLines(data []byte) int {
	n := 0
	for _, b := range data {
		if b == '\n' {
			n++
		}
	}
	return n
}
