package vfs

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestLedger(t *testing.T) *Ledger {
	t.Helper()
	l, err := OpenLedger(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func testOp(id string, opType OperationType, category SourceCategory, completedAt time.Time) OperationRecord {
	return OperationRecord{
		ID:             id,
		Type:           opType,
		SourceID:       "src",
		SourceCategory: category,
		SourcePath:     "/" + id,
		BytesProcessed: 1,
		Status:         OpCompleted,
		StartedAt:      completedAt.Add(-time.Second),
		CompletedAt:    completedAt,
	}
}

func TestLedger_RecordAndList(t *testing.T) {
	l := openTestLedger(t)
	base := time.Now()

	require.NoError(t, l.Record(testOp("op1", OpCopy, CategoryLocal, base)))
	require.NoError(t, l.Record(testOp("op2", OpDelete, CategoryLocal, base.Add(time.Second))))

	ops, err := l.List(nil)
	require.NoError(t, err)
	require.Len(t, ops, 2)
	assert.Equal(t, "op2", ops[0].ID, "newest first")
	assert.Equal(t, "op1", ops[1].ID)
	assert.Equal(t, OpCopy, ops[1].Type)
	assert.Equal(t, "/op1", ops[1].SourcePath)
}

func TestLedger_CategoryFilter(t *testing.T) {
	l := openTestLedger(t)
	base := time.Now()

	require.NoError(t, l.Record(testOp("loc", OpCopy, CategoryLocal, base)))
	require.NoError(t, l.Record(testOp("cld", OpUpload, CategoryCloud, base)))
	require.NoError(t, l.Record(testOp("net", OpDownload, CategoryNetwork, base)))

	ops, err := l.List([]SourceCategory{CategoryCloud, CategoryNetwork})
	require.NoError(t, err)
	assert.Len(t, ops, 2)
	for _, op := range ops {
		assert.NotEqual(t, CategoryLocal, op.SourceCategory)
	}
}

func TestLedger_RetentionPerCategory(t *testing.T) {
	l := openTestLedger(t)
	l.SetRetention(3)
	base := time.Now()

	for i := 0; i < 6; i++ {
		op := testOp(fmt.Sprintf("loc%d", i), OpCopy, CategoryLocal, base.Add(time.Duration(i)*time.Second))
		require.NoError(t, l.Record(op))
	}
	// A second category keeps its own budget.
	require.NoError(t, l.Record(testOp("cld0", OpUpload, CategoryCloud, base)))

	ops, err := l.List([]SourceCategory{CategoryLocal})
	require.NoError(t, err)
	require.Len(t, ops, 3)
	assert.Equal(t, "loc5", ops[0].ID)
	assert.Equal(t, "loc3", ops[2].ID)

	cloud, err := l.List([]SourceCategory{CategoryCloud})
	require.NoError(t, err)
	assert.Len(t, cloud, 1)
}

func TestLedger_FailedRecordKeepsError(t *testing.T) {
	l := openTestLedger(t)
	op := testOp("bad", OpMove, CategoryLocal, time.Now())
	op.Status = OpFailed
	op.Error = "disk full"
	op.DestPath = "/dest"
	require.NoError(t, l.Record(op))

	ops, err := l.List(nil)
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, OpFailed, ops[0].Status)
	assert.Equal(t, "disk full", ops[0].Error)
	assert.Equal(t, "/dest", ops[0].DestPath)
}

func TestLedger_CountByStatus(t *testing.T) {
	l := openTestLedger(t)
	base := time.Now()

	require.NoError(t, l.Record(testOp("a", OpCopy, CategoryLocal, base)))
	require.NoError(t, l.Record(testOp("b", OpCopy, CategoryLocal, base)))
	failed := testOp("c", OpDelete, CategoryLocal, base)
	failed.Status = OpFailed
	require.NoError(t, l.Record(failed))

	completed, failedCount, err := l.CountByStatus()
	require.NoError(t, err)
	assert.Equal(t, 2, completed)
	assert.Equal(t, 1, failedCount)
}

func TestLedger_ReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	l, err := OpenLedger(path)
	require.NoError(t, err)
	require.NoError(t, l.Record(testOp("keep", OpCopy, CategoryLocal, time.Now())))
	require.NoError(t, l.Close())

	l2, err := OpenLedger(path)
	require.NoError(t, err)
	defer l2.Close()

	ops, err := l2.List(nil)
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, "keep", ops[0].ID)
}
