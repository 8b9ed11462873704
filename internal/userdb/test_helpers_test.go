package userdb

import (
	"context"
	"encoding/json"
	"testing"
)

type fakeRowSource struct {
	rows  map[string]map[int64]map[string]any
	err   error
	calls int
}

func (f *fakeRowSource) FetchRow(_ context.Context, table string, rowID int64) (map[string]any, bool, error) {
	f.calls++
	if f.err != nil {
		return nil, false, f.err
	}
	columns, ok := f.rows[table][rowID]
	return columns, ok, nil
}

func mustSnapshot(t *testing.T) *Snapshot {
	t.Helper()
	snap, err := OpenSnapshot(nil)
	if err != nil {
		t.Fatalf("unexpected snapshot error: %v", err)
	}
	t.Cleanup(snap.Discard)
	return snap
}

func mustApplier(t *testing.T, rows RowSource) *Applier {
	t.Helper()
	if rows == nil {
		rows = &fakeRowSource{}
	}
	applier, err := NewApplier(ApplierConfig{Rows: rows})
	if err != nil {
		t.Fatalf("unexpected applier error: %v", err)
	}
	return applier
}

func mustChangelog(t *testing.T, payload string) Changelog {
	t.Helper()
	var changelog Changelog
	if err := json.Unmarshal([]byte(payload), &changelog); err != nil {
		t.Fatalf("unexpected changelog decode error: %v", err)
	}
	return changelog
}

func mustCount(t *testing.T, snap *Snapshot, model any) int64 {
	t.Helper()
	var count int64
	if err := snap.DB().Model(model).Count(&count).Error; err != nil {
		t.Fatalf("unexpected count error: %v", err)
	}
	return count
}
