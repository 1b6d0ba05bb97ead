package registry

import (
	"testing"
	"time"

	"dialog-rag/internal/db"
	"dialog-rag/internal/source"
)

func TestReconcile(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	snapshot := []source.FileMeta{
		{ResourceID: "a", Path: "a.pdf", MD5: "hash-a", Size: 10},
		{ResourceID: "b", Path: "b.pdf", MD5: "hash-b2", Size: 20},
		{ResourceID: "c", Path: "c.pdf", MD5: "hash-c", Size: 30},
	}
	stored := []db.KBDocument{
		{ID: 2, ResourceID: "b", Path: "b.pdf", ContentHash: "hash-b1", SizeBytes: 20, ModifiedAt: now},
		{ID: 3, ResourceID: "c", Path: "c.pdf", ContentHash: "hash-c", SizeBytes: 30, ModifiedAt: now},
		{ID: 4, ResourceID: "d", Path: "d.pdf", ContentHash: "hash-d", SizeBytes: 40, ModifiedAt: now},
	}

	diff := Reconcile(snapshot, stored)

	if len(diff.New) != 1 || diff.New[0].ResourceID != "a" {
		t.Errorf("New = %+v, want just resource a", diff.New)
	}
	if len(diff.Changed) != 1 || diff.Changed[0].ResourceID != "b" {
		t.Errorf("Changed = %+v, want just resource b", diff.Changed)
	}
	if len(diff.Unchanged) != 1 || diff.Unchanged[0].ID != 3 {
		t.Errorf("Unchanged = %+v, want just document 3", diff.Unchanged)
	}
	if len(diff.Deleted) != 1 || diff.Deleted[0].ID != 4 {
		t.Errorf("Deleted = %+v, want just document 4", diff.Deleted)
	}
}

func TestReconcileRenameKeepsIdentity(t *testing.T) {
	// Same resource id under a new path is the same document, not a
	// delete-and-recreate.
	snapshot := []source.FileMeta{
		{ResourceID: "a", Path: "renamed.pdf", MD5: "hash-a", Size: 10},
	}
	stored := []db.KBDocument{
		{ID: 1, ResourceID: "a", Path: "original.pdf", ContentHash: "hash-a", SizeBytes: 10},
	}

	diff := Reconcile(snapshot, stored)

	if len(diff.New) != 0 || len(diff.Deleted) != 0 {
		t.Errorf("rename produced New=%d Deleted=%d, want 0/0", len(diff.New), len(diff.Deleted))
	}
	if len(diff.Unchanged) != 1 {
		t.Errorf("rename with same content should be unchanged, got %+v", diff)
	}
}

func TestReconcilePathFallback(t *testing.T) {
	// Without resource ids, path is the identity key.
	snapshot := []source.FileMeta{
		{Path: "doc.txt", MD5: "new-hash", Size: 5},
	}
	stored := []db.KBDocument{
		{ID: 1, Path: "doc.txt", ContentHash: "old-hash", SizeBytes: 5},
	}

	diff := Reconcile(snapshot, stored)

	if len(diff.Changed) != 1 {
		t.Fatalf("want path-matched document classified changed, got %+v", diff)
	}
}

func TestChangedWithoutHashes(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		meta source.FileMeta
		doc  db.KBDocument
		want bool
	}{
		{
			name: "same time and size",
			meta: source.FileMeta{Modified: base, Size: 10},
			doc:  db.KBDocument{ContentHash: "h", ModifiedAt: base, SizeBytes: 10},
			want: false,
		},
		{
			name: "newer modified time",
			meta: source.FileMeta{Modified: base.Add(time.Hour), Size: 10},
			doc:  db.KBDocument{ContentHash: "h", ModifiedAt: base, SizeBytes: 10},
			want: true,
		},
		{
			name: "size differs",
			meta: source.FileMeta{Modified: base, Size: 11},
			doc:  db.KBDocument{ContentHash: "h", ModifiedAt: base, SizeBytes: 10},
			want: true,
		},
		{
			name: "never indexed is always changed",
			meta: source.FileMeta{MD5: "x", Modified: base, Size: 10},
			doc:  db.KBDocument{ModifiedAt: base, SizeBytes: 10},
			want: true,
		},
		{
			name: "never indexed without source hash",
			meta: source.FileMeta{Modified: base, Size: 10},
			doc:  db.KBDocument{ModifiedAt: base, SizeBytes: 10},
			want: true,
		},
		{
			name: "hash wins over matching metadata",
			meta: source.FileMeta{MD5: "x", Modified: base, Size: 10},
			doc:  db.KBDocument{ContentHash: "y", ModifiedAt: base, SizeBytes: 10},
			want: true,
		},
		{
			name: "hash wins over differing metadata",
			meta: source.FileMeta{MD5: "x", Modified: base.Add(time.Hour), Size: 99},
			doc:  db.KBDocument{ContentHash: "x", ModifiedAt: base, SizeBytes: 10},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := changed(tt.meta, tt.doc); got != tt.want {
				t.Errorf("changed() = %v, want %v", got, tt.want)
			}
		})
	}
}
