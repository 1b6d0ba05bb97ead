// Package registry reconciles a fresh source listing against the stored
// document set, classifying every file as new, changed, unchanged or
// deleted. The diff is pure: it mutates nothing, so an aborted sync leaves
// no trace.
package registry

import (
	"dialog-rag/internal/db"
	"dialog-rag/internal/source"
)

// Diff partitions one reconciliation pass.
type Diff struct {
	New       []source.FileMeta
	Changed   []source.FileMeta
	Unchanged []db.KBDocument
	Deleted   []db.KBDocument
}

// identityKey is resource_id when the store reports one, else path.
func identityKey(resourceID, path string) string {
	if resourceID != "" {
		return "r:" + resourceID
	}
	return "p:" + path
}

// Reconcile diffs the snapshot against stored documents. A document counts
// as changed when it has never been indexed, or its content hash differs;
// when the source reports no hash, modified time or size decide.
func Reconcile(snapshot []source.FileMeta, stored []db.KBDocument) Diff {
	byKey := make(map[string]db.KBDocument, len(stored))
	for _, doc := range stored {
		byKey[identityKey(doc.ResourceID, doc.Path)] = doc
	}

	var diff Diff
	seen := make(map[string]bool, len(snapshot))
	for _, meta := range snapshot {
		key := identityKey(meta.ResourceID, meta.Path)
		seen[key] = true

		doc, ok := byKey[key]
		if !ok {
			diff.New = append(diff.New, meta)
			continue
		}
		if changed(meta, doc) {
			diff.Changed = append(diff.Changed, meta)
		} else {
			diff.Unchanged = append(diff.Unchanged, doc)
		}
	}

	for _, doc := range stored {
		if !seen[identityKey(doc.ResourceID, doc.Path)] {
			diff.Deleted = append(diff.Deleted, doc)
		}
	}
	return diff
}

func changed(meta source.FileMeta, doc db.KBDocument) bool {
	// An empty stored hash means the document was registered but never
	// successfully indexed (download, extraction or embedding failed, or a
	// password was missing). It must be attempted again on every pass.
	if doc.ContentHash == "" {
		return true
	}
	if meta.MD5 != "" {
		return meta.MD5 != doc.ContentHash
	}
	if !meta.Modified.IsZero() && !meta.Modified.Equal(doc.ModifiedAt) {
		return true
	}
	return meta.Size != doc.SizeBytes
}
