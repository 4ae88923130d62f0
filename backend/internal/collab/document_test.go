package collab

import "testing"

func TestDocument_RevisionIncrementsByOne(t *testing.T) {
	doc := NewTripDocument("trip-1")
	if doc.Revision() != 0 {
		t.Fatalf("Revision() = %d, want 0", doc.Revision())
	}

	rev, err := doc.ApplyField("title", "Tokyo 2026")
	if err != nil {
		t.Fatalf("ApplyField() error = %v", err)
	}
	if rev != 1 {
		t.Fatalf("ApplyField() revision = %d, want 1", rev)
	}

	rev, _ = doc.ApplyListInsert("stops", 0, ListItem{ItemID: "item-1", Fields: map[string]any{"name": "Shinjuku"}})
	if rev != 2 {
		t.Fatalf("ApplyListInsert() revision = %d, want 2", rev)
	}
	rev, _ = doc.ApplyListInsert("stops", 1, ListItem{ItemID: "item-2"})
	rev, _ = doc.ApplyListMove("stops", 1, 0, "item-2")
	rev, err = doc.ApplyListRemove("stops", 0, "item-2")
	if err != nil {
		t.Fatalf("ApplyListRemove() error = %v", err)
	}
	// 每次接受的操作版本严格 +1
	if rev != 5 {
		t.Fatalf("revision after 5 ops = %d, want 5", rev)
	}
}

func TestDocument_ItemPathField(t *testing.T) {
	doc := NewTripDocument("trip-1")
	doc.ApplyListInsert("stops", 0, ListItem{ItemID: "item-1", Fields: map[string]any{}})

	if _, err := doc.ApplyField("stops[0].date", "2026-06-01"); err != nil {
		t.Fatalf("ApplyField(stops[0].date) error = %v", err)
	}
	got, ok := doc.Field("stops[0].date")
	if !ok || got != "2026-06-01" {
		t.Fatalf("Field(stops[0].date) = %v, want 2026-06-01", got)
	}

	// 越界的列表路径要报冲突，不能落到标量字段上
	if _, err := doc.ApplyField("stops[5].date", "x"); err == nil {
		t.Fatalf("ApplyField(stops[5].date) error = nil, want ErrConflictRejected")
	}
}

func TestDocument_RemoveChecksIdentity(t *testing.T) {
	doc := NewTripDocument("trip-1")
	doc.ApplyListInsert("stops", 0, ListItem{ItemID: "item-1"})
	doc.ApplyListInsert("stops", 1, ListItem{ItemID: "item-2"})

	// index 对但 itemID 不对：拒绝
	if _, err := doc.ApplyListRemove("stops", 0, "item-2"); err == nil {
		t.Fatalf("ApplyListRemove with wrong itemID: error = nil, want ErrConflictRejected")
	}
	if doc.ListLen("stops") != 2 {
		t.Fatalf("ListLen() = %d, want 2 (rejected remove must not mutate)", doc.ListLen("stops"))
	}
}

func TestDocument_MoveKeepsAllItems(t *testing.T) {
	doc := NewTripDocument("trip-1")
	doc.ApplyListInsert("stops", 0, ListItem{ItemID: "a"})
	doc.ApplyListInsert("stops", 1, ListItem{ItemID: "b"})
	doc.ApplyListInsert("stops", 2, ListItem{ItemID: "c"})

	if _, err := doc.ApplyListMove("stops", 0, 2, "a"); err != nil {
		t.Fatalf("ApplyListMove() error = %v", err)
	}
	wantOrder := []string{"b", "c", "a"}
	for i, want := range wantOrder {
		if got := doc.IndexOfItem("stops", want); got != i {
			t.Fatalf("IndexOfItem(%s) = %d, want %d", want, got, i)
		}
	}
}

func TestDocument_SnapshotRoundTrip(t *testing.T) {
	doc := NewTripDocument("trip-1")
	doc.ApplyField("title", "Kyoto")
	doc.ApplyListInsert("checklist", 0, ListItem{ItemID: "c-1", Fields: map[string]any{"text": "passport"}})

	rev, payload, err := doc.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	if rev != 2 {
		t.Fatalf("Snapshot() revision = %d, want 2", rev)
	}

	restored, err := DocumentFromSnapshot("trip-1", rev, payload)
	if err != nil {
		t.Fatalf("DocumentFromSnapshot() error = %v", err)
	}
	if restored.Revision() != 2 {
		t.Fatalf("restored Revision() = %d, want 2", restored.Revision())
	}
	if got, _ := restored.Field("title"); got != "Kyoto" {
		t.Fatalf("restored Field(title) = %v, want Kyoto", got)
	}
	if got := restored.IndexOfItem("checklist", "c-1"); got != 0 {
		t.Fatalf("restored IndexOfItem(c-1) = %d, want 0", got)
	}
}
