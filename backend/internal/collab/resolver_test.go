package collab

import (
	"errors"
	"testing"
	"time"
)

// 搭建一个 revision=5、带两个 stop 的文档和同步的日志
func setupDocAndLog(t *testing.T) (*TripDocument, *OperationLog) {
	t.Helper()
	doc := NewTripDocument("trip-1")
	doc.ApplyField("title", "Tokyo")         // rev 1
	doc.ApplyField("destination", "Japan")   // rev 2
	doc.ApplyListInsert("stops", 0, ListItem{ItemID: "item-7", Fields: map[string]any{}}) // rev 3
	doc.ApplyListInsert("stops", 1, ListItem{ItemID: "item-8", Fields: map[string]any{}}) // rev 4
	doc.ApplyField("stops[0].date", "2026-05-30") // rev 5

	log := NewOperationLog(0)
	ops := []Operation{
		{OpID: "seed-1", TripID: "trip-1", Kind: KindSetField, Path: "title", Value: "Tokyo"},
		{OpID: "seed-2", TripID: "trip-1", Kind: KindSetField, Path: "destination", Value: "Japan"},
		{OpID: "seed-3", TripID: "trip-1", Kind: KindInsertItem, List: "stops", Index: 0, Item: &ListItem{ItemID: "item-7"}},
		{OpID: "seed-4", TripID: "trip-1", Kind: KindInsertItem, List: "stops", Index: 1, Item: &ListItem{ItemID: "item-8"}},
		{OpID: "seed-5", TripID: "trip-1", Kind: KindSetField, Path: "stops[0].date", Value: "2026-05-30"},
	}
	for i, op := range ops {
		if err := log.Append(LogEntry{Op: op, AppliedRevision: uint64(i + 1), AppliedAt: time.Now(), AuthorID: 1}); err != nil {
			t.Fatalf("seed Append error = %v", err)
		}
	}
	return doc, log
}

func TestResolve_UpToDateAcceptsAsIs(t *testing.T) {
	doc, log := setupDocAndLog(t)
	op := Operation{OpID: "op-1", TripID: "trip-1", BaseRevision: 5, Kind: KindSetField, Path: "title", Value: "Osaka"}
	res, err := Resolve(op, doc, log)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if res.Replayed || res.Op.Value != "Osaka" {
		t.Fatalf("Resolve() = %+v, want accepted as-is", res)
	}
}

func TestResolve_FutureRevisionRejected(t *testing.T) {
	doc, log := setupDocAndLog(t)
	op := Operation{OpID: "op-1", TripID: "trip-1", BaseRevision: 9, Kind: KindSetField, Path: "title", Value: "x"}
	if _, err := Resolve(op, doc, log); !errors.Is(err, ErrInvalidRevision) {
		t.Fatalf("Resolve(base=9) error = %v, want ErrInvalidRevision", err)
	}
}

// A、B 都基于 rev=5 写同一个字段，后到者照常覆盖（last-write-wins），
// 最终所有客户端收敛到后到者的值，绝不出现合并或破坏的值。
func TestResolve_ConcurrentSetFieldLastWriteWins(t *testing.T) {
	doc, log := setupDocAndLog(t)

	opA := Operation{OpID: "op-a", TripID: "trip-1", BaseRevision: 5, Kind: KindSetField, Path: "stops[0].date", Value: "2026-06-01"}
	resA, err := Resolve(opA, doc, log)
	if err != nil {
		t.Fatalf("Resolve(A) error = %v", err)
	}
	rev, err := doc.ApplyField(resA.Op.Path, resA.Op.Value)
	if err != nil {
		t.Fatalf("apply A error = %v", err)
	}
	log.Append(LogEntry{Op: resA.Op, AppliedRevision: rev, AppliedAt: time.Now(), AuthorID: 1})

	// B 的 base 已落后（5 < 6），同路径 set_field：照单全收
	opB := Operation{OpID: "op-b", TripID: "trip-1", BaseRevision: 5, Kind: KindSetField, Path: "stops[0].date", Value: "2026-06-02"}
	resB, err := Resolve(opB, doc, log)
	if err != nil {
		t.Fatalf("Resolve(B) error = %v", err)
	}
	rev, err = doc.ApplyField(resB.Op.Path, resB.Op.Value)
	if err != nil {
		t.Fatalf("apply B error = %v", err)
	}
	if rev != 7 {
		t.Fatalf("revision after both = %d, want 7", rev)
	}
	if got, _ := doc.Field("stops[0].date"); got != "2026-06-02" {
		t.Fatalf("Field(stops[0].date) = %v, want 2026-06-02", got)
	}
}

// 并发 move 先落地后，stale 的 remove 按 ItemID 重新定位后接受。
func TestResolve_StaleRemoveRebasedByIdentity(t *testing.T) {
	doc, log := setupDocAndLog(t)

	// rev 5 -> 6：item-7 被移到末尾
	move := Operation{OpID: "op-move", TripID: "trip-1", BaseRevision: 5, Kind: KindMoveItem, List: "stops", Index: 0, ToIndex: 1, ItemID: "item-7"}
	resM, err := Resolve(move, doc, log)
	if err != nil {
		t.Fatalf("Resolve(move) error = %v", err)
	}
	rev, err := doc.ApplyListMove(resM.Op.List, resM.Op.Index, resM.Op.ToIndex, resM.Op.ItemID)
	if err != nil {
		t.Fatalf("apply move error = %v", err)
	}
	log.Append(LogEntry{Op: resM.Op, AppliedRevision: rev, AppliedAt: time.Now(), AuthorID: 2})

	// remove 仍基于 rev=5，声称 item-7 在 index 0；实际已在 index 1
	remove := Operation{OpID: "op-remove", TripID: "trip-1", BaseRevision: 5, Kind: KindRemoveItem, List: "stops", Index: 0, ItemID: "item-7"}
	resR, err := Resolve(remove, doc, log)
	if err != nil {
		t.Fatalf("Resolve(remove) error = %v, want accepted (item-7 still exists)", err)
	}
	if resR.Op.Index != 1 {
		t.Fatalf("rebased Index = %d, want 1", resR.Op.Index)
	}
	rev, err = doc.ApplyListRemove(resR.Op.List, resR.Op.Index, resR.Op.ItemID)
	if err != nil {
		t.Fatalf("apply remove error = %v", err)
	}
	if rev != 7 {
		t.Fatalf("revision = %d, want 7", rev)
	}
	if doc.IndexOfItem("stops", "item-7") != -1 {
		t.Fatalf("item-7 still present after remove")
	}
}

// 项已被并发删除：按身份找不到了，只能拒绝，客户端基于新快照重做。
func TestResolve_RemoveOfDeletedItemRejected(t *testing.T) {
	doc, log := setupDocAndLog(t)

	del := Operation{OpID: "op-del", TripID: "trip-1", BaseRevision: 5, Kind: KindRemoveItem, List: "stops", Index: 0, ItemID: "item-7"}
	resD, _ := Resolve(del, doc, log)
	rev, _ := doc.ApplyListRemove(resD.Op.List, resD.Op.Index, resD.Op.ItemID)
	log.Append(LogEntry{Op: resD.Op, AppliedRevision: rev, AppliedAt: time.Now(), AuthorID: 1})

	stale := Operation{OpID: "op-stale", TripID: "trip-1", BaseRevision: 5, Kind: KindMoveItem, List: "stops", Index: 0, ToIndex: 1, ItemID: "item-7"}
	if _, err := Resolve(stale, doc, log); !errors.Is(err, ErrConflictRejected) {
		t.Fatalf("Resolve(move of deleted item) error = %v, want ErrConflictRejected", err)
	}
}

// 幂等：窗口内同 opId 重新提交，拿回当初的结果，文档不再动。
func TestResolve_DuplicateOpIDReplays(t *testing.T) {
	doc, log := setupDocAndLog(t)

	op := Operation{OpID: "op-once", TripID: "trip-1", BaseRevision: 5, Kind: KindSetField, Path: "title", Value: "Nara"}
	res, err := Resolve(op, doc, log)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	rev, _ := doc.ApplyField(res.Op.Path, res.Op.Value)
	log.Append(LogEntry{Op: res.Op, AppliedRevision: rev, AppliedAt: time.Now(), AuthorID: 1})

	// 同 opId 重发（甚至 baseRevision 也变了），必须命中幂等路径
	dup := Operation{OpID: "op-once", TripID: "trip-1", BaseRevision: 6, Kind: KindSetField, Path: "title", Value: "Nara"}
	res2, err := Resolve(dup, doc, log)
	if err != nil {
		t.Fatalf("Resolve(dup) error = %v", err)
	}
	if !res2.Replayed {
		t.Fatalf("Resolve(dup).Replayed = false, want true")
	}
	if res2.Prev.AppliedRevision != rev {
		t.Fatalf("Replayed AppliedRevision = %d, want %d", res2.Prev.AppliedRevision, rev)
	}
}

// 列表操作必须带稳定身份，空身份的项会让后续按 ItemID 的对账失效
func TestResolve_ListOpsRequireItemIdentity(t *testing.T) {
	doc, log := setupDocAndLog(t)

	noItem := Operation{OpID: "op-1", TripID: "trip-1", BaseRevision: 5, Kind: KindInsertItem, List: "stops", Index: 0}
	if _, err := Resolve(noItem, doc, log); !errors.Is(err, ErrInvalidOperation) {
		t.Fatalf("Resolve(insert without item) error = %v, want ErrInvalidOperation", err)
	}

	emptyID := Operation{OpID: "op-2", TripID: "trip-1", BaseRevision: 5, Kind: KindInsertItem, List: "stops", Index: 0, Item: &ListItem{}}
	if _, err := Resolve(emptyID, doc, log); !errors.Is(err, ErrInvalidOperation) {
		t.Fatalf("Resolve(insert with empty itemId) error = %v, want ErrInvalidOperation", err)
	}

	blindRemove := Operation{OpID: "op-3", TripID: "trip-1", BaseRevision: 5, Kind: KindRemoveItem, List: "stops", Index: 0}
	if _, err := Resolve(blindRemove, doc, log); !errors.Is(err, ErrInvalidOperation) {
		t.Fatalf("Resolve(remove without itemId) error = %v, want ErrInvalidOperation", err)
	}
	if doc.ListLen("stops") != 2 {
		t.Fatalf("ListLen() = %d, want 2 (rejected ops must not mutate)", doc.ListLen("stops"))
	}
}

// 同样的输入永远得到同样的结论
func TestResolve_Deterministic(t *testing.T) {
	doc, log := setupDocAndLog(t)
	op := Operation{OpID: "op-d", TripID: "trip-1", BaseRevision: 3, Kind: KindInsertItem, List: "stops", Index: 99, Item: &ListItem{ItemID: "item-9"}}

	first, err1 := Resolve(op, doc, log)
	second, err2 := Resolve(op, doc, log)
	if err1 != nil || err2 != nil {
		t.Fatalf("Resolve() errors = %v, %v", err1, err2)
	}
	if first.Op.Index != second.Op.Index {
		t.Fatalf("Resolve() not deterministic: %d vs %d", first.Op.Index, second.Op.Index)
	}
	// index 被夹到当前列表长度
	if first.Op.Index != doc.ListLen("stops") {
		t.Fatalf("clamped Index = %d, want %d", first.Op.Index, doc.ListLen("stops"))
	}
}
