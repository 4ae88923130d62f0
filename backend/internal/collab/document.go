package collab

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// TripDocument 单个行程在内存里的可编辑投影。持久层才是 source of truth，
// 这里只是会话期间的工作副本。
//
// 字段分两类：
//   - fields: 标量字段（title / destination / startDate / status ...）
//   - lists:  有序列表（stops / checklist ...），每项带稳定 ItemID
//
// 不加锁：单写者约定由 Session 的串行化保证，Document 本身只做纯内存变更。
type TripDocument struct {
	tripID   string
	revision uint64
	fields   map[string]any
	lists    map[string][]ListItem
}

// 快照的落库格式（JSON）。
type SnapshotPayload struct {
	Fields map[string]any        `json:"fields"`
	Lists  map[string][]ListItem `json:"lists"`
}

func NewTripDocument(tripID string) *TripDocument {
	return &TripDocument{
		tripID: tripID,
		fields: make(map[string]any),
		lists:  make(map[string][]ListItem),
	}
}

// 从持久化快照恢复。revision 直接继承快照的值（重启时允许“跳跃”到快照版本）。
func DocumentFromSnapshot(tripID string, revision uint64, payload string) (*TripDocument, error) {
	doc := NewTripDocument(tripID)
	doc.revision = revision
	if payload == "" {
		return doc, nil
	}
	var snap SnapshotPayload
	if err := json.Unmarshal([]byte(payload), &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot for trip %s: %w", tripID, err)
	}
	if snap.Fields != nil {
		doc.fields = snap.Fields
	}
	if snap.Lists != nil {
		doc.lists = snap.Lists
	}
	return doc, nil
}

func (d *TripDocument) TripID() string   { return d.tripID }
func (d *TripDocument) Revision() uint64 { return d.revision }

// Snapshot 导出 (revision, payload)。给新加入的客户端做初始状态，
// 也给 store 在会话回收时落库。返回的是深拷贝后的 JSON，调用方随便用。
func (d *TripDocument) Snapshot() (uint64, string, error) {
	b, err := json.Marshal(SnapshotPayload{Fields: d.fields, Lists: d.lists})
	if err != nil {
		return 0, "", err
	}
	return d.revision, string(b), nil
}

// ApplyField 设置一个标量字段（或列表项里的字段，路径形如 "stops[2].date"）。
// 版本号 +1。
func (d *TripDocument) ApplyField(path string, value any) (uint64, error) {
	if list, idx, field, ok := parseItemPath(path); ok {
		items := d.lists[list]
		if idx < 0 || idx >= len(items) {
			return 0, fmt.Errorf("%w: path %s index out of range", ErrConflictRejected, path)
		}
		if items[idx].Fields == nil {
			items[idx].Fields = make(map[string]any)
		}
		items[idx].Fields[field] = value
		d.revision++
		return d.revision, nil
	}
	d.fields[path] = value
	d.revision++
	return d.revision, nil
}

// ApplyListInsert 在 index 处插入一项。index 超出尾部则 append。
func (d *TripDocument) ApplyListInsert(list string, index int, item ListItem) (uint64, error) {
	items := d.lists[list]
	if index < 0 {
		index = 0
	}
	if index > len(items) {
		index = len(items)
	}
	items = append(items, ListItem{})
	copy(items[index+1:], items[index:])
	items[index] = item
	d.lists[list] = items
	d.revision++
	return d.revision, nil
}

// ApplyListRemove 删除 index 处的项，itemID 必须和当前位置上的项一致。
func (d *TripDocument) ApplyListRemove(list string, index int, itemID string) (uint64, error) {
	items := d.lists[list]
	if index < 0 || index >= len(items) || items[index].ItemID != itemID {
		return 0, fmt.Errorf("%w: item %s not at %s[%d]", ErrConflictRejected, itemID, list, index)
	}
	d.lists[list] = append(items[:index], items[index+1:]...)
	d.revision++
	return d.revision, nil
}

// ApplyListMove 把 from 处的项移动到 to。itemID 同样按身份校验。
func (d *TripDocument) ApplyListMove(list string, from, to int, itemID string) (uint64, error) {
	items := d.lists[list]
	if from < 0 || from >= len(items) || items[from].ItemID != itemID {
		return 0, fmt.Errorf("%w: item %s not at %s[%d]", ErrConflictRejected, itemID, list, from)
	}
	if to < 0 {
		to = 0
	}
	if to >= len(items) {
		to = len(items) - 1
	}
	moved := items[from]
	items = append(items[:from], items[from+1:]...)
	items = append(items, ListItem{})
	copy(items[to+1:], items[to:])
	items[to] = moved
	d.lists[list] = items
	d.revision++
	return d.revision, nil
}

// IndexOfItem 按 ItemID 找当前下标，找不到返回 -1。冲突解析用它做 rebase。
func (d *TripDocument) IndexOfItem(list, itemID string) int {
	for i, item := range d.lists[list] {
		if item.ItemID == itemID {
			return i
		}
	}
	return -1
}

func (d *TripDocument) ListLen(list string) int { return len(d.lists[list]) }

// Field 读单个标量字段（测试和 REST 查询用）。
func (d *TripDocument) Field(path string) (any, bool) {
	if list, idx, field, ok := parseItemPath(path); ok {
		items := d.lists[list]
		if idx < 0 || idx >= len(items) || items[idx].Fields == nil {
			return nil, false
		}
		v, ok := items[idx].Fields[field]
		return v, ok
	}
	v, ok := d.fields[path]
	return v, ok
}

// parseItemPath 解析 "stops[2].date" 形式的路径。
// 不是该形式（没有 [i].）就返回 ok=false，按普通标量字段处理。
func parseItemPath(path string) (list string, index int, field string, ok bool) {
	open := strings.IndexByte(path, '[')
	if open <= 0 {
		return "", 0, "", false
	}
	close := strings.IndexByte(path[open:], ']')
	if close < 0 {
		return "", 0, "", false
	}
	close += open
	rest := path[close+1:]
	if !strings.HasPrefix(rest, ".") || len(rest) < 2 {
		return "", 0, "", false
	}
	idx, err := strconv.Atoi(path[open+1 : close])
	if err != nil {
		return "", 0, "", false
	}
	return path[:open], idx, rest[1:], true
}
