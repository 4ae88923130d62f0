package collab

type OpKind string

const (
	KindSetField   OpKind = "set_field"
	KindInsertItem OpKind = "insert_item"
	KindRemoveItem OpKind = "remove_item"
	KindMoveItem   OpKind = "move_item"
)

// 列表项：index 只是当下的位置，ItemID 才是身份。
// 并发场景下 index 会漂移，所以冲突检测一律按 ItemID 对账。
type ListItem struct {
	ItemID string         `json:"itemId"`
	Fields map[string]any `json:"fields,omitempty"`
}

// Operation 客户端提交的一次结构化编辑。创建后不可变。
// 闭合的 tagged variant：Kind 决定哪些字段有效。
//   - set_field:   Path + Value
//   - insert_item: List + Index + Item
//   - remove_item: List + Index + ItemID
//   - move_item:   List + Index(from) + ToIndex + ItemID
type Operation struct {
	OpID         string `json:"opId"` // 客户端生成，幂等重试的 key
	TripID       string `json:"tripId"`
	BaseRevision uint64 `json:"baseRevision"`
	Kind         OpKind `json:"kind"`

	Path    string    `json:"path,omitempty"`  // set_field 的字段路径，如 "title" 或 "stops[2].date"
	Value   any       `json:"value,omitempty"` // set_field 的值
	List    string    `json:"list,omitempty"`  // 列表路径，如 "stops"
	Index   int       `json:"index,omitempty"`
	ToIndex int       `json:"toIndex,omitempty"`
	ItemID  string    `json:"itemId,omitempty"`
	Item    *ListItem `json:"item,omitempty"` // insert_item 的新项
}

// 判断两个操作是否落在同一个可冲突目标上。
// set_field 按 path 对比；列表操作按 list 对比（同一列表的结构变更都可能使 index 失效）。
func (op Operation) touchesSameTarget(other Operation) bool {
	if op.Kind == KindSetField && other.Kind == KindSetField {
		return op.Path == other.Path
	}
	if op.Kind != KindSetField && other.Kind != KindSetField {
		return op.List == other.List
	}
	return false
}
