package collab

// Resolution Resolve 的结果：要么接受（可能被变换过的 op），要么带原因拒绝。
type Resolution struct {
	Op Operation // 被接受的操作（index 可能已 rebase）
	// 幂等命中：同 opId 已在窗口内，直接返回当初的结果，文档不再变更
	Replayed bool
	Prev     LogEntry // Replayed 时的原始条目
}

// Resolve 判定一个提交能否落到当前文档上。纯函数：只读 doc 和 log，不做任何变更。
// 同样的 (doc, log, op) 永远得到同样的结论，这是客户端可预测重试的前提。
func Resolve(op Operation, doc *TripDocument, log *OperationLog) (Resolution, error) {
	if err := validateOp(op); err != nil {
		return Resolution{}, err
	}

	// 幂等：窗口内见过同 opId，返回当初记录的结果
	if prev, ok := log.Lookup(op.OpID); ok {
		return Resolution{Op: prev.Op, Replayed: true, Prev: prev}, nil
	}

	rev := doc.Revision()
	switch {
	case op.BaseRevision == rev:
		// 基于最新版本，不可能有冲突
		return Resolution{Op: op}, nil

	case op.BaseRevision > rev:
		// 客户端声称见过未来的版本：协议违规（客户端 bug 或重放攻击）
		return Resolution{}, ErrInvalidRevision

	default:
		return resolveStale(op, doc, log)
	}
}

// validateOp 列表操作必须带稳定身份。ItemID 为空的项进了列表之后，
// 所有按身份的对账（rebase、identity check）都会退化成纯 index 比较。
func validateOp(op Operation) error {
	switch op.Kind {
	case KindInsertItem:
		if op.Item == nil || op.Item.ItemID == "" {
			return ErrInvalidOperation
		}
	case KindRemoveItem, KindMoveItem:
		if op.ItemID == "" {
			return ErrInvalidOperation
		}
	}
	return nil
}

// resolveStale 处理 baseRevision 落后于当前版本的提交。
// 回看 (base, rev] 的日志窗口，决定覆盖 / rebase / 拒绝。
func resolveStale(op Operation, doc *TripDocument, log *OperationLog) (Resolution, error) {
	window := log.EntriesBetween(op.BaseRevision, doc.Revision())

	if op.Kind == KindSetField {
		// set_field vs set_field 同路径：last-write-wins，照单全收。
		// 双方表达的都是“最终值设为 X”，后到者覆盖即是客户端意图。
		// 如果路径指向列表项（stops[2].date），index 可能已漂移，按 ItemID 说话的
		// 列表操作不经过这条路径，这里只需确认路径仍然可寻址。
		if list, idx, _, ok := parseItemPath(op.Path); ok {
			if idx < 0 || idx >= doc.ListLen(list) {
				return Resolution{}, ErrConflictRejected
			}
		}
		return Resolution{Op: op}, nil
	}

	// 窗口内是否有同列表的结构变更。没有的话原 index 依然有效，只做边界夹取。
	contested := false
	for _, e := range window {
		if e.Op.touchesSameTarget(op) {
			contested = true
			break
		}
	}

	switch op.Kind {
	case KindInsertItem:
		// 插入不引用既有项，rebase 只需把 index 夹到当前列表长度内
		if op.Index > doc.ListLen(op.List) {
			op.Index = doc.ListLen(op.List)
		}
		if op.Index < 0 {
			op.Index = 0
		}
		return Resolution{Op: op}, nil

	case KindRemoveItem, KindMoveItem:
		cur := doc.IndexOfItem(op.List, op.ItemID)
		if cur < 0 {
			// 项已被并发删除（或从未存在）：客户端必须基于新快照重做
			return Resolution{}, ErrConflictRejected
		}
		if contested || cur != op.Index {
			// 同列表被动过，原 index 不可信；rebase 到该项当前的真实位置
			op.Index = cur
		}
		if op.Kind == KindMoveItem {
			if op.ToIndex >= doc.ListLen(op.List) {
				op.ToIndex = doc.ListLen(op.List) - 1
			}
			if op.ToIndex < 0 {
				op.ToIndex = 0
			}
		}
		return Resolution{Op: op}, nil
	}

	return Resolution{}, ErrConflictRejected
}
