package collab

import "errors"

// 错误码直接用作 ws 下行消息里的 reason，客户端按码决定是否重提交。
var (
	// 日志 append 的版本不是 last+1。正常代码路径不应该触发，
	// 一旦出现说明会话内部状态已不可信，按会话级故障处理（丢弃内存态并从快照重建）。
	ErrOutOfOrder = errors.New("OUT_OF_ORDER")

	// 操作引用的列表项已经不在了（或身份对不上），客户端需要基于最新快照重做。
	ErrConflictRejected = errors.New("CONFLICT_REJECTED")

	// baseRevision 超过了服务端当前版本，正确的客户端不可能发出，视为协议违规，断开该参与者。
	ErrInvalidRevision = errors.New("INVALID_REVISION")

	// 操作本身不完整（如 insert_item 没带 item 或 itemId）。
	// 空身份的列表项会让后续的按 ItemID 对账失效，必须在入口就拦下。
	ErrInvalidOperation = errors.New("INVALID_OPERATION")

	// 事件队列已满，本条事件被丢弃（事件流允许降级，编辑主链路不受影响）。
	ErrEventQueueFull = errors.New("EVENT_QUEUE_FULL")

	// 快照读写失败。加载失败会让 join 失败；保存失败重试后照样回收内存态。
	ErrPersistenceUnavailable = errors.New("PERSISTENCE_UNAVAILABLE")

	ErrSessionNotFound     = errors.New("SESSION_NOT_FOUND")
	ErrParticipantNotFound = errors.New("PARTICIPANT_NOT_FOUND")
)
