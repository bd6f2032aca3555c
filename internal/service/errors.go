package service

import "errors"

var (
	// ErrSyncInProgress 已有同步在运行（定时任务与手动触发重叠）
	ErrSyncInProgress = errors.New("同步正在进行中")
	// ErrStoreWrite 批量写回在有限重试后仍失败，本轮计算结果丢弃
	ErrStoreWrite = errors.New("批量写回失败")
	// ErrAlreadyRegistered 选手已注册
	ErrAlreadyRegistered = errors.New("选手已注册")
	// ErrUnknownSegment 非追踪路段
	ErrUnknownSegment = errors.New("未追踪的路段")
	// ErrInvalidCount 计数为负
	ErrInvalidCount = errors.New("路段计数不能为负")
	// ErrInvalidName 名字为空
	ErrInvalidName = errors.New("选手名字不能为空")
)
