package order

import (
	"fmt"
	"sync"
)

// AttemptState 描述一次信号提交的处理阶段。交易所状态之外增加
// PENDING/SUBMITTED/SUBMIT_FAILED 三个本地状态。
type AttemptState string

const (
	AttemptPending      AttemptState = "PENDING"       // 待提交
	AttemptSubmitted    AttemptState = "SUBMITTED"     // 已发送，等待回报
	AttemptSubmitFailed AttemptState = "SUBMIT_FAILED" // 重试耗尽
)

// AttemptFromStatus 把交易所回报状态映射为处理阶段。
func AttemptFromStatus(s Status) AttemptState {
	return AttemptState(s)
}

// StateTransition 状态转换
type StateTransition struct {
	From AttemptState
	To   AttemptState
}

// StateMachine 提交状态机
type StateMachine struct {
	transitions map[StateTransition]bool
	mu          sync.RWMutex
}

// NewStateMachine 创建新的状态机
func NewStateMachine() *StateMachine {
	sm := &StateMachine{
		transitions: make(map[StateTransition]bool),
	}
	sm.initializeTransitions()
	return sm
}

func (sm *StateMachine) initializeTransitions() {
	legal := []StateTransition{
		{AttemptPending, AttemptSubmitted},
		// 限流等待期间被取消
		{AttemptPending, AttemptSubmitFailed},

		{AttemptSubmitted, AttemptSubmitFailed},
	}
	// SUBMITTED 之后可以落到任意交易所状态
	for _, s := range []Status{StatusNew, StatusPartiallyFilled, StatusFilled, StatusCanceled, StatusRejected, StatusExpired} {
		legal = append(legal, StateTransition{AttemptSubmitted, AttemptFromStatus(s)})
	}
	// 挂单后续回报
	legal = append(legal,
		StateTransition{AttemptState(StatusNew), AttemptState(StatusPartiallyFilled)},
		StateTransition{AttemptState(StatusNew), AttemptState(StatusFilled)},
		StateTransition{AttemptState(StatusNew), AttemptState(StatusCanceled)},
		StateTransition{AttemptState(StatusNew), AttemptState(StatusExpired)},
		StateTransition{AttemptState(StatusPartiallyFilled), AttemptState(StatusFilled)},
		StateTransition{AttemptState(StatusPartiallyFilled), AttemptState(StatusCanceled)},
		StateTransition{AttemptState(StatusPartiallyFilled), AttemptState(StatusExpired)},
	)

	for _, t := range legal {
		sm.transitions[t] = true
	}
}

// ValidateTransition 验证状态转换是否合法
func (sm *StateMachine) ValidateTransition(from, to AttemptState) error {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	// 相同状态允许（幂等性）
	if from == to {
		return nil
	}
	if !sm.transitions[StateTransition{From: from, To: to}] {
		return fmt.Errorf("illegal state transition: %s -> %s", from, to)
	}
	return nil
}

// IsFinalState 判断是否是终态
func (sm *StateMachine) IsFinalState(s AttemptState) bool {
	switch s {
	case AttemptSubmitFailed:
		return true
	case AttemptPending, AttemptSubmitted:
		return false
	default:
		return Status(s).IsTerminal()
	}
}
