package origin

import "time"

type retryPhase int

const (
	phaseReady retryPhase = iota
	phaseWaiting
	phaseTimedOut
)

func (p retryPhase) String() string {
	switch p {
	case phaseReady:
		return "ready"
	case phaseWaiting:
		return "waiting"
	case phaseTimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

// retryState 是有上限的指数退避状态机：
//
//	ready --fail--> waiting --elapsed--> ready
//	ready --fail (attempts > max)--> timedOut
type retryState struct {
	phase    retryPhase
	attempts int
	max      int
	delay    time.Duration
	maxDelay time.Duration
}

func newRetryState(maxRetries int, initial, maxDelay time.Duration) *retryState {
	if maxRetries < 0 {
		maxRetries = 0
	}
	if initial <= 0 {
		initial = DefaultInitialBackoff
	}
	if maxDelay < initial {
		maxDelay = initial
	}
	return &retryState{phase: phaseReady, max: maxRetries, delay: initial, maxDelay: maxDelay}
}

// fail 记录一次失败并返回下一阶段；进入 waiting 时 delay 为需要等待的时长。
func (s *retryState) fail() retryPhase {
	if s.phase == phaseTimedOut {
		return s.phase
	}
	s.attempts++
	if s.attempts > s.max {
		s.phase = phaseTimedOut
		return s.phase
	}
	if s.attempts > 1 {
		s.delay *= 2
		if s.delay > s.maxDelay {
			s.delay = s.maxDelay
		}
	}
	s.phase = phaseWaiting
	return s.phase
}

// elapsed 在等待结束后回到 ready。
func (s *retryState) elapsed() {
	if s.phase == phaseWaiting {
		s.phase = phaseReady
	}
}
