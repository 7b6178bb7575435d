package cache

import "math/rand/v2"

// DefaultMaintenanceProbability 是每次写入后触发淘汰的默认概率。
const DefaultMaintenanceProbability = 0.05

// Trigger 决定一次写入之后是否启动淘汰。
type Trigger interface {
	Fire() bool
}

// TriggerFunc adapts a function to the Trigger interface.
type TriggerFunc func() bool

func (f TriggerFunc) Fire() bool { return f() }

var (
	AlwaysTrigger Trigger = TriggerFunc(func() bool { return true })
	NeverTrigger  Trigger = TriggerFunc(func() bool { return false })
)

// ProbabilityTrigger 以固定概率触发。
type ProbabilityTrigger float64

func (p ProbabilityTrigger) Fire() bool {
	switch {
	case p <= 0:
		return false
	case p >= 1:
		return true
	default:
		return rand.Float64() < float64(p)
	}
}
