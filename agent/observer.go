package agent

import "time"

// Observer 接收每次调用的指标事件。internal/metrics.Collector 实现了该接口。
type Observer interface {
	ObserveInvocation(agent, model, status string, cacheHit bool, d time.Duration)
	ObserveCache(agent string, hit bool)
	ObserveToolCall(agent, tool, status string, d time.Duration)
	ObserveRepair(agent string)
}

type nopObserver struct{}

func (nopObserver) ObserveInvocation(string, string, string, bool, time.Duration) {}
func (nopObserver) ObserveCache(string, bool)                                      {}
func (nopObserver) ObserveToolCall(string, string, string, time.Duration)          {}
func (nopObserver) ObserveRepair(string)                                           {}
