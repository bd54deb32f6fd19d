package agent

import "time"

// Observer 接收流水线的度量事件，由 metrics 包实现。
type Observer interface {
	ObserveRun(status string, elapsed time.Duration)
	ObserveTool(name, status string, elapsed time.Duration)
	ObserveDenial(category string)
}

type nopObserver struct{}

func (nopObserver) ObserveRun(string, time.Duration)          {}
func (nopObserver) ObserveTool(string, string, time.Duration) {}
func (nopObserver) ObserveDenial(string)                      {}
