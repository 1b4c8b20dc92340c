package meter

import "github.com/ineyio/rewritegate"

// NoopMeter is a meter that does nothing.
type NoopMeter struct{}

var _ rewritegate.Meter = (*NoopMeter)(nil)

func (m *NoopMeter) OnDispatch(rewritegate.DispatchEvent) {}
func (m *NoopMeter) OnResult(rewritegate.ResultEvent)     {}

// Multi fans events out to several meters.
type Multi []rewritegate.Meter

var _ rewritegate.Meter = Multi(nil)

func (m Multi) OnDispatch(e rewritegate.DispatchEvent) {
	for _, mm := range m {
		mm.OnDispatch(e)
	}
}

func (m Multi) OnResult(e rewritegate.ResultEvent) {
	for _, mm := range m {
		mm.OnResult(e)
	}
}
