package metrics

type Counter interface {
	Inc()
}

type GapGauge interface {
	Set(underlying string, gap float64)
}

type Metrics struct {
	CyclesRun         Counter
	PartialSkipped    Counter
	IntentsDispatched Counter
	OrdersFilled      Counter
	OrdersPartial     Counter
	OrdersRejected    Counter
	OrdersFailed      Counter
	DeltaGap          GapGauge
}

type noopCounter struct{}

func (noopCounter) Inc() {}

type noopGauge struct{}

func (noopGauge) Set(string, float64) {}

func NewNoop() *Metrics {
	n := noopCounter{}
	return &Metrics{
		CyclesRun:         n,
		PartialSkipped:    n,
		IntentsDispatched: n,
		OrdersFilled:      n,
		OrdersPartial:     n,
		OrdersRejected:    n,
		OrdersFailed:      n,
		DeltaGap:          noopGauge{},
	}
}
