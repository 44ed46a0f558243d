package metrics

type Counter interface {
	Inc()
}

type Metrics struct {
	OrdersPlaced       Counter
	OrdersFailed       Counter
	EntriesCompleted   Counter
	EntriesFailed      Counter
	ExitsCompleted     Counter
	ExitsFailed        Counter
	Reverts            Counter
	ManualIntervention Counter
	FeedReconnects     Counter
	FeedDrops          Counter
}

type noopCounter struct{}

func (noopCounter) Inc() {}

func NewNoop() *Metrics {
	n := noopCounter{}
	return &Metrics{
		OrdersPlaced:       n,
		OrdersFailed:       n,
		EntriesCompleted:   n,
		EntriesFailed:      n,
		ExitsCompleted:     n,
		ExitsFailed:        n,
		Reverts:            n,
		ManualIntervention: n,
		FeedReconnects:     n,
		FeedDrops:          n,
	}
}
