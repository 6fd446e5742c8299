package fetch

import "novelhub/pkg/models"

// Observer receives run events. Observe is called from worker goroutines and
// must not block.
type Observer interface {
	Observe(ev models.FetchEvent)
}

type ObserverFunc func(ev models.FetchEvent)

func (f ObserverFunc) Observe(ev models.FetchEvent) { f(ev) }

// Observers fans events out in order.
type Observers []Observer

func (os Observers) Observe(ev models.FetchEvent) {
	for _, o := range os {
		if o != nil {
			o.Observe(ev)
		}
	}
}
