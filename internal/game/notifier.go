package game

import "github.com/HammerMeetNail/bingohall/internal/models"

// Notifier delivers room events. Publish must not block on clients.
type Notifier interface {
	Publish(ev models.Event)
}

type NotifierFunc func(ev models.Event)

func (f NotifierFunc) Publish(ev models.Event) { f(ev) }

// Notifiers fans one event out to several notifiers in order.
type Notifiers []Notifier

func (ns Notifiers) Publish(ev models.Event) {
	for _, n := range ns {
		if n != nil {
			n.Publish(ev)
		}
	}
}
