package graph

import (
	"log/slog"
	"sync"
	"time"
)

// EventType classifies executor events for filtering and routing.
type EventType string

const (
	EventMethodBuilt EventType = "method_built"
	EventRound       EventType = "round"
)

// Event is a single observation from building or executing a graph.
type Event struct {
	Type     EventType
	Method   string
	Methods  []string // all methods of an execution round, primary first
	Nodes    int
	Mutating bool
	Elapsed  time.Duration
}

// Observer receives executor events. Single-method design so adding new
// event types never breaks existing observers.
type Observer interface {
	OnEvent(Event)
}

// ObserverFunc adapts a plain function to the Observer interface.
type ObserverFunc func(Event)

func (f ObserverFunc) OnEvent(ev Event) { f(ev) }

// MultiObserver fans events out to several observers in order.
type MultiObserver struct {
	observers []Observer
}

func NewMultiObserver(obs ...Observer) *MultiObserver {
	return &MultiObserver{observers: obs}
}

func (m *MultiObserver) Add(obs Observer) {
	m.observers = append(m.observers, obs)
}

func (m *MultiObserver) OnEvent(ev Event) {
	for _, o := range m.observers {
		o.OnEvent(ev)
	}
}

// LogObserver writes events to a structured logger at debug level.
type LogObserver struct {
	log *slog.Logger
}

func NewLogObserver(log *slog.Logger) *LogObserver {
	return &LogObserver{log: log}
}

func (o *LogObserver) OnEvent(ev Event) {
	switch ev.Type {
	case EventMethodBuilt:
		o.log.Debug("method built",
			"method", ev.Method,
			"nodes", ev.Nodes,
			"mutating", ev.Mutating)
	case EventRound:
		o.log.Debug("round executed",
			"methods", ev.Methods,
			"mutating", ev.Mutating,
			"elapsed", ev.Elapsed)
	}
}

// Collector buffers events for inspection in tests. Safe for concurrent use.
type Collector struct {
	mu     sync.Mutex
	events []Event
}

func (c *Collector) OnEvent(ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

// Events returns a snapshot of everything observed so far.
func (c *Collector) Events() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Event, len(c.events))
	copy(out, c.events)
	return out
}

// Rounds returns only the execution-round events.
func (c *Collector) Rounds() []Event {
	var out []Event
	for _, ev := range c.Events() {
		if ev.Type == EventRound {
			out = append(out, ev)
		}
	}
	return out
}
