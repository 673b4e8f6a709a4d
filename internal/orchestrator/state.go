package orchestrator

import (
	"fmt"
	"time"

	"github.com/nugget/ragent/internal/mcp"
)

// State is a step of the query state machine.
type State string

// States in the order a run visits them.
const (
	StateIdle        State = "Idle"
	StateRetrieving  State = "Retrieving"
	StateSelecting   State = "Selecting"
	StateInvoking    State = "Invoking"
	StateAggregating State = "Aggregating"
	StateDone        State = "Done"
)

// label renders Invoking with its step index, e.g. "Invoking(1)".
func (s State) label(index int) State {
	if s == StateInvoking && index >= 0 {
		return State(fmt.Sprintf("%s(%d)", s, index))
	}
	return s
}

// Event reports a state transition.
//
// Invoking produces two events per step: one on entry with Result nil
// and one on completion with Result set. Done carries the final result.
type Event struct {
	QueryID string      `json:"query_id"`
	State   State       `json:"state"`
	Index   int         `json:"index"`
	Tool    string      `json:"tool,omitempty"`
	Result  *mcp.Result `json:"result,omitempty"`
	Final   *Result     `json:"final,omitempty"`
	Time    time.Time   `json:"time"`
}

// Observer receives events synchronously on the query's goroutine.
// Observers must not retain or modify the pointers they are given.
type Observer interface {
	Observe(Event)
}

// ObserverFunc adapts a function to [Observer].
type ObserverFunc func(Event)

// Observe implements [Observer].
func (f ObserverFunc) Observe(ev Event) { f(ev) }

type multiObserver []Observer

func (m multiObserver) Observe(ev Event) {
	for _, o := range m {
		o.Observe(ev)
	}
}

// Observers combines observers, skipping nils. It returns nil when none
// remain.
func Observers(obs ...Observer) Observer {
	var m multiObserver
	for _, o := range obs {
		if o != nil {
			m = append(m, o)
		}
	}
	switch len(m) {
	case 0:
		return nil
	case 1:
		return m[0]
	default:
		return m
	}
}
