package client

import "sync"

// request is one message to the store goroutine: an action to apply, a
// snapshot query, or a subscription change.
type request struct {
	action      Action
	reply       chan State
	subscribe   chan State
	unsubscribe chan State
}

// Store owns the client state in a single goroutine. Every mutation goes
// through Dispatch and Reduce, so concurrent socket events and API results
// are applied one at a time in arrival order.
type Store struct {
	requests  chan request
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

func NewStore(initial State) *Store {
	s := &Store{
		requests: make(chan request),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go s.loop(initial)
	return s
}

func (s *Store) loop(state State) {
	defer close(s.done)
	subs := make(map[chan State]struct{})

	for {
		select {
		case <-s.quit:
			for ch := range subs {
				close(ch)
			}
			return

		case req := <-s.requests:
			switch {
			case req.action != nil:
				state = Reduce(state, req.action)
				for ch := range subs {
					publish(ch, state)
				}
			case req.reply != nil:
				req.reply <- state
			case req.subscribe != nil:
				subs[req.subscribe] = struct{}{}
				publish(req.subscribe, state)
			case req.unsubscribe != nil:
				if _, ok := subs[req.unsubscribe]; ok {
					delete(subs, req.unsubscribe)
					close(req.unsubscribe)
				}
			}
		}
	}
}

// publish leaves only the newest state in a subscriber's one-slot buffer.
func publish(ch chan State, state State) {
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- state:
	default:
	}
}

// Dispatch applies action. It returns once the store has taken the action,
// so a later State call observes it. After Close it does nothing.
func (s *Store) Dispatch(action Action) {
	select {
	case s.requests <- request{action: action}:
	case <-s.done:
	}
}

// State returns the current snapshot, or the zero State after Close.
func (s *Store) State() State {
	reply := make(chan State, 1)
	select {
	case s.requests <- request{reply: reply}:
		return <-reply
	case <-s.done:
		return State{}
	}
}

// Subscribe returns a channel that always holds the latest state after a
// change; intermediate states may be skipped. cancel stops the
// subscription and closes the channel.
func (s *Store) Subscribe() (<-chan State, func()) {
	ch := make(chan State, 1)
	select {
	case s.requests <- request{subscribe: ch}:
	case <-s.done:
		close(ch)
		return ch, func() {}
	}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			select {
			case s.requests <- request{unsubscribe: ch}:
			case <-s.done:
			}
		})
	}
	return ch, cancel
}

// Close stops the store goroutine and closes every subscription.
func (s *Store) Close() {
	s.closeOnce.Do(func() { close(s.quit) })
	<-s.done
}
