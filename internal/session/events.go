package session

type EventKind int

const (
	EventLogin EventKind = iota
	EventLogout
	// Session was closed forcibly, e.g. token refresh failed
	EventExpired
	EventUserChanged
	EventPreferences
)

func (k EventKind) String() string {
	switch k {
	case EventLogin:
		return "login"
	case EventLogout:
		return "logout"
	case EventExpired:
		return "expired"
	case EventUserChanged:
		return "user_changed"
	case EventPreferences:
		return "preferences"
	default:
		return "unknown"
	}
}

type Event struct {
	Kind  EventKind
	State State

	// Why session expired; empty for other kinds
	Reason string
}

const subscriberBuffer = 16

// Subscribe returns channel of session events and function to unsubscribe.
// Events are dropped for subscribers that don't keep up, publishing never blocks
func (s *Store) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)

	s.subsMu.Lock()
	s.subs[ch] = struct{}{}
	s.subsMu.Unlock()

	unsubscribe := func() {
		s.subsMu.Lock()
		defer s.subsMu.Unlock()

		if _, ok := s.subs[ch]; ok {
			delete(s.subs, ch)
			close(ch)
		}
	}

	return ch, unsubscribe
}

func (s *Store) publish(e Event) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()

	for ch := range s.subs {
		select {
		case ch <- e:
		default:
			s.logger.Warn("Session event dropped, subscriber is slow", "event", e.Kind.String())
		}
	}
}
