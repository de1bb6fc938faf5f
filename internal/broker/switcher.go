package broker

import (
	"log/slog"
	"sync"
)

// Switcher owns the active broker and swaps it at runtime. The new broker
// is handed to apply before the old one is closed, so publishing never
// sees a closed broker.
type Switcher struct {
	mu      sync.Mutex
	current Broker
	url     string
	apply   func(Broker)
	logger  *slog.Logger
}

// NewSwitcher starts with no broker. apply is called with every broker
// that becomes active.
func NewSwitcher(apply func(Broker), logger *slog.Logger) *Switcher {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Switcher{current: Noop{}, apply: apply, logger: logger}
	if apply != nil {
		apply(s.current)
	}
	return s
}

// Switch opens the broker described by cfg and makes it active. When the
// new broker cannot be opened the previous one stays in place.
func (s *Switcher) Switch(cfg Config) (Status, error) {
	next, err := Open(cfg, s.logger)
	if err != nil {
		s.logger.Warn("Broker reconfiguration failed, keeping current broker", "kind", cfg.Kind, "url", cfg.URL, "error", err)
		return s.Status(), err
	}

	s.mu.Lock()
	prev := s.current
	s.current = next
	s.url = cfg.URL
	if s.apply != nil {
		s.apply(next)
	}
	s.mu.Unlock()

	prev.Close()
	s.logger.Info("Broker switched", "from", prev.Kind(), "to", next.Kind(), "url", cfg.URL)
	return s.Status(), nil
}

// Status describes the active broker.
func (s *Switcher) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := StatusOf(s.current)
	if st.URL == "" && st.Kind != KindNone {
		st.URL = s.url
	}
	return st
}

// Current returns the active broker.
func (s *Switcher) Current() Broker {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Close closes the active broker and falls back to none.
func (s *Switcher) Close() {
	s.mu.Lock()
	prev := s.current
	s.current = Noop{}
	s.url = ""
	if s.apply != nil {
		s.apply(s.current)
	}
	s.mu.Unlock()
	prev.Close()
}
