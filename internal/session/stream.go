package session

import "github.com/sly67/projconv/internal/client"

// streamSlot owns at most one progress subscription.
type streamSlot struct {
	sub *client.Subscription
}

// acquire releases any held subscription before opening a new one.
func (s *streamSlot) acquire(open func() *client.Subscription) {
	s.release()
	s.sub = open()
}

// release closes the held subscription. Safe to call at any time.
func (s *streamSlot) release() {
	if s == nil || s.sub == nil {
		return
	}
	s.sub.Close()
	s.sub = nil
}

func (s *streamSlot) held() bool {
	return s != nil && s.sub != nil
}
