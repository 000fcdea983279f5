package server

import "sync"

// addressSet tracks which addresses have a refresh queued.
type addressSet struct {
	mu    sync.Mutex
	addrs map[string]struct{}
}

func newAddressSet() *addressSet {
	return &addressSet{addrs: make(map[string]struct{})}
}

// add inserts the address and reports whether it was newly added.
func (s *addressSet) add(addr string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.addrs[addr]; ok {
		return false
	}

	s.addrs[addr] = struct{}{}

	return true
}

func (s *addressSet) remove(addr string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.addrs, addr)
}
