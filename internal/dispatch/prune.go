package dispatch

import (
	"sort"
	"time"
)

const (
	// Keep job status memory bounded; scheduled campaigns can add jobs forever.
	defaultStatusMax = 200
	defaultStatusTTL = 24 * time.Hour
)

// pruneStatus drops finished jobs past the TTL, then the oldest finished jobs
// until at most statusMax remain. Queued and running jobs are never dropped.
func (s *Service) pruneStatus(now time.Time) {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()

	max := s.statusMax
	if max <= 0 {
		max = defaultStatusMax
	}
	ttl := s.statusTTL
	if ttl <= 0 {
		ttl = defaultStatusTTL
	}

	if len(s.status) == 0 {
		return
	}

	for id, st := range s.status {
		if st == nil {
			delete(s.status, id)
			continue
		}
		if st.Finished() && now.Sub(st.DoneAt) > ttl {
			delete(s.status, id)
		}
	}

	if len(s.status) <= max {
		return
	}

	type kv struct {
		id string
		t  time.Time
	}
	items := make([]kv, 0, len(s.status))
	for id, st := range s.status {
		if st.Finished() {
			items = append(items, kv{id: id, t: st.DoneAt})
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].t.Before(items[j].t) })

	excess := len(s.status) - max
	for i := 0; i < excess && i < len(items); i++ {
		delete(s.status, items[i].id)
	}
}
