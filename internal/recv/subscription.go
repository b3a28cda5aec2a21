// Package recv drives the receiving side: it demultiplexes decoded frames to
// per-stream reassemblers under a subscription policy and decides when the
// run is finished.
package recv

import "sort"

// Subscription is the read-only stream acceptance policy for one run.
type Subscription struct {
	all bool
	ids map[uint32]struct{}
}

// AcceptAll subscribes to every stream id seen on the channel.
func AcceptAll() Subscription {
	return Subscription{all: true}
}

// AcceptSet subscribes to exactly the given stream ids.
func AcceptSet(ids ...uint32) Subscription {
	set := make(map[uint32]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return Subscription{ids: set}
}

// Accepts reports whether frames for id should be processed.
func (s Subscription) Accepts(id uint32) bool {
	if s.all {
		return true
	}
	_, ok := s.ids[id]
	return ok
}

// All reports whether this is an accept-all subscription.
func (s Subscription) All() bool { return s.all }

// Single reports whether exactly one stream id is subscribed.
func (s Subscription) Single() bool { return !s.all && len(s.ids) == 1 }

// IDs returns the subscribed ids in ascending order; nil in accept-all mode.
func (s Subscription) IDs() []uint32 {
	if s.all {
		return nil
	}
	ids := make([]uint32, 0, len(s.ids))
	for id := range s.ids {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
