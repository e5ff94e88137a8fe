package keyframe

import (
	"time"
)

// Store holds the committed keyframe sequence plus the staging list of
// keyframes that have been registered in the graph but not yet merged.
// Keeping new keyframes out of the committed list until after loop detection
// lets loops be tested against a stable history.
type Store struct {
	committed []*Keyframe
	staging   []*Keyframe
	byStamp   map[int64]*Keyframe
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{byStamp: make(map[int64]*Keyframe)}
}

// Add places a keyframe on the staging list and indexes its stamp.
func (s *Store) Add(k *Keyframe) {
	s.staging = append(s.staging, k)
	s.byStamp[k.Stamp.UnixNano()] = k
}

// New returns the staging list.
func (s *Store) New() []*Keyframe {
	return s.staging
}

// Committed returns the committed sequence.
func (s *Store) Committed() []*Keyframe {
	return s.committed
}

// MergeNew moves the staging list onto the committed sequence.
func (s *Store) MergeNew() {
	s.committed = append(s.committed, s.staging...)
	s.staging = nil
}

// All returns the committed sequence followed by the staging list.
func (s *Store) All() []*Keyframe {
	out := make([]*Keyframe, 0, len(s.committed)+len(s.staging))
	out = append(out, s.committed...)
	return append(out, s.staging...)
}

// Len returns the total keyframe count.
func (s *Store) Len() int {
	return len(s.committed) + len(s.staging)
}

// Latest returns the most recent keyframe, staging included.
func (s *Store) Latest() *Keyframe {
	if len(s.staging) > 0 {
		return s.staging[len(s.staging)-1]
	}
	if len(s.committed) > 0 {
		return s.committed[len(s.committed)-1]
	}
	return nil
}

// ByStamp looks a keyframe up by its exact stamp.
func (s *Store) ByStamp(t time.Time) (*Keyframe, bool) {
	k, ok := s.byStamp[t.UnixNano()]
	return k, ok
}

// Snapshots returns an immutable pose+cloud view of every keyframe for the
// map publisher.
func (s *Store) Snapshots() []Snapshot {
	all := s.All()
	out := make([]Snapshot, 0, len(all))
	for _, k := range all {
		out = append(out, Snapshot{Pose: k.Estimate(), Cloud: k.Cloud})
	}
	return out
}
