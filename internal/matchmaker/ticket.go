package matchmaker

import (
	"sort"
	"time"
)

// Ticket is one queued player waiting for an opponent. The rating snapshot
// is taken at enqueue time so a player's queue position doesn't shift under
// them mid-wait if their rating changes from an unrelated match finishing.
type Ticket struct {
	UserID      string
	DisplayName string
	Rating      int
	EnqueuedAt  time.Time
}

func (t Ticket) waited(now time.Time) time.Duration {
	return now.Sub(t.EnqueuedAt)
}

// less implements the total order: rating ascending, then enqueue time
// ascending, then user id ascending — giving nearest-rated neighbors via
// adjacency in the resulting order.
func less(a, b Ticket) bool {
	if a.Rating != b.Rating {
		return a.Rating < b.Rating
	}
	if !a.EnqueuedAt.Equal(b.EnqueuedAt) {
		return a.EnqueuedAt.Before(b.EnqueuedAt)
	}
	return a.UserID < b.UserID
}

// orderedSet is the matchmaking queue's backing structure: a slice kept
// sorted by the total order above, giving an O(log n) insert position via
// binary search, O(1) neighbors by index, and O(n) lookup by user id and
// removal. Never touched concurrently —
// the owning Manager's actor goroutine is the only caller.
type orderedSet struct {
	tickets []Ticket
}

// insert places t in sorted position and returns its index.
func (s *orderedSet) insert(t Ticket) int {
	idx := sort.Search(len(s.tickets), func(i int) bool { return less(t, s.tickets[i]) })
	s.tickets = append(s.tickets, Ticket{})
	copy(s.tickets[idx+1:], s.tickets[idx:])
	s.tickets[idx] = t
	return idx
}

// indexOf returns the current index of userID's ticket, or -1.
func (s *orderedSet) indexOf(userID string) int {
	for i, t := range s.tickets {
		if t.UserID == userID {
			return i
		}
	}
	return -1
}

// removeAt deletes the ticket at idx.
func (s *orderedSet) removeAt(idx int) {
	s.tickets = append(s.tickets[:idx], s.tickets[idx+1:]...)
}

// neighbors returns the predecessor and successor of the ticket at idx, if
// present.
func (s *orderedSet) neighbors(idx int) (prev, next *Ticket) {
	if idx > 0 {
		prev = &s.tickets[idx-1]
	}
	if idx < len(s.tickets)-1 {
		next = &s.tickets[idx+1]
	}
	return prev, next
}
