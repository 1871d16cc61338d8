package session

// Store is the persistence abstraction for sessions. The Repository
// serializes access, so implementations need no locking of their own.
type Store interface {
	Get(id ID) (*Session, bool)
	Set(s *Session)
	Delete(id ID)

	// ListIDs returns ids in the order their sessions were first stored.
	ListIDs() []ID

	// BookingIDs returns the ids of sessions playing bookingID, oldest first.
	BookingIDs(bookingID string) []ID

	Len() int
}

// InMemoryStore keeps sessions in a map plus an insertion-ordered id list and
// a per-booking index.
type InMemoryStore struct {
	sessions  map[ID]*Session
	order     []ID
	byBooking map[string][]ID
}

// NewInMemoryStore returns a new empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		sessions:  make(map[ID]*Session),
		byBooking: make(map[string][]ID),
	}
}

// Get implements Store.Get.
func (s *InMemoryStore) Get(id ID) (*Session, bool) {
	sess, ok := s.sessions[id]
	return sess, ok
}

// Set implements Store.Set. Replacing a session keeps its position; a
// changed booking moves it to the new booking's index.
func (s *InMemoryStore) Set(sess *Session) {
	if old, ok := s.sessions[sess.ID]; ok {
		if old.BookingID != sess.BookingID {
			s.unindex(old.BookingID, sess.ID)
			s.byBooking[sess.BookingID] = append(s.byBooking[sess.BookingID], sess.ID)
		}
		s.sessions[sess.ID] = sess
		return
	}
	s.sessions[sess.ID] = sess
	s.order = append(s.order, sess.ID)
	s.byBooking[sess.BookingID] = append(s.byBooking[sess.BookingID], sess.ID)
}

// Delete implements Store.Delete.
func (s *InMemoryStore) Delete(id ID) {
	sess, ok := s.sessions[id]
	if !ok {
		return
	}
	delete(s.sessions, id)
	s.order = without(s.order, id)
	s.unindex(sess.BookingID, id)
}

// ListIDs implements Store.ListIDs.
func (s *InMemoryStore) ListIDs() []ID {
	return append([]ID(nil), s.order...)
}

// BookingIDs implements Store.BookingIDs.
func (s *InMemoryStore) BookingIDs(bookingID string) []ID {
	return append([]ID(nil), s.byBooking[bookingID]...)
}

// Len implements Store.Len.
func (s *InMemoryStore) Len() int {
	return len(s.sessions)
}

func (s *InMemoryStore) unindex(bookingID string, id ID) {
	ids := without(s.byBooking[bookingID], id)
	if len(ids) == 0 {
		delete(s.byBooking, bookingID)
		return
	}
	s.byBooking[bookingID] = ids
}

func without(ids []ID, id ID) []ID {
	for i, v := range ids {
		if v == id {
			return append(ids[:i:i], ids[i+1:]...)
		}
	}
	return ids
}
