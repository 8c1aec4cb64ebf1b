package bookings

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"drivepower/client/internal/api"
	"drivepower/client/internal/models"
	"drivepower/client/internal/observability"
)

const (
	routeBookings        = "/bookings"
	routeUserBookings    = "/bookings/user/{id}"
	routeStationBookings = "/bookings/station/{id}"
	routeCancelBooking   = "/bookings/cancel/{id}"
)

// Identity exposes the signed-in user so booking intents can default their owner.
type Identity interface {
	CurrentUserID() string
}

// Store caches bookings for one user or one station. Status changes are only ever taken
// from the server; the cache never holds two entries with the same id.
type Store struct {
	client   *api.Client
	identity Identity
	logger   *zap.Logger
	now      func() time.Time

	mu       sync.RWMutex
	bookings []models.Booking
	current  *models.Booking
	listSeq  uint64
	inflight int
	errMsg   string
}

// NewStore builds the booking store. identity may be nil.
func NewStore(client *api.Client, identity Identity, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		client:   client,
		identity: identity,
		logger:   logger,
		now:      time.Now,
	}
}

// Bookings returns the cached bookings in server order.
func (s *Store) Bookings() []models.Booking {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Booking(nil), s.bookings...)
}

// Current returns the booking created last.
func (s *Store) Current() (models.Booking, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return models.Booking{}, false
	}
	return *s.current, true
}

// Loading reports whether any request is in flight.
func (s *Store) Loading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.inflight > 0
}

// Err returns the message of the last failed action.
func (s *Store) Err() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.errMsg
}

// FetchUserBookings replaces the cache with the bookings of userID. An empty userID
// means the signed-in user.
func (s *Store) FetchUserBookings(ctx context.Context, userID string) error {
	if strings.TrimSpace(userID) == "" && s.identity != nil {
		userID = s.identity.CurrentUserID()
	}
	if strings.TrimSpace(userID) == "" {
		return api.NewValidationError("User id is required.")
	}
	return s.fetchList(ctx, routeUserBookings, "/bookings/user/"+api.PathEscape(userID))
}

// FetchStationBookings replaces the cache with the bookings of one station.
func (s *Store) FetchStationBookings(ctx context.Context, stationID string) error {
	if strings.TrimSpace(stationID) == "" {
		return api.NewValidationError("Station id is required.")
	}
	return s.fetchList(ctx, routeStationBookings, "/bookings/station/"+api.PathEscape(stationID))
}

// CreateBooking validates the intent, posts it and appends the confirmed booking.
func (s *Store) CreateBooking(ctx context.Context, req models.CreateBookingRequest) (models.Booking, error) {
	if strings.TrimSpace(req.UserID) == "" && s.identity != nil {
		req.UserID = s.identity.CurrentUserID()
	}
	if err := s.validateRequest(req); err != nil {
		return models.Booking{}, err
	}
	s.begin(nil)

	var b models.Booking
	err := s.client.Post(ctx, routeBookings, routeBookings, req, &b)
	if err == nil {
		err = validate(&b)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.inflight--
	if err != nil {
		s.errMsg = api.Message(err, "Failed to create booking.")
		return models.Booking{}, err
	}
	if s.replaceLocked(b) {
		s.logger.Warn("server returned an already cached booking id", zap.String("booking_id", b.ID))
	} else {
		s.bookings = append(s.bookings, b)
	}
	s.current = &b
	return b, nil
}

// CancelBooking asks the server to cancel id and replaces the cached entry with the
// returned representation.
func (s *Store) CancelBooking(ctx context.Context, id string) (models.Booking, error) {
	if strings.TrimSpace(id) == "" {
		return models.Booking{}, api.NewValidationError("Booking id is required.")
	}
	s.begin(nil)

	var b models.Booking
	err := s.client.Post(ctx, routeCancelBooking, "/bookings/cancel/"+api.PathEscape(id), nil, &b)
	if err == nil {
		err = validate(&b)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.inflight--
	if err != nil {
		s.errMsg = api.Message(err, "Failed to cancel booking.")
		return models.Booking{}, err
	}
	if b.ID != id {
		s.logger.Warn("cancel response carries a different booking id", zap.String("requested", id), zap.String("returned", b.ID))
		b.ID = id
	}
	if !s.replaceLocked(b) {
		s.logger.Debug("cancelled booking not in cache", zap.String("booking_id", id))
	}
	if s.current != nil && s.current.ID == id {
		s.current = &b
	}
	return b, nil
}

func (s *Store) fetchList(ctx context.Context, route, path string) error {
	seq := s.begin(&s.listSeq)

	var list []models.Booking
	err := s.client.Get(ctx, route, path, &list)
	if err == nil {
		for i := range list {
			if err = validate(&list[i]); err != nil {
				break
			}
		}
	}
	if err == nil {
		list = dedupe(list)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.inflight--
	if seq != s.listSeq {
		observability.StaleResponsesTotal.WithLabelValues("bookings").Inc()
		s.logger.Debug("dropping stale booking list", zap.String("route", route), zap.Uint64("seq", seq))
		return err
	}
	if err != nil {
		s.errMsg = api.Message(err, "Failed to load bookings.")
		return err
	}
	if list == nil {
		list = []models.Booking{}
	}
	s.bookings = list
	return nil
}

func (s *Store) begin(seq *uint64) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inflight++
	s.errMsg = ""
	if seq == nil {
		return 0
	}
	*seq++
	return *seq
}

func (s *Store) replaceLocked(b models.Booking) bool {
	for i := range s.bookings {
		if s.bookings[i].ID == b.ID {
			s.bookings[i] = b
			return true
		}
	}
	return false
}

func (s *Store) validateRequest(req models.CreateBookingRequest) error {
	if strings.TrimSpace(req.StationID) == "" {
		return api.NewValidationError("Please select a station.")
	}
	if strings.TrimSpace(req.UserID) == "" {
		return api.NewValidationError("Please sign in to book a station.")
	}
	if strings.TrimSpace(req.Date) == "" {
		return api.NewValidationError("Please select a date.")
	}
	if strings.TrimSpace(req.StartTime) == "" {
		return api.NewValidationError("Please select a start time.")
	}
	if req.Duration <= 0 {
		return api.NewValidationError("Duration must be greater than zero.")
	}

	now := s.now()
	day, err := time.ParseInLocation(models.DateLayout, req.Date, now.Location())
	if err != nil {
		return api.NewValidationError("Date must be in YYYY-MM-DD format.")
	}
	if _, err := time.Parse(models.StartTimeLayout, req.StartTime); err != nil {
		return api.NewValidationError("Start time must be in HH:MM format.")
	}
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	if day.Before(today) {
		return api.NewValidationError("Booking date cannot be in the past.")
	}
	return nil
}

func validate(b *models.Booking) error {
	b.Normalize()
	if err := b.Validate(); err != nil {
		return &api.Error{Kind: api.KindUnexpected, Message: "Server returned an invalid booking.", Err: err}
	}
	return nil
}

// dedupe keeps the last occurrence of each id at the position of the first.
func dedupe(list []models.Booking) []models.Booking {
	seen := make(map[string]int, len(list))
	out := list[:0]
	for _, b := range list {
		if i, ok := seen[b.ID]; ok {
			out[i] = b
			continue
		}
		seen[b.ID] = len(out)
		out = append(out, b)
	}
	return out
}
