package stations

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"drivepower/client/internal/api"
	"drivepower/client/internal/models"
	"drivepower/client/internal/observability"
)

const (
	routeStations        = "/stations"
	routeStation         = "/stations/{id}"
	routeManagerStations = "/stations/manager/{id}"

	snapshotKeyAll = "all"
)

// Identity exposes the signed-in user to manager-scoped queries.
type Identity interface {
	CurrentUserID() string
}

// SnapshotCache persists the last full station list between runs.
type SnapshotCache interface {
	SaveStations(ctx context.Context, key string, stations []models.Station) error
	LoadStations(ctx context.Context, key string) ([]models.Station, error)
}

// Store caches the station directory. The list keeps the order of the last fetch; the
// index maps ids onto the same records. Cache updates only happen after the server
// confirms a request, and a response is dropped when a newer request of the same kind
// was issued after it.
type Store struct {
	client   *api.Client
	identity Identity
	cache    SnapshotCache
	logger   *zap.Logger

	mu         sync.RWMutex
	stations   []models.Station
	byID       map[string]models.Station
	current    *models.Station
	listSeq    uint64
	currentSeq uint64
	inflight   int
	errMsg     string
}

// NewStore builds the station store. identity and cache may be nil.
func NewStore(client *api.Client, identity Identity, cache SnapshotCache, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		client:   client,
		identity: identity,
		cache:    cache,
		logger:   logger,
		byID:     make(map[string]models.Station),
	}
}

// Stations returns the cached list in last-fetch order.
func (s *Store) Stations() []models.Station {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Station(nil), s.stations...)
}

// Station looks up a cached station by id.
func (s *Store) Station(id string) (models.Station, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.byID[id]
	return st, ok
}

// Current returns the station loaded by FetchStationByID.
func (s *Store) Current() (models.Station, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return models.Station{}, false
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

// FetchStations replaces the cached list with every station.
func (s *Store) FetchStations(ctx context.Context) error {
	list, err := s.fetchList(ctx, routeStations, routeStations)
	if err != nil || list == nil {
		return err
	}
	if s.cache != nil {
		if err := s.cache.SaveStations(ctx, snapshotKeyAll, list); err != nil {
			s.logger.Warn("failed to save station snapshot", zap.Error(err))
		}
	}
	return nil
}

// FetchManagerStations replaces the cached list with the stations of one manager.
// An empty managerID means the signed-in user.
func (s *Store) FetchManagerStations(ctx context.Context, managerID string) error {
	if strings.TrimSpace(managerID) == "" && s.identity != nil {
		managerID = s.identity.CurrentUserID()
	}
	if strings.TrimSpace(managerID) == "" {
		return api.NewValidationError("Manager id is required.")
	}
	_, err := s.fetchList(ctx, routeManagerStations, "/stations/manager/"+api.PathEscape(managerID))
	return err
}

// FetchStationByID loads one station as the current item.
func (s *Store) FetchStationByID(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return api.NewValidationError("Station id is required.")
	}
	seq := s.begin(&s.currentSeq)

	var st models.Station
	err := s.client.Get(ctx, routeStation, "/stations/"+api.PathEscape(id), &st)
	if err == nil {
		err = validate(&st)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.inflight--
	if seq != s.currentSeq {
		observability.StaleResponsesTotal.WithLabelValues("stations").Inc()
		s.logger.Debug("dropping stale station response", zap.String("station_id", id))
		return err
	}
	if err != nil {
		s.errMsg = api.Message(err, "Failed to load station.")
		return err
	}
	s.current = &st
	return nil
}

// CreateStation posts a new station and appends the confirmed record.
func (s *Store) CreateStation(ctx context.Context, input models.StationInput) (models.Station, error) {
	if err := validateInput(input); err != nil {
		return models.Station{}, err
	}
	s.beginMutation()

	var st models.Station
	err := s.client.Post(ctx, routeStations, routeStations, input, &st)
	if err == nil {
		err = validate(&st)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.inflight--
	if err != nil {
		s.errMsg = api.Message(err, "Failed to create station.")
		return models.Station{}, err
	}
	if !s.replaceLocked(st) {
		s.stations = append(s.stations, st)
	}
	s.byID[st.ID] = st
	return st, nil
}

// UpdateStation puts new attributes and replaces the cached record by id.
func (s *Store) UpdateStation(ctx context.Context, id string, input models.StationInput) (models.Station, error) {
	if strings.TrimSpace(id) == "" {
		return models.Station{}, api.NewValidationError("Station id is required.")
	}
	if err := validateInput(input); err != nil {
		return models.Station{}, err
	}
	s.beginMutation()

	var st models.Station
	err := s.client.Put(ctx, routeStation, "/stations/"+api.PathEscape(id), input, &st)
	if err == nil {
		err = validate(&st)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.inflight--
	if err != nil {
		s.errMsg = api.Message(err, "Failed to update station.")
		return models.Station{}, err
	}
	if st.ID != id {
		err := &api.Error{Kind: api.KindUnexpected, Message: "Server returned a different station.", Err: fmt.Errorf("requested %s, got %s", id, st.ID)}
		s.errMsg = err.Message
		return models.Station{}, err
	}
	s.replaceLocked(st)
	if _, ok := s.byID[id]; ok {
		s.byID[id] = st
	}
	if s.current != nil && s.current.ID == id {
		s.current = &st
	}
	return st, nil
}

// DeleteStation removes a station after the server confirms.
func (s *Store) DeleteStation(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return api.NewValidationError("Station id is required.")
	}
	s.beginMutation()

	err := s.client.Delete(ctx, routeStation, "/stations/"+api.PathEscape(id), nil)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.inflight--
	if err != nil {
		s.errMsg = api.Message(err, "Failed to delete station.")
		return err
	}
	for i, st := range s.stations {
		if st.ID == id {
			s.stations = append(s.stations[:i:i], s.stations[i+1:]...)
			break
		}
	}
	delete(s.byID, id)
	if s.current != nil && s.current.ID == id {
		s.current = nil
	}
	return nil
}

// Warm seeds an empty store from the snapshot cache. It never overrides a list that a
// fetch already produced or is producing.
func (s *Store) Warm(ctx context.Context) (int, error) {
	if s.cache == nil {
		return 0, nil
	}
	list, err := s.cache.LoadStations(ctx, snapshotKeyAll)
	if err != nil {
		return 0, err
	}
	valid := make([]models.Station, 0, len(list))
	for i := range list {
		if err := validate(&list[i]); err != nil {
			s.logger.Warn("skipping invalid cached station", zap.Error(err))
			continue
		}
		valid = append(valid, list[i])
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listSeq != 0 || len(s.stations) > 0 {
		return 0, nil
	}
	s.setListLocked(valid)
	return len(valid), nil
}

func (s *Store) fetchList(ctx context.Context, route, path string) ([]models.Station, error) {
	seq := s.begin(&s.listSeq)

	var list []models.Station
	err := s.client.Get(ctx, route, path, &list)
	if err == nil {
		for i := range list {
			if err = validate(&list[i]); err != nil {
				break
			}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.inflight--
	if seq != s.listSeq {
		observability.StaleResponsesTotal.WithLabelValues("stations").Inc()
		s.logger.Debug("dropping stale station list", zap.String("route", route), zap.Uint64("seq", seq))
		return nil, err
	}
	if err != nil {
		s.errMsg = api.Message(err, "Failed to load stations.")
		return nil, err
	}
	s.setListLocked(list)
	return append([]models.Station{}, list...), nil
}

func (s *Store) begin(seq *uint64) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inflight++
	s.errMsg = ""
	*seq++
	return *seq
}

func (s *Store) beginMutation() {
	s.mu.Lock()
	s.inflight++
	s.errMsg = ""
	s.mu.Unlock()
}

func (s *Store) setListLocked(list []models.Station) {
	if list == nil {
		list = []models.Station{}
	}
	s.stations = list
	s.byID = make(map[string]models.Station, len(list))
	for _, st := range list {
		s.byID[st.ID] = st
	}
}

func (s *Store) replaceLocked(st models.Station) bool {
	for i := range s.stations {
		if s.stations[i].ID == st.ID {
			s.stations[i] = st
			return true
		}
	}
	return false
}

func validate(st *models.Station) error {
	st.Normalize()
	if err := st.Validate(); err != nil {
		return &api.Error{Kind: api.KindUnexpected, Message: "Server returned an invalid station.", Err: err}
	}
	return nil
}

func validateInput(input models.StationInput) error {
	if strings.TrimSpace(input.Name) == "" {
		return api.NewValidationError("Station name is required.")
	}
	if strings.TrimSpace(input.Address) == "" {
		return api.NewValidationError("Station address is required.")
	}
	if input.PowerKW <= 0 {
		return api.NewValidationError("Power must be greater than zero.")
	}
	if input.PricePerKWh < 0 {
		return api.NewValidationError("Price cannot be negative.")
	}
	if input.Status != "" && !input.Status.Valid() {
		return api.NewValidationError("Unknown station status.")
	}
	return nil
}
