package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/smartdevs17/web3rsvp-indexer/internal/models"
	"github.com/smartdevs17/web3rsvp-indexer/pkg/utils"
)

// MemoryStore keeps entities in process memory. It is used for tests and
// for throwaway runs with storage.type=memory.
//
// writeMu serialises writers; mu guards the state pointer and is only held
// for reads, clones and swaps, so readers never wait on a running WithTx.
type MemoryStore struct {
	writeMu   sync.Mutex
	mu        sync.RWMutex
	state     *memoryState
	connected bool
}

// memoryState holds the data; it is not safe for concurrent use on its own
type memoryState struct {
	accounts      map[string]models.Account
	events        map[string]models.Event
	rsvps         map[string]models.RSVP
	confirmations map[string]models.Confirmation
	latestBlock   uint64
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: newMemoryState()}
}

func newMemoryState() *memoryState {
	return &memoryState{
		accounts:      make(map[string]models.Account),
		events:        make(map[string]models.Event),
		rsvps:         make(map[string]models.RSVP),
		confirmations: make(map[string]models.Confirmation),
	}
}

func (s *memoryState) clone() *memoryState {
	c := newMemoryState()
	for k, v := range s.accounts {
		c.accounts[k] = v
	}
	for k, v := range s.events {
		c.events[k] = v
	}
	for k, v := range s.rsvps {
		c.rsvps[k] = v
	}
	for k, v := range s.confirmations {
		c.confirmations[k] = v
	}
	c.latestBlock = s.latestBlock
	return c
}

func (s *memoryState) LoadAccount(_ context.Context, id string) (*models.Account, error) {
	if account, ok := s.accounts[id]; ok {
		return &account, nil
	}
	return nil, nil
}

func (s *memoryState) SaveAccount(_ context.Context, account *models.Account) error {
	s.accounts[account.ID] = *account
	return nil
}

func (s *memoryState) LoadEvent(_ context.Context, id string) (*models.Event, error) {
	if event, ok := s.events[id]; ok {
		return &event, nil
	}
	return nil, nil
}

func (s *memoryState) SaveEvent(_ context.Context, event *models.Event) error {
	s.events[event.ID] = *event
	return nil
}

func (s *memoryState) LoadRSVP(_ context.Context, id string) (*models.RSVP, error) {
	if rsvp, ok := s.rsvps[id]; ok {
		return &rsvp, nil
	}
	return nil, nil
}

func (s *memoryState) SaveRSVP(_ context.Context, rsvp *models.RSVP) error {
	if _, exists := s.rsvps[rsvp.ID]; !exists {
		s.rsvps[rsvp.ID] = *rsvp
	}
	return nil
}

func (s *memoryState) LoadConfirmation(_ context.Context, id string) (*models.Confirmation, error) {
	if confirmation, ok := s.confirmations[id]; ok {
		return &confirmation, nil
	}
	return nil, nil
}

func (s *memoryState) SaveConfirmation(_ context.Context, confirmation *models.Confirmation) error {
	if _, exists := s.confirmations[confirmation.ID]; !exists {
		s.confirmations[confirmation.ID] = *confirmation
	}
	return nil
}

func (s *memoryState) SetLatestProcessedBlock(_ context.Context, blockNumber uint64) error {
	s.latestBlock = blockNumber
	return nil
}

// Connect marks the store as usable
func (m *MemoryStore) Connect() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = true
	return nil
}

// Close marks the store as closed; data is kept
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = false
	return nil
}

// Ping reports whether Connect has been called
func (m *MemoryStore) Ping() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.connected {
		return utils.NewAppError(utils.ErrCodeDatabase, "Database not connected", "")
	}
	return nil
}

// Migrate is a no-op for the memory store
func (m *MemoryStore) Migrate() error {
	return nil
}

func (m *MemoryStore) LoadAccount(ctx context.Context, id string) (*models.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.LoadAccount(ctx, id)
}

func (m *MemoryStore) SaveAccount(ctx context.Context, account *models.Account) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.SaveAccount(ctx, account)
}

func (m *MemoryStore) LoadEvent(ctx context.Context, id string) (*models.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.LoadEvent(ctx, id)
}

func (m *MemoryStore) SaveEvent(ctx context.Context, event *models.Event) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.SaveEvent(ctx, event)
}

func (m *MemoryStore) LoadRSVP(ctx context.Context, id string) (*models.RSVP, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.LoadRSVP(ctx, id)
}

func (m *MemoryStore) SaveRSVP(ctx context.Context, rsvp *models.RSVP) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.SaveRSVP(ctx, rsvp)
}

func (m *MemoryStore) LoadConfirmation(ctx context.Context, id string) (*models.Confirmation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.LoadConfirmation(ctx, id)
}

func (m *MemoryStore) SaveConfirmation(ctx context.Context, confirmation *models.Confirmation) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.SaveConfirmation(ctx, confirmation)
}

func (m *MemoryStore) SetLatestProcessedBlock(ctx context.Context, blockNumber uint64) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.SetLatestProcessedBlock(ctx, blockNumber)
}

func (m *MemoryStore) GetLatestProcessedBlock(_ context.Context) (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.latestBlock, nil
}

// WithTx runs fn against a copy of the state and swaps it in on success
func (m *MemoryStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	m.mu.RLock()
	draft := m.state.clone()
	m.mu.RUnlock()

	if err := fn(draft); err != nil {
		return err
	}

	m.mu.Lock()
	m.state = draft
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) ListEvents(_ context.Context, filter models.EventFilter) ([]*models.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	events := make([]*models.Event, 0)
	for _, event := range m.state.events {
		if filter.Owner != nil && event.EventOwner != *filter.Owner {
			continue
		}
		if filter.PaidOut != nil && event.PaidOut != *filter.PaidOut {
			continue
		}
		e := event
		events = append(events, &e)
	}
	sort.Slice(events, func(i, j int) bool { return events[i].ID < events[j].ID })

	return paginate(events, filter.Limit, filter.Offset), nil
}

func (m *MemoryStore) ListRSVPs(_ context.Context, filter models.AttendanceFilter) ([]*models.RSVP, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rsvps := make([]*models.RSVP, 0)
	for _, rsvp := range m.state.rsvps {
		if matchesAttendance(filter, rsvp.Event, rsvp.Attendee) {
			r := rsvp
			rsvps = append(rsvps, &r)
		}
	}
	sort.Slice(rsvps, func(i, j int) bool { return rsvps[i].ID < rsvps[j].ID })

	return paginate(rsvps, filter.Limit, filter.Offset), nil
}

func (m *MemoryStore) ListConfirmations(_ context.Context, filter models.AttendanceFilter) ([]*models.Confirmation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	confirmations := make([]*models.Confirmation, 0)
	for _, confirmation := range m.state.confirmations {
		if matchesAttendance(filter, confirmation.Event, confirmation.Attendee) {
			c := confirmation
			confirmations = append(confirmations, &c)
		}
	}
	sort.Slice(confirmations, func(i, j int) bool { return confirmations[i].ID < confirmations[j].ID })

	return paginate(confirmations, filter.Limit, filter.Offset), nil
}

func (m *MemoryStore) GetStats(_ context.Context) (*Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return &Stats{
		Accounts:      int64(len(m.state.accounts)),
		Events:        int64(len(m.state.events)),
		RSVPs:         int64(len(m.state.rsvps)),
		Confirmations: int64(len(m.state.confirmations)),
		LatestBlock:   m.state.latestBlock,
	}, nil
}

func matchesAttendance(filter models.AttendanceFilter, event, attendee string) bool {
	if filter.Event != nil && event != *filter.Event {
		return false
	}
	if filter.Attendee != nil && attendee != *filter.Attendee {
		return false
	}
	return true
}

func paginate[T any](items []T, limit, offset int) []T {
	limit, offset = normalizePage(limit, offset)
	if offset >= len(items) {
		return items[:0]
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}

var _ Store = (*MemoryStore)(nil)
