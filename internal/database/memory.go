package database

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"wastewatch-backend/internal/models"
)

// MemoryStore keeps reports and accounts in process. It serves local runs and
// tests; every call works on copies so callers never share state with it.
type MemoryStore struct {
	mu       sync.Mutex
	reports  map[string]*models.Report
	accounts map[string]*models.Account
	now      func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		reports:  make(map[string]*models.Report),
		accounts: make(map[string]*models.Account),
		now:      time.Now,
	}
}

// Create inserts a report, assigning an id and createdAt when missing, and
// counts it on the citizen account.
func (s *MemoryStore) Create(_ context.Context, report *models.Report) (*models.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, err := cloneReport(report)
	if err != nil {
		return nil, err
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = s.now()
	}
	if r.Status == "" {
		r.Status = models.StatusPending
	}
	if _, exists := s.reports[r.ID]; exists {
		return nil, fmt.Errorf("database: report %s already exists", r.ID)
	}
	s.reports[r.ID] = r
	if r.CitizenID != "" {
		s.incrementLocked(r.CitizenID, map[string]int{CounterTotalReports: 1})
	}
	return cloneReport(r)
}

func (s *MemoryStore) Get(_ context.Context, id string) (*models.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.reports[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneReport(r)
}

func (s *MemoryStore) Find(_ context.Context, filter Filter) ([]*models.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*models.Report
	for _, r := range s.reports {
		if !matches(r, filter) {
			continue
		}
		c, err := cloneReport(r)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if filter.OldestFirst {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *MemoryStore) Update(_ context.Context, id string, update Update) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.reports[id]
	if !ok {
		return ErrNotFound
	}
	updated, err := applyUpdate(r, update)
	if err != nil {
		return err
	}
	s.reports[id] = updated
	return nil
}

func (s *MemoryStore) RunTransition(_ context.Context, id string, fn TransitionFunc) (*models.Report, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.reports[id]
	if !ok {
		return nil, false, ErrNotFound
	}
	snapshot, err := cloneReport(current)
	if err != nil {
		return nil, false, err
	}

	t, err := fn(snapshot)
	if err != nil {
		return nil, false, err
	}
	if t == nil {
		out, err := cloneReport(current)
		return out, false, err
	}

	awards := pendingAwards(current, t.Awards)
	for _, a := range awards {
		for field := range awardDeltas(a) {
			if !validCounter(field) {
				return nil, false, fmt.Errorf("database: unknown account counter %q", field)
			}
		}
	}

	updated, err := applyUpdate(current, t.Update)
	if err != nil {
		return nil, false, err
	}
	for _, a := range awards {
		updated.RewardMilestones = append(updated.RewardMilestones, a.Milestone)
		s.incrementLocked(a.AccountID, awardDeltas(a))
	}
	s.reports[id] = updated

	out, err := cloneReport(updated)
	return out, true, err
}

func (s *MemoryStore) IncrementAccount(_ context.Context, accountID string, deltas map[string]int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for field := range deltas {
		if !validCounter(field) {
			return fmt.Errorf("database: unknown account counter %q", field)
		}
	}
	s.incrementLocked(accountID, deltas)
	return nil
}

func (s *MemoryStore) GetAccount(_ context.Context, accountID string) (*models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[accountID]
	if !ok {
		return nil, ErrNotFound
	}
	c := *a
	return &c, nil
}

func (s *MemoryStore) incrementLocked(accountID string, deltas map[string]int) {
	a, ok := s.accounts[accountID]
	if !ok {
		a = &models.Account{ID: accountID}
		s.accounts[accountID] = a
	}
	for field, delta := range deltas {
		switch field {
		case CounterPoints:
			a.Points += delta
			now := s.now()
			a.LastPointsUpdate = &now
		case CounterTotalReports:
			a.TotalReports += delta
		case CounterTotalCleaned:
			a.TotalCleaned += delta
		}
	}
}

func matches(r *models.Report, f Filter) bool {
	if len(f.Statuses) > 0 {
		found := false
		for _, st := range f.Statuses {
			if r.Status == st {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	switch {
	case f.ImageBefore != "" && r.ImageBefore != f.ImageBefore:
		return false
	case f.ImageAfter != "" && r.ImageAfter != f.ImageAfter:
		return false
	case f.ImageBeforePrefix != "" && !strings.HasPrefix(r.ImageBefore, f.ImageBeforePrefix):
		return false
	case f.ImageAfterPrefix != "" && !strings.HasPrefix(r.ImageAfter, f.ImageAfterPrefix):
		return false
	case !f.CreatedAfter.IsZero() && !r.CreatedAt.After(f.CreatedAfter):
		return false
	case !f.CreatedBefore.IsZero() && !r.CreatedAt.Before(f.CreatedBefore):
		return false
	case f.AttemptsBelow > 0 && r.AIAttempts >= f.AttemptsBelow:
		return false
	case f.AttemptsAtLeast > 0 && r.AIAttempts < f.AttemptsAtLeast:
		return false
	case !f.AnalyzedBefore.IsZero() && r.AIAnalyzedAt != nil && !r.AIAnalyzedAt.Before(f.AnalyzedBefore):
		return false
	case f.Unalerted && r.StuckAlertAt != nil:
		return false
	}
	return true
}

// applyUpdate merges field paths into a copy of r through its JSON form, the
// same names the document store uses.
func applyUpdate(r *models.Report, update Update) (*models.Report, error) {
	raw, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}

	for path, value := range update.Fields {
		setPath(doc, strings.Split(path, "."), value)
	}

	raw, err = json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("database: could not encode update: %w", err)
	}
	out := &models.Report{}
	if err := json.Unmarshal(raw, out); err != nil {
		return nil, fmt.Errorf("database: update does not fit the report: %w", err)
	}
	out.ID = r.ID

	if update.History != nil {
		entry := *update.History
		if entry.ID == "" {
			entry.ID = uuid.NewString()
		}
		out.History = append(out.History, entry)
	}
	return out, nil
}

func setPath(doc map[string]interface{}, path []string, value interface{}) {
	for len(path) > 1 {
		next, ok := doc[path[0]].(map[string]interface{})
		if !ok {
			next = make(map[string]interface{})
			doc[path[0]] = next
		}
		doc = next
		path = path[1:]
	}
	doc[path[0]] = value
}

func cloneReport(r *models.Report) (*models.Report, error) {
	raw, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	out := &models.Report{}
	if err := json.Unmarshal(raw, out); err != nil {
		return nil, err
	}
	return out, nil
}
