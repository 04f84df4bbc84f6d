package database

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"wastewatch-backend/internal/models"
)

const (
	reportsCollection = "reports"
	usersCollection   = "users"
)

// FirestoreStore keeps reports in the "reports" collection and account
// counters on "users" documents, the layout the consoles read.
type FirestoreStore struct {
	client *firestore.Client
	logger *logrus.Logger
}

func NewFirestoreStore(client *firestore.Client, logger *logrus.Logger) *FirestoreStore {
	return &FirestoreStore{client: client, logger: logger}
}

// Create adds a pending report and counts it on the citizen account in one
// batch.
func (s *FirestoreStore) Create(ctx context.Context, report *models.Report) (*models.Report, error) {
	r := *report
	if r.Status == "" {
		r.Status = models.StatusPending
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}

	col := s.client.Collection(reportsCollection)
	ref := col.NewDoc()
	if r.ID != "" {
		ref = col.Doc(r.ID)
	}

	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		if err := tx.Create(ref, &r); err != nil {
			return err
		}
		if r.CitizenID == "" {
			return nil
		}
		return tx.Set(s.client.Collection(usersCollection).Doc(r.CitizenID),
			map[string]interface{}{CounterTotalReports: firestore.Increment(1)}, firestore.MergeAll)
	})
	if err != nil {
		return nil, fmt.Errorf("firestore: could not create report: %w", err)
	}
	return s.Get(ctx, ref.ID)
}

func (s *FirestoreStore) Get(ctx context.Context, id string) (*models.Report, error) {
	snap, err := s.client.Collection(reportsCollection).Doc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("firestore: could not get report %s: %w", id, err)
	}
	return decodeReport(snap)
}

func (s *FirestoreStore) Find(ctx context.Context, filter Filter) ([]*models.Report, error) {
	q := s.client.Collection(reportsCollection).Query
	if len(filter.Statuses) == 1 {
		q = q.Where("status", "==", string(filter.Statuses[0]))
	} else if len(filter.Statuses) > 1 {
		statuses := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			statuses[i] = string(st)
		}
		q = q.Where("status", "in", statuses)
	}
	if filter.ImageBefore != "" {
		q = q.Where("imageBefore", "==", filter.ImageBefore)
	}
	if filter.ImageAfter != "" {
		q = q.Where("imageAfter", "==", filter.ImageAfter)
	}
	if filter.ImageBeforePrefix != "" {
		q = q.Where("imageBefore", ">=", filter.ImageBeforePrefix).
			Where("imageBefore", "<", filter.ImageBeforePrefix+"\uf8ff")
	} else if filter.ImageAfterPrefix != "" {
		q = q.Where("imageAfter", ">=", filter.ImageAfterPrefix).
			Where("imageAfter", "<", filter.ImageAfterPrefix+"\uf8ff")
	}

	// time range, attempt and alert predicates, ordering and limit are applied
	// in memory
	snaps, err := q.Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("firestore: could not query reports: %w", err)
	}

	out := make([]*models.Report, 0, len(snaps))
	for _, snap := range snaps {
		r, err := decodeReport(snap)
		if err != nil {
			s.logger.WithError(err).WithField("report_id", snap.Ref.ID).Warn("skipping undecodable report")
			continue
		}
		if matches(r, filter) {
			out = append(out, r)
		}
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

func (s *FirestoreStore) Update(ctx context.Context, id string, update Update) error {
	_, err := s.client.Collection(reportsCollection).Doc(id).Update(ctx, firestoreUpdates(update))
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return ErrNotFound
		}
		return fmt.Errorf("firestore: could not update report %s: %w", id, err)
	}
	return nil
}

func (s *FirestoreStore) RunTransition(ctx context.Context, id string, fn TransitionFunc) (*models.Report, bool, error) {
	ref := s.client.Collection(reportsCollection).Doc(id)
	var applied bool

	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		applied = false

		snap, err := tx.Get(ref)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return ErrNotFound
			}
			return err
		}
		current, err := decodeReport(snap)
		if err != nil {
			return err
		}

		t, err := fn(current)
		if err != nil || t == nil {
			return err
		}

		awards := pendingAwards(current, t.Awards)
		updates := firestoreUpdates(t.Update)
		milestones := make([]interface{}, 0, len(awards))
		for _, a := range awards {
			deltas := awardDeltas(a)
			fields := make(map[string]interface{}, len(deltas)+1)
			for field, delta := range deltas {
				if !validCounter(field) {
					return fmt.Errorf("unknown account counter %q", field)
				}
				fields[field] = firestore.Increment(delta)
			}
			fields["lastPointsUpdate"] = firestore.ServerTimestamp
			if err := tx.Set(s.client.Collection(usersCollection).Doc(a.AccountID), fields, firestore.MergeAll); err != nil {
				return err
			}
			milestones = append(milestones, a.Milestone)
		}
		if len(milestones) > 0 {
			updates = append(updates, firestore.Update{Path: "rewardMilestones", Value: firestore.ArrayUnion(milestones...)})
		}

		if err := tx.Update(ref, updates); err != nil {
			return err
		}
		applied = true
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, false, ErrNotFound
		}
		return nil, false, fmt.Errorf("firestore: transition of report %s failed: %w", id, err)
	}

	r, err := s.Get(ctx, id)
	return r, applied, err
}

func (s *FirestoreStore) IncrementAccount(ctx context.Context, accountID string, deltas map[string]int) error {
	fields := make(map[string]interface{}, len(deltas)+1)
	for field, delta := range deltas {
		if !validCounter(field) {
			return fmt.Errorf("firestore: unknown account counter %q", field)
		}
		fields[field] = firestore.Increment(delta)
	}
	if _, ok := deltas[CounterPoints]; ok {
		fields["lastPointsUpdate"] = firestore.ServerTimestamp
	}

	_, err := s.client.Collection(usersCollection).Doc(accountID).Set(ctx, fields, firestore.MergeAll)
	if err != nil {
		return fmt.Errorf("firestore: could not increment account %s: %w", accountID, err)
	}
	return nil
}

func (s *FirestoreStore) GetAccount(ctx context.Context, accountID string) (*models.Account, error) {
	snap, err := s.client.Collection(usersCollection).Doc(accountID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("firestore: could not get account %s: %w", accountID, err)
	}
	var a models.Account
	if err := snap.DataTo(&a); err != nil {
		return nil, fmt.Errorf("firestore: could not decode account %s: %w", accountID, err)
	}
	a.ID = snap.Ref.ID
	return &a, nil
}

func decodeReport(snap *firestore.DocumentSnapshot) (*models.Report, error) {
	var r models.Report
	if err := snap.DataTo(&r); err != nil {
		return nil, fmt.Errorf("firestore: could not decode report %s: %w", snap.Ref.ID, err)
	}
	r.ID = snap.Ref.ID
	if r.CreatedAt.IsZero() {
		r.CreatedAt = snap.CreateTime
	}
	return &r, nil
}

// firestoreUpdates converts an Update into field-path writes. nil values
// delete the field; the history entry goes through ArrayUnion so concurrent
// appends never overwrite each other.
func firestoreUpdates(update Update) []firestore.Update {
	updates := make([]firestore.Update, 0, len(update.Fields)+1)
	for path, value := range update.Fields {
		if value == nil {
			value = firestore.Delete
		}
		updates = append(updates, firestore.Update{Path: path, Value: value})
	}
	if update.History != nil {
		entry := *update.History
		if entry.ID == "" {
			entry.ID = uuid.NewString()
		}
		if entry.Time.IsZero() {
			entry.Time = time.Now()
		}
		updates = append(updates, firestore.Update{Path: "history", Value: firestore.ArrayUnion(entry)})
	}
	return updates
}
