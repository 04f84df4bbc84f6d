package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"wastewatch-backend/internal/models"
)

// PostgresStore keeps the report document in a JSONB column next to the
// columns it is queried by. History rows and reward rows live in their own
// tables so appends and awards are plain INSERTs.
type PostgresStore struct {
	db     *sqlx.DB
	logger *logrus.Logger
}

func NewPostgresStore(db *sqlx.DB, logger *logrus.Logger) *PostgresStore {
	return &PostgresStore{db: db, logger: logger}
}

type reportRow struct {
	ID        string    `db:"id"`
	CreatedAt time.Time `db:"created_at"`
	Doc       []byte    `db:"doc"`
}

type historyRow struct {
	ID        string         `db:"id"`
	ReportID  string         `db:"report_id"`
	Status    string         `db:"status"`
	Note      sql.NullString `db:"note"`
	CreatedAt time.Time      `db:"created_at"`
}

var accountColumns = map[string]string{
	CounterPoints:       "points",
	CounterTotalReports: "total_reports",
	CounterTotalCleaned: "total_cleaned",
}

// Create inserts a new pending report and counts it on the citizen account.
func (s *PostgresStore) Create(ctx context.Context, report *models.Report) (*models.Report, error) {
	r := *report
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	if r.Status == "" {
		r.Status = models.StatusPending
	}

	doc, err := encodeDoc(&r)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("postgres: could not begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO reports (id, citizen_id, status, image_before, image_after, created_at, updated_at, doc)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), $7)`,
		r.ID, r.CitizenID, string(r.Status), r.ImageBefore, r.ImageAfter, r.CreatedAt, doc)
	if err != nil {
		return nil, fmt.Errorf("postgres: could not insert report: %w", err)
	}
	if r.CitizenID != "" {
		if err := incrementAccountTx(ctx, tx, r.CitizenID, map[string]int{CounterTotalReports: 1}); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("postgres: could not commit report: %w", err)
	}

	s.logger.WithFields(logrus.Fields{"component": "postgres", "report_id": r.ID}).Debug("report created")
	return s.Get(ctx, r.ID)
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*models.Report, error) {
	var row reportRow
	err := s.db.GetContext(ctx, &row, `SELECT id, created_at, doc FROM reports WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("postgres: could not get report %s: %w", id, err)
	}
	reports, err := s.hydrate(ctx, s.db, []reportRow{row})
	if err != nil {
		return nil, err
	}
	return reports[0], nil
}

func (s *PostgresStore) Find(ctx context.Context, filter Filter) ([]*models.Report, error) {
	var (
		conds []string
		args  []interface{}
	)
	add := func(cond string, arg interface{}) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			statuses[i] = string(st)
		}
		add("status = ANY($%d)", pq.Array(statuses))
	}
	if filter.ImageBefore != "" {
		add("image_before = $%d", filter.ImageBefore)
	}
	if filter.ImageAfter != "" {
		add("image_after = $%d", filter.ImageAfter)
	}
	if filter.ImageBeforePrefix != "" {
		add("starts_with(image_before, $%d)", filter.ImageBeforePrefix)
	}
	if filter.ImageAfterPrefix != "" {
		add("starts_with(image_after, $%d)", filter.ImageAfterPrefix)
	}
	if !filter.CreatedAfter.IsZero() {
		add("created_at > $%d", filter.CreatedAfter)
	}
	if !filter.CreatedBefore.IsZero() {
		add("created_at < $%d", filter.CreatedBefore)
	}
	if filter.AttemptsBelow > 0 {
		add("COALESCE((doc->>'aiAttempts')::int, 0) < $%d", filter.AttemptsBelow)
	}
	if filter.AttemptsAtLeast > 0 {
		add("COALESCE((doc->>'aiAttempts')::int, 0) >= $%d", filter.AttemptsAtLeast)
	}
	if !filter.AnalyzedBefore.IsZero() {
		add("COALESCE((doc->>'aiAnalyzedAt')::timestamptz, '-infinity') < $%d", filter.AnalyzedBefore)
	}
	if filter.Unalerted {
		conds = append(conds, "COALESCE(doc->>'stuckAlertAt', '') = ''")
	}

	query := `SELECT id, created_at, doc FROM reports`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	if filter.OldestFirst {
		query += ` ORDER BY created_at ASC`
	} else {
		query += ` ORDER BY created_at DESC`
	}
	if filter.Limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, filter.Limit)
	}

	var rows []reportRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("postgres: could not query reports: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return s.hydrate(ctx, s.db, rows)
}

func (s *PostgresStore) Update(ctx context.Context, id string, update Update) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("postgres: could not begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, doc, err := lockReport(ctx, tx, id)
	if err != nil {
		return err
	}
	if err := writeUpdateTx(ctx, tx, id, doc, update); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("postgres: could not commit update of %s: %w", id, err)
	}
	return nil
}

func (s *PostgresStore) RunTransition(ctx context.Context, id string, fn TransitionFunc) (*models.Report, bool, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("postgres: could not begin transaction: %w", err)
	}
	defer tx.Rollback()

	row, doc, err := lockReport(ctx, tx, id)
	if err != nil {
		return nil, false, err
	}
	hydrated, err := s.hydrate(ctx, tx, []reportRow{row})
	if err != nil {
		return nil, false, err
	}
	current := hydrated[0]

	t, err := fn(current)
	if err != nil {
		return nil, false, err
	}
	if t == nil {
		return current, false, nil
	}

	if err := writeUpdateTx(ctx, tx, id, doc, t.Update); err != nil {
		return nil, false, err
	}

	for _, a := range pendingAwards(current, t.Awards) {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO report_rewards (report_id, milestone, account_id, points)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (report_id, milestone) DO NOTHING`,
			id, a.Milestone, a.AccountID, a.Points)
		if err != nil {
			return nil, false, fmt.Errorf("postgres: could not record milestone %s: %w", a.Milestone, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			continue
		}
		if err := incrementAccountTx(ctx, tx, a.AccountID, awardDeltas(a)); err != nil {
			return nil, false, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("postgres: could not commit transition of %s: %w", id, err)
	}

	r, err := s.Get(ctx, id)
	return r, true, err
}

func (s *PostgresStore) IncrementAccount(ctx context.Context, accountID string, deltas map[string]int) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("postgres: could not begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := incrementAccountTx(ctx, tx, accountID, deltas); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *PostgresStore) GetAccount(ctx context.Context, accountID string) (*models.Account, error) {
	var a models.Account
	err := s.db.GetContext(ctx, &a, `
		SELECT id, points, total_reports, total_cleaned, last_points_update
		FROM accounts WHERE id = $1`, accountID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("postgres: could not get account %s: %w", accountID, err)
	}
	return &a, nil
}

// incrementAccountTx upserts the account and adds deltas server side, so
// concurrent awards never lose an increment.
func incrementAccountTx(ctx context.Context, tx *sqlx.Tx, accountID string, deltas map[string]int) error {
	cols := []string{"id"}
	vals := []string{"$1"}
	sets := []string{}
	args := []interface{}{accountID}

	for field, delta := range deltas {
		col, ok := accountColumns[field]
		if !ok {
			return fmt.Errorf("postgres: unknown account counter %q", field)
		}
		args = append(args, delta)
		cols = append(cols, col)
		vals = append(vals, fmt.Sprintf("$%d", len(args)))
		sets = append(sets, fmt.Sprintf("%s = accounts.%s + EXCLUDED.%s", col, col, col))
	}
	if len(sets) == 0 {
		return nil
	}
	if _, ok := deltas[CounterPoints]; ok {
		cols = append(cols, "last_points_update")
		vals = append(vals, "NOW()")
		sets = append(sets, "last_points_update = NOW()")
	}

	query := fmt.Sprintf(`INSERT INTO accounts (%s) VALUES (%s) ON CONFLICT (id) DO UPDATE SET %s`,
		strings.Join(cols, ", "), strings.Join(vals, ", "), strings.Join(sets, ", "))
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("postgres: could not increment account %s: %w", accountID, err)
	}
	return nil
}

// lockReport reads the report row with a lock held until the transaction
// ends and returns its document as a mutable map.
func lockReport(ctx context.Context, tx *sqlx.Tx, id string) (reportRow, map[string]interface{}, error) {
	var row reportRow
	err := tx.GetContext(ctx, &row, `SELECT id, created_at, doc FROM reports WHERE id = $1 FOR UPDATE`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return row, nil, ErrNotFound
		}
		return row, nil, fmt.Errorf("postgres: could not lock report %s: %w", id, err)
	}
	doc := map[string]interface{}{}
	if err := json.Unmarshal(row.Doc, &doc); err != nil {
		return row, nil, fmt.Errorf("postgres: corrupt document for report %s: %w", id, err)
	}
	return row, doc, nil
}

func writeUpdateTx(ctx context.Context, tx *sqlx.Tx, id string, doc map[string]interface{}, update Update) error {
	for path, value := range update.Fields {
		setPath(doc, strings.Split(path, "."), value)
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("postgres: could not encode report %s: %w", id, err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE reports
		SET doc = $2,
			status = COALESCE(NULLIF($3, ''), status),
			image_after = $4,
			updated_at = NOW()
		WHERE id = $1`,
		id, raw, docString(doc, "status"), docString(doc, "imageAfter"))
	if err != nil {
		return fmt.Errorf("postgres: could not update report %s: %w", id, err)
	}

	if update.History != nil {
		entry := *update.History
		if entry.ID == "" {
			entry.ID = uuid.NewString()
		}
		if entry.Time.IsZero() {
			entry.Time = time.Now()
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO report_history (id, report_id, status, note, created_at)
			VALUES ($1, $2, $3, NULLIF($4, ''), $5)`,
			entry.ID, id, string(entry.Status), entry.Note, entry.Time)
		if err != nil {
			return fmt.Errorf("postgres: could not append history to %s: %w", id, err)
		}
	}
	return nil
}

// hydrate decodes documents and attaches history and reward milestones.
func (s *PostgresStore) hydrate(ctx context.Context, q sqlx.QueryerContext, rows []reportRow) ([]*models.Report, error) {
	ids := make([]string, len(rows))
	byID := make(map[string]*models.Report, len(rows))
	out := make([]*models.Report, len(rows))

	for i, row := range rows {
		r := &models.Report{}
		if err := json.Unmarshal(row.Doc, r); err != nil {
			return nil, fmt.Errorf("postgres: corrupt document for report %s: %w", row.ID, err)
		}
		r.ID = row.ID
		r.CreatedAt = row.CreatedAt
		r.History = nil
		r.RewardMilestones = nil
		ids[i] = row.ID
		byID[row.ID] = r
		out[i] = r
	}

	var history []historyRow
	err := sqlx.SelectContext(ctx, q, &history, `
		SELECT id, report_id, status, note, created_at
		FROM report_history WHERE report_id = ANY($1)
		ORDER BY seq ASC`, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("postgres: could not load history: %w", err)
	}
	for _, h := range history {
		r := byID[h.ReportID]
		r.History = append(r.History, models.HistoryEntry{
			ID:     h.ID,
			Status: models.Status(h.Status),
			Time:   h.CreatedAt,
			Note:   h.Note.String,
		})
	}

	var rewards []struct {
		ReportID  string `db:"report_id"`
		Milestone string `db:"milestone"`
	}
	err = sqlx.SelectContext(ctx, q, &rewards, `
		SELECT report_id, milestone FROM report_rewards
		WHERE report_id = ANY($1) ORDER BY created_at ASC`, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("postgres: could not load rewards: %w", err)
	}
	for _, rw := range rewards {
		r := byID[rw.ReportID]
		r.RewardMilestones = append(r.RewardMilestones, rw.Milestone)
	}
	return out, nil
}

func encodeDoc(r *models.Report) ([]byte, error) {
	raw, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	doc := map[string]interface{}{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	for _, k := range []string{"id", "createdAt", "history", "rewardMilestones"} {
		delete(doc, k)
	}
	return json.Marshal(doc)
}

func docString(doc map[string]interface{}, key string) string {
	switch v := doc[key].(type) {
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}
