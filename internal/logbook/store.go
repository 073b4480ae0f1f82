package logbook

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

// NewDayHour is the local hour at which one operating day ends and the next
// begins. Before this hour the period is still the previous calendar day.
const NewDayHour = 3

// Store is the source of truth for the daily log: an in-memory snapshot
// mirrored to SQLite. It is not safe for concurrent use; the service layer
// serializes all access.
type Store struct {
	db       *sql.DB
	log      DailyLog
	periodID int64
	now      func() time.Time
}

// Open opens (or creates) the store's database in dataDir. Call
// LoadCurrentPeriod before anything else.
func Open(dataDir string) (*Store, error) {
	db, err := openDB(dataDir)
	if err != nil {
		return nil, err
	}
	return &Store{db: db, log: DailyLog{}, now: time.Now}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// PeriodStart returns the operating-day boundary for the given instant: the
// most recent NewDayHour o'clock local time at or before it.
func PeriodStart(now time.Time) time.Time {
	day := now
	if now.Hour() < NewDayHour {
		day = now.AddDate(0, 0, -1)
	}
	return time.Date(day.Year(), day.Month(), day.Day(), NewDayHour, 0, 0, 0, now.Location())
}

// NextPeriodStart returns the instant the current operating day ends.
func NextPeriodStart(now time.Time) time.Time {
	return PeriodStart(now).AddDate(0, 0, 1)
}

// LoadCurrentPeriod loads or creates the durable record for the current
// operating day, replaces the in-memory snapshot with its allocations, and
// returns any display-message handles recorded for it (empty if the period is
// new). Safe to call again at rollover.
func (s *Store) LoadCurrentPeriod() ([]string, error) {
	start := PeriodStart(s.now())
	dateStr := start.Format("2006-01-02")

	var periodID int64
	err := s.db.QueryRow("SELECT id FROM periods WHERE start_date = ?", dateStr).Scan(&periodID)
	switch {
	case err == sql.ErrNoRows:
		res, err := s.db.Exec("INSERT INTO periods (start_date) VALUES (?)", dateStr)
		if err != nil {
			return nil, fmt.Errorf("creating period %s: %w", dateStr, err)
		}
		if periodID, err = res.LastInsertId(); err != nil {
			return nil, fmt.Errorf("reading new period id: %w", err)
		}
		s.periodID = periodID
		s.log = DailyLog{}
		slog.Info("started new log period", "date", dateStr)
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("looking up period %s: %w", dateStr, err)
	}

	log := DailyLog{}
	rows, err := s.db.Query(`
		SELECT service, units, sources, notes, idx, withdrawn
		FROM allocations WHERE period_id = ?`, periodID)
	if err != nil {
		return nil, fmt.Errorf("loading allocations: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			service, units, sources, notes string
			idx                            sql.NullInt64
			withdrawn                      bool
		)
		if err := rows.Scan(&service, &units, &sources, &notes, &idx, &withdrawn); err != nil {
			return nil, fmt.Errorf("scanning allocation: %w", err)
		}
		d := Details{Sources: sources, Notes: notes, Withdrawn: withdrawn}
		if idx.Valid {
			i := int(idx.Int64)
			d.Index = &i
		}
		if log[service] == nil {
			log[service] = make(map[string]Details)
		}
		log[service][units] = d
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("loading allocations: %w", err)
	}

	handles, err := s.displayMessages(periodID)
	if err != nil {
		return nil, err
	}

	s.periodID = periodID
	s.log = log
	slog.Info("loaded existing log period", "date", dateStr, "services", len(log), "messages", len(handles))
	return handles, nil
}

func (s *Store) displayMessages(periodID int64) ([]string, error) {
	rows, err := s.db.Query("SELECT id FROM display_messages WHERE period_id = ?", periodID)
	if err != nil {
		return nil, fmt.Errorf("loading display messages: %w", err)
	}
	defer rows.Close()
	var handles []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning display message: %w", err)
		}
		handles = append(handles, id)
	}
	return handles, rows.Err()
}

// Snapshot returns a deep copy of the current daily log. Callers never
// observe partial writes and cannot mutate shared state.
func (s *Store) Snapshot() DailyLog {
	return s.log.Clone()
}

// Get returns the details logged at (service, units), if any.
func (s *Store) Get(service, units string) (Details, bool) {
	d, ok := s.log.Lookup(service, units)
	if !ok {
		return Details{}, false
	}
	return d.clone(), true
}

// ApplyBatch applies the batch within one durable transaction: every touched
// (service, units) key is deleted, then rows are inserted for every add. The
// in-memory snapshot is mutated only after the commit succeeds; on failure it
// is untouched and the batch is applied nowhere.
func (s *Store) ApplyBatch(batch Batch) error {
	if len(batch) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	// Delete every affected allocation first so additions replace any
	// existing ones, making add an idempotent upsert.
	for _, t := range batch {
		if _, err := tx.Exec(
			"DELETE FROM allocations WHERE period_id = ? AND service = ? AND units = ?",
			s.periodID, t.Service, t.Units,
		); err != nil {
			return fmt.Errorf("deleting allocation %s/%s: %w", t.Service, t.Units, err)
		}
	}
	for _, t := range batch {
		if t.Kind != TxAdd {
			continue
		}
		var idx any
		if t.Details.Index != nil {
			idx = *t.Details.Index
		}
		if _, err := tx.Exec(`
			INSERT INTO allocations (period_id, service, units, sources, notes, idx, withdrawn)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			s.periodID, t.Service, t.Units, t.Details.Sources, t.Details.Notes, idx, t.Details.Withdrawn,
		); err != nil {
			return fmt.Errorf("inserting allocation %s/%s: %w", t.Service, t.Units, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing batch: %w", err)
	}

	s.log.Apply(batch)
	return nil
}

// RecordDisplayMessage associates a display-message handle with the current
// period so a restart can resume editing it.
func (s *Store) RecordDisplayMessage(id string) error {
	_, err := s.db.Exec(
		"INSERT OR REPLACE INTO display_messages (id, period_id) VALUES (?, ?)",
		id, s.periodID,
	)
	if err != nil {
		return fmt.Errorf("recording display message: %w", err)
	}
	return nil
}

// ForgetDisplayMessage removes a display-message association.
func (s *Store) ForgetDisplayMessage(id string) error {
	_, err := s.db.Exec("DELETE FROM display_messages WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("forgetting display message: %w", err)
	}
	return nil
}
