package postgres

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"

	"bidding-service/internal/events"
	"bidding-service/internal/models"

	"github.com/lib/pq"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrations embed.FS

type Storage struct {
	db *sql.DB
}

func New(storagePath string) (*Storage, error) {
	const op = "storage.postgres.New"

	db, err := sql.Open("postgres", storagePath)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &Storage{db: db}, nil
}

func (s *Storage) Close() error {
	if s == nil || s.db == nil {
		return nil
	}

	return s.db.Close()
}

// Migrate applies the embedded schema migrations.
func (s *Storage) Migrate(ctx context.Context) error {
	const op = "storage.postgres.Migrate"

	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := goose.UpContext(ctx, s.db, "migrations"); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// #### instructors ####

func (s *Storage) SaveInstructor(ctx context.Context, instructorID string, cfg models.InstructorSchedulingConfig) error {
	const op = "storage.postgres.SaveInstructor"

	raw, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO instructors (instructor_id, config)
		VALUES ($1, $2)
		ON CONFLICT (instructor_id)
		DO UPDATE SET config = EXCLUDED.config, updated_at = now()`,
		instructorID, raw,
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (s *Storage) LoadInstructors(ctx context.Context) (map[string]models.InstructorSchedulingConfig, error) {
	const op = "storage.postgres.LoadInstructors"

	rows, err := s.db.QueryContext(ctx, `SELECT instructor_id, config FROM instructors`)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	out := make(map[string]models.InstructorSchedulingConfig)
	for rows.Next() {
		var (
			id  string
			raw []byte
			cfg models.InstructorSchedulingConfig
		)
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("%s: instructor %s: %w", op, id, err)
		}
		out[id] = cfg
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return out, nil
}

// #### slots ####

// SaveDay stores the published day and drops the slots that are no longer part
// of it.
func (s *Storage) SaveDay(ctx context.Context, instructorID string, day models.DayAvailability) error {
	const op = "storage.postgres.SaveDay"

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer tx.Rollback()

	ids := make([]string, 0, len(day.Slots))
	for _, slot := range day.Slots {
		ids = append(ids, slot.ID)
	}

	_, err = tx.ExecContext(ctx, `
		DELETE FROM slots
		WHERE instructor_id = $1 AND date = $2 AND NOT (slot_id = ANY($3))`,
		instructorID, day.Date, pq.Array(ids),
	)
	if err != nil {
		return fmt.Errorf("%s: delete: %w", op, err)
	}

	for _, slot := range day.Slots {
		if err := upsertSlotTx(ctx, tx, slot); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%s: commit: %w", op, err)
	}

	return nil
}

func (s *Storage) SaveSlotWithEvent(ctx context.Context, slot models.TimeSlot, requests []models.BookingRequest, ev events.Event) error {
	const op = "storage.postgres.SaveSlotWithEvent"

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer tx.Rollback()

	if err := upsertSlotTx(ctx, tx, slot); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	for _, r := range requests {
		if err := upsertRequestTx(ctx, tx, r); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO outbox_events (event_id, event_type, instructor_id, slot_id, payload, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (event_id) DO NOTHING`,
		ev.ID, string(ev.Type), ev.InstructorID, ev.SlotID, payload, ev.OccurredAt,
	)
	if err != nil {
		return fmt.Errorf("%s: outbox: %w", op, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%s: commit: %w", op, err)
	}

	return nil
}

// DeleteSlots drops pruned slots; their requests go with them through the
// foreign key cascade. Outbox rows are kept.
func (s *Storage) DeleteSlots(ctx context.Context, instructorID string, slotIDs []string) error {
	const op = "storage.postgres.DeleteSlots"

	if len(slotIDs) == 0 {
		return nil
	}

	_, err := s.db.ExecContext(ctx, `
		DELETE FROM slots
		WHERE instructor_id = $1 AND slot_id = ANY($2)`,
		instructorID, pq.Array(slotIDs),
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// upsertSlotTx never lets an older snapshot overwrite a newer one.
func upsertSlotTx(ctx context.Context, tx *sql.Tx, slot models.TimeSlot) error {
	raw, err := json.Marshal(slot)
	if err != nil {
		return fmt.Errorf("slot %s: %w", slot.ID, err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO slots (instructor_id, slot_id, date, start_time, status, version, snapshot)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (instructor_id, slot_id)
		DO UPDATE
		SET status = EXCLUDED.status,
			version = EXCLUDED.version,
			snapshot = EXCLUDED.snapshot,
			start_time = EXCLUDED.start_time,
			updated_at = now()
		WHERE slots.version <= EXCLUDED.version`,
		slot.InstructorID, slot.ID, slot.Date, slot.StartTime, string(slot.Status), slot.Version, raw,
	)
	if err != nil {
		return fmt.Errorf("slot %s: %w", slot.ID, err)
	}

	return nil
}

func upsertRequestTx(ctx context.Context, tx *sql.Tx, r models.BookingRequest) error {
	var decidedAt sql.NullTime
	if r.DecidedAt != nil {
		decidedAt = sql.NullTime{Time: *r.DecidedAt, Valid: true}
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO booking_requests (
			request_id, instructor_id, slot_id, student_id, session_type,
			offer_price, message, status, submitted_at, expires_at, decided_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (request_id)
		DO UPDATE SET status = EXCLUDED.status, decided_at = EXCLUDED.decided_at`,
		r.ID, r.InstructorID, r.SlotID, r.StudentID, string(r.SessionKind),
		r.OfferPrice, r.Message, string(r.Status), r.SubmittedAt, r.ExpiresAt, decidedAt,
	)
	if err != nil {
		return fmt.Errorf("request %s: %w", r.ID, err)
	}

	return nil
}

func (s *Storage) LoadSlots(ctx context.Context, instructorID string) ([]models.TimeSlot, error) {
	const op = "storage.postgres.LoadSlots"

	rows, err := s.db.QueryContext(ctx, `
		SELECT snapshot FROM slots
		WHERE instructor_id = $1
		ORDER BY start_time`,
		instructorID,
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var out []models.TimeSlot
	for rows.Next() {
		var (
			raw  []byte
			slot models.TimeSlot
		)
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		if err := json.Unmarshal(raw, &slot); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		out = append(out, slot)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return out, nil
}

func (s *Storage) LoadRequests(ctx context.Context, instructorID string) ([]models.BookingRequest, error) {
	const op = "storage.postgres.LoadRequests"

	rows, err := s.db.QueryContext(ctx, `
		SELECT request_id, instructor_id, slot_id, student_id, session_type,
			offer_price, message, status, submitted_at, expires_at, decided_at
		FROM booking_requests
		WHERE instructor_id = $1
		ORDER BY submitted_at, request_id`,
		instructorID,
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var out []models.BookingRequest
	for rows.Next() {
		var (
			r         models.BookingRequest
			kind      string
			status    string
			decidedAt sql.NullTime
		)

		err := rows.Scan(&r.ID, &r.InstructorID, &r.SlotID, &r.StudentID, &kind,
			&r.OfferPrice, &r.Message, &status, &r.SubmittedAt, &r.ExpiresAt, &decidedAt)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}

		if r.SessionKind, err = models.ParseSessionKind(kind); err != nil {
			return nil, fmt.Errorf("%s: request %s: %w", op, r.ID, err)
		}
		r.Status = models.RequestStatus(status)
		if decidedAt.Valid {
			t := decidedAt.Time
			r.DecidedAt = &t
		}

		out = append(out, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return out, nil
}
