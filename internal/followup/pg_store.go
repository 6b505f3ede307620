package followup

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"matti/backend/internal/analysis"
)

type dbQuerier interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
}

type txBeginner interface {
	dbQuerier
	Begin(context.Context) (pgx.Tx, error)
}

// PGStore keeps actions and follow-ups in Postgres. Tables come from
// db.EnsureSchema.
type PGStore struct {
	db txBeginner
}

func NewPGStore(db txBeginner) *PGStore {
	return &PGStore{db: db}
}

const actionColumns = `id, "userId", "conversationId", "themeId", "actionText", status, "completedAt", "createdAt", "updatedAt"`

const entryColumns = `f.id, f.kind, f."actionId", f."conversationId", f."userId", f."offsetDays", f."scheduledFor",
	f.status, f."notificationSent", f.response, f."respondedAt", f."createdAt"`

func (s *PGStore) CreateAction(ctx context.Context, action Action, entries []Entry) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin create action: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(
		ctx,
		`INSERT INTO "Action" (id, "userId", "conversationId", "themeId", "actionText", status, "completedAt", "createdAt", "updatedAt")
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (id) DO NOTHING`,
		action.ID,
		action.UserID,
		action.ConversationID,
		string(action.Theme),
		action.Text,
		string(action.Status),
		action.CompletedAt,
		action.CreatedAt,
		action.UpdatedAt,
	); err != nil {
		return fmt.Errorf("insert action %s: %w", action.ID, err)
	}
	if _, err := insertActionEntries(ctx, tx, entries); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit create action: %w", err)
	}
	return nil
}

func (s *PGStore) InsertActionEntries(ctx context.Context, entries []Entry) (int, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin insert follow-ups: %w", err)
	}
	defer tx.Rollback(ctx)

	inserted, err := insertActionEntries(ctx, tx, entries)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit insert follow-ups: %w", err)
	}
	return inserted, nil
}

func insertActionEntries(ctx context.Context, q dbQuerier, entries []Entry) (int, error) {
	inserted := 0
	for _, entry := range entries {
		if entry.ActionID == nil {
			return inserted, fmt.Errorf("%w: entry %s has no action", ErrInvalidAction, entry.ID)
		}
		tag, err := q.Exec(
			ctx,
			`INSERT INTO "FollowUp" (id, kind, "actionId", "conversationId", "userId", "offsetDays", "scheduledFor", status, "createdAt")
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			 ON CONFLICT ("actionId", "offsetDays") DO NOTHING`,
			entry.ID,
			string(entry.Kind),
			*entry.ActionID,
			entry.ConversationID,
			entry.UserID,
			entry.OffsetDays,
			entry.DueAt,
			string(entry.Status),
			entry.CreatedAt,
		)
		if err != nil {
			return inserted, fmt.Errorf("insert follow-up for action %s day %d: %w", *entry.ActionID, entry.OffsetDays, err)
		}
		inserted += int(tag.RowsAffected())
	}
	return inserted, nil
}

func (s *PGStore) InsertBullyingEntry(ctx context.Context, entry Entry) (bool, error) {
	if entry.ConversationID == nil {
		return false, fmt.Errorf("%w: bullying follow-up needs a conversation", ErrInvalidAction)
	}
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin bullying follow-up: %w", err)
	}
	defer tx.Rollback(ctx)

	var guarded string
	err = tx.QueryRow(
		ctx,
		`INSERT INTO "BullyingFollowUpGuard" ("conversationId", "userId", "scheduledAt")
		 VALUES ($1, $2, $3)
		 ON CONFLICT ("conversationId") DO NOTHING
		 RETURNING "conversationId"`,
		*entry.ConversationID,
		entry.UserID,
		entry.CreatedAt,
	).Scan(&guarded)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("guard bullying follow-up for %s: %w", *entry.ConversationID, err)
	}

	if _, err := tx.Exec(
		ctx,
		`INSERT INTO "FollowUp" (id, kind, "actionId", "conversationId", "userId", "offsetDays", "scheduledFor", status, "createdAt")
		 VALUES ($1, $2, NULL, $3, $4, $5, $6, $7, $8)`,
		entry.ID,
		string(entry.Kind),
		*entry.ConversationID,
		entry.UserID,
		entry.OffsetDays,
		entry.DueAt,
		string(entry.Status),
		entry.CreatedAt,
	); err != nil {
		return false, fmt.Errorf("insert bullying follow-up for %s: %w", *entry.ConversationID, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit bullying follow-up: %w", err)
	}
	return true, nil
}

func (s *PGStore) GetAction(ctx context.Context, actionID string) (Action, error) {
	action, err := scanAction(s.db.QueryRow(
		ctx,
		`SELECT `+actionColumns+` FROM "Action" WHERE id = $1`,
		actionID,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return Action{}, fmt.Errorf("action %s: %w", actionID, ErrNotFound)
	}
	if err != nil {
		return Action{}, fmt.Errorf("load action %s: %w", actionID, err)
	}
	return action, nil
}

func (s *PGStore) ListActions(ctx context.Context, userID string, filter ActionFilter) ([]Action, error) {
	conditions := []string{`"userId" = $1`}
	args := []any{userID}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.Theme != "" {
		args = append(args, string(filter.Theme))
		conditions = append(conditions, fmt.Sprintf(`"themeId" = $%d`, len(args)))
	}

	rows, err := s.db.Query(
		ctx,
		`SELECT `+actionColumns+` FROM "Action"
		 WHERE `+strings.Join(conditions, " AND ")+`
		 ORDER BY "createdAt" DESC, id DESC`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("list actions: %w", err)
	}
	defer rows.Close()

	result := []Action{}
	for rows.Next() {
		action, err := scanAction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan action: %w", err)
		}
		result = append(result, action)
	}
	return result, rows.Err()
}

func (s *PGStore) UpdateActionStatus(ctx context.Context, actionID string, status ActionStatus, at time.Time) (Action, int, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return Action{}, 0, fmt.Errorf("begin action status: %w", err)
	}
	defer tx.Rollback(ctx)

	var completedAt *time.Time
	if status == ActionCompleted {
		completedAt = &at
	}
	action, err := scanAction(tx.QueryRow(
		ctx,
		`UPDATE "Action"
		 SET status = $2,
		     "completedAt" = COALESCE($3, "completedAt"),
		     "updatedAt" = $4
		 WHERE id = $1
		 RETURNING `+actionColumns,
		actionID,
		string(status),
		completedAt,
		at,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return Action{}, 0, fmt.Errorf("action %s: %w", actionID, ErrNotFound)
	}
	if err != nil {
		return Action{}, 0, fmt.Errorf("update action %s: %w", actionID, err)
	}

	skipped := 0
	if status.closes() {
		tag, err := tx.Exec(
			ctx,
			`UPDATE "FollowUp" SET status = 'skipped'
			 WHERE "actionId" = $1 AND status = 'pending'`,
			actionID,
		)
		if err != nil {
			return Action{}, 0, fmt.Errorf("skip follow-ups for %s: %w", actionID, err)
		}
		skipped = int(tag.RowsAffected())
	}
	if err := tx.Commit(ctx); err != nil {
		return Action{}, 0, fmt.Errorf("commit action status: %w", err)
	}
	return action, skipped, nil
}

func (s *PGStore) ListEntries(ctx context.Context, actionID string) ([]Entry, error) {
	return s.queryEntries(
		ctx,
		`SELECT `+entryColumns+` FROM "FollowUp" f
		 WHERE f."actionId" = $1
		 ORDER BY f."scheduledFor" ASC`,
		actionID,
	)
}

func (s *PGStore) ListPendingForUser(ctx context.Context, userID string) ([]Entry, error) {
	return s.queryEntries(
		ctx,
		`SELECT `+entryColumns+` FROM "FollowUp" f
		 WHERE f."userId" = $1 AND f.status = 'pending'
		 ORDER BY f."scheduledFor" ASC`,
		userID,
	)
}

func (s *PGStore) queryEntries(ctx context.Context, query string, args ...any) ([]Entry, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list follow-ups: %w", err)
	}
	defer rows.Close()

	result := []Entry{}
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan follow-up: %w", err)
		}
		result = append(result, entry)
	}
	return result, rows.Err()
}

func (s *PGStore) GetEntry(ctx context.Context, entryID string) (Entry, error) {
	entry, err := scanEntry(s.db.QueryRow(
		ctx,
		`SELECT `+entryColumns+` FROM "FollowUp" f WHERE f.id = $1`,
		entryID,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return Entry{}, fmt.Errorf("follow-up %s: %w", entryID, ErrNotFound)
	}
	if err != nil {
		return Entry{}, fmt.Errorf("load follow-up %s: %w", entryID, err)
	}
	return entry, nil
}

func (s *PGStore) MarkSent(ctx context.Context, entryID string, at time.Time) error {
	tag, err := s.db.Exec(
		ctx,
		`UPDATE "FollowUp" SET status = 'sent', "notificationSent" = $2
		 WHERE id = $1 AND status = 'pending'`,
		entryID,
		at,
	)
	if err != nil {
		return fmt.Errorf("mark follow-up %s sent: %w", entryID, err)
	}
	if tag.RowsAffected() == 0 {
		return s.transitionError(ctx, entryID)
	}
	return nil
}

func (s *PGStore) MarkResponded(ctx context.Context, entryID, response string, at time.Time) (Entry, error) {
	entry, err := scanEntry(s.db.QueryRow(
		ctx,
		`UPDATE "FollowUp" f SET status = 'responded', response = $2, "respondedAt" = $3
		 WHERE f.id = $1 AND f.status = 'sent'
		 RETURNING `+entryColumns,
		entryID,
		response,
		at,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return Entry{}, s.transitionError(ctx, entryID)
	}
	if err != nil {
		return Entry{}, fmt.Errorf("record response for %s: %w", entryID, err)
	}
	return entry, nil
}

// transitionError explains why a guarded update touched no row.
func (s *PGStore) transitionError(ctx context.Context, entryID string) error {
	entry, err := s.GetEntry(ctx, entryID)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: follow-up %s is %s", ErrInvalidTransition, entryID, entry.Status)
}

func (s *PGStore) DuePending(ctx context.Context, now time.Time, limit int) ([]DueEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(
		ctx,
		`SELECT `+entryColumns+`, COALESCE(a."actionText", ''), COALESCE(a."themeId", '')
		 FROM "FollowUp" f
		 LEFT JOIN "Action" a ON a.id = f."actionId"
		 WHERE f.status = 'pending' AND f."scheduledFor" <= $1
		 ORDER BY f."scheduledFor" ASC
		 LIMIT $2`,
		now,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("load due follow-ups: %w", err)
	}
	defer rows.Close()

	result := []DueEntry{}
	for rows.Next() {
		var item DueEntry
		var theme string
		if err := rows.Scan(append(entryTargets(&item.Entry), &item.ActionText, &theme)...); err != nil {
			return nil, fmt.Errorf("scan due follow-up: %w", err)
		}
		item.Theme = analysis.ThemeID(theme)
		result = append(result, item)
	}
	return result, rows.Err()
}

func scanAction(row pgx.Row) (Action, error) {
	var action Action
	var theme, status string
	err := row.Scan(
		&action.ID,
		&action.UserID,
		&action.ConversationID,
		&theme,
		&action.Text,
		&status,
		&action.CompletedAt,
		&action.CreatedAt,
		&action.UpdatedAt,
	)
	action.Theme = analysis.ThemeID(theme)
	action.Status = ActionStatus(status)
	return action, err
}

func scanEntry(row pgx.Row) (Entry, error) {
	var entry Entry
	err := row.Scan(entryTargets(&entry)...)
	return entry, err
}

func entryTargets(entry *Entry) []any {
	return []any{
		&entry.ID,
		(*string)(&entry.Kind),
		&entry.ActionID,
		&entry.ConversationID,
		&entry.UserID,
		&entry.OffsetDays,
		&entry.DueAt,
		(*string)(&entry.Status),
		&entry.NotifiedAt,
		&entry.Response,
		&entry.RespondedAt,
		&entry.CreatedAt,
	}
}
