package repo

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/LeventeLantos/social-dispatch/internal/model"
)

//go:embed migrations/*.sql
var migrations embed.FS

const messageColumns = `id, platform, recipient, message_type, content, media_url,
	template_name, template_language, template_params, status, attempt_count,
	last_error_code, last_error_message, provider_message_id, created_at, sent_at, updated_at`

type PostgresMessageRepo struct {
	db *sql.DB
}

func NewPostgresMessageRepo(db *sql.DB) *PostgresMessageRepo {
	return &PostgresMessageRepo{db: db}
}

// Migrate applies the embedded schema files in name order. Every file is
// idempotent so it is safe to run on each start.
func (r *PostgresMessageRepo) Migrate(ctx context.Context) error {
	names, err := fs.Glob(migrations, "migrations/*.sql")
	if err != nil {
		return err
	}
	sort.Strings(names)

	for _, name := range names {
		b, err := migrations.ReadFile(name)
		if err != nil {
			return err
		}
		if _, err := r.db.ExecContext(ctx, string(b)); err != nil {
			return fmt.Errorf("apply %s: %w", name, err)
		}
	}
	return nil
}

func (r *PostgresMessageRepo) Create(ctx context.Context, m *model.Message) (string, error) {
	params, err := json.Marshal(nonNilParams(m.TemplateParams))
	if err != nil {
		return "", err
	}

	now := time.Now().UTC()
	id := uuid.NewString()

	if _, err := r.db.ExecContext(ctx, `
		INSERT INTO messages (
			id, platform, recipient, message_type, content, media_url,
			template_name, template_language, template_params,
			status, attempt_count, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 'draft', 0, $10, $10)
	`,
		id,
		string(m.Platform),
		m.Recipient,
		string(m.MessageType),
		m.Content,
		m.MediaURL,
		m.TemplateName,
		m.TemplateLanguage,
		string(params),
		now,
	); err != nil {
		return "", err
	}

	m.ID = id
	m.Status = model.Draft
	m.AttemptCount = 0
	m.LastError = nil
	m.ProviderMessageID = nil
	m.SentAt = nil
	m.Timestamp = now
	m.UpdatedAt = now
	return id, nil
}

func (r *PostgresMessageRepo) Get(ctx context.Context, id string) (model.Message, error) {
	if _, err := uuid.Parse(id); err != nil {
		return model.Message{}, ErrNotFound
	}

	row := r.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = $1`, id)
	m, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Message{}, ErrNotFound
	}
	return m, err
}

func (r *PostgresMessageRepo) Update(ctx context.Context, id string, expected model.Status, p Patch) (model.Message, error) {
	if _, err := uuid.Parse(id); err != nil {
		return model.Message{}, ErrNotFound
	}

	args := []any{id, string(expected)}
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	sets := []string{"updated_at = now()"}
	if p.Status != nil {
		sets = append(sets, "status = "+arg(string(*p.Status)))
	}
	if p.IncrementAttempts {
		sets = append(sets, "attempt_count = attempt_count + 1")
	}
	if p.ProviderMessageID != nil {
		sets = append(sets, "provider_message_id = "+arg(*p.ProviderMessageID))
	}
	switch {
	case p.LastError != nil:
		sets = append(sets,
			"last_error_code = "+arg(p.LastError.Code),
			"last_error_message = "+arg(p.LastError.Message),
		)
	case p.ClearLastError:
		sets = append(sets, "last_error_code = NULL", "last_error_message = NULL")
	}
	if p.SentAt != nil {
		sets = append(sets, "sent_at = "+arg(p.SentAt.UTC()))
	}

	row := r.db.QueryRowContext(ctx, `
		UPDATE messages
		SET `+strings.Join(sets, ", ")+`
		WHERE id = $1 AND status = $2
		RETURNING `+messageColumns, args...)

	m, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		var exists bool
		if err := r.db.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM messages WHERE id = $1)`, id,
		).Scan(&exists); err != nil {
			return model.Message{}, err
		}
		if !exists {
			return model.Message{}, ErrNotFound
		}
		return model.Message{}, ErrStatusConflict
	}
	return m, err
}

func (r *PostgresMessageRepo) List(ctx context.Context, f Filter) ([]model.Message, error) {
	f = normalizeFilter(f)

	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if f.Platform != "" {
		where = append(where, "platform = "+arg(string(f.Platform)))
	}
	if f.Status != "" {
		where = append(where, "status = "+arg(string(f.Status)))
	}
	if f.Recipient != "" {
		where = append(where, "recipient = "+arg(f.Recipient))
	}
	if !f.UpdatedBefore.IsZero() {
		where = append(where, "updated_at < "+arg(f.UpdatedBefore.UTC()))
	}

	q := `SELECT ` + messageColumns + ` FROM messages`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY created_at DESC, id LIMIT ` + arg(f.Limit) + ` OFFSET ` + arg(f.Offset)

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (model.Message, error) {
	var (
		m          model.Message
		platform   string
		msgType    string
		status     string
		params     []byte
		errCode    sql.NullString
		errMessage sql.NullString
		remoteID   sql.NullString
		sentAt     sql.NullTime
	)

	if err := row.Scan(
		&m.ID,
		&platform,
		&m.Recipient,
		&msgType,
		&m.Content,
		&m.MediaURL,
		&m.TemplateName,
		&m.TemplateLanguage,
		&params,
		&status,
		&m.AttemptCount,
		&errCode,
		&errMessage,
		&remoteID,
		&m.Timestamp,
		&sentAt,
		&m.UpdatedAt,
	); err != nil {
		return model.Message{}, err
	}

	m.Platform = model.Platform(platform)
	m.MessageType = model.MessageType(msgType)
	m.Status = model.Status(status)

	if len(params) > 0 {
		if err := json.Unmarshal(params, &m.TemplateParams); err != nil {
			return model.Message{}, fmt.Errorf("decode template_params: %w", err)
		}
		if len(m.TemplateParams) == 0 {
			m.TemplateParams = nil
		}
	}
	if errCode.Valid {
		m.LastError = &model.ProviderError{Code: errCode.String, Message: errMessage.String}
	}
	if remoteID.Valid {
		s := remoteID.String
		m.ProviderMessageID = &s
	}
	if sentAt.Valid {
		t := sentAt.Time
		m.SentAt = &t
	}
	return m, nil
}

func nonNilParams(p []string) []string {
	if p == nil {
		return []string{}
	}
	return p
}
