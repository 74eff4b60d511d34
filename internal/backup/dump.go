package backup

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dukerupert/localspeed/internal/model"
)

const dumpTimeFormat = "2006-01-02 15:04:05.999999999-07:00"

// SettingsSource returns the stored settings row, or nil when none exists.
type SettingsSource interface {
	Raw(ctx context.Context) (*model.Settings, error)
}

// ResultSource returns the full measurement history.
type ResultSource interface {
	All(ctx context.Context) ([]model.Result, error)
}

// Dumper writes the persisted data as SQL INSERT statements. Output is
// deterministic for a given dataset and clock.
type Dumper struct {
	settings SettingsSource
	results  ResultSource
	now      func() time.Time
}

func NewDumper(settings SettingsSource, results ResultSource, now func() time.Time) *Dumper {
	if now == nil {
		now = time.Now
	}
	return &Dumper{settings: settings, results: results, now: now}
}

var settingsDumpCols = []string{
	"id", "lang", "theme", "unit", "primary_color",
	"oidc_enabled", "oidc_discovery_url", "oidc_client_id", "oidc_client_secret",
	"backup_enabled", "backup_client_id", "backup_client_secret", "backup_folder_name",
	"backup_frequency_days", "backup_time", "backup_retention_days",
	"backup_last_at", "backup_status", "backup_credential",
}

var resultDumpCols = []string{"id", "date", "ping", "download", "upload", "lang", "theme", "mode"}

// Generate renders the dump. An empty dataset yields the header only.
func (d *Dumper) Generate(ctx context.Context) ([]byte, error) {
	settings, err := d.settings.Raw(ctx)
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}
	results, err := d.results.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("read results: %w", err)
	}

	var b bytes.Buffer
	b.WriteString("-- LocalSpeed SQL Dump\n")
	fmt.Fprintf(&b, "-- Created: %s\n", d.now().Format("2006-01-02 15:04:05"))

	if settings != nil {
		var credential any
		if settings.Backup.Credential != "" {
			credential = settings.Backup.Credential
		}
		b.WriteString("\n")
		writeInsert(&b, "settings", settingsDumpCols, []any{
			settings.ID, settings.Lang, settings.Theme, settings.Unit, settings.PrimaryColor,
			settings.OIDCEnabled, settings.OIDCDiscoveryURL, settings.OIDCClientID, settings.OIDCClientSecret,
			settings.Backup.Enabled, settings.Backup.ClientID, settings.Backup.ClientSecret, settings.Backup.FolderName,
			settings.Backup.FrequencyDays, settings.Backup.TargetTime, settings.Backup.RetentionDays,
			settings.Status.LastBackupAt, settings.Status.Message, credential,
		})
	}

	if len(results) > 0 {
		b.WriteString("\n")
	}
	for _, r := range results {
		writeInsert(&b, "results", resultDumpCols, []any{
			r.ID, r.Date, r.Ping, r.Download, r.Upload, r.Lang, r.Theme, r.Mode,
		})
	}
	return b.Bytes(), nil
}

func writeInsert(b *bytes.Buffer, table string, cols []string, vals []any) {
	rendered := make([]string, len(vals))
	for i, v := range vals {
		rendered[i] = sqlLiteral(v)
	}
	fmt.Fprintf(b, "INSERT INTO %s (%s) VALUES (%s);\n", table, strings.Join(cols, ", "), strings.Join(rendered, ", "))
}

// sqlLiteral renders a value for embedding in an INSERT. Absent values
// become NULL rather than being omitted.
func sqlLiteral(v any) string {
	switch x := v.(type) {
	case nil:
		return "NULL"
	case bool:
		if x {
			return "1"
		}
		return "0"
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case string:
		return quote(x)
	case *string:
		if x == nil {
			return "NULL"
		}
		return quote(*x)
	case time.Time:
		return quote(x.UTC().Format(dumpTimeFormat))
	case *time.Time:
		if x == nil {
			return "NULL"
		}
		return quote(x.UTC().Format(dumpTimeFormat))
	default:
		return quote(fmt.Sprint(x))
	}
}

func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// Restore replaces the stored data with the contents of a dump in one
// transaction. The results table is always cleared; the settings row is
// replaced only when the dump carries one, so a header-only dump leaves an
// empty database unchanged. It returns the number of statements executed.
func Restore(ctx context.Context, db *sql.DB, dump []byte) (int, error) {
	stmts, err := splitStatements(string(dump))
	if err != nil {
		return 0, err
	}

	hasSettings := false
	for _, stmt := range stmts {
		table, err := insertTable(stmt)
		if err != nil {
			return 0, err
		}
		if table == "settings" {
			hasSettings = true
		}
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin restore: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM results`); err != nil {
		return 0, fmt.Errorf("clear results: %w", err)
	}
	if hasSettings {
		if _, err := tx.ExecContext(ctx, `DELETE FROM settings`); err != nil {
			return 0, fmt.Errorf("clear settings: %w", err)
		}
	}
	for i, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return 0, fmt.Errorf("statement %d: %w", i+1, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit restore: %w", err)
	}
	return len(stmts), nil
}

// splitStatements splits a dump on semicolons outside string literals and
// drops "--" comment lines.
func splitStatements(dump string) ([]string, error) {
	var stmts []string
	var cur strings.Builder
	inQuote := false

	for i := 0; i < len(dump); i++ {
		c := dump[i]
		switch {
		case inQuote:
			cur.WriteByte(c)
			if c == '\'' {
				inQuote = false
			}
		case c == '\'':
			inQuote = true
			cur.WriteByte(c)
		case c == '-' && i+1 < len(dump) && dump[i+1] == '-':
			for i < len(dump) && dump[i] != '\n' {
				i++
			}
		case c == ';':
			if s := strings.TrimSpace(cur.String()); s != "" {
				stmts = append(stmts, s)
			}
			cur.Reset()
		default:
			cur.WriteByte(c)
		}
	}
	if inQuote {
		return nil, fmt.Errorf("parse dump: unterminated string literal")
	}
	if s := strings.TrimSpace(cur.String()); s != "" {
		return nil, fmt.Errorf("parse dump: trailing statement without semicolon")
	}
	return stmts, nil
}

// insertTable returns the target table of an allowed INSERT statement.
func insertTable(stmt string) (string, error) {
	fields := strings.Fields(stmt)
	if len(fields) < 3 || !strings.EqualFold(fields[0], "INSERT") || !strings.EqualFold(fields[1], "INTO") {
		return "", fmt.Errorf("parse dump: only INSERT statements are allowed")
	}
	table := strings.ToLower(fields[2])
	if i := strings.IndexByte(table, '('); i >= 0 {
		table = table[:i]
	}
	switch table {
	case "settings", "results":
		return table, nil
	}
	return "", fmt.Errorf("parse dump: table %q is not restorable", fields[2])
}
