package migrate

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"
)

const (
	defaultMigrationsTable = "schema_migrations"
	defaultSeedsTable      = "schema_seeds"
)

// ErrDrift is returned when an applied script no longer matches its file.
var ErrDrift = errors.New("migration drift")

// Record is one applied script as kept in a bookkeeping table.
type Record struct {
	Name      string
	Checksum  string
	AppliedAt time.Time
}

// Manager runs schema migrations and seed scripts read from a file system,
// usually the one embedded by the store package. Every script is applied and
// recorded in the same transaction.
type Manager struct {
	db         *sql.DB
	migrations fs.FS
	seeds      fs.FS
	tables     [2]string
	now        func() time.Time
}

// Option configures Manager.
type Option func(*Manager)

// WithMigrationsTable overrides the default migrations bookkeeping table.
func WithMigrationsTable(name string) Option {
	return func(m *Manager) {
		if name != "" {
			m.tables[0] = name
		}
	}
}

// WithSeedsTable overrides the default seeds bookkeeping table.
func WithSeedsTable(name string) Option {
	return func(m *Manager) {
		if name != "" {
			m.tables[1] = name
		}
	}
}

// WithClock sets the time source used for applied_at.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewManager constructs a Manager. Either file system may be nil.
func NewManager(db *sql.DB, migrations, seeds fs.FS, opts ...Option) *Manager {
	m := &Manager{
		db:         db,
		migrations: migrations,
		seeds:      seeds,
		tables:     [2]string{defaultMigrationsTable, defaultSeedsTable},
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Up applies pending migrations in name order. It refuses to run when an
// already applied migration was edited afterwards.
func (m *Manager) Up(ctx context.Context) error {
	plan, err := m.plan(ctx)
	if err != nil {
		return err
	}
	for _, s := range plan {
		if err := m.apply(ctx, m.tables[0], s.Name, s.body); err != nil {
			return fmt.Errorf("apply migration %s: %w", s.Name, err)
		}
	}
	return nil
}

// Pending lists migrations that Up would apply.
func (m *Manager) Pending(ctx context.Context) ([]string, error) {
	plan, err := m.plan(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(plan))
	for _, s := range plan {
		names = append(names, s.Name)
	}
	return names, nil
}

// Down reverts the most recently applied migration.
func (m *Manager) Down(ctx context.Context) error {
	applied, err := m.Status(ctx)
	if err != nil {
		return err
	}
	if len(applied) == 0 {
		return errors.New("no migrations applied")
	}
	last := applied[len(applied)-1].Name
	down, err := findDown(m.migrations, last)
	if err != nil {
		return err
	}
	err = m.inTx(ctx, func(tx *sql.Tx) error {
		if err := execScript(ctx, tx, down.body); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, fmt.Sprintf(`delete from %s where name = $1`, m.tables[0]), last)
		return err
	})
	if err != nil {
		return fmt.Errorf("rollback migration %s: %w", last, err)
	}
	return nil
}

// Status returns applied migrations, oldest first.
func (m *Manager) Status(ctx context.Context) ([]Record, error) {
	if err := m.ensureTables(ctx); err != nil {
		return nil, err
	}
	return m.applied(ctx, m.tables[0])
}

// Seed applies seed scripts that have not run yet. Seeds are tracked by name
// only, so editing one does not re-run it.
func (m *Manager) Seed(ctx context.Context) (int, error) {
	if err := m.ensureTables(ctx); err != nil {
		return 0, err
	}
	done, err := m.applied(ctx, m.tables[1])
	if err != nil {
		return 0, err
	}
	seen := make(map[string]bool, len(done))
	for _, r := range done {
		seen[r.Name] = true
	}
	scripts, err := collectSQL(m.seeds, ".sql")
	if err != nil {
		return 0, err
	}
	var n int
	for _, s := range scripts {
		if seen[s.Name] {
			continue
		}
		if err := m.apply(ctx, m.tables[1], s.Name, s.body); err != nil {
			return n, fmt.Errorf("apply seed %s: %w", s.Name, err)
		}
		n++
	}
	return n, nil
}

// plan returns the migrations Up would run after checking recorded checksums.
func (m *Manager) plan(ctx context.Context) ([]script, error) {
	if err := m.ensureTables(ctx); err != nil {
		return nil, err
	}
	done, err := m.applied(ctx, m.tables[0])
	if err != nil {
		return nil, err
	}
	scripts, err := collectSQL(m.migrations, ".up.sql")
	if err != nil {
		return nil, err
	}
	recorded := make(map[string]string, len(done))
	for _, r := range done {
		recorded[r.Name] = r.Checksum
	}
	var pending []script
	for _, s := range scripts {
		sum, ok := recorded[s.Name]
		if !ok {
			pending = append(pending, s)
			continue
		}
		if sum != "" && sum != s.checksum() {
			return nil, fmt.Errorf("%w: %s changed after it was applied", ErrDrift, s.Name)
		}
	}
	return pending, nil
}

func (m *Manager) apply(ctx context.Context, table, name, body string) error {
	return m.inTx(ctx, func(tx *sql.Tx) error {
		if err := execScript(ctx, tx, body); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			fmt.Sprintf(`insert into %s(name, checksum, applied_at) values ($1, $2, $3)`, table),
			name, checksum(body), m.now())
		return err
	})
}

func (m *Manager) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func (m *Manager) ensureTables(ctx context.Context) error {
	for _, table := range m.tables {
		ddl := fmt.Sprintf(`
			create table if not exists %s (
				name text primary key,
				checksum text not null default '',
				applied_at timestamptz not null default now()
			)`, table)
		if _, err := m.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("ensure %s: %w", table, err)
		}
	}
	return nil
}

func (m *Manager) applied(ctx context.Context, table string) ([]Record, error) {
	rows, err := m.db.QueryContext(ctx,
		fmt.Sprintf(`select name, checksum, applied_at from %s order by applied_at, name`, table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.Name, &r.Checksum, &r.AppliedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func execScript(ctx context.Context, tx *sql.Tx, body string) error {
	for _, stmt := range splitStatements(body) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

type script struct {
	Name string
	body string
}

func (s script) checksum() string { return checksum(s.body) }

func checksum(body string) string {
	sum := sha256.Sum256([]byte(body))
	return hex.EncodeToString(sum[:])
}

// collectSQL reads every file with the suffix, sorted by base name. Files in
// subdirectories are included.
func collectSQL(fsys fs.FS, suffix string) ([]script, error) {
	if fsys == nil {
		return nil, nil
	}
	var out []script
	err := fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), suffix) {
			return nil
		}
		data, err := fs.ReadFile(fsys, p)
		if err != nil {
			return err
		}
		out = append(out, script{Name: d.Name(), body: string(data)})
		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func findDown(fsys fs.FS, upName string) (script, error) {
	want := strings.TrimSuffix(upName, ".up.sql") + ".down.sql"
	downs, err := collectSQL(fsys, ".down.sql")
	if err != nil {
		return script{}, err
	}
	for _, s := range downs {
		if s.Name == want {
			return s, nil
		}
	}
	return script{}, fmt.Errorf("missing down migration for %s", path.Base(upName))
}

// splitStatements cuts a script on semicolons outside quotes and line
// comments. Comments are dropped; empty statements are skipped.
func splitStatements(body string) []string {
	var (
		stmts   []string
		cur     strings.Builder
		quoted  bool
		comment bool
	)
	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			stmts = append(stmts, s)
		}
		cur.Reset()
	}
	runes := []rune(body)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case comment:
			if r == '\n' {
				comment = false
				cur.WriteRune(r)
			}
		case !quoted && r == '-' && i+1 < len(runes) && runes[i+1] == '-':
			comment = true
			i++
		case r == '\'':
			quoted = !quoted
			cur.WriteRune(r)
		case r == ';' && !quoted:
			cur.WriteRune(r)
			flush()
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return stmts
}
