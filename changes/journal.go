// Package changes records method definitions in a sqlite journal so they
// can be listed and replayed into an image that lost them.
package changes

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/tliron/commonlog"
	_ "modernc.org/sqlite"

	"github.com/bluebook-vm/bluebook/vm"
)

var log = commonlog.GetLogger("bluebook.changes")

// Kind is the sort of change an entry records.
type Kind string

const (
	KindInstall Kind = "install"
	KindRemove  Kind = "remove"
)

// Entry is one recorded change.
type Entry struct {
	ID        int64
	At        time.Time
	Session   string
	Kind      Kind
	ClassName string // "Foo" or "Foo class"
	Selector  string
	Source    string // empty for removals
}

// String renders the entry the way `changes list` prints it.
func (e Entry) String() string {
	return fmt.Sprintf("%d %s %s %s>>%s", e.ID, e.At.Format(time.RFC3339), e.Kind, e.ClassName, e.Selector)
}

// Filter selects entries. Zero fields match everything.
type Filter struct {
	Session   string
	ClassName string
	Selector  string
	Since     time.Time
	Limit     int
}

// CompileFunc compiles method source for a class; compiler.Compile fits.
type CompileFunc func(v *vm.VM, class *vm.Class, source string) (*vm.CompiledMethod, error)

// Journal is a sqlite-backed vm.MethodObserver. Every journal has a session
// id that tags the entries it writes.
type Journal struct {
	db      *sql.DB
	path    string
	session string

	mu        sync.Mutex
	replaying bool
}

const schema = `CREATE TABLE IF NOT EXISTS changes (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	at INTEGER NOT NULL,
	session TEXT NOT NULL,
	kind TEXT NOT NULL,
	class_name TEXT NOT NULL,
	selector TEXT NOT NULL,
	source TEXT NOT NULL DEFAULT ''
)`

// Open opens or creates the journal at path and starts a new session.
func Open(path string) (*Journal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("changes: opening database: %w", err)
	}
	// sqlite allows a single writer.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("changes: setting busy timeout: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("changes: creating table: %w", err)
	}
	j := &Journal{db: db, path: path, session: uuid.NewString()}
	log.Infof("journal %s, session %s", path, j.session)
	return j, nil
}

// Session returns the id tagging this journal's entries.
func (j *Journal) Session() string { return j.session }

// Path returns the database file.
func (j *Journal) Path() string { return j.path }

// Close closes the database.
func (j *Journal) Close() error {
	return j.db.Close()
}

// Record appends an entry for the current session and returns its id.
func (j *Journal) Record(ctx context.Context, kind Kind, className, selector, source string) (int64, error) {
	res, err := j.db.ExecContext(ctx,
		"INSERT INTO changes (at, session, kind, class_name, selector, source) VALUES (?, ?, ?, ?, ?, ?)",
		time.Now().UnixMilli(), j.session, string(kind), className, selector, source)
	if err != nil {
		return 0, fmt.Errorf("changes: recording %s>>%s: %w", className, selector, err)
	}
	return res.LastInsertId()
}

// MethodInstalled implements vm.MethodObserver.
func (j *Journal) MethodInstalled(class *vm.Class, method *vm.CompiledMethod) {
	if j.isReplaying() || method.Source == "" {
		return
	}
	if _, err := j.Record(context.Background(), KindInstall, class.DisplayName(), method.SelectorName, method.Source); err != nil {
		log.Errorf("%s", err)
	}
}

// MethodRemoved implements vm.MethodObserver.
func (j *Journal) MethodRemoved(class *vm.Class, selector string) {
	if j.isReplaying() {
		return
	}
	if _, err := j.Record(context.Background(), KindRemove, class.DisplayName(), selector, ""); err != nil {
		log.Errorf("%s", err)
	}
}

func (j *Journal) isReplaying() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.replaying
}

func (j *Journal) setReplaying(b bool) {
	j.mu.Lock()
	j.replaying = b
	j.mu.Unlock()
}

// Entries answers the entries matching f, oldest first.
func (j *Journal) Entries(ctx context.Context, f Filter) ([]Entry, error) {
	var where []string
	var args []any
	if f.Session != "" {
		where = append(where, "session = ?")
		args = append(args, f.Session)
	}
	if f.ClassName != "" {
		where = append(where, "class_name = ?")
		args = append(args, f.ClassName)
	}
	if f.Selector != "" {
		where = append(where, "selector = ?")
		args = append(args, f.Selector)
	}
	if !f.Since.IsZero() {
		where = append(where, "at >= ?")
		args = append(args, f.Since.UnixMilli())
	}
	query := "SELECT id, at, session, kind, class_name, selector, source FROM changes"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id"
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("changes: querying: %w", err)
	}
	defer rows.Close()
	var entries []Entry
	for rows.Next() {
		var e Entry
		var at int64
		var kind string
		if err := rows.Scan(&e.ID, &at, &e.Session, &kind, &e.ClassName, &e.Selector, &e.Source); err != nil {
			return nil, fmt.Errorf("changes: scanning: %w", err)
		}
		e.At = time.UnixMilli(at)
		e.Kind = Kind(kind)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Replay applies the entries matching f to v in order: installs are
// recompiled with compile, removals are repeated. Entries that cannot be
// applied are skipped and reported together; the count of applied entries
// is returned either way. Replayed changes are not recorded again.
func (j *Journal) Replay(ctx context.Context, v *vm.VM, compile CompileFunc, f Filter) (int, error) {
	entries, err := j.Entries(ctx, f)
	if err != nil {
		return 0, err
	}
	j.setReplaying(true)
	defer j.setReplaying(false)

	var errs *multierror.Error
	applied := 0
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			errs = multierror.Append(errs, err)
			break
		}
		class := resolveClass(v, e.ClassName)
		if class == nil {
			errs = multierror.Append(errs, fmt.Errorf("changes: entry %d: no class %s", e.ID, e.ClassName))
			continue
		}
		switch e.Kind {
		case KindInstall:
			m, err := compile(v, class, e.Source)
			if err != nil {
				errs = multierror.Append(errs, fmt.Errorf("changes: entry %d: %w", e.ID, err))
				continue
			}
			v.InstallMethod(class, m)
		case KindRemove:
			v.RemoveMethod(class, e.Selector)
		default:
			errs = multierror.Append(errs, fmt.Errorf("changes: entry %d: unknown kind %q", e.ID, e.Kind))
			continue
		}
		applied++
	}
	log.Infof("replayed %d of %d changes", applied, len(entries))
	return applied, errs.ErrorOrNil()
}

// resolveClass finds "Foo" or the metaclass for "Foo class".
func resolveClass(v *vm.VM, name string) *vm.Class {
	if base, ok := strings.CutSuffix(name, " class"); ok {
		if c := v.ClassNamed(base); c != nil {
			return c.Metaclass()
		}
		return nil
	}
	return v.ClassNamed(name)
}
