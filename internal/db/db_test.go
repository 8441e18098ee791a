package db

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sloppy/hostlink/internal/linkage"
	"github.com/sloppy/hostlink/internal/testutil"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	dir := testutil.TempDir(t)
	db, err := Open(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	return db
}

func TestMigrationsCreateSchema(t *testing.T) {
	db := newTestDB(t)
	defer db.Close()

	wantTables := map[string]struct{}{
		"host":               {},
		"host_group":         {},
		"host_interface":     {},
		"host_tag":           {},
		"host_macro":         {},
		"template":           {},
		"template_entity":    {},
		"host_template":      {},
		"entity":             {},
		"linkage_audit":      {},
		"discovery_rule":     {},
		"host_prototype":     {},
		"prototype_group":    {},
		"prototype_template": {},
		"host_discovery":     {},
	}
	tables := mustListStrings(t, db, `SELECT name FROM sqlite_master WHERE type='table' AND name NOT LIKE 'sqlite_%';`)
	for name := range wantTables {
		if _, ok := tables[name]; !ok {
			t.Fatalf("expected table %q to exist, got tables: %v", name, keys(tables))
		}
	}

	wantIndexes := map[string]struct{}{
		"idx_host_technical_name":      {},
		"idx_host_origin":              {},
		"idx_host_interface_host":      {},
		"idx_host_interface_ip_int":    {},
		"idx_host_template_template":   {},
		"idx_entity_host_template":     {},
		"idx_entity_depends_on":        {},
		"idx_linkage_audit_host":       {},
		"idx_host_discovery_prototype": {},
		"idx_host_discovery_lost":      {},
	}
	indexes := mustListStrings(t, db, `SELECT name FROM sqlite_master WHERE type='index' AND name NOT LIKE 'sqlite_%';`)
	for name := range wantIndexes {
		if _, ok := indexes[name]; !ok {
			t.Fatalf("expected index %q to exist, got indexes: %v", name, keys(indexes))
		}
	}

	for _, table := range []string{"host", "template", "template_entity", "host_template", "entity", "host_macro", "discovery_rule"} {
		if !hasUniqueIndex(t, db, table) {
			t.Fatalf("expected unique index on %s", table)
		}
	}
	for _, fk := range [][2]string{
		{"host_template", "host"},
		{"entity", "host"},
		{"host_interface", "host"},
		{"host_discovery", "host"},
		{"template_entity", "template"},
		{"host_prototype", "discovery_rule"},
		{"prototype_template", "host_prototype"},
	} {
		if !hasCascadeForeignKey(t, db, fk[0], fk[1]) {
			t.Fatalf("expected %s to reference %s with ON DELETE CASCADE", fk[0], fk[1])
		}
	}
}

func TestOpenEnablesWALAndAllowsConcurrentOpens(t *testing.T) {
	dir := testutil.TempDir(t)
	path := filepath.Join(dir, "test.db")

	db1, err := Open(path)
	if err != nil {
		t.Fatalf("open db1: %v", err)
	}
	defer db1.Close()

	if mode := pragmaString(t, db1, "PRAGMA journal_mode;"); mode != "wal" {
		t.Fatalf("expected journal_mode wal, got %q", mode)
	}
	if fk := pragmaString(t, db1, "PRAGMA foreign_keys;"); fk != "1" {
		t.Fatalf("expected foreign_keys on, got %q", fk)
	}

	if _, err := db1.Exec(`INSERT INTO template (name) VALUES (?)`, "t1"); err != nil {
		t.Fatalf("insert via db1: %v", err)
	}

	db2, err := Open(path)
	if err != nil {
		t.Fatalf("open db2: %v", err)
	}
	defer db2.Close()

	if _, err := db2.Exec(`INSERT INTO template (name) VALUES (?)`, "t2"); err != nil {
		t.Fatalf("insert via db2: %v", err)
	}

	var count int
	if err := db1.QueryRow(`SELECT COUNT(*) FROM template`).Scan(&count); err != nil {
		t.Fatalf("count templates: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 templates, got %d", count)
	}
}

func TestMigrationsAreRepeatable(t *testing.T) {
	db := newTestDB(t)
	defer db.Close()

	if _, err := db.Exec(`INSERT INTO template (name) VALUES ('kept')`); err != nil {
		t.Fatalf("insert template: %v", err)
	}
	if err := db.migrate(context.Background()); err != nil {
		t.Fatalf("re-run migrations: %v", err)
	}
	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM template`).Scan(&count); err != nil {
		t.Fatalf("count templates: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected template to survive re-run, got %d rows", count)
	}
	versions := mustListStrings(t, db, `SELECT version FROM schema_migration`)
	if len(versions) != 3 {
		t.Fatalf("expected 3 recorded migrations, got %v", keys(versions))
	}
	if _, ok := versions["003_host_settings"]; !ok {
		t.Fatalf("expected 003_host_settings recorded, got %v", keys(versions))
	}
}

func TestBackfillIPKeys(t *testing.T) {
	db := newTestDB(t)
	defer db.Close()

	res, err := db.Exec(`INSERT INTO host (technical_name, origin) VALUES ('legacy', 'manual')`)
	if err != nil {
		t.Fatalf("insert host: %v", err)
	}
	hostID, _ := res.LastInsertId()
	if _, err := db.Exec(`INSERT INTO host_interface (host_id, ip, port, main) VALUES (?, '10.1.2.3', '10050', 1)`, hostID); err != nil {
		t.Fatalf("insert interface: %v", err)
	}

	if err := db.backfillIPKeys(context.Background()); err != nil {
		t.Fatalf("backfill: %v", err)
	}
	var ipInt int64
	if err := db.QueryRow(`SELECT ip_int FROM host_interface WHERE host_id = ?`, hostID).Scan(&ipInt); err != nil {
		t.Fatalf("query ip_int: %v", err)
	}
	if want := int64(10<<24 | 1<<16 | 2<<8 | 3); ipInt != want {
		t.Fatalf("expected ip_int %d, got %d", want, ipInt)
	}

	items, err := db.ListHosts(context.Background(), HostFilter{Subnet: "10.1.2.0/24"})
	if err != nil {
		t.Fatalf("list hosts: %v", err)
	}
	if len(items) != 1 || items[0].TechnicalName != "legacy" {
		t.Fatalf("expected legacy host in subnet, got %+v", items)
	}
}

func TestWithinTxRollsBackOnError(t *testing.T) {
	db := newTestDB(t)
	defer db.Close()

	boom := errors.New("boom")
	err := db.WithinTx(context.Background(), func(tx linkage.Tx) error {
		if _, err := tx.(*Tx).Exec(`INSERT INTO template (name) VALUES ('rolled back')`); err != nil {
			t.Fatalf("insert: %v", err)
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if _, ok, err := db.GetTemplateByName(context.Background(), "rolled back"); err != nil || ok {
		t.Fatalf("template should not exist: ok=%v err=%v", ok, err)
	}
}

func TestSubnetRange(t *testing.T) {
	lo, hi, err := subnetRange("192.168.1.0/24")
	if err != nil {
		t.Fatalf("subnet range: %v", err)
	}
	if hi-lo != 255 {
		t.Fatalf("expected 256 addresses, got %d", hi-lo+1)
	}
	lo, hi, err = subnetRange("192.168.1.7")
	if err != nil || lo != hi {
		t.Fatalf("single address range: lo=%d hi=%d err=%v", lo, hi, err)
	}
	if _, _, err := subnetRange("2001:db8::/32"); err == nil {
		t.Fatalf("expected error for IPv6 subnet")
	}
}

// Helpers

func mustListStrings(t *testing.T, db *DB, query string) map[string]struct{} {
	t.Helper()
	rows, err := db.Query(query)
	if err != nil {
		t.Fatalf("query %q: %v", query, err)
	}
	defer rows.Close()

	result := make(map[string]struct{})
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			t.Fatalf("scan name: %v", err)
		}
		result[name] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		t.Fatalf("rows err: %v", err)
	}
	return result
}

func pragmaString(t *testing.T, db *DB, pragma string) string {
	t.Helper()
	var val string
	if err := db.QueryRow(pragma).Scan(&val); err != nil {
		t.Fatalf("pragma query %q: %v", pragma, err)
	}
	return val
}

func hasUniqueIndex(t *testing.T, db *DB, table string) bool {
	t.Helper()
	rows, err := db.Query(fmt.Sprintf(`PRAGMA index_list(%s);`, table))
	if err != nil {
		t.Fatalf("index_list %s: %v", table, err)
	}
	defer rows.Close()
	for rows.Next() {
		var seq int
		var name, origin string
		var unique, partial int
		if err := rows.Scan(&seq, &name, &unique, &origin, &partial); err != nil {
			t.Fatalf("scan index_list: %v", err)
		}
		if unique == 1 {
			return true
		}
	}
	if err := rows.Err(); err != nil {
		t.Fatalf("rows err: %v", err)
	}
	return false
}

func hasCascadeForeignKey(t *testing.T, db *DB, table, ref string) bool {
	t.Helper()
	rows, err := db.Query(fmt.Sprintf(`PRAGMA foreign_key_list(%s);`, table))
	if err != nil {
		t.Fatalf("foreign_key_list %s: %v", table, err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			id, seq                                       int
			refTable, from, to, onUpdate, onDelete, match string
		)
		if err := rows.Scan(&id, &seq, &refTable, &from, &to, &onUpdate, &onDelete, &match); err != nil {
			t.Fatalf("scan foreign_key_list: %v", err)
		}
		if refTable == ref && strings.EqualFold(onDelete, "CASCADE") {
			return true
		}
	}
	if err := rows.Err(); err != nil {
		t.Fatalf("rows err: %v", err)
	}
	return false
}

func keys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
