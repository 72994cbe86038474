package server

import (
	"database/sql"
	"encoding/json"
	"log"
	"time"

	_ "github.com/cznic/ql/driver"

	"github.com/pindex/pindex/index"
)

// This file implements the index database on top of the QL embedded
// database. It is intended for development and small installations; use
// the MySQL backend for anything bigger.

type qlDB struct {
	db *sql.DB
}

var _ index.DB = &qlDB{}
var _ index.MirrorDB = &qlDB{}

// The package aggregate is stored serialized as JSON in the value column.
// The other columns exist for listing and ordering.
const qlInit = `
	CREATE TABLE IF NOT EXISTS packages (
		name string,
		created time,
		modified time,
		value blob
	);
	CREATE INDEX IF NOT EXISTS packagename ON packages (name);
	CREATE TABLE IF NOT EXISTS users (
		username string,
		email string
	);
	CREATE INDEX IF NOT EXISTS userusername ON users (username);
	CREATE TABLE IF NOT EXISTS classifiers (
		name string
	);
	CREATE INDEX IF NOT EXISTS classifiername ON classifiers (name);
	CREATE TABLE IF NOT EXISTS mirrors (
		id int,
		url string,
		enabled bool
	);
	CREATE TABLE IF NOT EXISTS mirrorlogs (
		mirrorid int,
		action string,
		created time
	);
	CREATE INDEX IF NOT EXISTS mirrorlogid ON mirrorlogs (mirrorid);
`

// NewQlDB makes a QL backed index database. filename is the name of the
// file to save the database to. The filename "memory" means to keep
// everything in memory.
func NewQlDB(filename string) (*qlDB, error) {
	var db *sql.DB
	var err error
	if filename == "memory" {
		db, err = sql.Open("ql-mem", "mem.db")
	} else {
		db, err = sql.Open("ql", filename)
	}
	if err == nil {
		_, err = performExec(db, qlInit)
	}
	if err != nil {
		log.Printf("Open QL: %s", err.Error())
		return nil, err
	}
	return &qlDB{db: db}, nil
}

func (qc *qlDB) LookupPackage(name string) *index.Package {
	const dbLookup = `SELECT value FROM packages WHERE name == ?1 LIMIT 1`

	var value string
	err := qc.db.QueryRow(dbLookup, name).Scan(&value)
	if err != nil {
		if err != sql.ErrNoRows {
			log.Printf("Package DB QL: %s", err.Error())
		}
		return nil
	}
	var pkg = new(index.Package)
	err = json.Unmarshal([]byte(value), pkg)
	if err != nil {
		return nil
	}
	return pkg
}

func (qc *qlDB) SearchPackage(name string) *index.Package {
	return searchPackage(qc, name)
}

func (qc *qlDB) SavePackage(pkg *index.Package) error {
	const dbUpdate = `UPDATE packages SET created = ?2, modified = ?3, value = ?4 WHERE name == ?1`
	const dbInsert = `INSERT INTO packages VALUES (?1, ?2, ?3, ?4)`

	value, err := json.Marshal(pkg)
	if err != nil {
		return err
	}
	result, err := performExec(qc.db, dbUpdate, pkg.Name, pkg.Created, pkg.Modified, value)
	if err != nil {
		return err
	}
	nrows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if nrows == 0 {
		// record didn't exist. create it
		_, err = performExec(qc.db, dbInsert, pkg.Name, pkg.Created, pkg.Modified, value)
	}
	return err
}

func (qc *qlDB) ListPackages() ([]string, error) {
	const query = `SELECT name FROM packages ORDER BY name`

	rows, err := qc.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (qc *qlDB) EnsureClassifier(name string) error {
	const query = `SELECT name FROM classifiers WHERE name == ?1 LIMIT 1`

	var existing string
	err := qc.db.QueryRow(query, name).Scan(&existing)
	if err == sql.ErrNoRows {
		_, err = performExec(qc.db, `INSERT INTO classifiers VALUES (?1)`, name)
	}
	return err
}

func (qc *qlDB) Classifiers() ([]string, error) {
	const query = `SELECT name FROM classifiers ORDER BY name`

	rows, err := qc.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (qc *qlDB) FindUserByEmail(email string) *index.User {
	return qc.findUser(`SELECT username, email FROM users WHERE email == ?1 LIMIT 1`, email)
}

func (qc *qlDB) FindUserByUsername(username string) *index.User {
	return qc.findUser(`SELECT username, email FROM users WHERE username == ?1 LIMIT 1`, username)
}

func (qc *qlDB) findUser(query, key string) *index.User {
	var u index.User
	err := qc.db.QueryRow(query, key).Scan(&u.Username, &u.Email)
	if err != nil {
		if err != sql.ErrNoRows {
			log.Printf("User DB QL: %s", err.Error())
		}
		return nil
	}
	return &u
}

func (qc *qlDB) SaveUser(u *index.User) error {
	const dbUpdate = `UPDATE users SET email = ?2 WHERE username == ?1`
	const dbInsert = `INSERT INTO users VALUES (?1, ?2)`

	result, err := performExec(qc.db, dbUpdate, u.Username, u.Email)
	if err != nil {
		return err
	}
	nrows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if nrows == 0 {
		_, err = performExec(qc.db, dbInsert, u.Username, u.Email)
	}
	return err
}

func (qc *qlDB) EnabledMirrors() ([]index.Mirror, error) {
	return qc.mirrors(`SELECT id, url, enabled FROM mirrors WHERE enabled == true ORDER BY id`)
}

func (qc *qlDB) AllMirrors() ([]index.Mirror, error) {
	return qc.mirrors(`SELECT id, url, enabled FROM mirrors ORDER BY id`)
}

func (qc *qlDB) mirrors(query string) ([]index.Mirror, error) {
	rows, err := qc.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var result []index.Mirror
	for rows.Next() {
		var m index.Mirror
		if err := rows.Scan(&m.ID, &m.URL, &m.Enabled); err != nil {
			return nil, err
		}
		result = append(result, m)
	}
	return result, rows.Err()
}

func (qc *qlDB) AddMirror(url string, enabled bool) (int64, error) {
	// QL has no autoincrement columns, so the id is assigned by hand.
	// Mirror administration is rare enough that the race is academic.
	var max sql.NullInt64
	err := qc.db.QueryRow(`SELECT max(id) FROM mirrors`).Scan(&max)
	if err != nil && err != sql.ErrNoRows {
		return 0, err
	}
	id := max.Int64 + 1
	_, err = performExec(qc.db, `INSERT INTO mirrors VALUES (?1, ?2, ?3)`, id, url, enabled)
	return id, err
}

func (qc *qlDB) SetMirrorEnabled(id int64, enabled bool) error {
	_, err := performExec(qc.db, `UPDATE mirrors SET enabled = ?2 WHERE id == ?1`, id, enabled)
	return err
}

func (qc *qlDB) AppendMirrorLog(id int64, action string) error {
	_, err := performExec(qc.db, `INSERT INTO mirrorlogs VALUES (?1, ?2, ?3)`,
		id, action, time.Now())
	return err
}

func (qc *qlDB) MirrorLogs(id int64) ([]index.MirrorLog, error) {
	const query = `
		SELECT id(), mirrorid, action, created
		FROM mirrorlogs
		WHERE mirrorid == ?1
		ORDER BY created`

	rows, err := qc.db.Query(query, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var result []index.MirrorLog
	for rows.Next() {
		var l index.MirrorLog
		if err := rows.Scan(&l.ID, &l.MirrorID, &l.Action, &l.Created); err != nil {
			return nil, err
		}
		result = append(result, l)
	}
	return result, rows.Err()
}

func performExec(db *sql.DB, query string, args ...interface{}) (sql.Result, error) {
	tx, err := db.Begin()
	if err != nil {
		return nil, err
	}
	var result sql.Result
	result, err = tx.Exec(query, args...)
	if err != nil {
		_ = tx.Rollback()
		return nil, err
	}
	err = tx.Commit()
	return result, err
}
