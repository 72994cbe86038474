package server

import (
	"database/sql"
	"encoding/json"
	"log"

	"github.com/BurntSushi/migration"
	_ "github.com/go-sql-driver/mysql"

	"github.com/pindex/pindex/index"
)

// This file implements the index database using MySQL as the backing
// store. The package aggregate is serialized to JSON and kept in the
// value column, the same layout the QL backend uses.

type msqlDB struct {
	db *sql.DB
}

var _ index.DB = &msqlDB{}
var _ index.MirrorDB = &msqlDB{}

// List of migrations to perform. Add new ones to the end.
// DO NOT change the order of items already in this list.
var mysqlMigrations = []migration.Migrator{
	mysqlschema1,
}

// Adapt the schema versioning for MySQL

var mysqlVersioning = dbVersion{
	GetSQL:    `SELECT max(version) FROM migration_version`,
	SetSQL:    `INSERT INTO migration_version (version, applied) VALUES (?, now())`,
	CreateSQL: `CREATE TABLE migration_version (version INTEGER, applied datetime)`,
}

// NewMysqlDB connects to a MySQL database and returns an index database
// backed by it, running any pending schema migrations first.
func NewMysqlDB(dial string) (*msqlDB, error) {
	db, err := migration.OpenWith(
		"mysql",
		dial,
		mysqlMigrations,
		mysqlVersioning.Get,
		mysqlVersioning.Set)
	if err != nil {
		log.Printf("Open Mysql: %s", err.Error())
		return nil, err
	}
	return &msqlDB{db: db}, nil
}

func (ms *msqlDB) LookupPackage(name string) *index.Package {
	const dbLookup = `SELECT value FROM packages WHERE name = ? LIMIT 1`

	var value string
	err := ms.db.QueryRow(dbLookup, name).Scan(&value)
	if err != nil {
		if err != sql.ErrNoRows {
			// some kind of error...treat it as a miss
			log.Printf("Package DB: %s", err.Error())
		}
		return nil
	}
	var pkg = new(index.Package)
	err = json.Unmarshal([]byte(value), pkg)
	if err != nil {
		log.Printf("Package DB: error in lookup: %s", err.Error())
		return nil
	}
	return pkg
}

func (ms *msqlDB) SearchPackage(name string) *index.Package {
	return searchPackage(ms, name)
}

func (ms *msqlDB) SavePackage(pkg *index.Package) error {
	value, err := json.Marshal(pkg)
	if err != nil {
		return err
	}
	// the unique index on name turns concurrent creates into updates
	const stmt = `INSERT INTO packages (name, created, modified, value) VALUES (?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE created=?, modified=?, value=?`

	_, err = ms.db.Exec(stmt, pkg.Name, pkg.Created, pkg.Modified, value,
		pkg.Created, pkg.Modified, value)
	return err
}

func (ms *msqlDB) ListPackages() ([]string, error) {
	return ms.stringList(`SELECT name FROM packages ORDER BY name`)
}

func (ms *msqlDB) EnsureClassifier(name string) error {
	const stmt = `INSERT IGNORE INTO classifiers (name) VALUES (?)`

	_, err := ms.db.Exec(stmt, name)
	return err
}

func (ms *msqlDB) Classifiers() ([]string, error) {
	return ms.stringList(`SELECT name FROM classifiers ORDER BY name`)
}

func (ms *msqlDB) stringList(query string) ([]string, error) {
	rows, err := ms.db.Query(query)
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

func (ms *msqlDB) FindUserByEmail(email string) *index.User {
	return ms.findUser(`SELECT username, email FROM users WHERE email = ? LIMIT 1`, email)
}

func (ms *msqlDB) FindUserByUsername(username string) *index.User {
	return ms.findUser(`SELECT username, email FROM users WHERE username = ? LIMIT 1`, username)
}

func (ms *msqlDB) findUser(query, key string) *index.User {
	var u index.User
	err := ms.db.QueryRow(query, key).Scan(&u.Username, &u.Email)
	if err != nil {
		if err != sql.ErrNoRows {
			log.Printf("User DB: %s", err.Error())
		}
		return nil
	}
	return &u
}

func (ms *msqlDB) SaveUser(u *index.User) error {
	const stmt = `INSERT INTO users (username, email) VALUES (?, ?)
		ON DUPLICATE KEY UPDATE email=?`

	_, err := ms.db.Exec(stmt, u.Username, u.Email, u.Email)
	return err
}

func (ms *msqlDB) EnabledMirrors() ([]index.Mirror, error) {
	return ms.mirrors(`SELECT id, url, enabled FROM mirrors WHERE enabled ORDER BY id`)
}

func (ms *msqlDB) AllMirrors() ([]index.Mirror, error) {
	return ms.mirrors(`SELECT id, url, enabled FROM mirrors ORDER BY id`)
}

func (ms *msqlDB) mirrors(query string) ([]index.Mirror, error) {
	rows, err := ms.db.Query(query)
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

func (ms *msqlDB) AddMirror(url string, enabled bool) (int64, error) {
	result, err := ms.db.Exec(`INSERT INTO mirrors (url, enabled) VALUES (?, ?)`, url, enabled)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

func (ms *msqlDB) SetMirrorEnabled(id int64, enabled bool) error {
	_, err := ms.db.Exec(`UPDATE mirrors SET enabled = ? WHERE id = ?`, enabled, id)
	return err
}

func (ms *msqlDB) AppendMirrorLog(id int64, action string) error {
	_, err := ms.db.Exec(`INSERT INTO mirrorlogs (mirrorid, action, created) VALUES (?, ?, now())`,
		id, action)
	return err
}

func (ms *msqlDB) MirrorLogs(id int64) ([]index.MirrorLog, error) {
	const query = `
		SELECT id, mirrorid, action, created
		FROM mirrorlogs
		WHERE mirrorid = ?
		ORDER BY created`

	rows, err := ms.db.Query(query, id)
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

// database migrations. each one is a go function. Add them to the
// list mysqlMigrations at top of this file for them to be run.

func mysqlschema1(tx migration.LimitedTx) error {
	var s = []string{
		`CREATE TABLE IF NOT EXISTS packages (
		id int PRIMARY KEY AUTO_INCREMENT,
		name varchar(255),
		created datetime,
		modified datetime,
		value longtext,
		UNIQUE INDEX packages_name (name))`,

		`CREATE TABLE IF NOT EXISTS users (
		id int PRIMARY KEY AUTO_INCREMENT,
		username varchar(255),
		email varchar(255),
		UNIQUE INDEX users_username (username))`,

		`CREATE TABLE IF NOT EXISTS classifiers (
		id int PRIMARY KEY AUTO_INCREMENT,
		name varchar(255),
		UNIQUE INDEX classifiers_name (name))`,

		`CREATE TABLE IF NOT EXISTS mirrors (
		id int PRIMARY KEY AUTO_INCREMENT,
		url varchar(255),
		enabled bool)`,

		`CREATE TABLE IF NOT EXISTS mirrorlogs (
		id int PRIMARY KEY AUTO_INCREMENT,
		mirrorid int,
		action text,
		created datetime)`,
	}
	return execlist(tx, s)
}

// execlist exec's each item in the list, return if there is an error.
// Used to work around mysql driver not handling compound exec statements.
func execlist(tx migration.LimitedTx, stms []string) error {
	var err error
	for _, s := range stms {
		_, err = tx.Exec(s)
		if err != nil {
			break
		}
	}
	return err
}
