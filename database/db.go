/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package database

import (
	"database/sql"
	"embed"
	"errors"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	migrate "github.com/rubenv/sql-migrate"
	"github.com/sirupsen/logrus"

	"github.com/jerry-enebeli/beacon/config"
	"github.com/jerry-enebeli/beacon/model"
)

//go:embed sql/*.sql
var SQLFiles embed.FS

const dialect = "sqlite3"

// ErrStoreUnavailable is returned by every operation once the store is closed or was never opened.
var ErrStoreUnavailable = errors.New("task store unavailable")

// StoreErrorListener is told about operations rejected because the store is unavailable.
type StoreErrorListener func(op string, err error)

type Datasource struct {
	Conn *sql.DB

	mu        sync.Mutex
	closed    bool
	listeners []StoreErrorListener
	now       func() int64
}

// NewDataSource opens the sqlite database named in the configuration and applies
// any pending migrations.
//
// Parameters:
// - configuration *config.Configuration: The loaded configuration.
//
// Returns:
// - IDataSource: The ready datasource.
// - error: An error if the database cannot be opened or migrated.
func NewDataSource(configuration *config.Configuration) (IDataSource, error) {
	con, err := ConnectDB(configuration.DataSource.Dns)
	if err != nil {
		return nil, err
	}
	if _, err := Migrate(con); err != nil {
		_ = con.Close()
		return nil, err
	}
	return NewDatasourceFromConn(con), nil
}

// NewDatasourceFromConn wraps an already opened connection.
func NewDatasourceFromConn(con *sql.DB) *Datasource {
	return &Datasource{Conn: con, now: model.NowMillis}
}

// ConnectDB opens the sqlite file at dns. A single open connection serializes writers.
func ConnectDB(dns string) (*sql.DB, error) {
	db, err := sql.Open(dialect, dns)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	err = db.Ping()
	if err != nil {
		logrus.Errorf("database connection error ❌: %v", err)
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func migrations() *migrate.EmbedFileSystemMigrationSource {
	return &migrate.EmbedFileSystemMigrationSource{
		FileSystem: SQLFiles,
		Root:       "sql",
	}
}

// Migrate applies every pending up migration and returns how many ran.
func Migrate(db *sql.DB) (int, error) {
	return migrate.Exec(db, dialect, migrations(), migrate.Up)
}

// MigrateDown rolls back every applied migration.
func MigrateDown(db *sql.DB) (int, error) {
	return migrate.Exec(db, dialect, migrations(), migrate.Down)
}

// AddStoreErrorListener registers l to be notified when an operation hits an unavailable store.
func (d *Datasource) AddStoreErrorListener(l StoreErrorListener) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listeners = append(d.listeners, l)
}

// Close closes the underlying connection. Later calls fail with ErrStoreUnavailable.
func (d *Datasource) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed || d.Conn == nil {
		return nil
	}
	d.closed = true
	return d.Conn.Close()
}

// acquire locks the store for one operation. The caller must call release when
// acquire returns nil.
func (d *Datasource) acquire(op string) error {
	d.mu.Lock()
	if d.Conn != nil && !d.closed {
		return nil
	}
	listeners := append([]StoreErrorListener(nil), d.listeners...)
	d.mu.Unlock()

	logrus.WithField("op", op).Error("task store unavailable")
	for _, l := range listeners {
		l(op, ErrStoreUnavailable)
	}
	return ErrStoreUnavailable
}

func (d *Datasource) release() {
	d.mu.Unlock()
}

func (d *Datasource) nowMillis() int64 {
	if d.now == nil {
		return model.NowMillis()
	}
	return d.now()
}
