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

	"github.com/pkg/errors"
)

// Keys of the blobs kept in kv_store.
const (
	KeyAnonymousState = "anonymous_state"
	KeyCriteria       = "criteria"
)

// GetBlob returns the value stored under key, or nil when the key is absent.
func (d *Datasource) GetBlob(key string) ([]byte, error) {
	if err := d.acquire("get_blob"); err != nil {
		return nil, err
	}
	defer d.release()

	return getBlob(d.Conn, key)
}

// PutBlob inserts or replaces the value stored under key.
func (d *Datasource) PutBlob(key string, value []byte) error {
	if err := d.acquire("put_blob"); err != nil {
		return err
	}
	defer d.release()

	return putBlob(d.Conn, key, value, d.nowMillis())
}

// DeleteBlob removes key. Removing a missing key is not an error.
func (d *Datasource) DeleteBlob(key string) error {
	if err := d.acquire("delete_blob"); err != nil {
		return err
	}
	defer d.release()

	if _, err := d.Conn.Exec("DELETE FROM kv_store WHERE key = ?", key); err != nil {
		return errors.Wrapf(err, "failed to delete %s", key)
	}
	return nil
}

// UpdateBlob reads the value under key, passes it to fn and stores the result,
// all inside one transaction. fn receives nil when the key is absent and must
// not call back into the datasource. Returning a nil slice deletes the key.
func (d *Datasource) UpdateBlob(key string, fn func(current []byte) ([]byte, error)) error {
	if err := d.acquire("update_blob"); err != nil {
		return err
	}
	defer d.release()

	tx, err := d.Conn.Begin()
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	current, err := getBlob(tx, key)
	if err != nil {
		return err
	}

	next, err := fn(current)
	if err != nil {
		return err
	}

	if next == nil {
		if _, err = tx.Exec("DELETE FROM kv_store WHERE key = ?", key); err != nil {
			return errors.Wrapf(err, "failed to delete %s", key)
		}
	} else if err = putBlob(tx, key, next, d.nowMillis()); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return errors.Wrap(err, "failed to commit transaction")
	}
	return nil
}

type execQuerier interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
	QueryRow(query string, args ...interface{}) *sql.Row
}

func getBlob(q execQuerier, key string) ([]byte, error) {
	var value []byte
	err := q.QueryRow("SELECT value FROM kv_store WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read %s", key)
	}
	return value, nil
}

func putBlob(q execQuerier, key string, value []byte, now int64) error {
	_, err := q.Exec(`
		INSERT INTO kv_store (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, now)
	if err != nil {
		return errors.Wrapf(err, "failed to write %s", key)
	}
	return nil
}
