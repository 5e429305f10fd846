package persist

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/golang/glog"

	_ "github.com/mattn/go-sqlite3"

	"github.com/dabiiplay/pagina.mods-Backend/hub"
)

// PersistError is a failed durable store operation for one element.
type PersistError struct {
	Op        string
	ElementId string
	Cause     error
}

func (self *PersistError) Error() string {
	if self.ElementId == "" {
		return fmt.Sprintf("persist %s: %s", self.Op, self.Cause)
	}
	return fmt.Sprintf("persist %s %s: %s", self.Op, self.ElementId, self.Cause)
}

func (self *PersistError) Unwrap() error {
	return self.Cause
}

// ElementStore is a document store for canvas elements on sqlite. One
// row per element with the full element JSON as the document, plus the
// z-index as a column so reorders can patch it without a full
// overwrite.
type ElementStore struct {
	db *sql.DB
}

func NewElementStore(path string) (*ElementStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	store := &ElementStore{
		db: db,
	}
	if err := store.init(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (self *ElementStore) init() error {
	_, err := self.db.Exec(
		`CREATE TABLE IF NOT EXISTS elements (
			id TEXT NOT NULL PRIMARY KEY,
			z_index INTEGER NOT NULL DEFAULT 0,
			data TEXT NOT NULL
		)`,
	)
	return err
}

func (self *ElementStore) LoadAll(ctx context.Context) ([]*hub.Element, error) {
	rows, err := self.db.QueryContext(ctx, `SELECT id, data FROM elements`)
	if err != nil {
		return nil, &PersistError{Op: "load", Cause: err}
	}
	defer rows.Close()

	elements := []*hub.Element{}
	for rows.Next() {
		var elementId string
		var data string
		if err := rows.Scan(&elementId, &data); err != nil {
			return nil, &PersistError{Op: "load", ElementId: elementId, Cause: err}
		}
		element := &hub.Element{}
		if err := json.Unmarshal([]byte(data), element); err != nil {
			// one corrupt document must not take down rehydration
			glog.Infof("[p]skip corrupt element %s = %s\n", elementId, err)
			continue
		}
		elements = append(elements, element)
	}
	if err := rows.Err(); err != nil {
		return nil, &PersistError{Op: "load", Cause: err}
	}
	return elements, nil
}

func (self *ElementStore) Create(ctx context.Context, element *hub.Element) error {
	return self.put(ctx, "create", element)
}

func (self *ElementStore) Update(ctx context.Context, element *hub.Element) error {
	return self.put(ctx, "update", element)
}

func (self *ElementStore) put(ctx context.Context, op string, element *hub.Element) error {
	data, err := json.Marshal(element)
	if err != nil {
		return &PersistError{Op: op, ElementId: element.Id, Cause: err}
	}
	if _, err := self.db.ExecContext(ctx,
		`INSERT INTO elements (id, z_index, data) VALUES (?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET z_index = excluded.z_index, data = excluded.data`,
		element.Id,
		element.ZIndex,
		string(data),
	); err != nil {
		return &PersistError{Op: op, ElementId: element.Id, Cause: err}
	}
	return nil
}

// UpdateZIndex patches only the stacking order, in the column and
// inside the stored document.
func (self *ElementStore) UpdateZIndex(ctx context.Context, elementId string, zIndex int) error {
	if _, err := self.db.ExecContext(ctx,
		`UPDATE elements SET z_index = ?, data = json_set(data, '$.zIndex', ?) WHERE id = ?`,
		zIndex,
		zIndex,
		elementId,
	); err != nil {
		return &PersistError{Op: "reorder", ElementId: elementId, Cause: err}
	}
	return nil
}

func (self *ElementStore) Delete(ctx context.Context, elementId string) error {
	if _, err := self.db.ExecContext(ctx,
		`DELETE FROM elements WHERE id = ?`,
		elementId,
	); err != nil {
		return &PersistError{Op: "delete", ElementId: elementId, Cause: err}
	}
	return nil
}

func (self *ElementStore) Close() error {
	return self.db.Close()
}
