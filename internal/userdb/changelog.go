package userdb

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// Action enumerates supported row edit operations.
type Action string

const (
	// ActionAdd inserts a row, or patches it when the id already exists.
	ActionAdd Action = "add"
	// ActionModify patches an existing row, repairing from the authoritative store on a local miss.
	ActionModify Action = "modify"
	// ActionDelete removes a row if present.
	ActionDelete Action = "delete"
)

// ErrMalformedChangelog indicates the changelog payload could not be decoded.
var ErrMalformedChangelog = errors.New("userdb: malformed changelog")

// RowEdit is one pending edit against a single row.
type RowEdit struct {
	RowID  int64
	Action Action
	Data   map[string]any
}

// TableEdits holds a table's row edits in the order the changelog stored them.
// The JSON wire shape is an object keyed by row id; decoding preserves key
// order because later edits may depend on earlier ones.
type TableEdits []RowEdit

// Changelog maps table name to that table's ordered row edits.
type Changelog map[string]TableEdits

type rowEditPayload struct {
	Action string         `json:"action"`
	Data   map[string]any `json:"data"`
}

// UnmarshalJSON decodes `{ "<row id>": {"action": ..., "data": {...}}, ... }`
// keeping the object's key order.
func (te *TableEdits) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedChangelog, err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("%w: table edits must be an object", ErrMalformedChangelog)
	}

	edits := TableEdits{}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedChangelog, err)
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("%w: unexpected key token %v", ErrMalformedChangelog, keyTok)
		}
		rowID, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			return fmt.Errorf("%w: row id %q is not an integer", ErrMalformedChangelog, key)
		}

		var payload rowEditPayload
		if err := dec.Decode(&payload); err != nil {
			return fmt.Errorf("%w: row %d: %v", ErrMalformedChangelog, rowID, err)
		}

		edits = append(edits, RowEdit{
			RowID:  rowID,
			Action: Action(payload.Action),
			Data:   payload.Data,
		})
	}

	if _, err := dec.Token(); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedChangelog, err)
	}

	*te = edits
	return nil
}
