package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Payload is the telemetry bundle attached to a submission. It is consumed
// once by verification and never persisted.
type Payload struct {
	Answers      []Answer      `json:"answers"`
	WrongAnswers []Answer      `json:"wrong_answers"`
	HintEvents   []Answer      `json:"hint_events"`
	ActionLog    []ActionEntry `json:"action_log"`
}

// ActionEntry is one timestamped client action. TS is unix milliseconds.
type ActionEntry struct {
	TS      int64          `json:"ts"`
	Action  string         `json:"action"`
	Payload *ActionPayload `json:"payload,omitempty"`
}

// ActionPayload holds the structured fields an action may carry.
type ActionPayload struct {
	Direction String `json:"direction"`
}

func (a *ActionEntry) UnmarshalJSON(data []byte) error {
	var raw struct {
		TS      *int64         `json:"ts"`
		Action  *string        `json:"action"`
		Payload *ActionPayload `json:"payload"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedActivity, err)
	}
	if raw.TS == nil || raw.Action == nil {
		return fmt.Errorf("%w: ts and action are required", ErrMalformedActivity)
	}
	*a = ActionEntry{TS: *raw.TS, Action: *raw.Action, Payload: raw.Payload}
	return nil
}

// Answer is one entry of the answers, wrong_answers or hint_events lists.
// Every field is optional; which ones matter depends on the game.
type Answer struct {
	Cell    CellRef  `json:"cell"`
	Row     Int      `json:"row"`
	Col     Int      `json:"col"`
	X       Int      `json:"x"`
	Y       Int      `json:"y"`
	Index   Int      `json:"index"`
	Value   Int      `json:"value"`
	Number  Int      `json:"number"`
	Filled  Bool     `json:"filled"`
	State   String   `json:"state"`
	Board   Matrix   `json:"board"`
	Grid    Matrix   `json:"grid"`
	MaxTile Int      `json:"max_tile"`
	Score   Int      `json:"score"`
	Rect    *Rect    `json:"rect"`
	Cells   CellList `json:"cells"`
}

func (a *Answer) UnmarshalJSON(data []byte) error {
	if !isObject(data) {
		return fmt.Errorf("%w: list entries must be objects", ErrMalformedPayload)
	}
	type plain Answer
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	*a = Answer(p)
	return nil
}

// Int is an optional integer. Present is false when the key is missing or
// null. Valid is false when the value is present but not an integer.
type Int struct {
	Value   int64
	Present bool
	Valid   bool
}

func (i *Int) UnmarshalJSON(data []byte) error {
	*i = Int{}
	if isNull(data) {
		return nil
	}
	i.Present = true
	if v, err := strconv.ParseInt(string(bytes.TrimSpace(data)), 10, 64); err == nil {
		i.Value, i.Valid = v, true
	}
	return nil
}

// Bool is an optional boolean with the same semantics as Int.
type Bool struct {
	Value   bool
	Present bool
	Valid   bool
}

func (b *Bool) UnmarshalJSON(data []byte) error {
	*b = Bool{}
	if isNull(data) {
		return nil
	}
	b.Present = true
	switch string(bytes.TrimSpace(data)) {
	case "true":
		b.Value, b.Valid = true, true
	case "false":
		b.Valid = true
	}
	return nil
}

// String is an optional string with the same semantics as Int.
type String struct {
	Value   string
	Present bool
	Valid   bool
}

func (s *String) UnmarshalJSON(data []byte) error {
	*s = String{}
	if isNull(data) {
		return nil
	}
	s.Present = true
	if err := json.Unmarshal(data, &s.Value); err == nil {
		s.Valid = true
	}
	return nil
}

// Matrix is a board given either as a flat list or as a list of rows.
// Present is set whenever the key appears, null included.
type Matrix struct {
	Present bool
	Valid   bool
	Nested  bool
	Rows    [][]Int
	Values  []Int
}

func (m *Matrix) UnmarshalJSON(data []byte) error {
	*m = Matrix{Present: true}
	var items []json.RawMessage
	if isNull(data) || json.Unmarshal(data, &items) != nil {
		return nil
	}
	m.Valid = true
	m.Nested = len(items) > 0
	for _, item := range items {
		if !isArray(item) {
			m.Nested = false
			break
		}
	}
	if m.Nested {
		m.Rows = make([][]Int, len(items))
		for i, item := range items {
			var row []Int
			if err := json.Unmarshal(item, &row); err != nil {
				m.Valid = false
				return nil
			}
			m.Rows[i] = row
			m.Values = append(m.Values, row...)
		}
		return nil
	}
	m.Values = make([]Int, len(items))
	for i, item := range items {
		if err := m.Values[i].UnmarshalJSON(item); err != nil {
			m.Valid = false
			return nil
		}
	}
	return nil
}

// Rect is a rectangle answer. Object is false when the value was not a JSON
// object.
type Rect struct {
	Object bool
	X      Int
	Y      Int
	Width  Int
	Height Int
}

func (r *Rect) UnmarshalJSON(data []byte) error {
	*r = Rect{}
	if !isObject(data) {
		return nil
	}
	var raw struct {
		X      Int `json:"x"`
		Y      Int `json:"y"`
		Width  Int `json:"width"`
		Height Int `json:"height"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil
	}
	*r = Rect{Object: true, X: raw.X, Y: raw.Y, Width: raw.Width, Height: raw.Height}
	return nil
}

// CellRef is a reference to a puzzle cell: a bare index, a bare string or an
// object carrying index, row/col or x/y.
type CellRef struct {
	Present bool
	Index   Int
	Text    String
	Row     Int
	Col     Int
	X       Int
	Y       Int
}

func (c *CellRef) UnmarshalJSON(data []byte) error {
	*c = CellRef{}
	if isNull(data) {
		return nil
	}
	c.Present = true
	trimmed := bytes.TrimSpace(data)
	switch {
	case len(trimmed) == 0:
	case trimmed[0] == '"':
		return c.Text.UnmarshalJSON(trimmed)
	case trimmed[0] == '{':
		var raw struct {
			Index Int `json:"index"`
			Row   Int `json:"row"`
			Col   Int `json:"col"`
			X     Int `json:"x"`
			Y     Int `json:"y"`
		}
		if err := json.Unmarshal(trimmed, &raw); err == nil {
			c.Index, c.Row, c.Col, c.X, c.Y = raw.Index, raw.Row, raw.Col, raw.X, raw.Y
		}
	case trimmed[0] == '-' || (trimmed[0] >= '0' && trimmed[0] <= '9'):
		return c.Index.UnmarshalJSON(trimmed)
	}
	return nil
}

// CellList is an optional list of cell references.
type CellList struct {
	Present bool
	Valid   bool
	Items   []CellRef
}

func (l *CellList) UnmarshalJSON(data []byte) error {
	*l = CellList{}
	if isNull(data) {
		return nil
	}
	l.Present = true
	if err := json.Unmarshal(data, &l.Items); err == nil {
		l.Valid = true
	} else {
		l.Items = nil
	}
	return nil
}

func isNull(data []byte) bool {
	return bytes.Equal(bytes.TrimSpace(data), []byte("null"))
}

func isObject(data []byte) bool {
	trimmed := bytes.TrimSpace(data)
	return len(trimmed) > 0 && trimmed[0] == '{'
}

func isArray(data []byte) bool {
	trimmed := bytes.TrimSpace(data)
	return len(trimmed) > 0 && trimmed[0] == '['
}

// Encoding mirrors decoding: a value re-decodes with the same Present and
// Valid flags. Absent fields are left out of answers entirely.

var (
	jsonNull      = []byte("null")
	invalidNumber = []byte(`""`)
	invalidString = []byte("0")
	invalidList   = []byte("0")
	emptyObject   = []byte("{}")
)

func (i Int) MarshalJSON() ([]byte, error) {
	switch {
	case !i.Present:
		return jsonNull, nil
	case !i.Valid:
		return invalidNumber, nil
	}
	return strconv.AppendInt(nil, i.Value, 10), nil
}

func (b Bool) MarshalJSON() ([]byte, error) {
	switch {
	case !b.Present:
		return jsonNull, nil
	case !b.Valid:
		return invalidNumber, nil
	}
	return strconv.AppendBool(nil, b.Value), nil
}

func (s String) MarshalJSON() ([]byte, error) {
	switch {
	case !s.Present:
		return jsonNull, nil
	case !s.Valid:
		return invalidString, nil
	}
	return json.Marshal(s.Value)
}

func (m Matrix) MarshalJSON() ([]byte, error) {
	if !m.Valid {
		return jsonNull, nil
	}
	if m.Nested {
		return json.Marshal(m.Rows)
	}
	if m.Values == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(m.Values)
}

func (r Rect) MarshalJSON() ([]byte, error) {
	if !r.Object {
		return invalidList, nil
	}
	fields := make(map[string]Int, 4)
	putInt(fields, "x", r.X)
	putInt(fields, "y", r.Y)
	putInt(fields, "width", r.Width)
	putInt(fields, "height", r.Height)
	return json.Marshal(fields)
}

func (c CellRef) MarshalJSON() ([]byte, error) {
	if !c.Present {
		return jsonNull, nil
	}
	if c.Text.Present {
		if !c.Text.Valid {
			return emptyObject, nil
		}
		return c.Text.MarshalJSON()
	}
	fields := make(map[string]Int, 5)
	putInt(fields, "index", c.Index)
	putInt(fields, "row", c.Row)
	putInt(fields, "col", c.Col)
	putInt(fields, "x", c.X)
	putInt(fields, "y", c.Y)
	return json.Marshal(fields)
}

func (l CellList) MarshalJSON() ([]byte, error) {
	switch {
	case !l.Present:
		return jsonNull, nil
	case !l.Valid:
		return invalidList, nil
	case l.Items == nil:
		return []byte("[]"), nil
	}
	return json.Marshal(l.Items)
}

func (a Answer) MarshalJSON() ([]byte, error) {
	fields := make(map[string]json.Marshaler)
	if a.Cell.Present {
		fields["cell"] = a.Cell
	}
	ints := []struct {
		key string
		v   Int
	}{
		{"row", a.Row}, {"col", a.Col}, {"x", a.X}, {"y", a.Y},
		{"index", a.Index}, {"value", a.Value}, {"number", a.Number},
		{"max_tile", a.MaxTile}, {"score", a.Score},
	}
	for _, f := range ints {
		if f.v.Present {
			fields[f.key] = f.v
		}
	}
	if a.Filled.Present {
		fields["filled"] = a.Filled
	}
	if a.State.Present {
		fields["state"] = a.State
	}
	if a.Board.Present {
		fields["board"] = a.Board
	}
	if a.Grid.Present {
		fields["grid"] = a.Grid
	}
	if a.Rect != nil {
		fields["rect"] = *a.Rect
	}
	if a.Cells.Present {
		fields["cells"] = a.Cells
	}
	return json.Marshal(fields)
}

func putInt(fields map[string]Int, key string, v Int) {
	if v.Present {
		fields[key] = v
	}
}
