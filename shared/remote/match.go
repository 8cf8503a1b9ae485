package remote

import (
	"cmp"
	"encoding/json"
	"slices"
)

// Apply evaluates q against docs in memory: filter, order, limit. It is used
// by stores without a native query engine.
func Apply(q Query, docs []*Document) []*Document {
	type row struct {
		doc    *Document
		fields map[string]any
	}

	rows := make([]row, 0, len(docs))
	for _, d := range docs {
		var fields map[string]any
		if err := json.Unmarshal(d.Data, &fields); err != nil {
			continue
		}
		if matches(q.Filters, fields) {
			rows = append(rows, row{doc: d, fields: fields})
		}
	}

	slices.SortStableFunc(rows, func(a, b row) int {
		if q.OrderBy != "" {
			c := compare(a.fields[q.OrderBy], b.fields[q.OrderBy])
			if q.Descending {
				c = -c
			}
			if c != 0 {
				return c
			}
		}
		return cmp.Compare(a.doc.ID, b.doc.ID)
	})

	if q.Limit > 0 && len(rows) > q.Limit {
		rows = rows[:q.Limit]
	}

	out := make([]*Document, len(rows))
	for i, r := range rows {
		out[i] = r.doc
	}
	return out
}

func matches(filters []Filter, fields map[string]any) bool {
	for _, f := range filters {
		v, ok := fields[f.Field]
		if !ok {
			return false
		}
		c := compare(v, normalize(f.Value))
		switch f.Op {
		case OpEq:
			if c != 0 {
				return false
			}
		case OpLt:
			if c >= 0 {
				return false
			}
		case OpLte:
			if c > 0 {
				return false
			}
		case OpGt:
			if c <= 0 {
				return false
			}
		case OpGte:
			if c < 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// normalize maps Go values onto the JSON value space used by decoded fields.
func normalize(v any) any {
	b, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return v
	}
	return out
}

// compare orders JSON values: nil < bool < number < string. Values of other
// kinds compare equal.
func compare(a, b any) int {
	ra, rb := rank(a), rank(b)
	if ra != rb {
		return cmp.Compare(ra, rb)
	}

	switch av := a.(type) {
	case bool:
		bv := b.(bool)
		switch {
		case av == bv:
			return 0
		case !av:
			return -1
		default:
			return 1
		}
	case float64:
		return cmp.Compare(av, b.(float64))
	case string:
		return cmp.Compare(av, b.(string))
	}
	return 0
}

func rank(v any) int {
	switch v.(type) {
	case nil:
		return 0
	case bool:
		return 1
	case float64:
		return 2
	case string:
		return 3
	default:
		return 4
	}
}
