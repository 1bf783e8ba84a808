package backend

import (
	"net/url"
	"strconv"
)

// Filter narrows a query to matching rows, rendered as PostgREST-style
// query parameters. The zero value matches everything.
type Filter struct {
	columns string
	eq      [][2]string
	or      string
	order   string
	desc    bool
	limit   int
}

// Where starts an empty filter.
func Where() Filter { return Filter{} }

// Columns selects the projection, including embedded joins such as
// "*,user1:users!chats_user1_id_fkey(*)".
func (f Filter) Columns(cols string) Filter {
	f.columns = cols
	return f
}

// Eq adds an equality condition on a column.
func (f Filter) Eq(column, value string) Filter {
	f.eq = append(f.eq, [2]string{column, value})
	return f
}

// Or adds a raw disjunction, e.g. "user1_id.eq.U,user2_id.eq.U".
func (f Filter) Or(expr string) Filter {
	f.or = expr
	return f
}

// OrderAsc sorts ascending by column.
func (f Filter) OrderAsc(column string) Filter {
	f.order, f.desc = column, false
	return f
}

// OrderDesc sorts descending by column.
func (f Filter) OrderDesc(column string) Filter {
	f.order, f.desc = column, true
	return f
}

// Limit caps the number of returned rows.
func (f Filter) Limit(n int) Filter {
	f.limit = n
	return f
}

func (f Filter) encode() url.Values {
	v := url.Values{}
	if f.columns != "" {
		v.Set("select", f.columns)
	}
	for _, c := range f.eq {
		v.Set(c[0], "eq."+c[1])
	}
	if f.or != "" {
		v.Set("or", "("+f.or+")")
	}
	if f.order != "" {
		dir := ".asc"
		if f.desc {
			dir = ".desc"
		}
		v.Set("order", f.order+dir)
	}
	if f.limit > 0 {
		v.Set("limit", strconv.Itoa(f.limit))
	}
	return v
}
