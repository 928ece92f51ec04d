package globaldict

import "sort"

// Dictionary maps the raw values of each bitmap column to dense codes
// 0..n-1. It lives for one attempt and is never persisted.
type Dictionary struct {
	TableID int64

	codes map[string]map[string]int64
}

// Code returns the code of a raw value.
func (d *Dictionary) Code(column, value string) (int64, bool) {
	c, ok := d.codes[column][value]
	return c, ok
}

// Len returns the number of distinct values of a column.
func (d *Dictionary) Len(column string) int {
	return len(d.codes[column])
}

func (d *Dictionary) Columns() []string {
	ret := make([]string, 0, len(d.codes))
	for c := range d.codes {
		ret = append(ret, c)
	}
	sort.Strings(ret)
	return ret
}
