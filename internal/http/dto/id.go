package dto

import (
	"encoding/json"
	"strconv"
)

// Int64String decodes an id sent either as a JSON string or a number.
// Snowflake ids exceed the safe integer range of JavaScript clients.
type Int64String int64

func (v *Int64String) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return err
		}
		*v = Int64String(n)
		return nil
	}
	var n int64
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*v = Int64String(n)
	return nil
}

func Int64s(in []Int64String) []int64 {
	out := make([]int64, len(in))
	for i, v := range in {
		out[i] = int64(v)
	}
	return out
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}

func idStrings(ids []int64) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = formatID(id)
	}
	return out
}
