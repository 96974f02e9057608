package store

import "strings"

// Key joins namespace segments into the "/<namespace>/<project_id>/<kind>/<id>[/field]"
// form the data model uses for every entity, and returns it as bytes
// ready for Read/Write/ListKeys/Scan.
func Key(segments ...string) []byte {
	return []byte("/" + strings.Join(segments, "/"))
}

// Prefix is Key with a trailing "/" guaranteed, for use with ListKeys
// and Scan so a scan of "/tasks/outputs/t1" doesn't also match
// "/tasks/outputs/t10".
func Prefix(segments ...string) []byte {
	k := Key(segments...)
	if len(k) == 0 || k[len(k)-1] != '/' {
		k = append(k, '/')
	}
	return k
}

// PrefixEnd returns the smallest key greater than every key sharing
// prefix, suitable as the exclusive "end" bound to Scan for a
// prefix-bounded range scan.
func PrefixEnd(prefix []byte) []byte {
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	// prefix was all 0xff bytes; no finite upper bound exists.
	return nil
}
