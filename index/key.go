// Package index implements the two secondary index structures: the
// hash index over tagged value-keys and the order-t B-tree over
// numeric keys.
package index

import (
	"github.com/cubefs/docdb/proto"
)

// KeyForValue derives the hash index value-key. The type tag keeps
// values of different kinds apart (the string "1" and the number 1
// never collide); the numeric rendering round-trips the double, so
// 1 and 1.0 share a key while distinct numbers never do.
func KeyForValue(v *proto.Value) string {
	switch v.Kind() {
	case proto.KindString:
		return "s:" + v.String()
	case proto.KindNumber:
		return "n:" + proto.FormatNumber(v.Number())
	case proto.KindBool:
		if v.Bool() {
			return "b:1"
		}
		return "b:0"
	default:
		b, _ := v.MarshalJSON()
		return "j:" + string(b)
	}
}
