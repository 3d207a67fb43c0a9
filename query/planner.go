package query

import (
	"math"
	"strings"

	"github.com/cubefs/docdb/proto"
)

// IndexInfo is what the planner needs to know about a collection.
type IndexInfo interface {
	HasBTree(field string) bool
	HasHash(field string) bool
}

type PlanKind uint8

const (
	// PlanScan walks the primary store and evaluates per document.
	PlanScan PlanKind = iota
	// PlanBTreeEq is a point lookup on the field's B-tree index.
	PlanBTreeEq
	// PlanBTreeRange is a range scan on the field's B-tree index.
	PlanBTreeRange
	// PlanHashKeys unions the hash index lists of Keys.
	PlanHashKeys
)

type Plan struct {
	Kind  PlanKind
	Field string

	Eq                      float64
	Low, High               float64
	IncludeLow, IncludeHigh bool

	Keys []*proto.Value
}

// Analyze picks the execution plan for a query. Only single-field
// non-operator-rooted objects are index candidates; a B-tree on the
// field wins over a hash index. The planner commits only to condition
// shapes whose index result is provably equal to the scan result, so
// an empty index result is authoritative.
func Analyze(q *proto.Value, idx IndexInfo) Plan {
	scan := Plan{Kind: PlanScan}
	if q == nil || !q.IsObject() || q.Len() != 1 {
		return scan
	}
	m := q.Members()[0]
	field, cond := m.Key, m.Value
	if strings.HasPrefix(field, "$") {
		return scan
	}

	if idx.HasBTree(field) && cond.IsObject() {
		if p, ok := analyzeBTree(field, cond); ok {
			return p
		}
	}

	if idx.HasHash(field) {
		if p, ok := analyzeHash(field, cond); ok {
			return p
		}
	}

	return scan
}

func analyzeBTree(field string, cond *proto.Value) (Plan, bool) {
	ops := condOps(cond)
	eq, _ := cond.Field("$eq")
	gt, _ := cond.Field("$gt")
	lt, _ := cond.Field("$lt")

	switch {
	case ops == "$eq" && eq.IsNumber():
		return Plan{Kind: PlanBTreeEq, Field: field, Eq: eq.Number()}, true
	case ops == "$gt,$lt" && gt.IsNumber() && lt.IsNumber():
		return Plan{Kind: PlanBTreeRange, Field: field, Low: gt.Number(), High: lt.Number()}, true
	case ops == "$gt" && gt.IsNumber():
		return Plan{Kind: PlanBTreeRange, Field: field, Low: gt.Number(), High: math.Inf(1)}, true
	case ops == "$lt" && lt.IsNumber():
		return Plan{Kind: PlanBTreeRange, Field: field, Low: math.Inf(-1), High: lt.Number()}, true
	}
	return Plan{}, false
}

func analyzeHash(field string, cond *proto.Value) (Plan, bool) {
	if !cond.IsObject() {
		return Plan{Kind: PlanHashKeys, Field: field, Keys: []*proto.Value{cond}}, true
	}
	switch condOps(cond) {
	case "$eq":
		arg, _ := cond.Field("$eq")
		return Plan{Kind: PlanHashKeys, Field: field, Keys: []*proto.Value{arg}}, true
	case "$in":
		arg, _ := cond.Field("$in")
		if !arg.IsArray() {
			// a non-array $in matches nothing anywhere
			return Plan{Kind: PlanHashKeys, Field: field}, true
		}
		return Plan{Kind: PlanHashKeys, Field: field, Keys: arg.Elems()}, true
	}
	return Plan{}, false
}

// condOps renders the operator set of a condition object in a fixed
// order so shapes compare as strings.
func condOps(cond *proto.Value) string {
	var hasEq, hasGt, hasLt, hasIn, hasLike, other bool
	for _, m := range cond.Members() {
		switch m.Key {
		case "$eq":
			hasEq = true
		case "$gt":
			hasGt = true
		case "$lt":
			hasLt = true
		case "$in":
			hasIn = true
		case "$like":
			hasLike = true
		default:
			other = true
		}
	}
	if other {
		return "?"
	}
	var ops []string
	if hasEq {
		ops = append(ops, "$eq")
	}
	if hasGt {
		ops = append(ops, "$gt")
	}
	if hasLt {
		ops = append(ops, "$lt")
	}
	if hasIn {
		ops = append(ops, "$in")
	}
	if hasLike {
		ops = append(ops, "$like")
	}
	return strings.Join(ops, ",")
}
