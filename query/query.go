// Package query evaluates document queries and plans their execution
// against a collection's indexes.
package query

import (
	"regexp"
	"strings"

	"github.com/cubefs/docdb/proto"
)

// Matches evaluates a query object against one document. A document
// whose field is absent fails every condition on that field.
func Matches(doc, q *proto.Value) bool {
	if q == nil || !q.IsObject() {
		return false
	}

	if arr, ok := q.Field("$or"); ok {
		if !arr.IsArray() {
			return false
		}
		for _, sub := range arr.Elems() {
			if Matches(doc, sub) {
				return true
			}
		}
		return false
	}

	if arr, ok := q.Field("$and"); ok {
		if !arr.IsArray() {
			return false
		}
		for _, sub := range arr.Elems() {
			if !Matches(doc, sub) {
				return false
			}
		}
		return true
	}

	for _, m := range q.Members() {
		if !matchField(doc, m.Key, m.Value) {
			return false
		}
	}
	return true
}

func matchField(doc *proto.Value, field string, cond *proto.Value) bool {
	val, ok := doc.Field(field)
	if !ok {
		return false
	}

	if !cond.IsObject() {
		return proto.Equal(val, cond)
	}

	for _, m := range cond.Members() {
		arg := m.Value
		switch m.Key {
		case "$eq":
			if !proto.Equal(val, arg) {
				return false
			}
		case "$gt":
			if !(val.IsNumber() && arg.IsNumber() && val.Number() > arg.Number()) {
				return false
			}
		case "$lt":
			if !(val.IsNumber() && arg.IsNumber() && val.Number() < arg.Number()) {
				return false
			}
		case "$like":
			if !val.IsString() || !arg.IsString() {
				return false
			}
			if !Like(val.String(), arg.String()) {
				return false
			}
		case "$in":
			if !arg.IsArray() {
				return false
			}
			any := false
			for _, x := range arg.Elems() {
				if proto.Equal(val, x) {
					any = true
					break
				}
			}
			if !any {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// Like matches an SQL-style pattern: % is zero or more characters,
// _ exactly one; matching is anchored and case-insensitive, every
// other metacharacter is literal.
func Like(value, pattern string) bool {
	var sb strings.Builder
	sb.WriteString("(?i)^")
	for _, r := range pattern {
		switch r {
		case '%':
			sb.WriteString(".*")
		case '_':
			sb.WriteString(".")
		default:
			sb.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	sb.WriteString("$")
	re, err := regexp.Compile(sb.String())
	if err != nil {
		return false
	}
	return re.MatchString(value)
}
