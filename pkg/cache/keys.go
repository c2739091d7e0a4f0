package cache

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
)

// Key builds a deterministic cache key from an operation name and its
// arguments. Identical logical calls always produce the same key; calls with
// different arguments never collide because each argument is rendered in a
// canonical form and joined with an unambiguous separator. An optional prefix
// namespaces the key (e.g. "products").
func Key(prefix, operation string, args ...any) string {
	var b strings.Builder
	if prefix != "" {
		b.WriteString(prefix)
		b.WriteByte(':')
	}
	b.WriteString(operation)
	for _, arg := range args {
		b.WriteByte(':')
		b.WriteString(canonicalize(arg))
	}
	return b.String()
}

// LockKey derives the distributed-lock key for a cache key. The "lock:"
// namespace keeps lock keys disjoint from cache keys so a pattern eviction
// can never delete a live lock.
func LockKey(cacheKey string) string {
	return "lock:" + cacheKey
}

// canonicalize renders a single argument deterministically. Strings are
// quoted so a ":" inside an argument can never be mistaken for the join
// separator; maps are rendered as sorted key=value pairs; everything else
// marshals stably with encoding/json. Values that cannot be marshaled fall
// back to a type-tagged fmt rendering rather than failing the whole key.
func canonicalize(arg any) string {
	switch v := arg.(type) {
	case nil:
		return "nil"
	case string:
		return strconv.Quote(v)
	case fmt.Stringer:
		return strconv.Quote(v.String())
	}

	rv := reflect.ValueOf(arg)
	if rv.Kind() == reflect.Map {
		return canonicalMap(rv)
	}

	raw, err := json.Marshal(arg)
	if err != nil {
		return fmt.Sprintf("%T(%v)", arg, arg)
	}
	return string(raw)
}

// canonicalMap renders a map as sorted key=value pairs.
func canonicalMap(rv reflect.Value) string {
	pairs := make([]string, 0, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		pairs = append(pairs, fmt.Sprintf("%v=%s", iter.Key().Interface(), canonicalize(iter.Value().Interface())))
	}
	sort.Strings(pairs)
	return "{" + strings.Join(pairs, ",") + "}"
}
