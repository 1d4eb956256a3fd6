package docstore

import (
	"fmt"
	"reflect"
	"strings"
)

// Update sets Field (a dot-separated path) to Value. Value may be a plain value or one of the
// field operations ArrayUnion, ArrayUnionBy, ArrayRemove and DeleteField.
type Update struct {
	Field string
	Value any
}

type arrayUnion struct {
	key   string
	elems []any
}

type arrayRemove struct {
	elems []any
}

type deleteField struct{}

// ArrayUnion appends each element that is not already present in the array field.
func ArrayUnion(elems ...any) any {
	return arrayUnion{elems: elems}
}

// ArrayUnionBy appends each object element unless an element with the same value under key
// is already present.
func ArrayUnionBy(key string, elems ...any) any {
	return arrayUnion{key: key, elems: elems}
}

// ArrayRemove removes every element equal to one of elems from the array field.
func ArrayRemove(elems ...any) any {
	return arrayRemove{elems: elems}
}

// DeleteField removes the field from the document.
func DeleteField() any {
	return deleteField{}
}

// Apply returns a copy of doc with updates applied in order. doc itself is not modified.
func Apply(doc Document, updates ...Update) (Document, error) {
	out := Clone(doc)
	if out == nil {
		out = Document{}
	}
	for _, u := range updates {
		if err := applyOne(out, u); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func applyOne(doc Document, u Update) error {
	if u.Field == "" {
		return fmt.Errorf("empty field in update")
	}
	keys := strings.Split(u.Field, ".")
	parent := map[string]any(doc)
	for _, k := range keys[:len(keys)-1] {
		next, ok := parent[k].(map[string]any)
		if !ok {
			next = map[string]any{}
			parent[k] = next
		}
		parent = next
	}
	leaf := keys[len(keys)-1]

	switch op := u.Value.(type) {
	case deleteField:
		delete(parent, leaf)
	case arrayUnion:
		current, _ := parent[leaf].([]any)
		merged := append([]any(nil), current...)
		for _, e := range op.elems {
			n, err := normalize(e)
			if err != nil {
				return fmt.Errorf("field %s: %w", u.Field, err)
			}
			if op.key != "" {
				if containsKey(merged, op.key, n) {
					continue
				}
			} else if contains(merged, n) {
				continue
			}
			merged = append(merged, n)
		}
		parent[leaf] = merged
	case arrayRemove:
		current, _ := parent[leaf].([]any)
		kept := make([]any, 0, len(current))
		removed := make([]any, 0, len(op.elems))
		for _, e := range op.elems {
			n, err := normalize(e)
			if err != nil {
				return fmt.Errorf("field %s: %w", u.Field, err)
			}
			removed = append(removed, n)
		}
		for _, c := range current {
			if !contains(removed, c) {
				kept = append(kept, c)
			}
		}
		parent[leaf] = kept
	default:
		n, err := normalize(u.Value)
		if err != nil {
			return fmt.Errorf("field %s: %w", u.Field, err)
		}
		parent[leaf] = n
	}
	return nil
}

func contains(list []any, v any) bool {
	for _, item := range list {
		if reflect.DeepEqual(item, v) {
			return true
		}
	}
	return false
}

func containsKey(list []any, key string, v any) bool {
	obj, ok := v.(map[string]any)
	if !ok {
		return contains(list, v)
	}
	want, ok := obj[key]
	if !ok {
		return contains(list, v)
	}
	for _, item := range list {
		if m, ok := item.(map[string]any); ok && reflect.DeepEqual(m[key], want) {
			return true
		}
	}
	return false
}
