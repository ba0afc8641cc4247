package sanitize

import "github.com/valyala/fastjson"

// Visitor decides the fate of object fields and array elements during a walk.
type Visitor interface {
	// Field is called for every key of an object, in document order, before
	// the walker descends into the value. It returns the value to keep under
	// key, which may be the original, or keep=false to remove the key.
	Field(key string, value *fastjson.Value, parent *fastjson.Object) (next *fastjson.Value, keep bool)
	// Element reports whether an array element survives. It is called before
	// the walker descends into the element.
	Element(item *fastjson.Value) bool
}

// VisitorFuncs adapts plain functions to Visitor. Nil funcs keep everything.
type VisitorFuncs struct {
	FieldFunc   func(key string, value *fastjson.Value, parent *fastjson.Object) (*fastjson.Value, bool)
	ElementFunc func(item *fastjson.Value) bool
}

// Field implements Visitor.
func (f VisitorFuncs) Field(key string, value *fastjson.Value, parent *fastjson.Object) (*fastjson.Value, bool) {
	if f.FieldFunc == nil {
		return value, true
	}
	return f.FieldFunc(key, value, parent)
}

// Element implements Visitor.
func (f VisitorFuncs) Element(item *fastjson.Value) bool {
	if f.ElementFunc == nil {
		return true
	}
	return f.ElementFunc(item)
}

type fieldEntry struct {
	key    string
	value  *fastjson.Value
	keep   bool
	edited bool
}

// Walk traverses node depth-first and returns the value that should replace
// it. Objects are edited in place unless they carry duplicate keys; such an
// object, and an array with excluded elements, is rebuilt, so the caller must
// store the returned value. Scalars and nil are returned unchanged.
func Walk(a *fastjson.Arena, node *fastjson.Value, v Visitor) *fastjson.Value {
	return walk(a, node, v, true)
}

// VisitFields applies v to the direct fields of node without descending and
// returns the value that should replace it. Non-object nodes are returned
// unchanged.
func VisitFields(a *fastjson.Arena, node *fastjson.Value, v Visitor) *fastjson.Value {
	if node == nil {
		return nil
	}
	obj, err := node.Object()
	if err != nil {
		return node
	}
	return walkObject(a, node, obj, v, false)
}

func walk(a *fastjson.Arena, node *fastjson.Value, v Visitor, deep bool) *fastjson.Value {
	if node == nil {
		return nil
	}
	// Object() and Array() inspect the kind without unescaping raw strings,
	// which keeps untouched string values byte-identical on re-encode.
	if obj, err := node.Object(); err == nil {
		return walkObject(a, node, obj, v, deep)
	}
	if items, err := node.Array(); err == nil {
		return walkArray(a, node, items, v)
	}
	return node
}

func walkObject(a *fastjson.Arena, node *fastjson.Value, obj *fastjson.Object, v Visitor, deep bool) *fastjson.Value {
	entries := make([]fieldEntry, 0, obj.Len())
	dirty := false
	obj.Visit(func(k []byte, value *fastjson.Value) {
		e := fieldEntry{key: string(k), value: value}
		next, keep := v.Field(e.key, value, obj)
		if !keep {
			dirty = true
			entries = append(entries, e)
			return
		}
		if next == nil {
			next = value
		}
		if deep {
			next = walk(a, next, v, true)
		}
		e.keep = true
		e.edited = next != value
		e.value = next
		dirty = dirty || e.edited
		entries = append(entries, e)
	})
	if !dirty {
		return node
	}
	if hasDuplicateKeys(entries) {
		return rebuildObject(a, node, entries)
	}
	for _, e := range entries {
		switch {
		case !e.keep:
			obj.Del(e.key)
		case e.edited:
			obj.Set(e.key, e.value)
		}
	}
	return node
}

func hasDuplicateKeys(entries []fieldEntry) bool {
	if len(entries) < 2 {
		return false
	}
	seen := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		if _, dup := seen[e.key]; dup {
			return true
		}
		seen[e.key] = struct{}{}
	}
	return false
}

// rebuildObject re-encodes the surviving entries in document order and parses
// the result into a fresh value. Object.Set and Object.Del address only the
// first occurrence of a key, so positional edits need a new object.
func rebuildObject(a *fastjson.Arena, node *fastjson.Value, entries []fieldEntry) *fastjson.Value {
	if a == nil {
		a = &fastjson.Arena{}
	}
	buf := append(make([]byte, 0, 64), '{')
	n := 0
	for _, e := range entries {
		if !e.keep {
			continue
		}
		if n > 0 {
			buf = append(buf, ',')
		}
		buf = a.NewString(e.key).MarshalTo(buf)
		buf = append(buf, ':')
		buf = e.value.MarshalTo(buf)
		n++
	}
	buf = append(buf, '}')

	var p fastjson.Parser
	out, err := p.ParseBytes(buf)
	if err != nil {
		return node
	}
	return out
}

func walkArray(a *fastjson.Arena, node *fastjson.Value, items []*fastjson.Value, v Visitor) *fastjson.Value {
	if len(items) == 0 {
		return node
	}
	out := make([]*fastjson.Value, 0, len(items))
	changed := false
	for _, item := range items {
		if !v.Element(item) {
			changed = true
			continue
		}
		next := walk(a, item, v, true)
		if next != item {
			changed = true
		}
		out = append(out, next)
	}
	if !changed {
		return node
	}
	return newArray(a, out)
}

func newArray(a *fastjson.Arena, items []*fastjson.Value) *fastjson.Value {
	arr := a.NewArray()
	for i, item := range items {
		arr.SetArrayItem(i, item)
	}
	return arr
}
