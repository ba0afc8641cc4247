package sanitize

import (
	"bytes"
	"fmt"

	"github.com/valyala/fastjson"

	"github.com/polisai/polis-adblock/pkg/policy/keywords"
)

// Action is the replacement applied to a sanitized field.
type Action string

const (
	// ActionKind picks the neutral value of the field's current kind:
	// object→{}, array→[], boolean→false, number→0, anything else→null.
	ActionKind Action = "kind"
	// ActionKindContainers empties containers and turns booleans off, leaving
	// strings, numbers, and null untouched.
	ActionKindContainers Action = "kind_containers"
	ActionEmptyArray     Action = "empty_array"
	ActionEmptyObject    Action = "empty_object"
	ActionNull           Action = "null"
	ActionFalse          Action = "false"
	ActionZero           Action = "zero"
	ActionDelete         Action = "delete"
)

// Valid reports whether a is a known action.
func (a Action) Valid() bool {
	switch a {
	case ActionKind, ActionKindContainers, ActionEmptyArray, ActionEmptyObject,
		ActionNull, ActionFalse, ActionZero, ActionDelete:
		return true
	default:
		return false
	}
}

// FieldOp sanitizes keys selected either by exact name or by a field family.
type FieldOp struct {
	// Key selects one field by exact, case-sensitive name. JSON null values are
	// left alone.
	Key string
	// Family selects every key whose lower-cased name contains a family keyword.
	Family keywords.Family
	Action Action
}

// Validate checks the op is usable.
func (op FieldOp) Validate() error {
	switch {
	case op.Key == "" && len(op.Family.Keywords) == 0:
		return fmt.Errorf("sanitize: field op needs a key or a family")
	case op.Key != "" && len(op.Family.Keywords) > 0:
		return fmt.Errorf("sanitize: field op %q cannot set both key and family", op.Key)
	case op.Key != "" && (op.Action == "" || op.Action == ActionKind || op.Action == ActionKindContainers):
		return fmt.Errorf("sanitize: exact field %q needs an explicit action", op.Key)
	case op.Action != "" && !op.Action.Valid():
		return fmt.Errorf("sanitize: unsupported action %q", op.Action)
	}
	return nil
}

func (op FieldOp) matches(key string, value *fastjson.Value) bool {
	if op.Key != "" {
		return key == op.Key && !isNull(value)
	}
	return op.Family.Matches(key)
}

func (op FieldOp) action() Action {
	if op.Action == "" {
		return ActionKind
	}
	return op.Action
}

// Sanitizer is a Visitor applying ordered field ops, then list ops, to every
// key it is shown. The first matching field op wins.
type Sanitizer struct {
	arena  *fastjson.Arena
	fields []FieldOp
	lists  []ListOp

	// Changes counts fields replaced or removed and list elements dropped.
	Changes int
}

// NewSanitizer builds a sanitizer allocating replacements from a.
func NewSanitizer(a *fastjson.Arena, fields []FieldOp, lists []ListOp) *Sanitizer {
	return &Sanitizer{arena: a, fields: fields, lists: lists}
}

// SanitizeKey returns the value to store under key and whether the key survives.
func (s *Sanitizer) SanitizeKey(key string, value *fastjson.Value) (*fastjson.Value, bool) {
	for _, op := range s.fields {
		if !op.matches(key, value) {
			continue
		}
		act := op.action()
		if act == ActionDelete {
			s.Changes++
			return nil, false
		}
		next := Replacement(s.arena, value, act)
		if equivalent(value, next) {
			return value, true
		}
		s.Changes++
		return next, true
	}
	for _, list := range s.lists {
		if list.Key != key {
			continue
		}
		items, err := value.Array()
		if err != nil {
			return value, true
		}
		kept, removed := list.Filter(items)
		if removed == 0 {
			return value, true
		}
		s.Changes += removed
		return newArray(s.arena, kept), true
	}
	return value, true
}

// Field implements Visitor.
func (s *Sanitizer) Field(key string, value *fastjson.Value, _ *fastjson.Object) (*fastjson.Value, bool) {
	return s.SanitizeKey(key, value)
}

// Element implements Visitor. Free-standing array elements are never dropped;
// list filtering is bound to named collections.
func (s *Sanitizer) Element(*fastjson.Value) bool {
	return true
}

// Replacement returns the neutral value act assigns to v.
func Replacement(a *fastjson.Arena, v *fastjson.Value, act Action) *fastjson.Value {
	switch act {
	case ActionEmptyArray:
		return a.NewArray()
	case ActionEmptyObject:
		return a.NewObject()
	case ActionNull:
		return a.NewNull()
	case ActionFalse:
		return a.NewFalse()
	case ActionZero:
		return a.NewNumberInt(0)
	case ActionKindContainers:
		switch v.Type() {
		case fastjson.TypeObject:
			return a.NewObject()
		case fastjson.TypeArray:
			return a.NewArray()
		case fastjson.TypeTrue, fastjson.TypeFalse:
			return a.NewFalse()
		default:
			return v
		}
	default:
		switch v.Type() {
		case fastjson.TypeObject:
			return a.NewObject()
		case fastjson.TypeArray:
			return a.NewArray()
		case fastjson.TypeTrue, fastjson.TypeFalse:
			return a.NewFalse()
		case fastjson.TypeNumber:
			return a.NewNumberInt(0)
		default:
			return a.NewNull()
		}
	}
}

// equivalent reports whether replacing old with next would not change the
// encoded document.
func equivalent(old, next *fastjson.Value) bool {
	if old == next {
		return true
	}
	if old.Type() != next.Type() {
		return false
	}
	switch old.Type() {
	case fastjson.TypeObject:
		o, _ := old.Object()
		return o.Len() == 0
	case fastjson.TypeArray:
		items, _ := old.Array()
		return len(items) == 0
	default:
		return bytes.Equal(old.MarshalTo(nil), next.MarshalTo(nil))
	}
}

func isNull(v *fastjson.Value) bool {
	return v == nil || v.Type() == fastjson.TypeNull
}

// Target binds field and list ops to the container at Path. An empty path
// addresses the document root.
type Target struct {
	Path   []string
	Fields []FieldOp
	Lists  []ListOp
	// Shallow limits the ops to the direct fields of the container, even
	// under a recursive strategy.
	Shallow bool
}

// Validate checks every op of the target.
func (t Target) Validate() error {
	if len(t.Fields) == 0 && len(t.Lists) == 0 {
		return fmt.Errorf("sanitize: target %v has no operations", t.Path)
	}
	for _, op := range t.Fields {
		if err := op.Validate(); err != nil {
			return err
		}
	}
	for _, op := range t.Lists {
		if op.Key == "" {
			return fmt.Errorf("sanitize: list op at %v needs a key", t.Path)
		}
	}
	return nil
}
