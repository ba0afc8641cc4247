package sanitize

import (
	"slices"
	"strings"

	"github.com/valyala/fastjson"
)

var (
	// DefaultDiscriminators are the element fields inspected by FilterAds.
	DefaultDiscriminators = []string{"type", "bizType", "itemType"}
	// DefaultMarkers are the lower-case substrings that mark an element as an ad.
	DefaultMarkers = []string{"ad", "promotion"}
)

// ListOp filters the collection stored under Key.
type ListOp struct {
	Key string
	// Discriminators are the element fields inspected, DefaultDiscriminators when nil.
	Discriminators []string
	// Markers are matched as substrings of the lower-cased discriminator value,
	// DefaultMarkers when nil. An empty non-nil slice disables substring matching.
	Markers []string
	// DropTypes are exact discriminator values that mark an ad.
	DropTypes []string
	// KeepTypes are exact discriminator values that always survive.
	KeepTypes []string
	// Flags drop an element whose flag field is present and truthy.
	Flags []string
}

// Filter returns the surviving elements in input order and how many were removed.
func (op ListOp) Filter(items []*fastjson.Value) ([]*fastjson.Value, int) {
	kept := make([]*fastjson.Value, 0, len(items))
	for _, item := range items {
		if op.isAd(item) {
			continue
		}
		kept = append(kept, item)
	}
	return kept, len(items) - len(kept)
}

func (op ListOp) isAd(item *fastjson.Value) bool {
	if _, err := item.Object(); err != nil {
		return false
	}
	discriminators := op.Discriminators
	if discriminators == nil {
		discriminators = DefaultDiscriminators
	}
	markers := op.Markers
	if markers == nil {
		markers = DefaultMarkers
	}

	for _, field := range discriminators {
		raw := item.GetStringBytes(field)
		if raw == nil {
			continue
		}
		value := string(raw)
		if slices.Contains(op.KeepTypes, value) {
			return false
		}
		if slices.Contains(op.DropTypes, value) {
			return true
		}
		lower := strings.ToLower(value)
		for _, m := range markers {
			if m != "" && strings.Contains(lower, m) {
				return true
			}
		}
	}
	for _, flag := range op.Flags {
		if truthy(item.Get(flag)) {
			return true
		}
	}
	return false
}

// FilterAds keeps an element unless its type, bizType, or itemType contains
// "ad" or "promotion" case-insensitively. Elements without a string
// discriminator are kept, and survivors keep their order.
func FilterAds(items []*fastjson.Value) []*fastjson.Value {
	kept, _ := ListOp{}.Filter(items)
	return kept
}

func truthy(v *fastjson.Value) bool {
	if v == nil {
		return false
	}
	switch v.Type() {
	case fastjson.TypeNull, fastjson.TypeFalse:
		return false
	case fastjson.TypeString:
		return len(v.GetStringBytes()) > 0
	case fastjson.TypeNumber:
		return v.GetFloat64() != 0
	default:
		return true
	}
}
