package sanitize

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/valyala/fastjson"
	"pgregory.net/rapid"

	"github.com/polisai/polis-adblock/pkg/policy/keywords"
)

var (
	safeKeys = []string{"id", "title", "price", "items", "user", "meta", "list", "url"}
	adKeys   = []string{"splashAd", "launchConfig", "StartupImage", "openAdList", "bootAdSwitch"}
	launch   = keywords.NewFamily("launch", "splash", "launch", "startup", "openad", "bootad")
)

func genJSON(t *rapid.T, keys []string, depth int) any {
	kind := rapid.IntRange(0, 6).Draw(t, "kind")
	if depth <= 0 && kind >= 5 {
		kind = rapid.IntRange(0, 4).Draw(t, "leaf")
	}
	switch kind {
	case 0:
		return nil
	case 1:
		return rapid.Bool().Draw(t, "bool")
	case 2:
		return rapid.IntRange(-1000, 1000).Draw(t, "int")
	case 3:
		return rapid.Float64Range(-10, 10).Draw(t, "float")
	case 4:
		return rapid.StringMatching(`[a-zA-Z0-9 <>&_-]{0,8}`).Draw(t, "string")
	case 5:
		n := rapid.IntRange(0, 3).Draw(t, "len")
		arr := make([]any, n)
		for i := range arr {
			arr[i] = genJSON(t, keys, depth-1)
		}
		return arr
	default:
		n := rapid.IntRange(0, 4).Draw(t, "fields")
		obj := make(map[string]any, n)
		for i := 0; i < n; i++ {
			obj[rapid.SampledFrom(keys).Draw(t, "key")] = genJSON(t, keys, depth-1)
		}
		return obj
	}
}

func sanitizeOnce(t *rapid.T, body []byte) []byte {
	doc, err := Decode(body)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	defer doc.Release()
	s := NewSanitizer(doc.Arena(), []FieldOp{{Family: launch}}, []ListOp{{Key: "items"}})
	doc.Replace(Walk(doc.Arena(), doc.Root(), s))
	out, err := doc.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return out
}

func TestSanitize_RoundTripValidAndIdempotent(t *testing.T) {
	keys := append(append([]string{}, safeKeys...), adKeys...)
	rapid.Check(t, func(t *rapid.T) {
		body, err := json.Marshal(genJSON(t, keys, 4))
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}

		once := sanitizeOnce(t, body)
		if !json.Valid(once) {
			t.Fatalf("invalid output %s", once)
		}
		twice := sanitizeOnce(t, once)
		if string(once) != string(twice) {
			t.Fatalf("not idempotent:\n once  %s\n twice %s", once, twice)
		}
	})
}

func TestSanitize_UnmatchedDocumentsAreByteIdentical(t *testing.T) {
	keys := []string{"id", "title", "price", "user", "meta", "url"}
	rapid.Check(t, func(t *rapid.T) {
		body, err := json.Marshal(genJSON(t, keys, 4))
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		if out := sanitizeOnce(t, body); string(out) != string(body) {
			t.Fatalf("mutated unmatched document:\n in  %s\n out %s", body, out)
		}
	})
}

func TestSanitize_MatchedKeysHoldNeutralValues(t *testing.T) {
	keys := append(append([]string{}, safeKeys...), adKeys...)
	rapid.Check(t, func(t *rapid.T) {
		body, err := json.Marshal(genJSON(t, keys, 4))
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		out := sanitizeOnce(t, body)

		var check func(v *fastjson.Value)
		check = func(v *fastjson.Value) {
			if obj, err := v.Object(); err == nil {
				obj.Visit(func(k []byte, child *fastjson.Value) {
					if launch.Matches(string(k)) {
						switch s := string(child.MarshalTo(nil)); s {
						case "{}", "[]", "false", "0", "null":
						default:
							t.Fatalf("key %s kept %s", k, s)
						}
						return
					}
					check(child)
				})
				return
			}
			if arr, err := v.Array(); err == nil {
				for _, item := range arr {
					check(item)
				}
			}
		}
		check(fastjson.MustParseBytes(out))
	})
}

func TestFilterAds_StableAndFailOpen(t *testing.T) {
	types := []string{"AD_BANNER", "NORMAL", "promotion_card", "goods", "feed", ""}
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(0, 12).Draw(t, "n")
		elems := make([]string, n)
		for i := range elems {
			field := rapid.SampledFrom([]string{"type", "bizType", "itemType", "none"}).Draw(t, "field")
			typ := rapid.SampledFrom(types).Draw(t, "type")
			if field == "none" {
				elems[i] = `{"seq":` + itoa(i) + `}`
			} else {
				elems[i] = `{"seq":` + itoa(i) + `,"` + field + `":"` + typ + `"}`
			}
		}
		in := fastjson.MustParse("[" + strings.Join(elems, ",") + "]")
		arr, _ := in.Array()
		out := FilterAds(arr)

		last := -1
		for _, v := range out {
			seq := v.GetInt("seq")
			if seq <= last {
				t.Fatalf("survivors reordered: %d after %d", seq, last)
			}
			last = seq
		}
		kept := make(map[int]bool, len(out))
		for _, v := range out {
			kept[v.GetInt("seq")] = true
		}
		for i, e := range elems {
			if !strings.Contains(e, "Type") && !strings.Contains(e, `"type"`) && !kept[i] {
				t.Fatalf("dropped element without discriminator: %s", e)
			}
		}
	})
}

func itoa(i int) string {
	b, _ := json.Marshal(i)
	return string(b)
}
