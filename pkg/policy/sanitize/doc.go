// Package sanitize rewrites decoded JSON documents in place: a depth-first
// walker, a key-driven field sanitizer, and an ad-list filter.
//
// Documents are backed by fastjson so object key order and the raw bytes of
// untouched values survive a decode/mutate/encode round trip. A Document is
// owned by a single exchange and must not be shared between goroutines.
package sanitize
