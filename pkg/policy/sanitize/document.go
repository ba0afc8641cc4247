package sanitize

import (
	"errors"
	"fmt"

	"github.com/valyala/fastjson"
)

var (
	parserPool fastjson.ParserPool
	arenaPool  fastjson.ArenaPool

	errEmptyBody = errors.New("sanitize: empty body")
)

// Document is a decoded JSON value plus the arena used to allocate
// replacement values.
type Document struct {
	root   *fastjson.Value
	parser *fastjson.Parser
	arena  *fastjson.Arena
}

// Decode parses body into a Document. The input slice is not retained.
func Decode(body []byte) (*Document, error) {
	if len(body) == 0 {
		return nil, errEmptyBody
	}
	p := parserPool.Get()
	root, err := p.ParseBytes(body)
	if err != nil {
		parserPool.Put(p)
		return nil, fmt.Errorf("sanitize: %w", err)
	}
	return &Document{root: root, parser: p, arena: arenaPool.Get()}, nil
}

// Root returns the document's top-level value.
func (d *Document) Root() *fastjson.Value {
	return d.root
}

// Arena returns the allocator for values inserted into this document.
func (d *Document) Arena() *fastjson.Arena {
	return d.arena
}

// Replace swaps the top-level value.
func (d *Document) Replace(v *fastjson.Value) {
	if v != nil {
		d.root = v
	}
}

// Encode serializes the document compactly and checks the output is valid JSON.
func (d *Document) Encode() ([]byte, error) {
	out := d.root.MarshalTo(nil)
	if err := fastjson.ValidateBytes(out); err != nil {
		return nil, fmt.Errorf("sanitize: encoded document invalid: %w", err)
	}
	return out, nil
}

// Release returns pooled buffers. The document and every value obtained
// from it must not be used afterwards.
func (d *Document) Release() {
	if d == nil || d.parser == nil {
		return
	}
	d.arena.Reset()
	arenaPool.Put(d.arena)
	parserPool.Put(d.parser)
	d.parser, d.arena, d.root = nil, nil, nil
}

// Lookup returns the value at path, nil when any segment is missing.
// An empty path yields the root.
func (d *Document) Lookup(path []string) *fastjson.Value {
	if len(path) == 0 {
		return d.root
	}
	return d.root.Get(path...)
}

// Set stores v at path, creating nothing: the parent container must exist.
// An empty path replaces the root.
func (d *Document) Set(path []string, v *fastjson.Value) bool {
	if len(path) == 0 {
		d.Replace(v)
		return true
	}
	parent := d.Lookup(path[:len(path)-1])
	if parent == nil {
		return false
	}
	if _, err := parent.Object(); err != nil {
		return false
	}
	parent.Set(path[len(path)-1], v)
	return true
}
