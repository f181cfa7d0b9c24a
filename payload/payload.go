// Package payload provides the serialization boundary between message
// content and wire bytes.
//
// Parsers are registered by format name in a Registry. Transfer handlers
// that cross a process boundary look a parser up by name; the in-memory
// handler never serializes. Re-registering a name replaces the previous
// factory (last writer wins).
package payload

import (
	"sort"
	"sync"

	"github.com/vinayprograms/aclmts/errors"
)

// Parser converts content to bytes and back. The encoding argument names
// the character set of textual formats ("" means UTF-8).
type Parser interface {
	Dump(data any, encoding string) ([]byte, error)
	Load(data []byte, encoding string) (any, error)
}

// Factory creates a parser instance.
type Factory func() Parser

// Built-in format names.
const (
	FormatJSON     = "json"
	FormatYAML     = "yaml"
	FormatTOML     = "toml"
	FormatProtobuf = "protobuf"
)

// Registry maps format names to parser factories. Safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// NewDefaultRegistry creates a registry holding the built-in parsers.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(FormatJSON, func() Parser { return JSONParser{} })
	r.Register(FormatYAML, func() Parser { return YAMLParser{} })
	r.Register(FormatTOML, func() Parser { return TOMLParser{} })
	r.Register(FormatProtobuf, func() Parser { return ProtobufParser{} })
	return r
}

// Register associates name with a parser factory, replacing any previous one.
func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

// Lookup returns a new parser for name, or an UNKNOWN_PARSER error.
func (r *Registry) Lookup(name string) (Parser, error) {
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()

	if !ok {
		return nil, errors.UnknownParser(name)
	}
	return f(), nil
}

// Names returns the registered format names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

var defaultRegistry = NewDefaultRegistry()

// Default returns the process-wide registry.
func Default() *Registry {
	return defaultRegistry
}

// Register adds a factory to the process-wide registry.
func Register(name string, f Factory) {
	defaultRegistry.Register(name, f)
}

// Lookup finds a parser in the process-wide registry.
func Lookup(name string) (Parser, error) {
	return defaultRegistry.Lookup(name)
}
