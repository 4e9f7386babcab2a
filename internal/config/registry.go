package config

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/elderme-design/elderme-server/pkg/provider/llm"
	"github.com/elderme-design/elderme-server/pkg/provider/stt"
	"github.com/elderme-design/elderme-server/pkg/provider/tts"
)

// ErrProviderNotRegistered is returned when no factory exists for a name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Factory builds a provider of type T from its config entry.
type Factory[T any] func(ProviderEntry) (T, error)

// factories is one kind's name-to-factory table.
type factories[T any] struct {
	kind string
	m    map[string]Factory[T]
}

func newFactories[T any](kind string) factories[T] {
	return factories[T]{kind: kind, m: make(map[string]Factory[T])}
}

func (f factories[T]) create(entry ProviderEntry) (T, error) {
	factory, ok := f.m[entry.Name]
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s/%q", ErrProviderNotRegistered, f.kind, entry.Name)
	}
	return factory(entry)
}

func (f factories[T]) names() []string {
	out := make([]string, 0, len(f.m))
	for name := range f.m {
		out = append(out, name)
	}
	slices.Sort(out)
	return out
}

// Registry maps provider names to factories for recognizers, completers and
// synthesizers. It is safe for concurrent use.
type Registry struct {
	mu  sync.RWMutex
	stt factories[stt.Recognizer]
	llm factories[llm.Completer]
	tts factories[tts.Synthesizer]
}

// NewRegistry returns an empty [Registry].
func NewRegistry() *Registry {
	return &Registry{
		stt: newFactories[stt.Recognizer]("stt"),
		llm: newFactories[llm.Completer]("llm"),
		tts: newFactories[tts.Synthesizer]("tts"),
	}
}

// RegisterRecognizer registers a speech recognizer factory. A later call
// with the same name replaces the earlier one.
func (r *Registry) RegisterRecognizer(name string, f Factory[stt.Recognizer]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stt.m[name] = f
}

// RegisterCompleter registers a chat completion factory.
func (r *Registry) RegisterCompleter(name string, f Factory[llm.Completer]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.llm.m[name] = f
}

// RegisterSynthesizer registers a speech synthesizer factory.
func (r *Registry) RegisterSynthesizer(name string, f Factory[tts.Synthesizer]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tts.m[name] = f
}

// CreateRecognizer builds the recognizer registered under entry.Name.
// It returns [ErrProviderNotRegistered] for unknown names.
func (r *Registry) CreateRecognizer(entry ProviderEntry) (stt.Recognizer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.stt.create(entry)
}

// CreateCompleter builds the completer registered under entry.Name.
func (r *Registry) CreateCompleter(entry ProviderEntry) (llm.Completer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.llm.create(entry)
}

// CreateSynthesizer builds the synthesizer registered under entry.Name.
func (r *Registry) CreateSynthesizer(entry ProviderEntry) (tts.Synthesizer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tts.create(entry)
}

// Names lists the registered names for kind ("stt", "llm" or "tts"),
// sorted.
func (r *Registry) Names(kind string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	switch kind {
	case "stt":
		return r.stt.names()
	case "llm":
		return r.llm.names()
	case "tts":
		return r.tts.names()
	}
	return nil
}
