// Package keygen produces distributed-unique keys for insert columns the client leaves out.
package keygen

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
)

var (
	ErrUnknownGenerator = errors.New("shardroute: unknown key generator")
	ErrInvalidProperty  = errors.New("shardroute: invalid key generator property")
)

// Generator must be safe for concurrent use and never return the same key twice.
type Generator interface {
	Generate() (any, error)
}

// Config is the key generator part of a table rule.
type Config struct {
	Column string            `json:"column" yaml:"column"`
	Type   string            `json:"type" yaml:"type"`
	Props  map[string]string `json:"props" yaml:"props"`
}

type Factory func(props map[string]string) (Generator, error)

// Registry maps generator type names to constructors. It is filled at startup and read afterwards.
type Registry struct {
	factories map[string]Factory
}

func NewRegistry() *Registry {
	r := &Registry{factories: map[string]Factory{}}
	r.Register("SNOWFLAKE", newSnowflake)
	r.Register("UUID", newUUID)
	r.Register("INCREMENT", newIncrement)
	return r
}

func (r *Registry) Register(name string, f Factory) {
	r.factories[strings.ToUpper(name)] = f
}

func (r *Registry) New(cfg Config) (Generator, error) {
	f, ok := r.factories[strings.ToUpper(cfg.Type)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownGenerator, cfg.Type)
	}
	return f(cfg.Props)
}

func intProp(props map[string]string, key string, def int64) (int64, error) {
	raw, ok := props[key]
	if !ok || raw == "" {
		return def, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrInvalidProperty, key, err)
	}
	return n, nil
}

// Snowflake generates time ordered int64 keys; the node serializes concurrent callers.
type Snowflake struct {
	node *snowflake.Node
}

func NewSnowflake(workerID int64) (*Snowflake, error) {
	node, err := snowflake.NewNode(workerID)
	if err != nil {
		return nil, fmt.Errorf("%w: worker-id: %v", ErrInvalidProperty, err)
	}
	return &Snowflake{node: node}, nil
}

func newSnowflake(props map[string]string) (Generator, error) {
	id, err := intProp(props, "worker-id", 0)
	if err != nil {
		return nil, err
	}
	return NewSnowflake(id)
}

func (s *Snowflake) Generate() (any, error) {
	return s.node.Generate().Int64(), nil
}

// UUID generates random 32 character hex keys.
type UUID struct{}

func newUUID(map[string]string) (Generator, error) {
	return UUID{}, nil
}

func (UUID) Generate() (any, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return nil, err
	}
	return strings.ReplaceAll(id.String(), "-", ""), nil
}

// Increment hands out consecutive int64 keys from an atomic counter.
type Increment struct {
	counter atomic.Int64
}

func NewIncrement(initial int64) *Increment {
	g := &Increment{}
	g.counter.Store(initial)
	return g
}

func newIncrement(props map[string]string) (Generator, error) {
	initial, err := intProp(props, "initial", 0)
	if err != nil {
		return nil, err
	}
	return NewIncrement(initial), nil
}

func (g *Increment) Generate() (any, error) {
	return g.counter.Add(1), nil
}

// GeneratedKey is the key column of one INSERT with one value per inserted row.
type GeneratedKey struct {
	Column string
	Values []any
	// Generated is false when the client supplied the values itself.
	Generated bool
}
