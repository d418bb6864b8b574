package query

import (
	"encoding/json"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	qerrors "github.com/querywatch/querywatch/internal/errors"
)

// Serializer converts a MonitorQuery to and from bytes for storage in the
// query index. Implementations must round-trip exactly: Decode(Encode(q))
// yields a query whose evaluation behavior is identical to q.
type Serializer interface {
	Encode(q MonitorQuery) ([]byte, error)
	Decode(data []byte) (MonitorQuery, error)
	Name() string
}

// Node kinds in the wire envelope.
const (
	kindTerm     = "term"
	kindBoolean  = "bool"
	kindMatchAll = "all"
)

// envelope is the serializable form of a query AST node. Interface types
// cannot be encoded directly, so the tree is flattened into tagged records.
type envelope struct {
	Kind    string     `json:"k" msgpack:"k"`
	Field   string     `json:"f,omitempty" msgpack:"f,omitempty"`
	Text    string     `json:"t,omitempty" msgpack:"t,omitempty"`
	Must    []envelope `json:"m,omitempty" msgpack:"m,omitempty"`
	Should  []envelope `json:"s,omitempty" msgpack:"s,omitempty"`
	MustNot []envelope `json:"n,omitempty" msgpack:"n,omitempty"`
}

// record is the top-level wire form of a MonitorQuery.
type record struct {
	ID       string            `json:"id" msgpack:"id"`
	Metadata map[string]string `json:"md,omitempty" msgpack:"md,omitempty"`
	Root     envelope          `json:"q" msgpack:"q"`
}

func toEnvelope(n Node) (envelope, error) {
	switch v := n.(type) {
	case Term:
		return envelope{Kind: kindTerm, Field: v.Field, Text: v.Text}, nil
	case *Boolean:
		env := envelope{Kind: kindBoolean}
		var err error
		if env.Must, err = toEnvelopes(v.Must); err != nil {
			return envelope{}, err
		}
		if env.Should, err = toEnvelopes(v.Should); err != nil {
			return envelope{}, err
		}
		if env.MustNot, err = toEnvelopes(v.MustNot); err != nil {
			return envelope{}, err
		}
		return env, nil
	case MatchAll:
		return envelope{Kind: kindMatchAll}, nil
	default:
		return envelope{}, fmt.Errorf("unserializable query node %T", n)
	}
}

func toEnvelopes(nodes []Node) ([]envelope, error) {
	if len(nodes) == 0 {
		return nil, nil
	}
	out := make([]envelope, 0, len(nodes))
	for _, n := range nodes {
		env, err := toEnvelope(n)
		if err != nil {
			return nil, err
		}
		out = append(out, env)
	}
	return out, nil
}

func fromEnvelope(env envelope) (Node, error) {
	switch env.Kind {
	case kindTerm:
		return Term{Field: env.Field, Text: env.Text}, nil
	case kindBoolean:
		b := &Boolean{}
		var err error
		if b.Must, err = fromEnvelopes(env.Must); err != nil {
			return nil, err
		}
		if b.Should, err = fromEnvelopes(env.Should); err != nil {
			return nil, err
		}
		if b.MustNot, err = fromEnvelopes(env.MustNot); err != nil {
			return nil, err
		}
		return b, nil
	case kindMatchAll:
		return MatchAll{}, nil
	default:
		return nil, fmt.Errorf("unknown query node kind %q", env.Kind)
	}
}

func fromEnvelopes(envs []envelope) ([]Node, error) {
	if len(envs) == 0 {
		return nil, nil
	}
	out := make([]Node, 0, len(envs))
	for _, env := range envs {
		n, err := fromEnvelope(env)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

func toRecord(q MonitorQuery) (record, error) {
	root, err := toEnvelope(q.Query)
	if err != nil {
		return record{}, err
	}
	return record{ID: q.ID, Metadata: q.Metadata, Root: root}, nil
}

func fromRecord(r record) (MonitorQuery, error) {
	root, err := fromEnvelope(r.Root)
	if err != nil {
		return MonitorQuery{}, err
	}
	return MonitorQuery{ID: r.ID, Query: root, Metadata: r.Metadata}, nil
}

// MsgpackSerializer encodes queries as msgpack. This is the default: compact
// and fast to decode on the match hot path.
type MsgpackSerializer struct{}

// Name implements Serializer.
func (MsgpackSerializer) Name() string { return "msgpack" }

// Encode implements Serializer.
func (MsgpackSerializer) Encode(q MonitorQuery) ([]byte, error) {
	r, err := toRecord(q)
	if err != nil {
		return nil, qerrors.New(qerrors.ErrCodeSerialization, err.Error(), err)
	}
	data, err := msgpack.Marshal(r)
	if err != nil {
		return nil, qerrors.New(qerrors.ErrCodeSerialization, "msgpack encode failed", err)
	}
	return data, nil
}

// Decode implements Serializer.
func (MsgpackSerializer) Decode(data []byte) (MonitorQuery, error) {
	var r record
	if err := msgpack.Unmarshal(data, &r); err != nil {
		return MonitorQuery{}, qerrors.New(qerrors.ErrCodeSerialization, "msgpack decode failed", err)
	}
	q, err := fromRecord(r)
	if err != nil {
		return MonitorQuery{}, qerrors.New(qerrors.ErrCodeSerialization, err.Error(), err)
	}
	return q, nil
}

// JSONSerializer encodes queries as JSON. Larger than msgpack but readable
// when inspecting a stored index by hand.
type JSONSerializer struct{}

// Name implements Serializer.
func (JSONSerializer) Name() string { return "json" }

// Encode implements Serializer.
func (JSONSerializer) Encode(q MonitorQuery) ([]byte, error) {
	r, err := toRecord(q)
	if err != nil {
		return nil, qerrors.New(qerrors.ErrCodeSerialization, err.Error(), err)
	}
	data, err := json.Marshal(r)
	if err != nil {
		return nil, qerrors.New(qerrors.ErrCodeSerialization, "json encode failed", err)
	}
	return data, nil
}

// Decode implements Serializer.
func (JSONSerializer) Decode(data []byte) (MonitorQuery, error) {
	var r record
	if err := json.Unmarshal(data, &r); err != nil {
		return MonitorQuery{}, qerrors.New(qerrors.ErrCodeSerialization, "json decode failed", err)
	}
	q, err := fromRecord(r)
	if err != nil {
		return MonitorQuery{}, qerrors.New(qerrors.ErrCodeSerialization, err.Error(), err)
	}
	return q, nil
}

// SerializerByName returns the serializer registered under name.
func SerializerByName(name string) (Serializer, error) {
	switch name {
	case "", "msgpack":
		return MsgpackSerializer{}, nil
	case "json":
		return JSONSerializer{}, nil
	default:
		return nil, fmt.Errorf("unknown serializer %q", name)
	}
}
