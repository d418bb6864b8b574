package query

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	qerrors "github.com/querywatch/querywatch/internal/errors"
)

// unserializableNode stands in for a custom AST node no serializer knows.
type unserializableNode struct{}

func (unserializableNode) Matches(TokenSets) bool { return false }
func (unserializableNode) String() string         { return "?" }

func sampleQuery() MonitorQuery {
	return MonitorQuery{
		ID: "q-1",
		Query: &Boolean{
			Must:    []Node{NewTerm("body", "alpha")},
			Should:  []Node{NewTerm("body", "beta"), NewTerm("title", "gamma")},
			MustNot: []Node{NewTerm("body", "delta")},
		},
		Metadata: map[string]string{"owner": "alerts", "priority": "high"},
	}
}

func TestSerializers_RoundTrip(t *testing.T) {
	for _, s := range []Serializer{MsgpackSerializer{}, JSONSerializer{}} {
		t.Run(s.Name(), func(t *testing.T) {
			original := sampleQuery()

			data, err := s.Encode(original)
			require.NoError(t, err)

			decoded, err := s.Decode(data)
			require.NoError(t, err)

			assert.Equal(t, original.ID, decoded.ID)
			assert.Equal(t, original.Metadata, decoded.Metadata)

			// Evaluation behavior survives the round trip.
			matching := TokenSets{"body": {"alpha": {}, "beta": {}}}
			rejected := TokenSets{"body": {"alpha": {}, "beta": {}, "delta": {}}}
			assert.True(t, decoded.Query.Matches(matching))
			assert.False(t, decoded.Query.Matches(rejected))
		})
	}
}

func TestSerializers_UnknownNodeFails(t *testing.T) {
	for _, s := range []Serializer{MsgpackSerializer{}, JSONSerializer{}} {
		t.Run(s.Name(), func(t *testing.T) {
			_, err := s.Encode(MonitorQuery{ID: "bad", Query: unserializableNode{}})

			require.Error(t, err)
			assert.True(t, errors.Is(err, qerrors.ErrSerialization))
		})
	}
}

func TestSerializers_GarbageFailsDecode(t *testing.T) {
	_, err := MsgpackSerializer{}.Decode([]byte("not msgpack"))
	assert.True(t, errors.Is(err, qerrors.ErrSerialization))

	_, err = JSONSerializer{}.Decode([]byte("{broken"))
	assert.True(t, errors.Is(err, qerrors.ErrSerialization))
}

func TestSerializerByName(t *testing.T) {
	s, err := SerializerByName("")
	require.NoError(t, err)
	assert.Equal(t, "msgpack", s.Name())

	s, err = SerializerByName("json")
	require.NoError(t, err)
	assert.Equal(t, "json", s.Name())

	_, err = SerializerByName("protobuf")
	assert.Error(t, err)
}
