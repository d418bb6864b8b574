package monitor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpdateBuffer_AddDrain(t *testing.T) {
	b := &updateBuffer{}

	assert.Equal(t, 1, b.add(operation{id: "a"}))
	assert.Equal(t, 3, b.add(operation{id: "b"}, operation{id: "c", remove: true}))
	assert.Equal(t, 3, b.size())

	ops := b.drain()
	require.Len(t, ops, 3)
	assert.Equal(t, "a", ops[0].id)
	assert.Equal(t, "c", ops[2].id)
	assert.True(t, ops[2].remove)
	assert.Zero(t, b.size())
	assert.Empty(t, b.drain())
}

func TestUpdateBuffer_RestoreKeepsIssueOrder(t *testing.T) {
	b := &updateBuffer{}
	b.add(operation{id: "a"}, operation{id: "b"})

	drained := b.drain()
	// Writes issued while the flush was in flight land behind the restored ops.
	b.add(operation{id: "c"})
	b.restore(drained)

	ops := b.drain()
	require.Len(t, ops, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{ops[0].id, ops[1].id, ops[2].id})
}

func TestUpdateBuffer_RestoreEmptyIsNoOp(t *testing.T) {
	b := &updateBuffer{}
	b.add(operation{id: "a"})
	b.restore(nil)
	assert.Equal(t, 1, b.size())
}
