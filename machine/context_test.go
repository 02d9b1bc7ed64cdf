package machine_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tailored-agentic-units/labkernel/machine"
)

func TestContext_Lookup(t *testing.T) {
	deep := machine.NewContext(map[stateID]stateID{yS: doneS}, "deep")
	first := machine.NewContext(map[stateID]stateID{xS: waitS}, "first", deep)
	second := machine.NewContext(map[stateID]stateID{xS: initS, stepS: doneS}, "second")
	top := machine.NewContext(map[stateID]stateID{initS: stepS}, "top", first, nil, second)

	tests := []struct {
		name   string
		from   stateID
		want   stateID
		wantOK bool
	}{
		{name: "own override", from: initS, want: stepS, wantOK: true},
		{name: "first parent wins", from: xS, want: waitS, wantOK: true},
		{name: "grandparent before second parent", from: yS, want: doneS, wantOK: true},
		{name: "second parent", from: stepS, want: doneS, wantOK: true},
		{name: "missing", from: waitS, wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := top.Lookup(tt.from)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.want, got)
			}
		})
	}

	assert.Len(t, top.Parents(), 2, "nil parents are dropped")
}

func TestContext_Immutable(t *testing.T) {
	table := map[stateID]stateID{stepS: waitS}
	ctx := machine.NewContext(table, "scan")

	table[stepS] = doneS
	got, _ := ctx.Lookup(stepS)
	assert.Equal(t, waitS, got)

	copied := ctx.Overrides()
	copied[stepS] = doneS
	got, _ = ctx.Lookup(stepS)
	assert.Equal(t, waitS, got)

	parents := ctx.Parents()
	assert.Empty(t, parents)
	assert.Equal(t, "scan", ctx.Description())
}

func TestContext_NilOverrides(t *testing.T) {
	ctx := machine.NewContext[stateID](nil, "")
	_, ok := ctx.Lookup(stepS)
	assert.False(t, ok)
	assert.NotNil(t, ctx.Overrides())
}
