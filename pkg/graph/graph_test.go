package graph

import (
	"testing"

	"github.com/dukex/flowgraph/pkg/models"
	"github.com/stretchr/testify/assert"
)

func nodes(ids ...string) []*models.Node {
	result := make([]*models.Node, 0, len(ids))
	for _, id := range ids {
		result = append(result, &models.Node{ID: id, Type: "transform"})
	}

	return result
}

func edges(pairs ...string) []*models.Connection {
	result := make([]*models.Connection, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		result = append(result, &models.Connection{
			ID:     pairs[i] + "-" + pairs[i+1],
			Source: pairs[i],
			Target: pairs[i+1],
		})
	}

	return result
}

func TestOrder(t *testing.T) {
	tests := []struct {
		name        string
		nodes       []*models.Node
		connections []*models.Connection
		want        []string
	}{
		{
			name:  "no edges keeps input order",
			nodes: nodes("X", "Y", "Z"),
			want:  []string{"X", "Y", "Z"},
		},
		{
			name:        "linear chain declared out of order",
			nodes:       nodes("C", "B", "A"),
			connections: edges("A", "B", "B", "C"),
			want:        []string{"A", "B", "C"},
		},
		{
			name:        "pre-order depth first with connection order tie break",
			nodes:       nodes("A", "B", "C", "D"),
			connections: edges("A", "C", "A", "B", "C", "D"),
			want:        []string{"A", "C", "D", "B"},
		},
		{
			name:        "join placed at first reaching path",
			nodes:       nodes("A", "B", "J"),
			connections: edges("A", "J", "B", "J"),
			want:        []string{"A", "J", "B"},
		},
		{
			name:        "full cycle falls back to input order",
			nodes:       nodes("B", "A"),
			connections: edges("A", "B", "B", "A"),
			want:        []string{"B", "A"},
		},
		{
			name:        "cycle component unreachable from start is appended",
			nodes:       nodes("S", "P", "Q"),
			connections: edges("P", "Q", "Q", "P"),
			want:        []string{"S", "P", "Q"},
		},
		{
			name:        "connections to unknown nodes are ignored",
			nodes:       nodes("A", "B"),
			connections: edges("ghost", "A", "A", "B", "B", "ghost"),
			want:        []string{"A", "B"},
		},
		{
			name: "empty workflow",
			want: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Order(tt.nodes, tt.connections))
		})
	}
}

func TestOrder_EveryNodeExactlyOnce(t *testing.T) {
	ns := nodes("A", "B", "C", "D", "E", "F")
	cs := edges("A", "B", "B", "C", "A", "C", "D", "E", "E", "D", "C", "A")

	order := Order(ns, cs)

	assert.Len(t, order, len(ns))
	assert.ElementsMatch(t, []string{"A", "B", "C", "D", "E", "F"}, order)
}

func TestOrder_SolePredecessorComesFirst(t *testing.T) {
	ns := nodes("D", "C", "B", "A")
	cs := edges("A", "B", "B", "C", "C", "D")

	order := Order(ns, cs)
	position := make(map[string]int)

	for i, id := range order {
		position[id] = i
	}

	for _, conn := range cs {
		assert.Less(t, position[conn.Source], position[conn.Target])
	}
}

func TestDownstream(t *testing.T) {
	tests := []struct {
		name        string
		node        string
		connections []*models.Connection
		want        []string
	}{
		{"chain", "A", edges("A", "B", "B", "C"), []string{"B", "C"}},
		{"leaf", "C", edges("A", "B", "B", "C"), nil},
		{"diamond", "A", edges("A", "B", "A", "C", "B", "D", "C", "D"), []string{"B", "C", "D"}},
		{"cycle excludes self", "A", edges("A", "B", "B", "A"), []string{"B"}},
		{"self loop", "A", edges("A", "A"), nil},
		{"branch only", "B", edges("A", "B", "A", "C", "B", "D"), []string{"D"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Downstream(tt.node, tt.connections)
			assert.Equal(t, tt.want, got)
			assert.NotContains(t, got, tt.node)
		})
	}
}

func TestPredecessors(t *testing.T) {
	cs := edges("A", "C", "B", "C", "A", "C", "C", "D")

	assert.Equal(t, []string{"A", "B"}, Predecessors("C", cs))
	assert.Nil(t, Predecessors("A", cs))
}

func TestDetectCycle(t *testing.T) {
	assert.Nil(t, DetectCycle(nodes("A", "B", "C"), edges("A", "B", "B", "C")))
	assert.Equal(t, []string{"A", "B", "C"}, DetectCycle(nodes("A", "B", "C"), edges("A", "B", "B", "C", "C", "A")))
	assert.Equal(t, []string{"A"}, DetectCycle(nodes("A"), edges("A", "A")))
}

func TestNilNodesAreIgnored(t *testing.T) {
	withNil := []*models.Node{nil, {ID: "a"}, nil, {ID: "b"}}
	connections := edges("a", "b", "b", "a")

	assert.NotPanics(t, func() {
		assert.Equal(t, []string{"a", "b"}, Order(withNil, connections))
		assert.ElementsMatch(t, []string{"a", "b"}, DetectCycle(withNil, connections))
	})

	assert.Empty(t, Order([]*models.Node{nil}, nil))
	assert.Nil(t, DetectCycle([]*models.Node{nil}, nil))
}
