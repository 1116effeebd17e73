// Package graph linearizes workflow graphs and answers reachability questions over their
// connections.
package graph

import (
	"github.com/dukex/flowgraph/pkg/models"
)

// Order returns the node ids in execution order.
//
// Start nodes (no incoming connection) are walked depth first in input order, visiting each
// node before its successors. Successors are visited in connection order. Nodes never reached
// are appended in input order. When every node has an incoming connection the input order is
// returned unchanged. This is a best-effort linearization, not a topological sort.
func Order(nodes []*models.Node, connections []*models.Connection) []string {
	nodes = present(nodes)

	known := make(map[string]bool, len(nodes))
	for _, node := range nodes {
		known[node.ID] = true
	}

	edges := validConnections(known, connections)

	hasIncoming := make(map[string]bool, len(nodes))
	for _, conn := range edges {
		hasIncoming[conn.Target] = true
	}

	var starts []string

	for _, node := range nodes {
		if !hasIncoming[node.ID] {
			starts = append(starts, node.ID)
		}
	}

	order := make([]string, 0, len(nodes))

	if len(starts) == 0 {
		for _, node := range nodes {
			order = append(order, node.ID)
		}

		return order
	}

	successors := adjacency(edges)
	visited := make(map[string]bool, len(nodes))

	var visit func(id string)

	visit = func(id string) {
		if visited[id] {
			return
		}

		visited[id] = true
		order = append(order, id)

		for _, next := range successors[id] {
			visit(next)
		}
	}

	for _, id := range starts {
		visit(id)
	}

	for _, node := range nodes {
		if !visited[node.ID] {
			visited[node.ID] = true
			order = append(order, node.ID)
		}
	}

	return order
}

// Downstream returns every node reachable from nodeID by following connections from source
// to target, in discovery order. nodeID itself is never included, even inside a cycle.
func Downstream(nodeID string, connections []*models.Connection) []string {
	successors := adjacency(connections)
	seen := map[string]bool{nodeID: true}

	var result []string

	queue := []string{nodeID}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		for _, next := range successors[current] {
			if seen[next] {
				continue
			}

			seen[next] = true
			result = append(result, next)
			queue = append(queue, next)
		}
	}

	return result
}

// Predecessors returns the distinct source ids of connections targeting nodeID, in
// connection order.
func Predecessors(nodeID string, connections []*models.Connection) []string {
	var result []string

	seen := make(map[string]bool)

	for _, conn := range connections {
		if conn == nil || conn.Target != nodeID || seen[conn.Source] {
			continue
		}

		seen[conn.Source] = true
		result = append(result, conn.Source)
	}

	return result
}

// DetectCycle returns the ids forming one cycle among the known nodes, or nil when the graph
// is acyclic.
func DetectCycle(nodes []*models.Node, connections []*models.Connection) []string {
	nodes = present(nodes)

	known := make(map[string]bool, len(nodes))
	for _, node := range nodes {
		known[node.ID] = true
	}

	successors := adjacency(validConnections(known, connections))

	const (
		unvisited = iota
		onStack
		done
	)

	state := make(map[string]int, len(nodes))

	var (
		stack []string
		cycle []string
	)

	var walk func(id string) bool

	walk = func(id string) bool {
		state[id] = onStack
		stack = append(stack, id)

		for _, next := range successors[id] {
			switch state[next] {
			case onStack:
				for i, s := range stack {
					if s == next {
						cycle = append([]string{}, stack[i:]...)

						break
					}
				}

				return true
			case unvisited:
				if walk(next) {
					return true
				}
			}
		}

		stack = stack[:len(stack)-1]
		state[id] = done

		return false
	}

	for _, node := range nodes {
		if state[node.ID] == unvisited && walk(node.ID) {
			return cycle
		}
	}

	return nil
}

// present drops nil entries, which a "nodes": [null] document decodes to.
func present(nodes []*models.Node) []*models.Node {
	out := make([]*models.Node, 0, len(nodes))

	for _, node := range nodes {
		if node != nil {
			out = append(out, node)
		}
	}

	return out
}

func validConnections(known map[string]bool, connections []*models.Connection) []*models.Connection {
	valid := make([]*models.Connection, 0, len(connections))

	for _, conn := range connections {
		if conn != nil && known[conn.Source] && known[conn.Target] {
			valid = append(valid, conn)
		}
	}

	return valid
}

func adjacency(connections []*models.Connection) map[string][]string {
	successors := make(map[string][]string)

	for _, conn := range connections {
		if conn == nil {
			continue
		}

		successors[conn.Source] = append(successors[conn.Source], conn.Target)
	}

	return successors
}
