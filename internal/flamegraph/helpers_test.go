package flamegraph

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/flamegiraffe/internal/testutil"
)

func loadExample(t *testing.T) *Result {
	t.Helper()
	res, err := NewAggregator(nil, nil).AggregateString(testCtx(t), testutil.LoadFixtureString(t, "example.folded"))
	require.NoError(t, err)
	return res
}

// mustFind looks up a semicolon path below root and fails the test if absent.
func mustFind(t *testing.T, root *Node, stack string) *Node {
	t.Helper()
	n := root.FindStack(stack)
	require.NotNil(t, n, "node %q not found", stack)
	return n
}

// checkConservation asserts every node is at least as heavy as its children.
func checkConservation(t *testing.T, root *Node) {
	t.Helper()
	root.Walk(func(path []string, node *Node, _ int) bool {
		var sum int64
		for _, c := range node.Children {
			sum += c.Value
		}
		require.GreaterOrEqual(t, node.Value, sum, "node %v", path)
		return true
	})
}
