package transaction

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCompileTextQueryWithoutFilter(t *testing.T) {
	c, err := NewQueryCompiler()
	require.NoError(t, err)

	q, err := c.CompileTextQuery("", nil, []string{"red", "panda"}, 10)
	require.NoError(t, err)
	require.Equal(t, []string{"red", "panda"}, q.Terms)
}

func TestCompileTextQueryFilterExcludes(t *testing.T) {
	c, err := NewQueryCompiler()
	require.NoError(t, err)

	q, err := c.CompileTextQuery(`args["category"] == "animals"`, map[string]interface{}{"category": "plants"}, []string{"red"}, 10)
	require.NoError(t, err)
	require.Nil(t, q.Terms)
}

func TestCompileTextQueryFilterIncludes(t *testing.T) {
	c, err := NewQueryCompiler()
	require.NoError(t, err)

	q, err := c.CompileTextQuery(`args["category"] == "animals"`, map[string]interface{}{"category": "animals"}, []string{"red"}, 10)
	require.NoError(t, err)
	require.Equal(t, []string{"red"}, q.Terms)
}

func TestCompileVectorQuery(t *testing.T) {
	c, err := NewQueryCompiler()
	require.NoError(t, err)
	q := c.CompileVectorQuery([]float32{1, 2, 3}, 5)
	require.Equal(t, 5, q.Limit)
}
