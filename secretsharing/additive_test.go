package secretsharing

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.dedis.ch/kyber/v4"
	"go.dedis.ch/kyber/v4/group/edwards25519"
	"go.dedis.ch/kyber/v4/util/random"
)

// The sum of the k shares of a value is the value, for several group sizes
func TestSplitScalars_Reconstruct(t *testing.T) {
	g := edwards25519.NewBlakeSHA256Ed25519()

	for k := 2; k <= 7; k++ {
		values := make([]kyber.Scalar, 5)
		for i := range values {
			values[i] = g.Scalar().Pick(random.New())
		}
		values[0] = g.Scalar().Zero()

		shares := SplitScalars(g, values, k, random.New())
		require.Len(t, shares, k)

		for i, v := range values {
			column := make([]kyber.Scalar, k)
			for j := 0; j < k; j++ {
				column[j] = shares[j][i]
			}
			require.True(t, v.Equal(SumScalars(g, column...)), "k=%d value %d", k, i)
		}
	}
}

// Splitting must not modify the values
func TestSplitScalars_KeepsValues(t *testing.T) {
	g := edwards25519.NewBlakeSHA256Ed25519()
	v := g.Scalar().SetInt64(42)
	_ = SplitScalars(g, []kyber.Scalar{v}, 4, random.New())
	require.True(t, v.Equal(g.Scalar().SetInt64(42)))
}

// The XOR of the k shares of a byte string is the string
func TestSplitBytes_Reconstruct(t *testing.T) {
	value := []byte("the quick brown fox jumps over the lazy dog")
	for k := 2; k <= 6; k++ {
		shares := SplitBytes(value, k, random.New())
		require.Len(t, shares, k)

		acc := make([]byte, len(value))
		for _, s := range shares {
			XorBytes(acc, s)
		}
		require.Equal(t, value, acc)
	}
}
