package secretsharing

import (
	"crypto/cipher"

	"go.dedis.ch/kyber/v4"
)

// SplitScalars splits every value into k additive shares modulo the group
// order. shares[j][i] is the share of values[i] addressed to member index j.
// Shares 0..k-2 are drawn from rand and share k-1 is the value minus their
// sum, so every column adds up to its value.
func SplitScalars(g kyber.Group, values []kyber.Scalar, k int, rand cipher.Stream) [][]kyber.Scalar {
	shares := make([][]kyber.Scalar, k)
	for j := range shares {
		shares[j] = make([]kyber.Scalar, len(values))
	}
	for i, v := range values {
		last := v.Clone()
		for j := 0; j < k-1; j++ {
			s := g.Scalar().Pick(rand)
			shares[j][i] = s
			last.Sub(last, s)
		}
		shares[k-1][i] = last
	}
	return shares
}

// SumScalars adds the shares of one value
func SumScalars(g kyber.Group, shares ...kyber.Scalar) kyber.Scalar {
	acc := g.Scalar().Zero()
	for _, s := range shares {
		acc.Add(acc, s)
	}
	return acc
}

// SplitBytes splits value into k shares whose XOR is the value
func SplitBytes(value []byte, k int, rand cipher.Stream) [][]byte {
	shares := make([][]byte, k)
	last := make([]byte, len(value))
	copy(last, value)
	for j := 0; j < k-1; j++ {
		s := make([]byte, len(value))
		rand.XORKeyStream(s, s)
		shares[j] = s
		XorBytes(last, s)
	}
	shares[k-1] = last
	return shares
}

// XorBytes sets dst to dst XOR src. Both must have the same length.
func XorBytes(dst, src []byte) {
	for i := range dst {
		dst[i] ^= src[i]
	}
}
