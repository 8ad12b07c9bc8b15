// internal/math/prorata.go
package math

// ShareOf returns floor(pool * shares / totalShares). Zero totalShares pays
// nothing.
func ShareOf(pool, shares, totalShares int64) (int64, error) {
	if totalShares <= 0 || shares <= 0 || pool <= 0 {
		return 0, nil
	}
	return MulDivFloor(shares, pool, totalShares)
}
