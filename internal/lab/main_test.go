package lab

import (
	"testing"

	"go.uber.org/goleak"
)

// Input loading fans out with errgroup; every loader must have returned by
// the time Run does.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}
