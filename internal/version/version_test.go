package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestString(t *testing.T) {
	defer func(v, c, b string) { Version, GitCommit, BuildTime = v, c, b }(Version, GitCommit, BuildTime)
	Version, GitCommit, BuildTime = "1.4.0", "abc123", "2026-01-02T03:04:05Z"

	assert.Equal(t, "snapdiff 1.4.0 (commit abc123, built 2026-01-02T03:04:05Z)", String("snapdiff"))
}
