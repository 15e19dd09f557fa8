package common

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVersion(t *testing.T) {
	assert.NotEmpty(t, Version())
	assert.False(t, strings.ContainsAny(Version(), " \n"), "version should be trimmed")
	assert.Equal(t, "PowerSim/"+Version(), ServerName())
}
