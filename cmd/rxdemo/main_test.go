package main

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommandRunsScenario(t *testing.T) {
	cmd := newRootCommand()
	assert.True(t, cmd.SilenceUsage)

	names := map[string]bool{}
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}
	for _, sc := range scenarios {
		assert.True(t, names[sc.name], sc.name)
	}
	assert.True(t, names["all"])

	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs([]string{"group"})
	require.NoError(t, cmd.ExecuteContext(context.Background()))
	assert.Contains(t, out.String(), "=== GroupBy and aggregation ===")
	assert.Contains(t, out.String(), "sum 1..100 = 5050")
	assert.Contains(t, out.String(), "s: stream single scheduler")
}
