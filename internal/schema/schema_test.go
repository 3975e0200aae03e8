package schema

import (
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testTree() *cobra.Command {
	root := &cobra.Command{Use: "defiact"}
	root.PersistentFlags().Bool("json", false, "Output JSON")
	positions := &cobra.Command{Use: "positions", Short: "position lookups"}
	list := &cobra.Command{Use: "list", Short: "list positions", RunE: func(*cobra.Command, []string) error { return nil }}
	list.Flags().String("account", "", "Account address")
	list.Flags().String("protocol", "all", "Protocol tag")
	_ = list.MarkFlagRequired("account")
	hidden := &cobra.Command{Use: "debug", Hidden: true, Run: func(*cobra.Command, []string) {}}
	positions.AddCommand(list, hidden)
	root.AddCommand(positions)
	return root
}

func TestBuildSchemaLeaf(t *testing.T) {
	s, err := Build(testTree(), "positions list")
	require.NoError(t, err)
	assert.Equal(t, "defiact positions list", s.Path)
	assert.True(t, s.Runnable)
	require.Len(t, s.Flags, 2)

	byName := map[string]FlagSchema{}
	for _, f := range s.Flags {
		byName[f.Name] = f
	}
	assert.True(t, byName["account"].Required)
	assert.False(t, byName["protocol"].Required)
	assert.Equal(t, "all", byName["protocol"].Default)

	require.Len(t, s.Inherited, 1)
	assert.Equal(t, "json", s.Inherited[0].Name)
}

func TestBuildSchemaSkipsHidden(t *testing.T) {
	s, err := Build(testTree(), "positions")
	require.NoError(t, err)
	assert.False(t, s.Runnable)
	require.Len(t, s.Subcommands, 1)
	assert.Equal(t, "defiact positions list", s.Subcommands[0].Path)
}

func TestBuildSchemaUnknownPath(t *testing.T) {
	_, err := Build(testTree(), "positions nope")
	assert.ErrorContains(t, err, "command not found")
}
