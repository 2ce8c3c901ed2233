package main

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/bwmarrin/snowflake"
	hierarchydomain "github.com/smallbiznis/congregate/internal/hierarchy/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOrg(t *testing.T) {
	id, err := parseOrg("1234")
	require.NoError(t, err)
	assert.Equal(t, snowflake.ID(1234), id)

	_, err = parseOrg("0")
	assert.Error(t, err)
	_, err = parseOrg("acme")
	assert.Error(t, err)
}

func TestPrintTree(t *testing.T) {
	leader := snowflake.ID(9)
	tree := []hierarchydomain.TreeNode{{
		Group: hierarchydomain.Group{Name: "Adults", MemberCount: 0},
		Depth: 1,
		Children: []hierarchydomain.TreeNode{{
			Group: hierarchydomain.Group{Name: "Men's Fellowship", MemberCount: 3, LeaderMemberID: &leader},
			Depth: 2,
		}},
	}}

	var out bytes.Buffer
	printTree(&out, tree)
	assert.Equal(t, "Adults (0)\n  Men's Fellowship (3) leader=9\n", out.String())
}

func TestWriteJSONUsesCommandOutput(t *testing.T) {
	tree := []hierarchydomain.TreeNode{{
		Group: hierarchydomain.Group{ID: 5, Name: "Adults", MemberCount: 2},
		Depth: 1,
	}}

	cmd := newTreeCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	require.NoError(t, writeJSON(cmd.OutOrStdout(), tree))

	var decoded []struct {
		Group struct {
			Name        string `json:"name"`
			MemberCount int64  `json:"member_count"`
		} `json:"group"`
		Depth int `json:"depth"`
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &decoded))
	require.Len(t, decoded, 1)
	assert.Equal(t, "Adults", decoded[0].Group.Name)
	assert.Equal(t, int64(2), decoded[0].Group.MemberCount)
	assert.Equal(t, 1, decoded[0].Depth)
}

func TestRootRegistersCommands(t *testing.T) {
	names := map[string]bool{}
	for _, cmd := range newRootCmd().Commands() {
		names[cmd.Name()] = true
	}
	assert.True(t, names["migrate"])
	assert.True(t, names["reconcile"])
	assert.True(t, names["tree"])
}
