package wallet

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMissingProjectIDDisables(t *testing.T) {
	in := New(Config{}, zerolog.Nop())
	assert.False(t, in.Enabled())
	assert.Equal(t, DefaultChains(), in.Chains())

	def, ok := in.DefaultChain()
	require.True(t, ok)
	assert.Equal(t, Sepolia, def)
}

func TestConfiguredChains(t *testing.T) {
	in := New(Config{
		ProjectID: " abc ",
		Chains: []Chain{
			{Name: "mainnet", ID: 1, RPCURL: " https://rpc.example "},
			{Name: "broken"},
		},
	}, zerolog.Nop())

	assert.True(t, in.Enabled())
	assert.Equal(t, "abc", in.ProjectID())
	require.Len(t, in.Chains(), 1)
	assert.Equal(t, "https://rpc.example", in.Chains()[0].RPCURL)

	info := Describe(in)
	assert.True(t, info.Enabled)
	require.NotNil(t, info.DefaultChain)
	assert.EqualValues(t, 1, info.DefaultChain.ID)
}

func TestChainsReturnsCopy(t *testing.T) {
	in := New(Config{ProjectID: "x"}, zerolog.Nop())
	chains := in.Chains()
	chains[0].Name = "changed"
	assert.Equal(t, "sepolia", in.Chains()[0].Name)
}
