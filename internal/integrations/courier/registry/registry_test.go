package registry

import (
	"testing"

	"github.com/BearBump/CourierSync/internal/integrations/courier"
	"github.com/BearBump/CourierSync/internal/integrations/courier/fake"
	"github.com/BearBump/CourierSync/internal/integrations/courier/httpadapter"
	"github.com/BearBump/CourierSync/internal/integrations/courier/leopards"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	r := New(&courier.Config{Couriers: []courier.AdapterConfig{
		{Code: "postex", Name: "PostEx", Kind: courier.KindHTTP, Enabled: true},
		{Code: "leopards", Name: "Leopards", Kind: courier.KindLeopards, Enabled: true},
		{Code: "fake", Kind: courier.KindFake, Enabled: true},
		{Code: "tcs", Name: "TCS Express", Kind: courier.KindHTTP},
	}})

	require.Equal(t, []string{"fake", "leopards", "postex"}, r.Codes())

	c, ok := r.Get(" PostEx ")
	require.True(t, ok)
	require.IsType(t, &httpadapter.Client{}, c)

	c, ok = r.Get("leopards")
	require.True(t, ok)
	require.IsType(t, &leopards.Client{}, c)

	_, ok = r.Get("tcs")
	require.False(t, ok)
	require.Contains(t, r.Names(), "tcs express")
	require.Contains(t, r.Names(), "tcs")

	r.Register(fake.New("trax"))
	_, ok = r.Get("TRAX")
	require.True(t, ok)
}

func TestNames_DisabledCodes(t *testing.T) {
	r := New(&courier.Config{Couriers: []courier.AdapterConfig{
		{Code: "leopards", Name: "Leopards", Kind: courier.KindLeopards, Enabled: true},
		{Code: "local", Kind: courier.KindFake},
		{Code: "mnp", Name: "M&P Couriers", Kind: courier.KindHTTP},
	}})

	require.Equal(t, []string{"leopards"}, r.Codes())
	require.Equal(t, []string{"leopards", "local", "m&p couriers", "mnp"}, r.Names())
}
