package models

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestParseSide(t *testing.T) {
	assert.Equal(t, SideLong, ParseSide("LONG"))
	assert.Equal(t, SideLong, ParseSide(" buy "))
	assert.Equal(t, SideShort, ParseSide("short"))
	assert.Equal(t, SideShort, ParseSide("Sell"))
	assert.Equal(t, Side("hedge"), ParseSide("Hedge"))
}

func TestIsKnownSymbol(t *testing.T) {
	assert.True(t, IsKnownSymbol("BTC"))
	assert.True(t, IsKnownSymbol("doge"))
	assert.False(t, IsKnownSymbol("SHIB"))
}

func TestTrade_IsOpen(t *testing.T) {
	exit := time.Unix(1760000000, 0)

	open := Trade{ID: "t1"}
	assert.True(t, open.IsOpen())

	closedByTime := Trade{ID: "t2", ExitTime: &exit}
	assert.False(t, closedByTime.IsOpen())

	closedByPrice := Trade{ID: "t3", ExitPrice: decimal.NewNullDecimal(decimal.NewFromInt(100))}
	assert.False(t, closedByPrice.IsOpen())
}

func TestTrade_DisplayTime(t *testing.T) {
	entry := time.Unix(1760000000, 0)
	exit := time.Unix(1760003600, 0)

	assert.Equal(t, entry, Trade{EntryTime: entry, ExitTime: &exit}.DisplayTime())
	assert.Equal(t, exit, Trade{ExitTime: &exit}.DisplayTime())
	assert.True(t, Trade{}.DisplayTime().IsZero())
}
