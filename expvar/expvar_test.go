package expvar_test

import (
	"testing"

	"github.com/epochflow/epochflow/expvar"
	"github.com/stretchr/testify/assert"
)

func TestMap_AddCreatesInt(t *testing.T) {
	m := new(expvar.Map).Init()
	m.Add("records", 2)
	m.Add("records", 3)
	assert.Equal(t, int64(5), m.IntValue("records"))
	assert.Equal(t, int64(0), m.IntValue("missing"))
}

func TestMap_StringIsSorted(t *testing.T) {
	m := new(expvar.Map).Init()
	b := new(expvar.Int)
	b.Set(2)
	a := new(expvar.String)
	a.Set("x")
	m.Set("b", b)
	m.Set("a", a)
	assert.Equal(t, `{"a": "x", "b": 2}`, m.String())
}

func TestIntFuncGauge(t *testing.T) {
	n := int64(0)
	g := expvar.NewIntFuncGauge(func() int64 { return n })
	n = 7
	assert.Equal(t, int64(7), g.IntValue())

	var nilGauge *expvar.IntFuncGauge
	assert.Equal(t, int64(0), nilGauge.IntValue())
}
