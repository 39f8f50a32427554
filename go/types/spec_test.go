package types

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/eocis-portal/data-manager/go/testutils/unittest"
)

func TestSpecDeepCopy(t *testing.T) {
	unittest.SmallTest(t)

	s := Spec{
		SpecKeyBundleID:  "ocean",
		SpecKeyVariables: []string{"sst:analysed_sst", "oc:chlor_a"},
		SpecKeyStartYear: 2018,
		"metadata": map[string]interface{}{
			"LEVEL": "L3C",
			"tags":  []interface{}{"a", "b"},
		},
	}
	cpy := s.DeepCopy()
	require.Equal(t, s, cpy)

	// Mutations of the copy must not leak back into the original.
	cpy[SpecKeyBundleID] = "land"
	cpy.GetSub("metadata")["LEVEL"] = "L4"
	cpy[SpecKeyVariables].([]string)[0] = "changed"
	require.Equal(t, "ocean", s.GetString(SpecKeyBundleID))
	require.Equal(t, "L3C", s.GetSub("metadata").GetString("LEVEL"))
	require.Equal(t, "sst:analysed_sst", s.GetStringList(SpecKeyVariables)[0])

	require.Nil(t, Spec(nil).DeepCopy())
}

func TestSpecGetString(t *testing.T) {
	unittest.SmallTest(t)

	s := Spec{
		"str":     "2018",
		"int":     2018,
		"float":   float64(2018),
		"frac":    0.05,
		"nothing": nil,
	}
	require.Equal(t, "2018", s.GetString("str"))
	require.Equal(t, "2018", s.GetString("int"))
	// JSON decoding yields float64 for whole numbers; they must not grow a
	// decimal point.
	require.Equal(t, "2018", s.GetString("float"))
	require.Equal(t, "0.05", s.GetString("frac"))
	require.Equal(t, "", s.GetString("nothing"))
	require.Equal(t, "", s.GetString("absent"))
}

func TestSpecGetInt(t *testing.T) {
	unittest.SmallTest(t)

	s := Spec{"year": "2018", "fyear": float64(2019), "bad": "twenty"}
	v, err := s.GetInt("year")
	require.NoError(t, err)
	require.Equal(t, 2018, v)
	v, err = s.GetInt("fyear")
	require.NoError(t, err)
	require.Equal(t, 2019, v)
	_, err = s.GetInt("bad")
	require.Error(t, err)
	_, err = s.GetInt("absent")
	require.Error(t, err)
}

func TestSpecGetStringList(t *testing.T) {
	unittest.SmallTest(t)

	s := Spec{
		"strs":  []string{"a", "b"},
		"ifc":   []interface{}{"a", "b"},
		"mixed": []interface{}{"a", 1},
	}
	require.Equal(t, []string{"a", "b"}, s.GetStringList("strs"))
	require.Equal(t, []string{"a", "b"}, s.GetStringList("ifc"))
	require.Equal(t, []string{"a", "1"}, s.GetStringList("mixed"))
	require.Nil(t, s.GetStringList("absent"))

	// The returned list is detached from the spec.
	l := s.GetStringList("strs")
	l[0] = "changed"
	require.Equal(t, "a", s.GetStringList("strs")[0])
}

func TestSpecGetSub(t *testing.T) {
	unittest.SmallTest(t)

	s := Spec{
		"m":   map[string]interface{}{"k": "v"},
		"sp":  Spec{"k": "v"},
		"str": "not a map",
	}
	require.Equal(t, "v", s.GetSub("m").GetString("k"))
	require.Equal(t, "v", s.GetSub("sp").GetString("k"))
	require.Nil(t, s.GetSub("str"))
	require.Nil(t, s.GetSub("absent"))
}

func TestSpecHas(t *testing.T) {
	unittest.SmallTest(t)

	s := Spec{"present": "x", "nilval": nil}
	require.True(t, s.Has("present"))
	require.False(t, s.Has("nilval"))
	require.False(t, s.Has("absent"))
}
