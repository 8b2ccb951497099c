package canonical

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"sorted keys", `{"b":1,"a":{"d":true,"c":null}}`, `{"a":{"c":null,"d":true},"b":1}`},
		{"whitespace removed", "{ \"a\" : [ 1 , 2 ] }\n", `{"a":[1,2]}`},
		{"numbers", `[1.0, -0, 1e2, 0.000001, 1e-7, 123456789012345678901234, 3.14]`, `[1,0,100,0.000001,1e-7,1.2345678901234568e+23,3.14]`},
		{"escapes", `"tab\there \"quoted\" \u0001 é"`, `"tab\there \"quoted\" \u0001 é"`},
		{"html not escaped", `"<a>&"`, `"<a>&"`},
		{"utf16 key order", `{"😀":1,"ﬁ":2}`, `{"😀":1,"ﬁ":2}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Canonicalize([]byte(tt.in))
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(got))
		})
	}
}

func TestCanonicalizeRejects(t *testing.T) {
	for _, in := range []string{``, `{"a":`, `{} {}`, `[1] x`} {
		_, err := Canonicalize([]byte(in))
		assert.ErrorIs(t, err, ErrInvalidJSON, in)
	}
}

func TestMarshalIsStable(t *testing.T) {
	type inner struct {
		Zeta  string `json:"zeta"`
		Alpha int    `json:"alpha"`
	}
	v := map[string]any{"z": inner{Zeta: "last", Alpha: 1}, "a": []string{"x"}}

	first, err := Marshal(v)
	require.NoError(t, err)
	assert.Equal(t, `{"a":["x"],"z":{"alpha":1,"zeta":"last"}}`, string(first))

	again, err := Canonicalize(first)
	require.NoError(t, err)
	assert.Equal(t, first, again, "canonical output is a fixed point")
}
