package epochflow_test

import (
	"testing"

	"github.com/epochflow/epochflow"
	"github.com/google/go-cmp/cmp"
)

func TestTokenize(t *testing.T) {
	testCases := []struct {
		payload string
		exp     []string
	}{
		{payload: "", exp: []string{}},
		{payload: "   \t ", exp: []string{}},
		{payload: "The quick  brown\tfox", exp: []string{"the", "quick", "brown", "fox"}},
		{payload: "Hello, world!", exp: []string{"hello", "world"}},
		{payload: "wait... what?!", exp: []string{"wait", "what"}},
		{payload: "-- ok", exp: []string{"ok"}},
		{payload: "it's (fine)", exp: []string{"it's", "(fine"}},
		{payload: "ÉCOLE école", exp: []string{"école", "école"}},
	}
	for _, tc := range testCases {
		got := epochflow.Tokenize(tc.payload)
		if diff := cmp.Diff(tc.exp, got); diff != "" {
			t.Errorf("unexpected tokens for %q -want/+got:\n%s", tc.payload, diff)
		}
	}
}
