package cachestatus

import "testing"

func TestStatusStrings(t *testing.T) {
	tests := []struct {
		build func() Status
		want  string
	}{
		{func() Status {
			cs := Status{}
			cs.Hit()
			return cs
		}, "Shell-Cache; hit"},
		{func() Status {
			cs := Status{}
			cs.Forward(FwdMethod)
			return cs
		}, "Shell-Cache; fwd=method"},
		{func() Status {
			cs := Status{}
			cs.Forward(FwdMiss)
			cs.Stored()
			return cs
		}, "Shell-Cache; fwd=miss; stored"},
		{func() Status {
			cs := Status{}
			cs.Hit()
			cs.Detail("offline-fallback")
			return cs
		}, "Shell-Cache; hit; detail=offline-fallback"},
	}
	for _, tc := range tests {
		if got := tc.build().String(); got != tc.want {
			t.Fatalf("Got %q, want %q", got, tc.want)
		}
	}
}
