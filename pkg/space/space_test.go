package space

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParseKind(t *testing.T) {
	cases := []struct {
		in      string
		want    Kind
		wantErr bool
	}{
		{in: "discrete", want: Discrete},
		{in: "Int", want: Discrete},
		{in: " continuous ", want: Continuous},
		{in: "float", want: Continuous},
		{in: "fuzzy", wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseKind(tc.in)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error for %q", tc.in)
				}
				return
			}
			if err != nil {
				t.Fatalf("parse %q: %v", tc.in, err)
			}
			if got != tc.want {
				t.Errorf("expected %v, got %v", tc.want, got)
			}
		})
	}
}

func TestSpaceShape(t *testing.T) {
	s, err := NewDiscrete(2, 3)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if s.FlatDim() != 6 {
		t.Errorf("expected flat dim 6, got %d", s.FlatDim())
	}
	if s.Categories() != 3 {
		t.Errorf("expected 3 categories, got %d", s.Categories())
	}
	if diff := cmp.Diff([]int{8, 2, 3}, s.BatchShape(8)); diff != "" {
		t.Errorf("batch shape mismatch (-want +got):\n%s", diff)
	}

	if _, err := NewDiscrete(); err == nil {
		t.Error("expected error for empty shape")
	}
	if _, err := NewContinuous(0); err == nil {
		t.Error("expected error for zero dimension")
	}
}
