// Package space models action spaces: the shape and kind information the
// policy composites need to slice, reshape and sample action tensors.
package space

import (
	"fmt"
	"strings"
)

// Kind is the action-space kind. It decides the policy's distribution:
// discrete spaces sample categorically, continuous spaces sample from a
// Normal.
type Kind int

const (
	Discrete Kind = iota
	Continuous
)

func (k Kind) String() string {
	switch k {
	case Discrete:
		return "discrete"
	case Continuous:
		return "continuous"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ParseKind maps a configuration string to a Kind.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "discrete", "int":
		return Discrete, nil
	case "continuous", "float":
		return Continuous, nil
	default:
		return 0, fmt.Errorf("space: unknown kind %q", s)
	}
}

// Space describes one action space. For discrete spaces the last axis of
// the shape is the category count; for continuous spaces the shape is the
// action vector layout.
type Space struct {
	kind  Kind
	shape []int
}

// New returns a space of the given kind. The shape must be non-empty with
// strictly positive dimensions.
func New(kind Kind, shape ...int) (Space, error) {
	if len(shape) == 0 {
		return Space{}, fmt.Errorf("space: empty shape")
	}
	for _, d := range shape {
		if d < 1 {
			return Space{}, fmt.Errorf("space: dimension %d in shape %v", d, shape)
		}
	}
	return Space{kind: kind, shape: append([]int(nil), shape...)}, nil
}

// NewDiscrete is shorthand for New(Discrete, shape...).
func NewDiscrete(shape ...int) (Space, error) { return New(Discrete, shape...) }

// NewContinuous is shorthand for New(Continuous, shape...).
func NewContinuous(shape ...int) (Space, error) { return New(Continuous, shape...) }

// Kind returns the space kind.
func (s Space) Kind() Kind { return s.kind }

// Shape returns a copy of the space shape.
func (s Space) Shape() []int { return append([]int(nil), s.shape...) }

// FlatDim returns the product of the shape dimensions: the width of a
// flattened logit row for discrete spaces, the action vector width for
// continuous ones.
func (s Space) FlatDim() int {
	n := 1
	for _, d := range s.shape {
		n *= d
	}
	return n
}

// Categories returns the size of the last axis, the per-decision choice
// count of a discrete space.
func (s Space) Categories() int {
	return s.shape[len(s.shape)-1]
}

// BatchShape prepends a batch dimension to the space shape.
func (s Space) BatchShape(batch int) []int {
	return append([]int{batch}, s.shape...)
}

func (s Space) String() string {
	return fmt.Sprintf("%s%v", s.kind, s.shape)
}
