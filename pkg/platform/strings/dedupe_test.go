package strings

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDedupeAndTrim(t *testing.T) {
	tests := []struct {
		name  string
		input []string
		want  []string
	}{
		{
			name:  "trims and drops empties",
			input: []string{"  kafka-1:9092 ", "", "  ", "kafka-2:9092"},
			want:  []string{"kafka-1:9092", "kafka-2:9092"},
		},
		{
			name:  "removes duplicates preserving order",
			input: []string{"a", "b", "a", "c", "b"},
			want:  []string{"a", "b", "c"},
		},
		{
			name:  "duplicate after trimming collapses",
			input: []string{"host:9092", " host:9092"},
			want:  []string{"host:9092"},
		},
		{
			name:  "nil input stays nil",
			input: nil,
			want:  nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DedupeAndTrim(tt.input))
		})
	}
}
