package strings

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDedupeAndTrim(t *testing.T) {
	tests := []struct {
		name string
		in   []string
		want []string
	}{
		{name: "nil stays nil", in: nil, want: nil},
		{name: "trims and drops blanks", in: []string{" HOST-01 ", "", "   "}, want: []string{"HOST-01"}},
		{name: "keeps first occurrence order", in: []string{"b", "a", "b", "c", "a"}, want: []string{"b", "a", "c"}},
		{name: "case sensitive", in: []string{"Host", "host"}, want: []string{"Host", "host"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DedupeAndTrim(tt.in))
		})
	}
}

func TestDedupeAndTrimFold(t *testing.T) {
	got := DedupeAndTrimFold([]string{"A@X.com\n", "a@x.com", " b@x.com "})
	assert.Equal(t, []string{"A@X.com", "b@x.com"}, got)
}

func TestSplitList(t *testing.T) {
	assert.Nil(t, SplitList("  ", ","))
	assert.Equal(t, []string{"HOST-01", "HOST-02"}, SplitList("HOST-01, HOST-02,,HOST-01", ","))
}
