package address

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	derrors "github.com/wehubfusion/Daedalus/pkg/errors"
)

func TestParseRef(t *testing.T) {
	tests := []struct {
		in      string
		want    Ref
		wantErr bool
	}{
		{in: "start", want: Ref{Label: "start", Index: NoIndex}},
		{in: "3", want: Ref{Index: 3}},
		{in: "end:2", want: Ref{Label: "end", Index: 2}},
		{in: "1:2", wantErr: true},
		{in: "end:x", wantErr: true},
		{in: "-1", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseRef(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, derrors.IsValidation(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.in, got.String())
		})
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		in      string
		parts   int
		wantErr bool
	}{
		{in: "start", parts: 1},
		{in: "g.end", parts: 2},
		{in: "job.g.end:2", parts: 3},
		{in: "job.g.1", parts: 3},
		{in: "a.b.c.d", wantErr: true},
		{in: "a..b", wantErr: true},
		{in: "a:1.b", wantErr: true},
		{in: "  ", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := Parse(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.parts, got.Len())
			assert.Equal(t, tt.in, got.String())
		})
	}
}

func TestNodeAddressFormatting(t *testing.T) {
	labelled := NodeAddress{Instance: "debug", Graph: "testing", Label: "hellonode", Index: 1}
	assert.Equal(t, "<debug.testing.hellonode:1>", labelled.String())
	assert.Equal(t, "<debug.testing>", labelled.GraphAddress().String())

	plain := NodeAddress{Instance: "debug", Graph: "start", Index: 1}
	assert.Equal(t, "<debug.start.1>", plain.String())
}

func TestNodeAddressMatches(t *testing.T) {
	n := NodeAddress{Instance: "j", Graph: "g", Label: "end", Index: 2}
	assert.True(t, n.Matches(MustParse("end").Ref()))
	assert.True(t, n.Matches(MustParse("g.2").Ref()))
	assert.True(t, n.Matches(MustParse("end:2").Ref()))
	assert.False(t, n.Matches(MustParse("end:1").Ref()))
	assert.False(t, n.Matches(MustParse("start").Ref()))
}
