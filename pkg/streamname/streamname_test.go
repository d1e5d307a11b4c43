package streamname

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		table bool
	}{
		{"Icon", true},
		{"_StringPool", true},
		{"Property", true},
		{"Icon.ProductIcon.exe", false},
		{"Binary.odd", false},
		{"a", false},
		{"\x05SummaryInformation", false},
		{"with space", false},
		{"", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enc := Encode(tt.name, tt.table)
			got, table := Decode(enc)
			assert.Equal(t, tt.name, got)
			assert.Equal(t, tt.table, table)
		})
	}
}

func TestEncodePacksPairs(t *testing.T) {
	// "Ic" is one unit, the trailing odd "o" uses a single-code unit.
	enc := []rune(Encode("Ico", false))
	assert.Len(t, enc, 2)
	assert.Equal(t, rune(0x3800+toCode('I')+toCode('c')<<6), enc[0])
	assert.Equal(t, rune(0x4800+toCode('o')), enc[1])

	table := []rune(Encode("Ico", true))
	assert.Equal(t, rune(TablePrefix), table[0])
}

func TestNonIdentifierCharactersPassThrough(t *testing.T) {
	enc := []rune(Encode("a!b", false))
	assert.Equal(t, []rune{0x4800 + 36, '!', 0x4800 + 37}, enc)
}
