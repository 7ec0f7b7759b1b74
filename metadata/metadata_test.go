package metadata

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBinaryRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		doc  Metadata
	}{
		{name: "Empty", doc: Metadata{}},
		{name: "Nil", doc: nil},
		{
			name: "AllKinds",
			doc: Metadata{
				"null":  Null(),
				"bool":  Bool(true),
				"int":   Int(-42),
				"float": Float(3.5),
				"str":   String("héllo"),
				"arr":   Array(Int(1), String("x"), Array(Bool(false))),
			},
		},
		{
			name: "EmptyString",
			doc:  Metadata{"s": String("")},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := tt.doc.MarshalBinary()
			require.NoError(t, err)

			var back Metadata
			require.NoError(t, back.UnmarshalBinary(b))
			assert.True(t, tt.doc.Equal(back), "got %v", back)
		})
	}
}

func TestUnmarshalShortBuffer(t *testing.T) {
	doc := Metadata{"k": String("value")}
	b, err := doc.MarshalBinary()
	require.NoError(t, err)

	for cut := 1; cut < len(b); cut++ {
		var back Metadata
		assert.Error(t, back.UnmarshalBinary(b[:cut]), "cut=%d", cut)
	}
}

func TestClone(t *testing.T) {
	doc := Metadata{"a": Array(Int(1), Int(2))}
	c := doc.Clone()

	c["a"].A[0] = Int(99)
	assert.Equal(t, int64(1), doc["a"].A[0].I64)

	assert.Nil(t, CloneIfNeeded(nil))
	assert.Nil(t, CloneIfNeeded(Metadata{}))
}

func TestFilterMatches(t *testing.T) {
	doc := Metadata{
		"lang":  String("en"),
		"year":  Int(2021),
		"score": Float(0.5),
		"flag":  Bool(true),
	}

	tests := []struct {
		name   string
		filter Filter
		want   bool
	}{
		{name: "EqString", filter: Eq("lang", String("en")), want: true},
		{name: "EqStringMiss", filter: Eq("lang", String("fr")), want: false},
		{name: "EqBool", filter: Eq("flag", Bool(true)), want: true},
		{name: "Ne", filter: Ne("lang", String("fr")), want: true},
		{name: "MissingKeyEq", filter: Eq("absent", String("x")), want: false},
		{name: "MissingKeyNe", filter: Ne("absent", String("x")), want: false},
		{name: "Gt", filter: Gt("year", Int(2020)), want: true},
		{name: "GtEdge", filter: Gt("year", Int(2021)), want: false},
		{name: "Gte", filter: Gte("year", Int(2021)), want: true},
		{name: "Lt", filter: Lt("score", Float(0.6)), want: true},
		{name: "Lte", filter: Lte("score", Float(0.5)), want: true},
		{name: "IntFloatPromotion", filter: Eq("year", Float(2021)), want: true},
		{name: "GtOnString", filter: Gt("lang", Int(3)), want: false},
		{name: "In", filter: In("lang", String("de"), String("en")), want: true},
		{name: "InMiss", filter: In("lang", String("de"), String("fr")), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.filter.Matches(doc))
		})
	}
}

func TestFilterSet(t *testing.T) {
	doc := Metadata{"lang": String("en"), "year": Int(2021)}

	t.Run("Conjunction", func(t *testing.T) {
		fs := NewFilterSet(Eq("lang", String("en")), Gte("year", Int(2000)))
		assert.True(t, fs.Matches(doc))

		fs = NewFilterSet(Eq("lang", String("en")), Gte("year", Int(2022)))
		assert.False(t, fs.Matches(doc))
	})

	t.Run("NilMatchesAll", func(t *testing.T) {
		var fs *FilterSet
		assert.True(t, fs.Matches(doc))
	})
}

func TestFilterValidate(t *testing.T) {
	assert.NoError(t, Eq("k", String("v")).Validate())
	assert.NoError(t, Gt("k", Int(1)).Validate())
	assert.NoError(t, In("k", Int(1), Int(2)).Validate())

	assert.Error(t, Filter{Key: "", Operator: OpEqual}.Validate())
	assert.Error(t, Gt("k", String("x")).Validate())
	assert.Error(t, Filter{Key: "k", Operator: OpIn, Value: Int(1)}.Validate())
	assert.Error(t, Filter{Key: "k", Operator: "contains", Value: String("x")}.Validate())
}

func TestMetadataValidate(t *testing.T) {
	assert.NoError(t, Metadata{"k": Int(1)}.Validate())

	long := make([]byte, MaxKeyLen+1)
	for i := range long {
		long[i] = 'a'
	}
	assert.Error(t, Metadata{string(long): Int(1)}.Validate())

	big := Metadata{}
	for i := 0; i <= MaxKeys; i++ {
		big[string(rune('a'+i%26))+string(rune('0'+i/26))] = Int(int64(i))
	}
	assert.Error(t, big.Validate())
}
