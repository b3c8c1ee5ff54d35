package category

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolvePrecedence(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name                 string
		manual, ai, provider string
		want                 string
		source               Source
	}{
		{"manual wins", "Rent", "housing", "cgr: RENT_AND_UTILITIES", "Rent", SourceManual},
		{"ai when no manual", "", "groceries", "cgr: FOOD_AND_DRINK", "groceries", SourceAI},
		{"provider last", "", "", "cgr: FOOD_AND_DRINK", "cgr: FOOD_AND_DRINK", SourceProvider},
		{"whitespace is absent", "  ", "\t", "", Uncategorized, SourceNone},
		{"nothing set", "", "", "", Uncategorized, SourceNone},
		{"trimmed value", " coffee_shops ", "", "", "coffee_shops", SourceManual},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, src := ResolveSource(tc.manual, tc.ai, tc.provider)
			assert.Equal(t, tc.want, got)
			assert.Equal(t, tc.source, src)
			assert.Equal(t, tc.want, Resolve(tc.manual, tc.ai, tc.provider))
		})
	}
}

func TestProviderCategoryEncode(t *testing.T) {
	t.Parallel()

	p := ProviderCategory{
		Legacy:         "Food and Drink",
		LegacyDetailed: "Food and Drink > Restaurants > Coffee Shop",
		Primary:        "FOOD_AND_DRINK",
		Detailed:       "FOOD_AND_DRINK_COFFEE",
		Confidence:     "VERY_HIGH",
	}
	require.Equal(t,
		"leg_cgr: Food and Drink, leg_det: Food and Drink > Restaurants > Coffee Shop, cgr: FOOD_AND_DRINK, det: FOOD_AND_DRINK_COFFEE, cnf: VERY_HIGH",
		p.String())

	require.Equal(t, "cgr: TRANSFER_IN", ProviderCategory{Primary: "TRANSFER_IN"}.String())
	require.Equal(t, "", ProviderCategory{}.String())
	require.True(t, ProviderCategory{Legacy: "  "}.IsZero())

	back, err := ParseProviderCategory(p.String())
	require.NoError(t, err)
	require.Equal(t, p, back)
}

func TestParseProviderCategory(t *testing.T) {
	t.Parallel()

	got, err := ParseProviderCategory("leg_cgr: Shops, Digital Purchase, cgr: GENERAL_MERCHANDISE")
	require.NoError(t, err)
	assert.Equal(t, "Shops, Digital Purchase", got.Legacy)
	assert.Equal(t, "GENERAL_MERCHANDISE", got.Primary)

	got, err = ParseProviderCategory("")
	require.NoError(t, err)
	assert.True(t, got.IsZero())

	_, err = ParseProviderCategory("Food and Drink")
	require.ErrorIs(t, err, ErrMalformedCategory)

	_, err = ParseProviderCategory("cgr: A, cgr: B")
	require.ErrorIs(t, err, ErrMalformedCategory)
}

func TestProviderCategoryMatches(t *testing.T) {
	t.Parallel()

	p := ProviderCategory{Primary: "FOOD_AND_DRINK", Detailed: "FOOD_AND_DRINK_GROCERIES"}
	assert.True(t, p.Matches("groceries"))
	assert.True(t, p.Matches("food_and_drink"))
	assert.False(t, p.Matches("travel"))
	assert.False(t, p.Matches(""))
}

func TestVocabulary(t *testing.T) {
	t.Parallel()

	v := DefaultVocabulary()
	assert.True(t, v.Valid("groceries"))
	assert.True(t, v.Valid(" Coffee_Shops "))
	assert.False(t, v.Valid("groceries and more"))
	assert.Equal(t, "food", v.Group("restaurants_or_bars"))
	assert.Equal(t, "other", v.Group("not-a-label"))

	label, ok := v.Canonical("Rent")
	assert.True(t, ok)
	assert.Equal(t, "rent", label)

	labels := v.Labels()
	require.NotEmpty(t, labels)
	assert.IsIncreasing(t, labels)
	assert.Contains(t, v.Groups(), "transfers")
}
