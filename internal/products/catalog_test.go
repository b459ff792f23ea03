package products

import (
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/creditshare-backend/pkg/enums"
)

func TestDefaultCatalogLoads(t *testing.T) {
	catalog, err := LoadCatalog(DefaultCatalog())
	require.NoError(t, err)
	require.NotEmpty(t, catalog)
	assert.Equal(t, "clean-code", catalog[0].Slug)
	assert.True(t, catalog[0].Price.Equal(decimal.RequireFromString("32.99")))
	assert.Equal(t, enums.ProductCategoryEbook, catalog[0].Category)
	require.NotNil(t, catalog[0].ImageURL)
}

func TestLoadCatalogValidation(t *testing.T) {
	cases := map[string]string{
		"empty":          "products: []\n",
		"missing title":  "products:\n  - price: \"1.00\"\n    category: ebook\n",
		"bad price":      "products:\n  - title: A\n    price: abc\n    category: ebook\n",
		"zero price":     "products:\n  - title: A\n    price: \"0\"\n    category: ebook\n",
		"fractional":     "products:\n  - title: A\n    price: \"1.999\"\n    category: ebook\n",
		"bad category":   "products:\n  - title: A\n    price: \"1.00\"\n    category: vinyl\n",
		"duplicate slug": "products:\n  - title: Same\n    price: \"1.00\"\n    category: ebook\n  - title: same\n    price: \"2.00\"\n    category: course\n",
		"not yaml":       "products: [",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := LoadCatalog(strings.NewReader(body))
			assert.Error(t, err)
		})
	}
}

func TestLoadCatalogExplicitSlugAndCategoryCase(t *testing.T) {
	body := "products:\n  - slug: Go In Action\n    title: Go\n    price: \"10\"\n    category: COURSE\n"
	catalog, err := LoadCatalog(strings.NewReader(body))
	require.NoError(t, err)
	require.Len(t, catalog, 1)
	assert.Equal(t, "go-in-action", catalog[0].Slug)
	assert.Equal(t, enums.ProductCategoryCourse, catalog[0].Category)
	assert.Nil(t, catalog[0].ImageURL)
}
