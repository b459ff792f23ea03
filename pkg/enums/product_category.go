package enums

import "strings"

type ProductCategory string

const (
	ProductCategoryEbook    ProductCategory = "ebook"
	ProductCategoryCourse   ProductCategory = "course"
	ProductCategoryTemplate ProductCategory = "template"
	ProductCategorySoftware ProductCategory = "software"
	ProductCategoryOther    ProductCategory = "other"
)

var productCategories = []ProductCategory{
	ProductCategoryEbook,
	ProductCategoryCourse,
	ProductCategoryTemplate,
	ProductCategorySoftware,
	ProductCategoryOther,
}

func (c ProductCategory) IsValid() bool { return member(productCategories, c) }

// ParseProductCategory ignores case and surrounding space.
func ParseProductCategory(value string) (ProductCategory, error) {
	return parse("product category", productCategories, strings.ToLower(strings.TrimSpace(value)))
}
