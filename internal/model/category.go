package model

import (
	"strings"
	"time"
)

// Category is one entry of the consulting taxonomy owned by the admin service.
type Category struct {
	ID        string    `json:"id" yaml:"id"`
	Name      string    `json:"name" yaml:"name"`
	CreatedAt time.Time `json:"created_at,omitempty" yaml:"created_at,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty" yaml:"updated_at,omitempty"`
}

// CategoryByID returns the category with the given id, if present.
func CategoryByID(categories []Category, id string) (Category, bool) {
	for _, c := range categories {
		if c.ID == id {
			return c, true
		}
	}
	return Category{}, false
}

// Big categories group the taxonomy for dashboard charts.
const (
	BigCategoryInquiry  = "조회/안내"
	BigCategoryRequest  = "신청/해제"
	BigCategoryProduct  = "상품"
	BigCategoryPayment  = "결제/한도"
	BigCategorySecurity = "보안"
	BigCategoryOther    = "기타"
)

// bigCategoryRules are checked in order; the first keyword found in the
// category name wins.
var bigCategoryRules = []struct {
	keywords []string
	group    string
}{
	{[]string{"안내", "조회"}, BigCategoryInquiry},
	{[]string{"신청", "해제"}, BigCategoryRequest},
	{[]string{"상품"}, BigCategoryProduct},
	{[]string{"결제", "한도"}, BigCategoryPayment},
	{[]string{"도난", "분실"}, BigCategorySecurity},
}

// BigCategory maps a consulting category name to its chart group.
func BigCategory(consultingCategory string) string {
	for _, rule := range bigCategoryRules {
		for _, kw := range rule.keywords {
			if strings.Contains(consultingCategory, kw) {
				return rule.group
			}
		}
	}
	return BigCategoryOther
}
