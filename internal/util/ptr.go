package util

import "github.com/shopspring/decimal"

func StringPtr(v string) *string { return &v }

func IntPtr(v int) *int { return &v }

func DecimalPtr(v decimal.Decimal) *decimal.Decimal { return &v }

func DerefString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
