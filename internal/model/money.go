package model

import (
	"strings"

	"github.com/shopspring/decimal"
)

// ParseMoney разбирает сумму из API ("1 234,50", "12.3", ""). Некорректное значение - ноль.
func ParseMoney(v string) decimal.Decimal {
	v = strings.TrimSpace(v)
	if v == "" {
		return decimal.Zero
	}
	// разделители разрядов, в т.ч. неразрывный пробел
	v = strings.Join(strings.Fields(v), "")
	v = strings.Replace(v, ",", ".", 1)

	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// Percent возвращает part/whole*100 с округлением до копеек, ноль при whole == 0.
func Percent(part, whole decimal.Decimal) decimal.Decimal {
	if whole.IsZero() {
		return decimal.Zero
	}
	return part.Div(whole).Mul(decimal.NewFromInt(100)).Round(2)
}

// Ratio возвращает part/whole с округлением до копеек, ноль при whole == 0.
func Ratio(part, whole decimal.Decimal) decimal.Decimal {
	if whole.IsZero() {
		return decimal.Zero
	}
	return part.Div(whole).Round(2)
}

// Money - сумма в JSON ответах API: число, строка с точкой или запятой, null.
type Money struct {
	decimal.Decimal
}

func (m *Money) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "null" {
		m.Decimal = decimal.Zero
		return nil
	}
	m.Decimal = ParseMoney(s)
	return nil
}
