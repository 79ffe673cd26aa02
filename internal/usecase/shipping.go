package usecase

import (
	"strings"

	"github.com/shopspring/decimal"
)

// 配送料：大都市は安く、それ以外は一律
type ShippingFeePolicy struct {
	metroCities map[string]struct{}
	metroFee    decimal.Decimal
	defaultFee  decimal.Decimal
}

func NewShippingFeePolicy(metroCities []string, metroFee, defaultFee decimal.Decimal) ShippingFeePolicy {
	m := make(map[string]struct{}, len(metroCities))
	for _, c := range metroCities {
		if k := normalizeCity(c); k != "" {
			m[k] = struct{}{}
		}
	}
	return ShippingFeePolicy{metroCities: m, metroFee: metroFee, defaultFee: defaultFee}
}

func DefaultShippingFeePolicy() ShippingFeePolicy {
	return NewShippingFeePolicy(
		[]string{"Hanoi", "Ho Chi Minh"},
		decimal.NewFromInt(30000),
		decimal.NewFromInt(50000),
	)
}

func (p ShippingFeePolicy) Fee(city string) decimal.Decimal {
	if _, ok := p.metroCities[normalizeCity(city)]; ok {
		return p.metroFee
	}
	return p.defaultFee
}

func normalizeCity(c string) string {
	return strings.ToLower(strings.Join(strings.Fields(c), " "))
}
