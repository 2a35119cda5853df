package feed

import (
	"context"
	"fmt"
	"strings"

	"github.com/adshao/go-binance/v2"
	"github.com/shopspring/decimal"
)

// BinanceSource 以币安现货价作为指数价来源。
// 模拟经济里的 ticker 通过 symbolMap 映射到交易所符号（如 BTC -> BTCUSDT）。
type BinanceSource struct {
	client    *binance.Client
	symbolMap map[string]string // ticker -> exchange symbol
}

func NewBinanceSource(apiKey, secret string, symbolMap map[string]string) *BinanceSource {
	normalized := make(map[string]string, len(symbolMap))
	for t, sym := range symbolMap {
		normalized[strings.ToUpper(strings.TrimSpace(t))] = strings.ToUpper(strings.TrimSpace(sym))
	}
	return &BinanceSource{
		client:    binance.NewClient(apiKey, secret),
		symbolMap: normalized,
	}
}

func (s *BinanceSource) Prices(ctx context.Context, tickers []string) (map[string]decimal.Decimal, error) {
	prices, err := s.client.NewListPricesService().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("binance list prices: %w", err)
	}
	bySymbol := make(map[string]string, len(prices))
	for _, p := range prices {
		bySymbol[p.Symbol] = p.Price
	}

	out := make(map[string]decimal.Decimal, len(tickers))
	for _, t := range tickers {
		sym, ok := s.symbolMap[strings.ToUpper(t)]
		if !ok {
			continue
		}
		raw, ok := bySymbol[sym]
		if !ok {
			continue
		}
		d, err := decimal.NewFromString(raw)
		if err != nil || !d.IsPositive() {
			continue
		}
		out[t] = d
	}
	return out, nil
}
