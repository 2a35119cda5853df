package config

import (
	"fmt"
	"strings"
)

// validate 对配置进行基础校验。
func validate(c *Config) error {
	if err := c.Fees.validate(); err != nil {
		return err
	}
	if err := c.Scheduler.validate(); err != nil {
		return err
	}
	if err := c.AI.validate(); err != nil {
		return err
	}
	if err := c.Feed.validate(); err != nil {
		return err
	}
	if err := c.Markets.validate(); err != nil {
		return err
	}
	return nil
}

func (f *FeesConfig) validate() error {
	if f.Rate < 0 || f.Rate >= 1 {
		return fmt.Errorf("fees.rate must be in [0, 1)")
	}
	if f.MinFee < 0 {
		return fmt.Errorf("fees.min_fee must be >= 0")
	}
	if f.ReferrerShare < 0 || f.ReferrerShare > 1 {
		return fmt.Errorf("fees.referrer_share must be in [0, 1]")
	}
	return nil
}

func (s *SchedulerConfig) validate() error {
	for _, item := range []struct {
		key string
		val string
	}{
		{"scheduler.tick_interval", s.TickInterval},
		{"scheduler.sync_interval", s.SyncInterval},
		{"scheduler.funding_interval", s.FundingInterval},
	} {
		if _, ok := parseInterval(item.val); !ok {
			return fmt.Errorf("%s: invalid interval %q", item.key, item.val)
		}
	}
	return nil
}

func (a *AIConfig) validate() error {
	enabled := 0
	for _, m := range a.Models {
		if !m.Enabled {
			continue
		}
		enabled++
		if strings.TrimSpace(m.Model) == "" {
			return fmt.Errorf("ai.models contains enabled entry without model (id=%s)", m.ID)
		}
		if strings.TrimSpace(m.APIURL) == "" {
			return fmt.Errorf("ai.models.%s missing api_url", m.ID)
		}
	}
	if enabled == 0 {
		return fmt.Errorf("ai.models requires at least one enabled model")
	}
	return nil
}

func (f *FeedConfig) validate() error {
	switch strings.ToLower(strings.TrimSpace(f.Source)) {
	case "random", "binance":
	default:
		return fmt.Errorf("feed.source must be \"random\" or \"binance\", got %q", f.Source)
	}
	if f.StepPct <= 0 || f.StepPct >= 1 {
		return fmt.Errorf("feed.step_pct must be in (0, 1)")
	}
	return nil
}

func (m *MarketsConfig) validate() error {
	if m.InitialBalance < 0 {
		return fmt.Errorf("markets.initial_balance must be >= 0")
	}
	seen := map[string]bool{}
	for _, p := range m.Perps {
		t := strings.ToUpper(strings.TrimSpace(p.Ticker))
		if t == "" {
			return fmt.Errorf("markets.perps contains entry without ticker")
		}
		if seen[t] {
			return fmt.Errorf("markets.perps contains duplicate ticker %s", t)
		}
		seen[t] = true
		if p.InitialPrice <= 0 {
			return fmt.Errorf("markets.perps.%s initial_price must be > 0", t)
		}
		if p.MaxLeverage < 1 {
			return fmt.Errorf("markets.perps.%s max_leverage must be >= 1", t)
		}
	}
	for _, p := range m.Predictions {
		if strings.TrimSpace(p.ID) == "" {
			return fmt.Errorf("markets.predictions contains entry without id")
		}
		if p.YesShares <= 0 || p.NoShares <= 0 {
			return fmt.Errorf("markets.predictions.%s reserves must be > 0", p.ID)
		}
	}
	return nil
}
