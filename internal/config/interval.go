package config

import (
	"strconv"
	"strings"
	"time"
)

// ParseIntervalDuration parses "10s", "15m", "8h", "1d" into time.Duration.
// Returns (0, false) on invalid input.
func ParseIntervalDuration(interval string) (time.Duration, bool) {
	interval = strings.ToLower(strings.TrimSpace(interval))
	if interval == "" {
		return 0, false
	}
	unit := interval[len(interval)-1]
	numStr := strings.TrimSpace(interval[:len(interval)-1])
	if numStr == "" {
		return 0, false
	}
	n, err := strconv.Atoi(numStr)
	if err != nil || n <= 0 {
		return 0, false
	}
	switch unit {
	case 's':
		return time.Duration(n) * time.Second, true
	case 'm':
		return time.Duration(n) * time.Minute, true
	case 'h':
		return time.Duration(n) * time.Hour, true
	case 'd':
		return time.Duration(n) * 24 * time.Hour, true
	default:
		return 0, false
	}
}

func parseInterval(s string) (time.Duration, bool) {
	return ParseIntervalDuration(s)
}

// TickDuration 返回解析后的调度区间；配置已通过校验，失败不应发生。
func (s SchedulerConfig) TickDuration() time.Duration    { return mustInterval(s.TickInterval) }
func (s SchedulerConfig) SyncDuration() time.Duration    { return mustInterval(s.SyncInterval) }
func (s SchedulerConfig) FundingDuration() time.Duration { return mustInterval(s.FundingInterval) }

func mustInterval(s string) time.Duration {
	d, _ := ParseIntervalDuration(s)
	return d
}
