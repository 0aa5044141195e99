package workflow

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// slaHintPattern 匹配类型字符串中的显式时限标注，如 "安全事故分析 (8h)"
var slaHintPattern = regexp.MustCompile(`\((\d+)\s*[hH]\)`)

// tierHours 按档位关键词确定的 SLA 时限（小时）
var tierHours = []struct {
	keyword string
	hours   int
}{
	{"emergency", 4},
	{"expedited", 8},
	{"standard", 24},
	{"extended", 72},
	{"comprehensive", 72},
}

// ResolveSLAHours 根据工作流类型解析 SLA 时限（小时）
// 优先级：显式 "(Nh)" 标注 > 档位关键词（大小写不敏感）> 配置的默认值
func ResolveSLAHours(workflowType string, defaultHours int) int {
	if m := slaHintPattern.FindStringSubmatch(workflowType); m != nil {
		if hours, err := strconv.Atoi(m[1]); err == nil && hours > 0 {
			return hours
		}
	}

	lowered := strings.ToLower(workflowType)
	for _, tier := range tierHours {
		if strings.Contains(lowered, tier.keyword) {
			return tier.hours
		}
	}

	if defaultHours > 0 {
		return defaultHours
	}
	return 24
}

// ComputeDueAt 计算截止时间，发起时调用一次
func ComputeDueAt(now time.Time, workflowType string, defaultHours int) time.Time {
	return now.Add(time.Duration(ResolveSLAHours(workflowType, defaultHours)) * time.Hour)
}
