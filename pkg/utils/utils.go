// Package utils 工具函数
package utils

import (
	"strconv"
	"time"
)

// FormatDuration 格式化时长显示，不足一分钟按一分钟计
func FormatDuration(d time.Duration) string {
	if d <= 0 {
		return "0分钟"
	}
	minutesTotal := int64((d + time.Minute - 1) / time.Minute)

	days := int(minutesTotal / (24 * 60))
	hours := int(minutesTotal/60) % 24
	minutes := int(minutesTotal % 60)

	if days > 0 {
		return formatDays(days, hours, minutes)
	}
	if hours > 0 {
		return formatHoursMinutes(hours, minutes)
	}
	return formatMinutes(minutes)
}

func formatDays(d, h, m int) string {
	result := strconv.Itoa(d) + "天"
	if h > 0 {
		result += strconv.Itoa(h) + "小时"
	}
	if m > 0 {
		result += strconv.Itoa(m) + "分钟"
	}
	return result
}

func formatHoursMinutes(h, m int) string {
	if m > 0 {
		return strconv.Itoa(h) + "小时" + strconv.Itoa(m) + "分钟"
	}
	return strconv.Itoa(h) + "小时"
}

func formatMinutes(m int) string {
	return strconv.Itoa(m) + "分钟"
}

// FormatTimeIn 按时区格式化时间，时区无效时使用 UTC
func FormatTimeIn(t time.Time, zone, layout string) string {
	loc, err := time.LoadLocation(zone)
	if err != nil {
		loc = time.UTC
	}
	return t.In(loc).Format(layout)
}
