package handlers

import (
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/smysle/sakura-redenvelope-go/internal/database/models"
	"github.com/smysle/sakura-redenvelope-go/internal/feed"
	"github.com/smysle/sakura-redenvelope-go/internal/service"
	"github.com/smysle/sakura-redenvelope-go/pkg/currency"
	pkgutils "github.com/smysle/sakura-redenvelope-go/pkg/utils"
)

var statusLabels = map[models.Status]string{
	models.StatusActive:       "进行中",
	models.StatusFullyClaimed: "已抢完",
	models.StatusExpired:      "已过期",
}

// renderProgress 红包消息（还有剩余）
func renderProgress(currencies *currency.Registry, e *models.RedEnvelope, now time.Time) string {
	return fmt.Sprintf(
		"🧧 <b>%s 发了一个%s</b>\n\n"+
			"💰 <b>总金额</b>: %s %s\n"+
			"🎁 <b>红包个数</b>: %d 个\n"+
			"📦 <b>剩余</b>: %d 个\n"+
			"⏰ <b>剩余时间</b>: %s\n"+
			"💬 <b>%s</b>",
		html.EscapeString(e.SenderName), feed.StrategyLabel(string(e.Strategy)),
		currencies.Format(e.Currency, e.TotalAmount), e.Currency,
		e.RecipientCount,
		e.RemainingRecipients(),
		pkgutils.FormatDuration(e.ExpiresAt.Sub(now)),
		html.EscapeString(e.Message),
	)
}

// renderFinished 红包消息（已抢完）
func renderFinished(currencies *currency.Registry, d *service.EnvelopeDetails) string {
	e := d.Envelope
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf(
		"🧧 <b>%s 的红包已被抢完</b>\n\n"+
			"💰 总金额: %s %s | 🎁 %d 个\n"+
			"💬 %s\n\n"+
			"<b>领取详情:</b>\n",
		html.EscapeString(e.SenderName),
		currencies.Format(e.Currency, e.TotalAmount), e.Currency,
		e.RecipientCount,
		html.EscapeString(e.Message),
	))
	writeClaims(&sb, currencies, d)
	return sb.String()
}

// renderDetails /redinfo 详情
func renderDetails(currencies *currency.Registry, d *service.EnvelopeDetails, zone string) string {
	e := d.Envelope
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf(
		"🧧 <b>%s 的%s</b>\n\n"+
			"🆔 <code>%s</code>\n"+
			"📌 状态: %s\n"+
			"💰 总金额: %s %s | 剩余 %s %s\n"+
			"🎁 已领 %d / %d 个\n"+
			"⏰ 过期时间: %s\n",
		html.EscapeString(e.SenderName), feed.StrategyLabel(string(e.Strategy)),
		e.UUID,
		statusLabels[e.Status],
		currencies.Format(e.Currency, e.TotalAmount), e.Currency,
		currencies.Format(e.Currency, e.RemainingAmount), e.Currency,
		e.ClaimedCount, e.RecipientCount,
		pkgutils.FormatTimeIn(e.ExpiresAt, zone, "2006-01-02 15:04:05"),
	))
	if d.CallerClaimAmount != nil {
		sb.WriteString(fmt.Sprintf("🙋 你领到了 %s %s\n", currencies.Format(e.Currency, *d.CallerClaimAmount), e.Currency))
	}
	if len(d.Claims) > 0 {
		sb.WriteString("\n<b>领取详情:</b>\n")
		writeClaims(&sb, currencies, d)
	}
	return sb.String()
}

func writeClaims(sb *strings.Builder, currencies *currency.Registry, d *service.EnvelopeDetails) {
	code := d.Envelope.Currency
	for i, c := range d.Claims {
		luckyMark := ""
		if d.LuckyClaim != nil && d.LuckyClaim.UUID == c.UUID {
			luckyMark = " 👑"
		}
		sb.WriteString(fmt.Sprintf("%d. %s: %s %s%s\n",
			i+1, html.EscapeString(c.UserName), currencies.Format(code, c.Amount), code, luckyMark))
	}
}
