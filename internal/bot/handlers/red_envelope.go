// Package handlers 红包处理器
package handlers

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	tele "gopkg.in/telebot.v3"

	"github.com/smysle/sakura-redenvelope-go/internal/bot/utils"
	"github.com/smysle/sakura-redenvelope-go/internal/feed"
	"github.com/smysle/sakura-redenvelope-go/internal/service"
	"github.com/smysle/sakura-redenvelope-go/pkg/currency"
	"github.com/smysle/sakura-redenvelope-go/pkg/logger"
)

const (
	requestTimeout = 10 * time.Second
	// 群内错误提示保留时间
	errorTTL = 10
)

// RedEnvelopeHandler 红包命令和按钮
type RedEnvelopeHandler struct {
	envelopes  *service.EnvelopeService
	claims     *service.ClaimProcessor
	currencies *currency.Registry
	timeZone   string
}

// NewRedEnvelopeHandler 创建红包处理器
func NewRedEnvelopeHandler(envelopes *service.EnvelopeService, claims *service.ClaimProcessor, currencies *currency.Registry, timeZone string) *RedEnvelopeHandler {
	return &RedEnvelopeHandler{envelopes: envelopes, claims: claims, currencies: currencies, timeZone: timeZone}
}

const redUsage = "🧧 <b>发红包</b>\n\n" +
	"<code>/red &lt;金额&gt; &lt;个数&gt; [random|equal] [祝福语]</code>\n\n" +
	"示例:\n" +
	"- <code>/red 100 10</code> 拼手气红包，100 元 10 个\n" +
	"- <code>/red 50 5 equal 恭喜发财</code> 普通红包，每人 10 元"

// redArgs /red 命令参数
type redArgs struct {
	Amount   decimal.Decimal
	Count    int
	Strategy string
	Message  string
}

var strategyAliases = map[string]string{
	"random": "random",
	"lucky":  "random",
	"拼手气":    "random",
	"equal":  "equal",
	"普通":     "equal",
	"均分":     "equal",
}

// parseRedArgs 解析 /red <金额> <个数> [类型] [祝福语]
func parseRedArgs(args []string) (*redArgs, error) {
	if len(args) < 2 {
		return nil, errors.New("参数不足")
	}

	amount, err := decimal.NewFromString(args[0])
	if err != nil || !amount.IsPositive() {
		return nil, errors.New("无效的金额")
	}

	count, err := strconv.Atoi(args[1])
	if err != nil || count <= 0 {
		return nil, errors.New("无效的个数")
	}

	out := &redArgs{Amount: amount, Count: count, Strategy: "random"}
	rest := args[2:]
	if len(rest) > 0 {
		if strategy, ok := strategyAliases[strings.ToLower(rest[0])]; ok {
			out.Strategy = strategy
			rest = rest[1:]
		}
	}
	out.Message = strings.Join(rest, " ")
	return out, nil
}

// HandleRed /red 发红包命令
func (h *RedEnvelopeHandler) HandleRed(c tele.Context) error {
	args, err := parseRedArgs(c.Args())
	if err != nil {
		if len(c.Args()) < 2 {
			return c.Send(redUsage, tele.ModeHTML)
		}
		return utils.ReplyAndDelete(c, "❌ "+err.Error(), errorTTL)
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	envelope, err := h.envelopes.CreateEnvelope(ctx, &service.CreateEnvelopeRequest{
		ConversationID: strconv.FormatInt(c.Chat().ID, 10),
		SenderID:       strconv.FormatInt(c.Sender().ID, 10),
		SenderName:     displayName(c.Sender()),
		TotalAmount:    args.Amount,
		RecipientCount: args.Count,
		Strategy:       args.Strategy,
		Message:        args.Message,
	})
	if err != nil {
		return utils.ReplyAndDelete(c, "❌ "+userMessage(err), errorTTL)
	}

	// 删除原命令消息
	if err := c.Delete(); err != nil {
		logger.Debug().Err(err).Msg("删除命令消息失败")
	}

	// 公告没有投递到本群时由 Bot 自己发出红包消息
	if !isTelegramRef(envelope.AnnouncementRef) {
		a := h.envelopes.Announcement(envelope)
		return c.Send(feed.RenderAnnouncement(a), feed.GrabMarkup(envelope.UUID), tele.ModeHTML)
	}
	return nil
}

// HandleGrab 抢红包按钮
func (h *RedEnvelopeHandler) HandleGrab(c tele.Context) error {
	id := c.Callback().Data

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	result, err := h.claims.Claim(ctx, &service.ClaimRequest{
		EnvelopeID: id,
		UserID:     strconv.FormatInt(c.Sender().ID, 10),
		UserName:   displayName(c.Sender()),
	})
	if err != nil {
		return c.Respond(&tele.CallbackResponse{
			Text:      "❌ " + userMessage(err),
			ShowAlert: true,
		})
	}

	code := result.Envelope.Currency
	alertText := fmt.Sprintf("🎉 恭喜！获得 %s %s", h.currencies.Format(code, result.Claim.Amount), code)
	if result.IsLucky {
		alertText += "\n👑 手气最佳！"
	}
	if err := c.Respond(&tele.CallbackResponse{Text: alertText, ShowAlert: true}); err != nil {
		logger.Debug().Err(err).Msg("回应回调失败")
	}

	// 抢完后换成领取详情并去掉按钮
	if result.IsFinished {
		details, err := h.envelopes.GetEnvelopeDetails(ctx, id, strconv.FormatInt(c.Sender().ID, 10))
		if err != nil {
			logger.Warn().Err(err).Str("uuid", id).Msg("获取红包详情失败")
			return nil
		}
		return c.Edit(renderFinished(h.currencies, details), tele.ModeHTML)
	}

	return c.Edit(renderProgress(h.currencies, result.Envelope, time.Now()), feed.GrabMarkup(id), tele.ModeHTML)
}

// HandleRedInfo /redinfo <红包ID> 查看红包详情
func (h *RedEnvelopeHandler) HandleRedInfo(c tele.Context) error {
	if len(c.Args()) < 1 {
		return c.Send("用法: <code>/redinfo &lt;红包ID&gt;</code>", tele.ModeHTML)
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	details, err := h.envelopes.GetEnvelopeDetails(ctx, c.Args()[0], strconv.FormatInt(c.Sender().ID, 10))
	if err != nil {
		return utils.ReplyAndDelete(c, "❌ "+userMessage(err), errorTTL)
	}
	return c.Send(renderDetails(h.currencies, details, h.timeZone), tele.ModeHTML)
}

// userMessage 业务错误直接展示，其他错误不暴露细节
func userMessage(err error) string {
	for _, known := range []error{
		service.ErrRedEnvelopeDisabled,
		service.ErrValidation,
		service.ErrForbidden,
		service.ErrNotFound,
		service.ErrAlreadyClaimedPool,
		service.ErrExpiredPool,
		service.ErrDuplicateClaim,
		service.ErrClaimContention,
	} {
		if errors.Is(err, known) {
			return err.Error()
		}
	}
	logger.Error().Err(err).Msg("红包请求处理失败")
	return "处理失败，请稍后重试"
}

// isTelegramRef 公告引用是否为 "<chatID>:<messageID>"
func isTelegramRef(ref string) bool {
	chat, msg, ok := strings.Cut(ref, ":")
	if !ok {
		return false
	}
	if _, err := strconv.ParseInt(chat, 10, 64); err != nil {
		return false
	}
	_, err := strconv.Atoi(msg)
	return err == nil
}

func displayName(u *tele.User) string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		name = u.Username
	}
	if name == "" {
		name = strconv.FormatInt(u.ID, 10)
	}
	return name
}
