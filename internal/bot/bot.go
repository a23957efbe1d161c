package bot

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"

	"severok-bot/internal/models"
	"severok-bot/internal/payment"
	"severok-bot/internal/settlement"
	"severok-bot/internal/store"
	"severok-bot/internal/subscription"

	"github.com/mymmrac/telego"
	th "github.com/mymmrac/telego/telegohandler"
	tu "github.com/mymmrac/telego/telegoutil"
)

type Bot struct {
	Instance      *telego.Bot
	Store         store.Store
	Engine        *subscription.Engine
	Coordinator   *settlement.Coordinator
	PaymentClient *payment.Client
	Username      string
}

func NewBot(token string, st store.Store, engine *subscription.Engine, coordinator *settlement.Coordinator, paymentClient *payment.Client) (*Bot, error) {
	tgBot, err := telego.NewBot(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}

	return &Bot{
		Instance:      tgBot,
		Store:         st,
		Engine:        engine,
		Coordinator:   coordinator,
		PaymentClient: paymentClient,
	}, nil
}

func (b *Bot) Start() {
	me, err := b.Instance.GetMe(context.Background())
	if err == nil {
		b.Username = me.Username
	}

	updates, _ := b.Instance.UpdatesViaLongPolling(context.Background(), nil)

	handler, _ := th.NewBotHandler(b.Instance, updates)

	// /start command, optionally with a referral deep link
	handler.Handle(func(ctx *th.Context, update telego.Update) error {
		message := update.Message
		telegramID := message.From.ID

		var referrerID int64
		if parts := strings.Split(message.Text, " "); len(parts) > 1 {
			arg := strings.TrimPrefix(parts[1], "ref_")
			if id, err := strconv.ParseInt(arg, 10, 64); err == nil {
				referrerID = id
			}
		}

		_, created, err := b.Store.GetOrCreateUser(ctx.Context(), telegramID, message.From.Username, referrerID)
		if err != nil {
			log.Printf("Failed to get/create user %d: %v", telegramID, err)
		}
		if created && referrerID != 0 {
			log.Printf("User %d invited by %d", telegramID, referrerID)
		}

		_, _ = ctx.Bot().SendMessage(ctx.Context(), tu.Message(
			tu.ID(message.Chat.ID),
			fmt.Sprintf("Привет, %s! 👋\n\nЯ помогу тебе подключить VPN.", message.From.FirstName),
		).WithReplyMarkup(b.mainKeyboard()))
		return nil
	}, th.CommandEqual("start"))

	// Profile: entitlement and remaining days
	handler.Handle(func(ctx *th.Context, update telego.Update) error {
		callback := update.CallbackQuery
		telegramID := callback.From.ID

		sub, err := b.subscriptionFor(ctx.Context(), telegramID)
		if err != nil {
			_, _ = ctx.Bot().SendMessage(ctx.Context(), tu.Message(tu.ID(telegramID), "❌ Профиль не найден. Нажмите /start."))
			_ = ctx.Bot().AnswerCallbackQuery(ctx.Context(), tu.CallbackQuery(callback.ID))
			return nil
		}

		var text string
		if sub.IsActive() {
			text = fmt.Sprintf("👤 Ваша подписка активна.\nОсталось дней: %d\nДействует до: %s\nВсего оплачено: %.2f₽",
				sub.DaysRemaining(), sub.EndDate.Format("02.01.2006 15:04"), sub.TotalPaid)
		} else {
			text = "👤 Подписка неактивна. Выберите тариф или активируйте пробный период."
		}

		_, _ = ctx.Bot().SendMessage(ctx.Context(), tu.Message(tu.ID(telegramID), text).WithReplyMarkup(b.mainKeyboard()))
		_ = ctx.Bot().AnswerCallbackQuery(ctx.Context(), tu.CallbackQuery(callback.ID))
		return nil
	}, th.CallbackDataEqual("profile"))

	// Trial activation; safe to tap twice
	handler.Handle(func(ctx *th.Context, update telego.Update) error {
		callback := update.CallbackQuery
		telegramID := callback.From.ID

		sub, err := b.subscriptionFor(ctx.Context(), telegramID)
		if err != nil {
			_, _ = ctx.Bot().SendMessage(ctx.Context(), tu.Message(tu.ID(telegramID), "❌ Профиль не найден. Нажмите /start."))
			_ = ctx.Bot().AnswerCallbackQuery(ctx.Context(), tu.CallbackQuery(callback.ID))
			return nil
		}

		entitled, err := b.Engine.ActivateTrial(ctx.Context(), sub.ID)
		if err != nil {
			log.Printf("Trial activation for user %d failed: %v", telegramID, err)
			_, _ = ctx.Bot().SendMessage(ctx.Context(), tu.Message(tu.ID(telegramID), "❌ Не получилось активировать пробный период, попробуйте позже."))
		} else if entitled {
			_, _ = ctx.Bot().SendMessage(ctx.Context(), tu.Message(tu.ID(telegramID), "🎁 Пробный период активен! Доступ появится в течение минуты."))
		} else {
			_, _ = ctx.Bot().SendMessage(ctx.Context(), tu.Message(tu.ID(telegramID), "Пробный период уже был использован. Выберите тариф."))
		}
		_ = ctx.Bot().AnswerCallbackQuery(ctx.Context(), tu.CallbackQuery(callback.ID))
		return nil
	}, th.CallbackDataEqual("trial"))

	// Tariff list
	handler.Handle(func(ctx *th.Context, update telego.Update) error {
		callback := update.CallbackQuery
		telegramID := callback.From.ID

		tariffs, err := b.Store.ActiveTariffs(ctx.Context())
		if err != nil || len(tariffs) == 0 {
			_, _ = ctx.Bot().SendMessage(ctx.Context(), tu.Message(tu.ID(telegramID), "😔 Сейчас нет доступных тарифов."))
			_ = ctx.Bot().AnswerCallbackQuery(ctx.Context(), tu.CallbackQuery(callback.ID))
			return nil
		}

		rows := make([][]telego.InlineKeyboardButton, 0, len(tariffs)+1)
		for _, t := range tariffs {
			label := fmt.Sprintf("%s — %d дней за %.0f₽", t.Name, t.DurationDays, t.Price)
			rows = append(rows, tu.InlineKeyboardRow(
				tu.InlineKeyboardButton(label).WithCallbackData(fmt.Sprintf("buy_%d", t.ID)),
			))
		}
		rows = append(rows, tu.InlineKeyboardRow(
			tu.InlineKeyboardButton("« Назад").WithCallbackData("profile"),
		))

		_, _ = ctx.Bot().SendMessage(ctx.Context(), tu.Message(
			tu.ID(telegramID),
			"📊 Выберите тариф:",
		).WithReplyMarkup(tu.InlineKeyboard(rows...)))
		_ = ctx.Bot().AnswerCallbackQuery(ctx.Context(), tu.CallbackQuery(callback.ID))
		return nil
	}, th.CallbackDataEqual("tariffs"))

	// Checkout for a chosen tariff
	handler.Handle(func(ctx *th.Context, update telego.Update) error {
		callback := update.CallbackQuery
		telegramID := callback.From.ID

		tariffID, err := strconv.ParseUint(strings.TrimPrefix(callback.Data, "buy_"), 10, 64)
		if err != nil {
			_ = ctx.Bot().AnswerCallbackQuery(ctx.Context(), tu.CallbackQuery(callback.ID))
			return nil
		}

		user, err := b.Store.UserByTelegramID(ctx.Context(), telegramID)
		if err != nil {
			_, _ = ctx.Bot().SendMessage(ctx.Context(), tu.Message(tu.ID(telegramID), "❌ Профиль не найден. Нажмите /start."))
			_ = ctx.Bot().AnswerCallbackQuery(ctx.Context(), tu.CallbackQuery(callback.ID))
			return nil
		}

		tariff, err := b.Store.TariffByID(ctx.Context(), uint(tariffID))
		if err != nil || !tariff.IsActive {
			_, _ = ctx.Bot().SendMessage(ctx.Context(), tu.Message(tu.ID(telegramID), "❌ Тариф недоступен."))
			_ = ctx.Bot().AnswerCallbackQuery(ctx.Context(), tu.CallbackQuery(callback.ID))
			return nil
		}

		checkoutURL, providerPaymentID, err := b.Coordinator.CreatePayment(ctx.Context(), user, tariff)
		if err != nil {
			log.Printf("Failed to create payment for user %d: %v", telegramID, err)
			_, _ = ctx.Bot().SendMessage(ctx.Context(), tu.Message(tu.ID(telegramID), "❌ Ошибка при создании платежа, попробуйте позже."))
			_ = ctx.Bot().AnswerCallbackQuery(ctx.Context(), tu.CallbackQuery(callback.ID))
			return nil
		}

		keyboard := tu.InlineKeyboard(
			tu.InlineKeyboardRow(
				tu.InlineKeyboardButton("🔄 Проверить оплату").WithCallbackData("check_" + providerPaymentID),
			),
		)
		_, _ = ctx.Bot().SendMessage(ctx.Context(), tu.Message(
			tu.ID(telegramID),
			fmt.Sprintf("💳 Оплата тарифа «%s» на %d дней:\n%s\n\nПосле оплаты нажмите «Проверить оплату».", tariff.Name, tariff.DurationDays, checkoutURL),
		).WithReplyMarkup(keyboard))
		_ = ctx.Bot().AnswerCallbackQuery(ctx.Context(), tu.CallbackQuery(callback.ID))
		return nil
	}, th.CallbackDataPrefix("buy_"))

	// Referral link
	handler.Handle(func(ctx *th.Context, update telego.Update) error {
		callback := update.CallbackQuery
		telegramID := callback.From.ID

		link := fmt.Sprintf("https://t.me/%s?start=ref_%d", b.Username, telegramID)
		_, _ = ctx.Bot().SendMessage(ctx.Context(), tu.Message(
			tu.ID(telegramID),
			fmt.Sprintf("🤝 Приглашайте друзей по ссылке и получайте бонусные дни за их покупки:\n%s", link),
		))
		_ = ctx.Bot().AnswerCallbackQuery(ctx.Context(), tu.CallbackQuery(callback.ID))
		return nil
	}, th.CallbackDataEqual("invite_friend"))

	b.registerCheckPayment(handler)

	handler.Start()
}

// registerCheckPayment polls the provider for a pending charge and feeds
// the result into the same settlement entry point the webhook uses.
func (b *Bot) registerCheckPayment(handler *th.BotHandler) {
	handler.Handle(func(ctx *th.Context, update telego.Update) error {
		callback := update.CallbackQuery
		telegramID := callback.From.ID
		providerPaymentID := strings.TrimPrefix(callback.Data, "check_")

		resp, err := b.PaymentClient.GetPayment(providerPaymentID)
		if err != nil {
			log.Printf("Failed to poll payment %s: %v", providerPaymentID, err)
			_, _ = ctx.Bot().SendMessage(ctx.Context(), tu.Message(tu.ID(telegramID), "⏳ Не удалось проверить оплату, попробуйте ещё раз."))
			_ = ctx.Bot().AnswerCallbackQuery(ctx.Context(), tu.CallbackQuery(callback.ID))
			return nil
		}

		if resp.Status != "succeeded" {
			_, _ = ctx.Bot().SendMessage(ctx.Context(), tu.Message(tu.ID(telegramID), "⏳ Платёж пока не подтверждён. Попробуйте чуть позже."))
			_ = ctx.Bot().AnswerCallbackQuery(ctx.Context(), tu.CallbackQuery(callback.ID))
			return nil
		}

		if _, err := b.Coordinator.Confirm(ctx.Context(), providerPaymentID); err != nil {
			log.Printf("Failed to settle polled payment %s: %v", providerPaymentID, err)
			_, _ = ctx.Bot().SendMessage(ctx.Context(), tu.Message(tu.ID(telegramID), "⏳ Платёж найден, но обработка ещё идёт. Попробуйте позже."))
		}
		_ = ctx.Bot().AnswerCallbackQuery(ctx.Context(), tu.CallbackQuery(callback.ID))
		return nil
	}, th.CallbackDataPrefix("check_"))
}

func (b *Bot) subscriptionFor(ctx context.Context, telegramID int64) (*models.Subscription, error) {
	user, err := b.Store.UserByTelegramID(ctx, telegramID)
	if err != nil {
		return nil, err
	}
	return b.Store.SubscriptionByUserID(ctx, user.ID)
}

func (b *Bot) mainKeyboard() *telego.InlineKeyboardMarkup {
	return tu.InlineKeyboard(
		tu.InlineKeyboardRow(
			tu.InlineKeyboardButton("👤 Личный кабинет").WithCallbackData("profile"),
			tu.InlineKeyboardButton("🎁 Пробный период").WithCallbackData("trial"),
		),
		tu.InlineKeyboardRow(
			tu.InlineKeyboardButton("🚀 Купить VPN").WithCallbackData("tariffs"),
		),
		tu.InlineKeyboardRow(
			tu.InlineKeyboardButton("🤝 Партнерская программа").WithCallbackData("invite_friend"),
		),
	)
}
