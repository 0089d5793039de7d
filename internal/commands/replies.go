package commands

import (
	"context"
	"errors"
	"fmt"

	"remindbot/internal/reminder"
	"remindbot/internal/transport/telegram/router"
	"remindbot/pkg/tgui"

	kit "remindbot/internal/transport"
)

var htmlOpt = &kit.SendOptions{ParseMode: "HTML", DisablePreview: true}

const (
	msgUsage = "❌ Пожалуйста, укажите время и сообщение для напоминания.\n" +
		"Пример: <code>/set_reminder через 5 минут Закрыть задачу</code> или <code>/set_reminder в 18:30 Встреча с командой</code>"
	msgNoTimeMatch = "❌ Не удалось распознать формат времени. Попробуйте:\n" +
		"<code>/set_reminder через 5 минут Текст напоминания</code>\n" +
		"<code>/set_reminder в 18:30 Текст напоминания</code>"
	msgNoText       = "❌ Пожалуйста, укажите текст напоминания после времени."
	msgTimeInPast   = "❌ Указанное время уже прошло."
	msgSaveFailed   = "❌ Произошла ошибка при сохранении напоминания в базу данных."
	msgInvalid      = "❌ Не удалось создать напоминание для этого чата."
	msgCancelFailed = "❌ Произошла ошибка при отмене напоминаний."
)

func (rm *Reminders) HandleSetReminder(ctx context.Context, req *router.Request) error {
	r, err := rm.Create(ctx, CreateRequest{
		OwnerID:  req.FromID,
		ChatID:   req.Chat.ChatID,
		ThreadID: req.Chat.ThreadID,
		Args:     req.RawArgs,
	})
	if err != nil {
		reply, internal := setReminderFailure(err)
		if sendErr := req.Reply(ctx, reply, htmlOpt); sendErr != nil {
			return sendErr
		}
		if internal {
			return err
		}
		return nil
	}
	return req.Reply(ctx, rm.confirmation(r), htmlOpt)
}

// setReminderFailure maps a Create error to its reply. internal reports
// whether the error is worth surfacing in the request log.
func setReminderFailure(err error) (reply string, internal bool) {
	var ve *reminder.ValidationError
	switch {
	case errors.Is(err, ErrNoPhrase):
		return msgUsage, false
	case errors.Is(err, ErrNoTimeMatch):
		return msgNoTimeMatch, false
	case errors.Is(err, ErrNoText):
		return msgNoText, false
	case errors.Is(err, ErrTimeInPast):
		return msgTimeInPast, false
	case errors.As(err, &ve):
		return msgInvalid, true
	default:
		// *reminder.StorageError and anything unexpected.
		return msgSaveFailed, true
	}
}

func (rm *Reminders) confirmation(r reminder.Reminder) string {
	at := r.TargetTime.In(rm.loc).Format(TimeLayout)
	return "✅ Напоминание установлено на " + tgui.B(at).String() + ":\n" + tgui.I(r.Text).String()
}

func (rm *Reminders) HandleCancel(ctx context.Context, req *router.Request) error {
	n, err := rm.Cancel(ctx, req.FromID)
	if err != nil {
		if sendErr := req.Reply(ctx, msgCancelFailed, nil); sendErr != nil {
			return sendErr
		}
		return err
	}
	return req.Reply(ctx, fmt.Sprintf("✅ Отменено %d запланированных напоминаний.", n), nil)
}

func (rm *Reminders) HandleStart(ctx context.Context, req *router.Request) error {
	msg := tgui.New().
		Title("👋", "Привет! Я напомню о деле в нужное время.").
		Blank().
		Line("Создать напоминание:").
		H(tgui.Code("/set_reminder через 5 минут Закрыть задачу")).
		H(tgui.Code("/set_reminder в 18:30 Встреча с командой")).
		Blank().
		Line("Отменить все свои напоминания:").
		H(tgui.Code("/cancel_reminders")).
		Blank().
		H(tgui.JoinH(" ", tgui.Esc("Все команды:"), tgui.Code("/help"))).
		Build()
	_, err := msg.Send(ctx, req.Adapter, req.Chat)
	return err
}
