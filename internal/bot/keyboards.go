package bot

import (
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/raine/telegram-recommender-bot/internal/llm"
)

func makeVisionKeyboard(current llm.VisionBackend) tgbotapi.InlineKeyboardMarkup {
	var rows [][]tgbotapi.InlineKeyboardButton
	for _, b := range llm.VisionBackends {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(buttonLabel(b.Label(), b == current), "vision:"+b.String()),
		))
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func makeTextKeyboard(current llm.TextBackend) tgbotapi.InlineKeyboardMarkup {
	var rows [][]tgbotapi.InlineKeyboardButton
	for _, b := range llm.TextBackends {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(buttonLabel(b.Label(), b == current), "text:"+b.String()),
		))
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func buttonLabel(label string, selected bool) string {
	if selected {
		return BtnSelected + label
	}
	return label
}
