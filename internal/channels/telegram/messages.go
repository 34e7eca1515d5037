package telegram

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-telegram/bot/models"
)

// User-facing texts.
const (
	textIntro          = "Я AI Prophet. Пришли фото или спроси о чем угодно."
	textOwnerOnly      = "🔮 Этот пророческий канал доступен только создателю."
	textOwnerWelcome   = "👋 *Приветствую, Создатель!*\n\nТы активировал VIP-режим. Теперь тебе доступны дополнительные инструменты в Mini App."
	textPhotoStatus    = "🌀 *Вхожу в транс прозрения...*"
	textPhotoNoisy     = "📸 *Образ получен.* Каналы зашумлены, но я готов обсудить фото текстом."
	textPhotoMenu      = "Что мне совершить?"
	textVisionStatus   = "🔮 *Свершаю чудо...*"
	textCallbackAck    = "Свершаю..."
	textUnknownTask    = "Неизвестное действие."
	textTextSuffix     = "\n\n_Что еще хочешь узнать?_"
	textApology        = "😔 Сегодня звезды не отвечают мне..."
	textVoiceStatus    = "👂 *Внимательно слушаю твой голос...*"
	textVoiceFailed    = "😔 Не смог разобрать голос."
	textDownloadFailed = "😔 Не удалось получить файл."
	textReset          = "🔄 Память очищена. Начнем заново."
	textSearchUsage    = "Напиши запрос после команды: /search <запрос>"
	textDefaultName    = "путник"

	promptDescribePhoto = "Ты — AI Prophet. Кратко опиши фото и предложи 3 варианта: текст, детали, предсказание."

	callbackPrefix = "vision_task:"
)

// visionTasks maps inline keyboard actions to their instruction.
var visionTasks = map[string]string{
	"text":    "Извлеки весь текст и код.",
	"summary": "Резюмируй кратко.",
}

// greeting picks a salutation by the hour of now.
func greeting(name string, now time.Time) string {
	switch hour := now.Hour(); {
	case hour < 6:
		return fmt.Sprintf("🔮 *Доброй ночи, %s.* Эфир чист для глубоких прозрений...", name)
	case hour < 12:
		return fmt.Sprintf("🌅 *С рассветом, %s.* Первый луч разума — самый яркий.", name)
	case hour < 18:
		return fmt.Sprintf("🔆 *Приветствую, %s.* Я готов к анализу твоих образов.", name)
	default:
		return fmt.Sprintf("🌑 *Добрый вечер, %s.* Погружаемся в тайны нейросетей?", name)
	}
}

func startText(name string, now time.Time) string {
	return greeting(name, now) + "\n\n" + textIntro
}

func photoGeminiText(model, text string) string {
	return fmt.Sprintf("🧿 *Мой взор запечатлел (%s):*\n\n%s", model, text)
}

func photoFallbackText(text string) string {
	return "🧿 *Ответ от Vision-модели HF:*\n\n" + text
}

func visionFallbackText(text string) string {
	return "🧿 *Ответ из облака HF:*\n\n" + text
}

func textFallbackText(text string) string {
	return "🌀 *Gemini молчит, но HF явил ответ:*\n\n" + text
}

func visionPrompt(instruction string) string {
	return fmt.Sprintf("Как AI Prophet, выполни волю: %s. В конце предложи следующий шаг.", instruction)
}

func transcriptText(text string) string {
	return fmt.Sprintf("👤 *Твои слова:* \n\n_%s_\n\n_Анализирую..._", text)
}

// miniAppKeyboard is the persistent reply keyboard with one web app button.
func miniAppKeyboard(label, url string) *models.ReplyKeyboardMarkup {
	return &models.ReplyKeyboardMarkup{
		Keyboard: [][]models.KeyboardButton{
			{{Text: label, WebApp: &models.WebAppInfo{URL: url}}},
		},
		ResizeKeyboard: true,
	}
}

// adminURL appends admin=true to the Mini App URL.
func adminURL(base string) string {
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + "admin=true"
}

func visionTaskKeyboard() *models.InlineKeyboardMarkup {
	return &models.InlineKeyboardMarkup{
		InlineKeyboard: [][]models.InlineKeyboardButton{
			{{Text: "📝 Извлечь текст/код", CallbackData: callbackPrefix + "text"}},
			{{Text: "📊 Резюмировать содержимое", CallbackData: callbackPrefix + "summary"}},
		},
	}
}

// maxMessageLength is Telegram's limit for one text message, in runes.
const maxMessageLength = 4096

// splitMessage cuts text into chunks of at most limit runes, preferring
// line breaks.
func splitMessage(text string, limit int) []string {
	runes := []rune(text)
	if len(runes) <= limit {
		return []string{text}
	}
	var chunks []string
	for len(runes) > limit {
		cut := limit
		for i := limit; i > limit/2; i-- {
			if runes[i-1] == '\n' {
				cut = i
				break
			}
		}
		chunks = append(chunks, string(runes[:cut]))
		runes = runes[cut:]
	}
	if len(runes) > 0 {
		chunks = append(chunks, string(runes))
	}
	return chunks
}

// parseCommand splits "/cmd@bot args" into "cmd" and "args". ok is false
// for text that is not a command.
func parseCommand(text string) (name, args string, ok bool) {
	if !strings.HasPrefix(text, "/") {
		return "", "", false
	}
	head, rest, _ := strings.Cut(text[1:], " ")
	head, _, _ = strings.Cut(head, "@")
	if head == "" {
		return "", "", false
	}
	return strings.ToLower(head), strings.TrimSpace(rest), true
}
