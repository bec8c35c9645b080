package tg

// Update is one item from getUpdates.
type Update struct {
	UpdateID      int64          `json:"update_id"`
	Message       *Message       `json:"message"`
	CallbackQuery *CallbackQuery `json:"callback_query"`
}

func (u *Update) kind() string {
	switch {
	case u.CallbackQuery != nil:
		return "callback_query"
	case u.Message != nil:
		return "message"
	default:
		return "other"
	}
}

// ChatID resolves the chat the update belongs to, or 0.
func (u *Update) ChatID() int64 {
	if u.Message != nil {
		return u.Message.Chat.ID
	}
	if u.CallbackQuery != nil && u.CallbackQuery.Message != nil {
		return u.CallbackQuery.Message.Chat.ID
	}
	return 0
}

// Message is a Telegram chat message.
type Message struct {
	MessageID      int64    `json:"message_id"`
	Chat           Chat     `json:"chat"`
	From           *User    `json:"from"`
	Text           string   `json:"text"`
	ReplyToMessage *Message `json:"reply_to_message"`
}

// Chat identifies a Telegram chat.
type Chat struct {
	ID   int64  `json:"id"`
	Type string `json:"type"`
}

// User is a Telegram user.
type User struct {
	ID        int64  `json:"id"`
	FirstName string `json:"first_name"`
	Username  string `json:"username"`
}

// CallbackQuery is an inline keyboard button press.
type CallbackQuery struct {
	ID      string   `json:"id"`
	From    User     `json:"from"`
	Message *Message `json:"message"`
	Data    string   `json:"data"`
}

// InlineKeyboardMarkup is an inline keyboard attached to a message.
type InlineKeyboardMarkup struct {
	InlineKeyboard [][]InlineKeyboardButton `json:"inline_keyboard"`
}

// InlineKeyboardButton is one button of an inline keyboard.
type InlineKeyboardButton struct {
	Text         string `json:"text"`
	CallbackData string `json:"callback_data,omitempty"`
}

// Keyboard accumulates buttons and lays them out in rows.
type Keyboard struct {
	buttons []InlineKeyboardButton
}

// Add appends a button.
func (k *Keyboard) Add(text, callbackData string) *Keyboard {
	k.buttons = append(k.buttons, InlineKeyboardButton{Text: text, CallbackData: callbackData})
	return k
}

// Build lays the accumulated buttons out with the given number of columns.
func (k *Keyboard) Build(columns int) *InlineKeyboardMarkup {
	if columns <= 0 {
		columns = 1
	}
	markup := &InlineKeyboardMarkup{}
	for i := 0; i < len(k.buttons); i += columns {
		end := i + columns
		if end > len(k.buttons) {
			end = len(k.buttons)
		}
		markup.InlineKeyboard = append(markup.InlineKeyboard, k.buttons[i:end])
	}
	return markup
}
