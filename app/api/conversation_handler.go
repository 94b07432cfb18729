package api

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/gofiber/fiber/v2"

	"altavo/store"
	"altavo/types"
)

const (
	defaultTitle  = "New conversation"
	titleMaxRunes = 40
)

type ConversationHandler struct {
	store store.ConversationStorer
}

func NewConversationHandler(s store.ConversationStorer) *ConversationHandler {
	return &ConversationHandler{store: s}
}

func (h *ConversationHandler) HandleList(c *fiber.Ctx) error {
	userID, err := currentUser(c)
	if err != nil {
		return err
	}

	convs, err := h.store.ListConversations(c.UserContext(), userID)
	if err != nil {
		return err
	}
	if convs == nil {
		convs = []types.Conversation{}
	}
	return c.JSON(convs)
}

// HandleCreate создаёт диалог с первым сообщением пользователя и, если есть, ответом ассистента
func (h *ConversationHandler) HandleCreate(c *fiber.Ctx) error {
	userID, err := currentUser(c)
	if err != nil {
		return err
	}

	var params types.CreateConversationParams
	if c.BodyParser(&params) != nil {
		return ErrBadRequest()
	}
	if errors := types.Validate(&params); len(errors) > 0 {
		return NewValidationError(errors)
	}

	conv := &types.Conversation{
		UserID: userID,
		Title:  strings.TrimSpace(params.Title),
	}
	if conv.Title == "" {
		conv.Title = titleFromMessage(params.Message)
	}

	msgs := []types.Message{{Sender: types.SenderUser, Content: params.Message}}
	if params.AIResponse != "" {
		msgs = append(msgs, types.Message{Sender: types.SenderAI, Content: params.AIResponse})
	}

	if err := h.store.CreateConversation(c.UserContext(), conv, msgs...); err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(conv)
}

func (h *ConversationHandler) HandleGetMessages(c *fiber.Ctx) error {
	userID, err := currentUser(c)
	if err != nil {
		return err
	}
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}

	if _, err := h.store.GetConversation(c.UserContext(), userID, id); err != nil {
		return err
	}
	msgs, err := h.store.ListMessages(c.UserContext(), id)
	if err != nil {
		return err
	}
	if msgs == nil {
		msgs = []types.Message{}
	}
	return c.JSON(msgs)
}

func (h *ConversationHandler) HandleAddMessages(c *fiber.Ctx) error {
	userID, err := currentUser(c)
	if err != nil {
		return err
	}
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}

	var params types.AddMessagesParams
	if c.BodyParser(&params) != nil {
		return ErrBadRequest()
	}
	if errors := types.Validate(&params); len(errors) > 0 {
		return NewValidationError(errors)
	}

	if _, err := h.store.GetConversation(c.UserContext(), userID, id); err != nil {
		return err
	}
	err = h.store.AddMessages(c.UserContext(), id,
		types.Message{Sender: types.SenderUser, Content: params.UserMessage},
		types.Message{Sender: types.SenderAI, Content: params.AIResponse},
	)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"message": "messages added"})
}

func (h *ConversationHandler) HandleDelete(c *fiber.Ctx) error {
	userID, err := currentUser(c)
	if err != nil {
		return err
	}
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}

	if err := h.store.DeleteConversation(c.UserContext(), userID, id); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"message": "conversation deleted"})
}

func (h *ConversationHandler) HandleRename(c *fiber.Ctx) error {
	userID, err := currentUser(c)
	if err != nil {
		return err
	}
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}

	var params types.RenameParams
	if c.BodyParser(&params) != nil {
		return ErrBadRequest()
	}
	params.Title = strings.TrimSpace(params.Title)
	if errors := types.Validate(&params); len(errors) > 0 {
		return NewValidationError(errors)
	}

	conv, err := h.store.RenameConversation(c.UserContext(), userID, id, params.Title)
	if err != nil {
		return err
	}
	return c.JSON(conv)
}

func (h *ConversationHandler) HandleTogglePin(c *fiber.Ctx) error {
	userID, err := currentUser(c)
	if err != nil {
		return err
	}
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}

	conv, err := h.store.TogglePin(c.UserContext(), userID, id)
	if err != nil {
		return err
	}
	return c.JSON(conv)
}

// titleFromMessage первые 40 символов сообщения
func titleFromMessage(msg string) string {
	msg = strings.TrimSpace(msg)
	if msg == "" {
		return defaultTitle
	}
	if utf8.RuneCountInString(msg) <= titleMaxRunes {
		return msg
	}
	return fmt.Sprintf("%s...", string([]rune(msg)[:titleMaxRunes]))
}
