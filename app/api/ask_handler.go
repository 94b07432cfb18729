package api

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/valyala/fasthttp"

	"altavo/app/metrics"
	"altavo/rag"
	"altavo/store"
	"altavo/types"
)

const persistTimeout = 10 * time.Second

type AskHandler struct {
	gate     *rag.Gate
	streamer *rag.Streamer
	convs    store.ConversationStorer
	timeout  time.Duration
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

func NewAskHandler(gate *rag.Gate, streamer *rag.Streamer, convs store.ConversationStorer, timeout time.Duration, m *metrics.Metrics) *AskHandler {
	return &AskHandler{
		gate:     gate,
		streamer: streamer,
		convs:    convs,
		timeout:  timeout,
		metrics:  m,
		logger:   slog.Default().With("component", "ask"),
	}
}

// HandleAsk отвечает потоком SSE: mode, token..., done | error
func (h *AskHandler) HandleAsk(c *fiber.Ctx) error {
	userID, err := currentUser(c)
	if err != nil {
		return err
	}

	var params types.AskParams
	if c.BodyParser(&params) != nil {
		return ErrBadRequest()
	}
	// вопрос из одних пробелов считается пустым
	params.Question = strings.TrimSpace(params.Question)
	if errors := types.Validate(&params); len(errors) > 0 {
		return NewValidationError(errors)
	}

	if params.ConversationID != nil {
		if _, err := h.convs.GetConversation(c.UserContext(), userID, *params.ConversationID); err != nil {
			return err
		}
	}

	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if h.timeout > 0 {
		ctx, cancel = context.WithTimeout(context.Background(), h.timeout)
	} else {
		ctx, cancel = context.WithCancel(context.Background())
	}

	decision, err := h.gate.Decide(ctx, userID, params.Question)
	if err != nil {
		// Без контекста всё равно отвечаем
		h.logger.Warn("retrieval failed, answering without context", "user_id", userID, "err", err)
		decision = rag.FallbackDecision()
	}
	h.metrics.ObserveAnswer(decision.Mode)

	events := h.streamer.Stream(ctx, rag.Request{
		UserID:   userID,
		Question: params.Question,
		History:  params.History,
		Decision: decision,
	})

	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		defer cancel()

		for ev := range events {
			data, err := json.Marshal(ev)
			if err != nil {
				h.logger.Error("marshal event", "err", err)
				return
			}
			fmt.Fprintf(w, "data: %s\n\n", data)

			// Клиент отключился: отменяем генерацию
			if err := w.Flush(); err != nil {
				h.logger.Info("client disconnected", "user_id", userID, "err", err)
				return
			}

			if ev.Type == types.EventDone && params.ConversationID != nil {
				h.persist(userID, params, ev.FullResponse)
			}
		}
	}))

	return nil
}

func (h *AskHandler) persist(userID int64, params types.AskParams, answer string) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	err := h.convs.AddMessages(ctx, *params.ConversationID,
		types.Message{Sender: types.SenderUser, Content: params.Question},
		types.Message{Sender: types.SenderAI, Content: answer},
	)
	if err != nil {
		h.logger.Error("save conversation messages", "user_id", userID, "conversation_id", *params.ConversationID, "err", err)
	}
}
