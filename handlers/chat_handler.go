package handlers

import (
	"context"
	"errors"
	"log"
	"net/http"

	"github.com/PedroNhamirre/jusmoz/models"
	"github.com/PedroNhamirre/jusmoz/service"

	"github.com/gin-gonic/gin"
)

// Asker is the pipeline entry point the handler depends on.
type Asker interface {
	Ask(ctx context.Context, req service.AskRequest) (*service.AskResult, error)
}

// ChatHandler handles HTTP requests for the chat pipeline
type ChatHandler struct {
	chatService Asker
}

// NewChatHandler creates a new chat handler
func NewChatHandler(chatService Asker) *ChatHandler {
	return &ChatHandler{
		chatService: chatService,
	}
}

// ChatRequest represents the request body for asking a question
type ChatRequest struct {
	Question            string               `json:"question" binding:"required"`
	Limit               int                  `json:"limit"`
	ConversationHistory []models.ChatMessage `json:"conversation_history"`
}

// Chat handles POST /chat
func (h *ChatHandler) Chat(c *gin.Context) {
	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "INVALID_REQUEST",
				"message": err.Error(),
			},
		})
		return
	}

	serviceReq := service.AskRequest{
		Question: req.Question,
		Limit:    req.Limit,
		History:  req.ConversationHistory,
	}

	result, err := h.chatService.Ask(c.Request.Context(), serviceReq)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.Header("X-Cache", result.CacheStatus)
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    result.Answer,
	})
}

// writeError maps pipeline errors to HTTP status codes. Input problems are
// the client's fault (400), stage timeouts mean a dependency is unavailable
// (503), anything else is a server error.
func (h *ChatHandler) writeError(c *gin.Context, err error) {
	var rejected *service.InputRejectedError
	if errors.As(err, &rejected) {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "QUESTION_REJECTED",
				"message": rejected.Message(),
			},
		})
		return
	}

	switch {
	case errors.Is(err, service.ErrEmptyQuestion):
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "EMPTY_QUESTION",
				"message": "Question must not be empty",
			},
		})
	case errors.Is(err, service.ErrQuestionTooLong):
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "QUESTION_TOO_LONG",
				"message": "Question exceeds the maximum allowed length",
			},
		})
	case errors.Is(err, service.ErrRetrievalTimeout):
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "RETRIEVAL_TIMEOUT",
				"message": "Context retrieval timed out, please try again",
			},
		})
	case errors.Is(err, service.ErrGenerationTimeout):
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "GENERATION_TIMEOUT",
				"message": "Answer generation timed out, please try again",
			},
		})
	default:
		// Internal failures stay server-side: dependency errors can carry
		// connection strings or credentials.
		log.Printf("Chat request failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "CHAT_FAILED",
				"message": "An internal error occurred, please try again later",
			},
		})
	}
}
