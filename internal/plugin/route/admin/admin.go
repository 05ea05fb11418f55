package admin

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/chirino/chat-encryption/internal/backfill"
	"github.com/chirino/chat-encryption/internal/model"
	registrystore "github.com/chirino/chat-encryption/internal/registry/store"
	"github.com/chirino/chat-encryption/internal/security"
	"github.com/gin-gonic/gin"
)

// Runner is the backfill surface the admin API drives.
type Runner interface {
	EncryptUserChats(ctx context.Context, userID string) (int, error)
	Inspect(ctx context.Context, userID string) (backfill.Report, error)
}

type chatRequest struct {
	Chat model.ChatContent `json:"chat"`
}

type encryptResponse struct {
	UserID    string `json:"userId"`
	Encrypted int    `json:"encrypted"`
}

type statusResponse struct {
	UserID string `json:"userId"`
	backfill.Report
}

// MountRoutes mounts admin API routes.
func MountRoutes(r *gin.Engine, store registrystore.ChatStore, runner Runner, auth gin.HandlerFunc) {
	g := r.Group(security.AdminPathPrefix, auth)
	inflight := &userLocks{}

	// Encryption backfill
	g.POST("/users/:userId/encrypt-chats", func(c *gin.Context) {
		adminEncryptChats(c, runner, inflight)
	})
	g.GET("/users/:userId/encryption-status", func(c *gin.Context) {
		adminEncryptionStatus(c, runner)
	})

	// Chats
	g.GET("/users/:userId/chats", func(c *gin.Context) {
		adminListChats(c, store)
	})
	g.POST("/users/:userId/chats", func(c *gin.Context) {
		adminCreateChat(c, store)
	})
	g.GET("/chats/:chatId", func(c *gin.Context) {
		adminGetChat(c, store)
	})
	g.PUT("/chats/:chatId", func(c *gin.Context) {
		adminUpdateChat(c, store)
	})
	g.PUT("/chats/:chatId/messages/:messageId", func(c *gin.Context) {
		adminUpsertMessage(c, store)
	})
	g.DELETE("/chats/:chatId", func(c *gin.Context) {
		adminDeleteChat(c, store)
	})
}

func adminEncryptChats(c *gin.Context, runner Runner, inflight *userLocks) {
	userID := c.Param("userId")
	if !inflight.acquire(userID) {
		c.JSON(http.StatusConflict, gin.H{"error": "encryption backfill already running for user"})
		return
	}
	defer inflight.release(userID)

	n, err := runner.EncryptUserChats(c.Request.Context(), userID)
	if err != nil {
		// A row missing at commit time was deleted mid-run, not an unknown user.
		var notFound *registrystore.NotFoundError
		if errors.As(err, &notFound) {
			log.Warn("Chat removed during encryption backfill", "userID", userID, "err", err)
			c.JSON(http.StatusConflict, gin.H{"code": "conflict", "error": "chats changed during backfill; retry"})
			return
		}
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, encryptResponse{UserID: userID, Encrypted: n})
}

func adminEncryptionStatus(c *gin.Context, runner Runner) {
	userID := c.Param("userId")
	report, err := runner.Inspect(c.Request.Context(), userID)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, statusResponse{UserID: userID, Report: report})
}

func adminListChats(c *gin.Context, store registrystore.ChatStore) {
	chats, err := store.ListUserChats(c.Request.Context(), c.Param("userId"), queryInt(c, "offset", 0), queryInt(c, "limit", 50))
	if err != nil {
		handleError(c, err)
		return
	}
	if chats == nil {
		chats = []model.Chat{}
	}
	c.JSON(http.StatusOK, gin.H{"data": chats})
}

func adminCreateChat(c *gin.Context, store registrystore.ChatStore) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	chat, err := store.InsertChat(c.Request.Context(), c.Param("userId"), req.Chat)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, chat)
}

func adminGetChat(c *gin.Context, store registrystore.ChatStore) {
	chat, err := store.GetChat(c.Request.Context(), c.Param("chatId"))
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, chat)
}

func adminUpdateChat(c *gin.Context, store registrystore.ChatStore) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	chat, err := store.UpdateChat(c.Request.Context(), c.Param("chatId"), req.Chat)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, chat)
}

func adminUpsertMessage(c *gin.Context, store registrystore.ChatStore) {
	var message map[string]interface{}
	if err := c.ShouldBindJSON(&message); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	chat, err := store.UpsertMessage(c.Request.Context(), c.Param("chatId"), c.Param("messageId"), message)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, chat)
}

func adminDeleteChat(c *gin.Context, store registrystore.ChatStore) {
	if err := store.DeleteChat(c.Request.Context(), c.Param("chatId")); err != nil {
		handleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func handleError(c *gin.Context, err error) {
	var notFound *registrystore.NotFoundError
	var validation *registrystore.ValidationError
	switch {
	case errors.As(err, &notFound):
		c.JSON(http.StatusNotFound, gin.H{"code": "not_found", "error": err.Error()})
	case errors.As(err, &validation):
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": err.Error(), "field": validation.Field})
	default:
		log.Error("Admin API error", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}

func queryInt(c *gin.Context, key string, def int) int {
	v := c.Query(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}

// userLocks admits one backfill per user at a time.
type userLocks struct {
	mu      sync.Mutex
	running map[string]bool
}

func (l *userLocks) acquire(userID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running == nil {
		l.running = map[string]bool{}
	}
	if l.running[userID] {
		return false
	}
	l.running[userID] = true
	return true
}

func (l *userLocks) release(userID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.running, userID)
}
