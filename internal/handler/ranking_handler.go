package handler

import (
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/mpt-warrior/ranking-engine/internal/dto"
	"github.com/mpt-warrior/ranking-engine/internal/service"
	"github.com/mpt-warrior/ranking-engine/pkg/apperror"
	"github.com/mpt-warrior/ranking-engine/pkg/response"
	"github.com/mpt-warrior/ranking-engine/pkg/validator"
	"github.com/redis/go-redis/v9"
)

const syncPointsAction = "sync_points"

type RankingHandler struct {
	ledger        service.LedgerService
	ranks         service.RankService
	rdb           *redis.Client
	rateLimitSync time.Duration
}

func NewRankingHandler(ledger service.LedgerService, ranks service.RankService, rdb *redis.Client, rateLimitSync time.Duration) *RankingHandler {
	return &RankingHandler{
		ledger:        ledger,
		ranks:         ranks,
		rdb:           rdb,
		rateLimitSync: rateLimitSync,
	}
}

// SyncPoints applies one point event to a user's ranking.
func (h *RankingHandler) SyncPoints(c *gin.Context) {
	var req dto.SyncPointsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": validator.FormatValidationError(err)})
		return
	}

	allowed, err := service.CheckAndSetRateLimit(c.Request.Context(), h.rdb, req.UserID, syncPointsAction, h.rateLimitSync)
	if err != nil {
		log.Printf("rate limit check failed for user %s: %v", req.UserID, err)
		allowed = true
	}
	if !allowed {
		if ttl, ttlErr := service.GetRateLimitTTL(c.Request.Context(), h.rdb, req.UserID, syncPointsAction); ttlErr == nil && ttl > 0 {
			c.Header("Retry-After", strconv.Itoa(retryAfterSeconds(ttl)))
		}
		response.ResponseError(c, apperror.ErrRateLimitExceeded)
		return
	}

	result, err := h.ledger.SyncPoints(c.Request.Context(), req)
	if err != nil {
		// Give the slot back; the producer's retry should not be throttled
		// on top of the failure.
		if clearErr := service.ClearRateLimit(c.Request.Context(), h.rdb, req.UserID, syncPointsAction); clearErr != nil {
			log.Printf("failed to clear rate limit for user %s: %v", req.UserID, clearErr)
		}
		response.ResponseError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": result})
}

// Recalculate triggers either a single-user or a full batch recalculation.
func (h *RankingHandler) Recalculate(c *gin.Context) {
	var req dto.RecalculateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": validator.FormatValidationError(err)})
		return
	}

	switch {
	case req.BatchMode:
		result, err := h.ranks.RecalculateAll(c.Request.Context())
		if err != nil {
			response.ResponseError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": result})

	case req.UserID != nil:
		result, err := h.ranks.RecalculateUser(c.Request.Context(), *req.UserID)
		if err != nil {
			response.ResponseError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": result})

	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "must provide either user_id or set batch_mode=true"})
	}
}

// GetLeaderboard serves a slice of the cached top-N snapshot.
func (h *RankingHandler) GetLeaderboard(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if err != nil || limit < 1 {
		limit = 100
	}
	offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil || offset < 0 {
		offset = 0
	}

	snapshot, err := h.ranks.GetLeaderboard(c.Request.Context(), limit, offset)
	if err != nil {
		response.ResponseError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": snapshot})
}

// GetUserRanking serves the per-user ranking view.
func (h *RankingHandler) GetUserRanking(c *gin.Context) {
	userID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}

	view, err := h.ranks.GetUserRanking(c.Request.Context(), userID)
	if err != nil {
		response.ResponseError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": view})
}

// retryAfterSeconds rounds a rate limit TTL up to whole seconds for the
// Retry-After header; anything positive reports at least one second.
func retryAfterSeconds(ttl time.Duration) int {
	if ttl <= 0 {
		return 1
	}
	return int((ttl + time.Second - 1) / time.Second)
}
