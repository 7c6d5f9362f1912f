package handlers

import (
	"net/http"

	"geocaching-backend/internal/services"
)

// RankingHandler serves the leaderboard and cache rankings
type RankingHandler struct {
	rankingService *services.RankingService
}

// NewRankingHandler creates a new ranking handler
func NewRankingHandler(rankingService *services.RankingService) *RankingHandler {
	return &RankingHandler{
		rankingService: rankingService,
	}
}

// Leaderboard handles GET /api/v1/users/ranking
func (h *RankingHandler) Leaderboard(w http.ResponseWriter, r *http.Request) {
	entries, err := h.rankingService.Leaderboard(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, entries)
}

// Popular handles GET /api/v1/caches/popular
func (h *RankingHandler) Popular(w http.ResponseWriter, r *http.Request) {
	ranks, err := h.rankingService.Popular(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, ranks)
}

// RarelyFound handles GET /api/v1/caches/rarely-found
func (h *RankingHandler) RarelyFound(w http.ResponseWriter, r *http.Request) {
	ranks, err := h.rankingService.Rare(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, ranks)
}
