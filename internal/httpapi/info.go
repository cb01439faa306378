package httpapi

import (
	"net/http"
	"time"
)

// ServerInfo represents the server's capabilities and configuration
type ServerInfo struct {
	APIVersion    string         `json:"apiVersion"`
	ServerTime    string         `json:"serverTime"`
	ServerTimeMs  int64          `json:"serverTimeMs"`
	Backend       string         `json:"backend"`
	MaxLimit      int            `json:"maxLimit"`
	HealThreshold int            `json:"healThreshold"`
	AuthRequired  bool           `json:"authRequired"`
	RateLimit     *RateLimitInfo `json:"rateLimit,omitempty"`
	Hints         *SyncHints     `json:"hints,omitempty"`
}

// RateLimitInfo describes the server's rate limiting policy
type RateLimitInfo struct {
	RequestsPerSecond float64 `json:"requestsPerSecond"` // refill rate per namespace
	Burst             int     `json:"burst"`             // token bucket size, 0 = disabled
}

// SyncHints provides recommendations for client behavior
type SyncHints struct {
	RecommendedBatch int `json:"recommendedBatch"` // safe push batch size
	BackoffMsOn429   int `json:"backoffMsOn429"`   // default backoff if Retry-After missing
	BackoffMsOn503   int `json:"backoffMsOn503"`   // resubmit delay after a storage fault
}

// Info handles GET /v1/sync/info
// Returns server capabilities, API version, and paging limits
// This endpoint can be called without authentication to allow capability discovery
func (s *Server) Info(w http.ResponseWriter, r *http.Request) {
	now := time.Now().UTC()

	info := ServerInfo{
		APIVersion:    "2.0",
		ServerTime:    now.Format(time.RFC3339Nano),
		ServerTimeMs:  now.UnixMilli(),
		Backend:       s.Svc.Store.Backend(),
		MaxLimit:      s.Svc.MaxPage(),
		HealThreshold: s.Svc.HealThreshold(),
		AuthRequired:  s.SharedSecret != "",
		Hints: &SyncHints{
			RecommendedBatch: 200,
			BackoffMsOn429:   1500,
			BackoffMsOn503:   5000,
		},
	}
	if s.RateLimitConfig.Burst > 0 {
		info.RateLimit = &s.RateLimitConfig
	}

	writeJSON(w, http.StatusOK, info)
}
