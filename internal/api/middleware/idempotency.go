package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
)

// Idempotency guards state-changing requests that carry an Idempotency-Key
// header. A repeated key within the retention window is rejected instead of
// re-executed; requests without the header pass through untouched.
func Idempotency(redisClient *redis.Client) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost && r.Method != http.MethodPut && r.Method != http.MethodPatch {
				next.ServeHTTP(w, r)
				return
			}

			key := r.Header.Get("Idempotency-Key")
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			idemKey := fmt.Sprintf("idempotency:%s", key)
			ctx := r.Context()

			val, err := redisClient.Get(ctx, idemKey).Result()
			if err == nil {
				w.Header().Set("X-Idempotency-Hit", "true")
				w.WriteHeader(http.StatusConflict)
				w.Write([]byte(fmt.Sprintf(`{"error": "request already processed", "original_response": %s}`, val)))
				return
			} else if err != redis.Nil {
				// Redis unavailable: let the request through rather than
				// failing it; the pipeline's own writes are idempotent.
				next.ServeHTTP(w, r)
				return
			}

			// Short TTL lock so a crash mid-request cannot wedge the key.
			acquired, err := redisClient.SetNX(ctx, idemKey, "PROCESSING", 10*time.Second).Result()
			if err != nil || !acquired {
				w.WriteHeader(http.StatusConflict)
				w.Write([]byte(`{"error": "concurrent request"}`))
				return
			}

			next.ServeHTTP(w, r)

			redisClient.Set(ctx, idemKey, "\"COMPLETED\"", 24*time.Hour)
		})
	}
}
