package middleware

import (
	"sync"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/d60-Lab/localsync/config"
	"github.com/d60-Lab/localsync/pkg/response"
)

type limiterPool struct {
	mu  sync.Mutex
	m   map[string]*rate.Limiter
	cfg config.RateLimitConfig
}

func (p *limiterPool) get(key string) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()
	if l, ok := p.m[key]; ok {
		return l
	}
	rps := p.cfg.RPS
	if rps <= 0 {
		rps = 5
	}
	burst := p.cfg.Burst
	if burst <= 0 {
		burst = 10
	}
	l := rate.NewLimiter(rate.Limit(rps), burst)
	p.m[key] = l
	return l
}

// RateLimit 按用户限流；未认证的请求按客户端 IP
func RateLimit(cfg config.RateLimitConfig) gin.HandlerFunc {
	pool := &limiterPool{m: map[string]*rate.Limiter{}, cfg: cfg}
	return func(c *gin.Context) {
		key := UserID(c)
		if key == "" {
			key = "ip:" + c.ClientIP()
		}
		if !pool.get(key).Allow() {
			response.TooManyRequests(c)
			return
		}
		c.Next()
	}
}
