package sandbox

import (
	"fmt"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// Faults injects latency and random failures into API requests.
type Faults struct {
	Latency time.Duration
	// Rate is the probability in [0,1] that a request fails with Code.
	Rate float64
	Code int
}

// ParseFaults reads a --fail value of the form "rate=0.2,code=503". An empty
// value disables failures; the code defaults to 500.
func ParseFaults(raw string) (Faults, error) {
	if strings.TrimSpace(raw) == "" {
		return Faults{}, nil
	}
	f := Faults{Code: http.StatusInternalServerError}
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, val, ok := strings.Cut(part, "=")
		if !ok {
			return Faults{}, fmt.Errorf("sandbox: invalid fail segment %q", part)
		}
		val = strings.TrimSpace(val)
		switch strings.TrimSpace(key) {
		case "rate":
			rate, err := strconv.ParseFloat(val, 64)
			if err != nil || rate < 0 || rate > 1 {
				return Faults{}, fmt.Errorf("sandbox: fail rate must be within [0,1], got %q", val)
			}
			f.Rate = rate
		case "code":
			code, err := strconv.Atoi(val)
			if err != nil || code < 400 || code > 599 {
				return Faults{}, fmt.Errorf("sandbox: fail code must be an HTTP error status, got %q", val)
			}
			f.Code = code
		default:
			return Faults{}, fmt.Errorf("sandbox: unknown fail key %q", key)
		}
	}
	return f, nil
}

func (f Faults) middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if f.Latency > 0 {
			timer := time.NewTimer(f.Latency)
			select {
			case <-c.Request.Context().Done():
				timer.Stop()
				c.Abort()
				return
			case <-timer.C:
			}
		}
		if f.Rate > 0 && rand.Float64() < f.Rate {
			code := f.Code
			if code == 0 {
				code = http.StatusInternalServerError
			}
			abortWithError(c, code, "Failure injected by the sandbox.")
			return
		}
		c.Next()
	}
}
