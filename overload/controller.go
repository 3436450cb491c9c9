package overload

import (
	"context"
	"fmt"
	"sync"

	"github.com/flowrpc/flowrpc/internal/nlog"
)

// FuncLimiterConfig is one entry of a service's per-method limiter list.
type FuncLimiterConfig struct {
	Name       string
	Limiter    string // "NAME(MAX_RPS)"
	WindowSize int32
}

// ServiceConfig mirrors the YAML schema's flow_control list entry:
// plugins.overload_control.flow_control[i].
type ServiceConfig struct {
	ServiceName     string
	ServiceLimiter  string // "NAME(MAX_RPS)", optional
	WindowSize      int32
	IsReport        bool
	FuncLimiters    []FuncLimiterConfig
}

// Controller is the single generic rate-limit aggregate this package
// exposes, parameterized only by behavior (the limiter factory) rather
// than duplicated per algorithm: one type serves fixed-window, smooth,
// and unrestricted services instead of a near-duplicate controller per
// algorithm.
//
// BeforeSchedule does the two-level (service, then service/method)
// lookup and returns true-on-admit.
type Controller struct {
	mu       sync.RWMutex
	limiters map[string]Limiter // "service" or "/service/method" -> Limiter
}

// NewController builds an empty controller; call LoadConfig to populate it.
func NewController() *Controller {
	return &Controller{limiters: make(map[string]Limiter)}
}

// LoadConfig registers one limiter per service and per configured
// method. A malformed descriptor leaves that entry unrestricted (no
// limiter registered) and logs an error, rather than failing the whole
// load.
func (c *Controller) LoadConfig(cfgs []ServiceConfig, report Reporter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, cfg := range cfgs {
		if cfg.ServiceLimiter != "" {
			d, err := ParseLimiterDescriptor(cfg.ServiceLimiter)
			if err != nil {
				nlog.Errorf("overload: service %q limiter config error: %v", cfg.ServiceName, err)
			} else {
				rep := report
				if !cfg.IsReport {
					rep = nil
				}
				c.limiters[cfg.ServiceName] = NewLimiter(cfg.ServiceName, d, cfg.WindowSize, rep)
			}
		}
		for _, fc := range cfg.FuncLimiters {
			if fc.Limiter == "" {
				continue
			}
			d, err := ParseLimiterDescriptor(fc.Limiter)
			if err != nil {
				nlog.Errorf("overload: service %q func %q limiter config error: %v", cfg.ServiceName, fc.Name, err)
				continue
			}
			key := fmt.Sprintf("/%s/%s", cfg.ServiceName, fc.Name)
			w := fc.WindowSize
			if w == 0 {
				w = cfg.WindowSize
			}
			rep := report
			if !cfg.IsReport {
				rep = nil
			}
			c.limiters[key] = NewLimiter(key, d, w, rep)
		}
	}
}

// Register directly installs a limiter under key, bypassing descriptor
// parsing — used by tests and by callers wiring limiters programmatically.
func (c *Controller) Register(key string, l Limiter) {
	c.mu.Lock()
	c.limiters[key] = l
	c.mu.Unlock()
}

func (c *Controller) lookup(key string) Limiter {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.limiters[key]
}

// BeforeSchedule checks the service-level limiter first, then the
// service/method limiter; admits unless either rejects. Returns true to
// admit (the chosen true-on-admit convention).
func (c *Controller) BeforeSchedule(ctx context.Context, serviceName, methodName string) bool {
	if svc := c.lookup(serviceName); svc != nil {
		if !svc.Allow(ctx) {
			return false
		}
	}
	key := fmt.Sprintf("/%s/%s", serviceName, methodName)
	if fn := c.lookup(key); fn != nil {
		if !fn.Allow(ctx) {
			return false
		}
	}
	return true
}
