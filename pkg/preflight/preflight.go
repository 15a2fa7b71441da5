// Package preflight checks that the live backend is reachable before a watch.
package preflight

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	livetaplog "github.com/holon-run/livetap/pkg/log"
)

const DefaultTimeout = 5 * time.Second

// CheckLevel represents the severity level of a preflight check
type CheckLevel int

const (
	// LevelError indicates a critical failure that prevents watching
	LevelError CheckLevel = iota
	// LevelWarn indicates a problem that may still allow watching
	LevelWarn
	// LevelInfo indicates a passing check
	LevelInfo
)

func (l CheckLevel) String() string {
	switch l {
	case LevelError:
		return "error"
	case LevelWarn:
		return "warn"
	default:
		return "ok"
	}
}

// CheckResult represents the result of a single preflight check
type CheckResult struct {
	Name    string
	Level   CheckLevel
	Message string
	Error   error
}

// Check represents a single preflight check
type Check interface {
	Name() string
	Run(ctx context.Context) CheckResult
}

// Checker runs a collection of preflight checks
type Checker struct {
	checks  []Check
	skipped bool
	quiet   bool
}

// Config configures the preflight checker. Empty URLs skip their check.
type Config struct {
	Skip       bool
	Quiet      bool
	ControlURL string
	EventsURL  string
	Timeout    time.Duration
}

func NewChecker(cfg Config) *Checker {
	c := &Checker{
		skipped: cfg.Skip,
		quiet:   cfg.Quiet,
	}
	if cfg.ControlURL != "" {
		c.checks = append(c.checks, &ControlCheck{URL: cfg.ControlURL, Timeout: cfg.Timeout})
	}
	if cfg.EventsURL != "" {
		c.checks = append(c.checks, &EventsCheck{URL: cfg.EventsURL, Timeout: cfg.Timeout})
	}
	return c
}

// Results runs every check without logging.
func (c *Checker) Results(ctx context.Context) []CheckResult {
	if c.skipped {
		return nil
	}
	results := make([]CheckResult, 0, len(c.checks))
	for _, check := range c.checks {
		results = append(results, check.Run(ctx))
	}
	return results
}

// Run executes all registered checks and returns an error if any critical checks fail
func (c *Checker) Run(ctx context.Context) error {
	if c.skipped {
		livetaplog.Info("preflight checks skipped")
		return nil
	}

	livetaplog.Progress("running preflight checks")

	var failures []string
	warnings := 0
	for _, result := range c.Results(ctx) {
		switch result.Level {
		case LevelError:
			livetaplog.Error("preflight check failed", "check", result.Name, "message", result.Message, "error", result.Error)
			failures = append(failures, fmt.Sprintf("%s: %s", result.Name, result.Message))
		case LevelWarn:
			livetaplog.Warn("preflight check warning", "check", result.Name, "message", result.Message, "error", result.Error)
			warnings++
		case LevelInfo:
			if !c.quiet {
				livetaplog.Info("preflight check", "check", result.Name, "message", result.Message)
			}
		}
	}

	if warnings > 0 {
		livetaplog.Info("preflight warnings", "count", warnings)
	}
	if len(failures) > 0 {
		return fmt.Errorf("preflight checks failed:\n  - %s", strings.Join(failures, "\n  - "))
	}

	livetaplog.Progress("preflight checks passed")
	return nil
}

func timeoutOrDefault(d time.Duration) time.Duration {
	if d <= 0 {
		return DefaultTimeout
	}
	return d
}

// ControlCheck passes when the control base URL answers HTTP at all; the
// backend has no health endpoint, so any status code proves reachability.
type ControlCheck struct {
	URL     string
	Timeout time.Duration
}

func (c *ControlCheck) Name() string {
	return "control"
}

func (c *ControlCheck) Run(ctx context.Context) CheckResult {
	timeout := timeoutOrDefault(c.Timeout)
	checkCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(checkCtx, http.MethodGet, c.URL, nil)
	if err != nil {
		return CheckResult{
			Name:    c.Name(),
			Level:   LevelError,
			Message: fmt.Sprintf("invalid control URL %q", c.URL),
			Error:   err,
		}
	}

	client := &http.Client{Timeout: timeout}
	resp, err := client.Do(req)
	if err != nil {
		return CheckResult{
			Name:    c.Name(),
			Level:   LevelError,
			Message: fmt.Sprintf("control endpoint %s is unreachable", c.URL),
			Error:   err,
		}
	}
	defer resp.Body.Close()
	if _, err := io.Copy(io.Discard, resp.Body); err != nil {
		livetaplog.Debug("failed to drain response body", "error", err)
	}

	if resp.StatusCode >= 500 {
		return CheckResult{
			Name:    c.Name(),
			Level:   LevelWarn,
			Message: fmt.Sprintf("control endpoint %s answered %d", c.URL, resp.StatusCode),
			Error:   fmt.Errorf("HTTP %d", resp.StatusCode),
		}
	}
	return CheckResult{
		Name:    c.Name(),
		Level:   LevelInfo,
		Message: fmt.Sprintf("control endpoint %s is reachable", c.URL),
	}
}

// EventsCheck opens and immediately closes a websocket to the event URL.
type EventsCheck struct {
	URL     string
	Timeout time.Duration
}

func (c *EventsCheck) Name() string {
	return "events"
}

func (c *EventsCheck) Run(ctx context.Context) CheckResult {
	timeout := timeoutOrDefault(c.Timeout)
	checkCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	dialer := websocket.Dialer{HandshakeTimeout: timeout}
	conn, resp, err := dialer.DialContext(checkCtx, c.URL, nil)
	if err != nil {
		if errors.Is(err, websocket.ErrBadHandshake) && resp != nil {
			// Something answered HTTP but refused the upgrade, typically a
			// wrong path or a backend that requires a client id.
			return CheckResult{
				Name:    c.Name(),
				Level:   LevelWarn,
				Message: fmt.Sprintf("event endpoint %s refused the websocket upgrade (HTTP %d)", c.URL, resp.StatusCode),
				Error:   err,
			}
		}
		return CheckResult{
			Name:    c.Name(),
			Level:   LevelError,
			Message: fmt.Sprintf("event endpoint %s is unreachable", c.URL),
			Error:   err,
		}
	}
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	_ = conn.Close()

	return CheckResult{
		Name:    c.Name(),
		Level:   LevelInfo,
		Message: fmt.Sprintf("event endpoint %s accepts websocket connections", c.URL),
	}
}
