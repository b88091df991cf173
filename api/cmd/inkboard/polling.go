package main

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"net"
	"regexp"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

const (
	pollMinDelay = time.Second
	pollMaxDelay = 15 * time.Second
	pollIdle     = 200 * time.Millisecond
	pollHoldSec  = 30
)

type updatesGetter interface {
	GetUpdates(config tgbotapi.UpdateConfig) ([]tgbotapi.Update, error)
}

var retryAfterRe = regexp.MustCompile(`(?i)retry after\s+(\d+)`)

// retryDelayFromError suggests a pause before the next getUpdates call.
// Telegram's retry_after wins when the API reported one.
func retryDelayFromError(err error) time.Duration {
	var (
		apiErr *tgbotapi.Error
		netErr net.Error
	)
	switch {
	case err == nil:
		return 0
	case errors.As(err, &apiErr) && apiErr.RetryAfter > 0:
		return time.Duration(apiErr.RetryAfter) * time.Second
	case errors.As(err, &netErr) && netErr.Timeout():
		return 2 * time.Second
	}

	msg := err.Error()
	if m := retryAfterRe.FindStringSubmatch(msg); m != nil {
		if n, convErr := strconv.Atoi(m[1]); convErr == nil && n > 0 {
			return time.Duration(n) * time.Second
		}
	}
	if strings.Contains(strings.ToLower(msg), "too many requests") {
		return 3 * time.Second
	}
	return time.Second
}

// runPolling long-polls until ctx ends. Consecutive failures double the
// pause, capped at pollMaxDelay.
func runPolling(ctx context.Context, bot updatesGetter, log zerolog.Logger, handle func(tgbotapi.Update)) {
	cfg := tgbotapi.NewUpdate(0)
	cfg.Timeout = pollHoldSec
	failures := 0

	for ctx.Err() == nil {
		updates, err := bot.GetUpdates(cfg)
		if err != nil {
			failures++
			d := retryDelayFromError(err) << min(failures-1, 4)
			d = min(max(d, pollMinDelay), pollMaxDelay)
			log.Warn().Err(err).Int("failures", failures).Dur("retry_in", d).Msg("polling error")
			if !sleep(ctx, d) {
				break
			}
			continue
		}
		failures = 0

		for _, upd := range updates {
			if upd.UpdateID >= cfg.Offset {
				cfg.Offset = upd.UpdateID + 1
			}
			handle(upd)
		}
		if len(updates) == 0 && !sleep(ctx, pollIdle) {
			break
		}
	}
	log.Info().Msg("polling stopped")
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// shortHash hides the bot token in the webhook path.
func shortHash(s string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return fmt.Sprintf("%016x", h.Sum64())
}
