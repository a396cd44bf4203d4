package models

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/apex/log"

	"github.com/Protocol-Lattice/roomcleaner/src/errs"
	"github.com/Protocol-Lattice/roomcleaner/src/parser"
)

const (
	emptyMess     = "The AI returned an empty response, indicating no mess was found."
	emptyReason   = "Empty response"
	blockedReason = "Blocked by AI safety filter"
)

// finish turns a backend reply into tasks. blockedBy is the backend's block
// reason when it refused to answer.
func finish(cfg Config, backend, text, blockedBy string) ([]parser.Task, error) {
	entry := log.WithFields(log.Fields{"backend": backend, "model": cfg.Model})

	if blockedBy != "" {
		entry.WithField("reason", blockedBy).Warn("models: response blocked by safety filter")
		if cfg.SuppressEmptyNotice {
			return []parser.Task{}, nil
		}
		return []parser.Task{{
			Mess:   fmt.Sprintf("Content blocked by %s. Reason: %s", backend, blockedBy),
			Reason: blockedReason,
		}}, nil
	}

	if strings.TrimSpace(text) == "" {
		entry.Warn("models: empty response")
		if cfg.SuppressEmptyNotice {
			return []parser.Task{}, nil
		}
		return []parser.Task{{Mess: emptyMess, Reason: emptyReason}}, nil
	}

	entry.WithField("response", text).Debug("models: raw response")
	return parser.Parse(text)
}

// classify maps a failed backend call onto the error taxonomy. status is the
// HTTP status reported by the SDK, 0 if there was none.
func classify(op string, status int, err error) error {
	switch {
	case err == nil:
		return nil
	case errs.KindOf(err) != errs.KindUnknown:
		return err
	case status == http.StatusUnauthorized:
		return &errs.Error{Kind: errs.KindInvalidCredentials, Op: op, Msg: "backend rejected the credentials", Err: err}
	case errors.Is(err, context.DeadlineExceeded):
		return &errs.Error{Kind: errs.KindProvider, Op: op, Msg: "request timed out", Err: err}
	case errors.Is(err, context.Canceled):
		return &errs.Error{Kind: errs.KindProvider, Op: op, Msg: "request canceled", Err: err}
	case status != 0:
		return &errs.Error{Kind: errs.KindProvider, Op: op, Msg: fmt.Sprintf("backend returned HTTP %d", status), Err: err}
	default:
		return &errs.Error{Kind: errs.KindProvider, Op: op, Msg: "request failed", Err: err}
	}
}
