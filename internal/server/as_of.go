package server

import (
	"strings"
	"time"

	"github.com/harpervoss/caseplan/pkg/httperr"
)

const asOfLayout = "2006-01-02"

func currentUTCDateString() string {
	return time.Now().UTC().Format(asOfLayout)
}

// optionalAsOf reads an as_of query/body value, defaulting to today (UTC).
func optionalAsOf(raw string) (string, error) {
	asOf := strings.TrimSpace(raw)
	if asOf == "" {
		return currentUTCDateString(), nil
	}
	if _, err := time.Parse(asOfLayout, asOf); err != nil {
		return "", httperr.NewBadRequest("invalid as_of (expected YYYY-MM-DD)")
	}
	return asOf, nil
}

func requireDate(field string, raw string) (string, error) {
	v := strings.TrimSpace(raw)
	if v == "" {
		return "", httperr.NewBadRequest(field + " required")
	}
	if _, err := time.Parse(asOfLayout, v); err != nil {
		return "", httperr.NewBadRequest("invalid " + field + " (expected YYYY-MM-DD)")
	}
	return v, nil
}

func optionalDate(field string, raw string) (string, error) {
	v := strings.TrimSpace(raw)
	if v == "" {
		return "", nil
	}
	if _, err := time.Parse(asOfLayout, v); err != nil {
		return "", httperr.NewBadRequest("invalid " + field + " (expected YYYY-MM-DD)")
	}
	return v, nil
}
