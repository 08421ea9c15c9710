package auth

import (
	"errors"
	"strconv"
	"strings"
)

// FencingHeader is the request header carrying an optional lock-lease guard
// in the form "<lockKey>#<fencingToken>".
const FencingHeader = "X-Fencing-Token"

// FencingGuard pairs a lock key with the fencing token a caller obtained when
// acquiring it. Handlers attach it to writes that should fail when the lease
// has been superseded.
type FencingGuard struct {
	Key   string
	Token int64
}

// ParseFencingHeader parses a "<lockKey>#<fencingToken>" header value.
func ParseFencingHeader(value string) (*FencingGuard, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}

	idx := strings.LastIndex(value, "#")
	if idx <= 0 || idx == len(value)-1 {
		return nil, errors.New("fencing header must be of the form <lockKey>#<fencingToken>")
	}

	token, err := strconv.ParseInt(value[idx+1:], 10, 64)
	if err != nil {
		return nil, errors.New("fencing token must be an integer")
	}

	return &FencingGuard{Key: value[:idx], Token: token}, nil
}
