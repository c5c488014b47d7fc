package ingest

import "github.com/tokmz/sitesync/pkg/errors"

// 8000 段错误码：ingest
var (
	ErrMalformedEnvelope = errors.New(8001, 400, "ingest: malformed envelope", nil)
	ErrDelivery          = errors.New(8002, 502, "ingest: delivery to hub failed", nil)
	ErrInvalidConfig     = errors.New(8003, 500, "ingest: invalid config", nil)
	ErrConsumer          = errors.New(8004, 502, "ingest: consumer failed", nil)
)
