package files

import (
	"errors"
	"strconv"
	"strings"
)

// ErrBadRange marks an unsatisfiable or malformed Range header; the
// HTTP layer answers 416 with "Content-Range: bytes */<size>".
var ErrBadRange = errors.New("unsatisfiable range")

// byteRange is one parsed inclusive range within a file of known size.
type byteRange struct {
	start, end int64
}

func (r byteRange) length() int64 { return r.end - r.start + 1 }

// parseRange understands a single "bytes=START-END", "bytes=START-",
// or "bytes=-SUFFIX" spec. Multi-range requests are rejected.
func parseRange(header string, size int64) (byteRange, error) {
	const prefix = "bytes="
	spec := strings.TrimSpace(header)
	if !strings.HasPrefix(spec, prefix) {
		return byteRange{}, ErrBadRange
	}
	spec = strings.TrimSpace(spec[len(prefix):])
	if strings.Contains(spec, ",") {
		return byteRange{}, ErrBadRange
	}
	startStr, endStr, ok := strings.Cut(spec, "-")
	if !ok {
		return byteRange{}, ErrBadRange
	}
	startStr = strings.TrimSpace(startStr)
	endStr = strings.TrimSpace(endStr)

	if startStr == "" {
		// Suffix form: last N bytes.
		n, err := strconv.ParseInt(endStr, 10, 64)
		if err != nil || n <= 0 {
			return byteRange{}, ErrBadRange
		}
		if n > size {
			n = size
		}
		if size == 0 {
			return byteRange{}, ErrBadRange
		}
		return byteRange{start: size - n, end: size - 1}, nil
	}

	start, err := strconv.ParseInt(startStr, 10, 64)
	if err != nil || start < 0 || start >= size {
		return byteRange{}, ErrBadRange
	}
	end := size - 1
	if endStr != "" {
		end, err = strconv.ParseInt(endStr, 10, 64)
		if err != nil || end < start {
			return byteRange{}, ErrBadRange
		}
		if end > size-1 {
			end = size - 1
		}
	}
	return byteRange{start: start, end: end}, nil
}
