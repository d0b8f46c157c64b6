package upload

import (
	"regexp"
	"strconv"
)

// contentRangePattern matches range headers of the form "bytes 0-999/5000"
var contentRangePattern = regexp.MustCompile(`^bytes (\d+)-(\d+)/(\d+)$`)

// ByteRange is the client-declared position of a chunk within the full file
type ByteRange struct {
	Start int64
	End   int64
	Total int64
}

// ParseContentRange parses a Content-Range header. A missing or
// non-matching header returns nil: the request is then treated as the
// first chunk of a new upload, which is what resumable upload clients
// send when they start over.
func ParseContentRange(header string) *ByteRange {
	match := contentRangePattern.FindStringSubmatch(header)
	if match == nil {
		return nil
	}

	start, err := strconv.ParseInt(match[1], 10, 64)
	if err != nil {
		return nil
	}
	end, err := strconv.ParseInt(match[2], 10, 64)
	if err != nil {
		return nil
	}
	total, err := strconv.ParseInt(match[3], 10, 64)
	if err != nil {
		return nil
	}

	return &ByteRange{Start: start, End: end, Total: total}
}
