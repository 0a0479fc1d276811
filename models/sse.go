package models

import (
	"bufio"
	"io"
	"strings"
)

// sseDoneMarker terminates OpenAI-style event streams.
const sseDoneMarker = "[DONE]"

// maxSSELine bounds a single event line; vendor deltas stay well under this.
const maxSSELine = 1 << 20

// ScanSSE reads an event stream and invokes fn with the payload of each
// `data:` line. Empty lines and non-data fields are skipped. The scan stops
// cleanly at the [DONE] marker or EOF; an error from fn aborts the scan.
func ScanSSE(r io.Reader, fn func(data []byte) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxSSELine)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" || data == sseDoneMarker {
			if data == sseDoneMarker {
				return nil
			}
			continue
		}
		if err := fn([]byte(data)); err != nil {
			return err
		}
	}
	return scanner.Err()
}
