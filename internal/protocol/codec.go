package protocol

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
)

// maxLineBytes caps a single envelope line read from a backend.
const maxLineBytes = 16 << 20

// EncodeRequest serializes a Request and writes it to w as a single
// newline-terminated JSON object.
func EncodeRequest(w io.Writer, req *Request) error {
	if req.Protocol != Version {
		return fmt.Errorf("unsupported protocol version: %d", req.Protocol)
	}
	if req.Method == "" {
		return fmt.Errorf("request missing method")
	}

	encoder := json.NewEncoder(w)
	if err := encoder.Encode(req); err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}
	return nil
}

// NewResponseScanner returns a scanner that yields one envelope line per call
// to Scan, sized for large metadata payloads.
func NewResponseScanner(r io.Reader) *bufio.Scanner {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	return scanner
}

// DecodeResponse deserializes and validates a single envelope line.
func DecodeResponse(line []byte) (*Response, error) {
	var resp Response
	if err := json.Unmarshal(line, &resp); err != nil {
		return nil, fmt.Errorf("backend output is not valid JSON: %w", err)
	}

	if resp.Error != nil && resp.Error.Message == "" {
		return nil, fmt.Errorf("response has an error but no error message")
	}
	if resp.Error == nil && resp.Result == nil {
		return nil, fmt.Errorf("response has neither result nor error")
	}
	return &resp, nil
}
