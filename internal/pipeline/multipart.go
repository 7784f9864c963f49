package pipeline

import (
	"bytes"
	"fmt"
)

// Part is one independently-typed sub-part of a mixed response body.
type Part struct {
	ContentType string
	Body        []byte
}

// EncodeMultipart frames the ordered parts with the given boundary token,
// multipart/mixed style. Each part carries its own Content-Type and
// Content-Length so clients can split the body without guessing, and the
// payload ends with the closing boundary marker.
func EncodeMultipart(boundary string, parts []Part) []byte {
	var buf bytes.Buffer
	for _, p := range parts {
		fmt.Fprintf(&buf, "--%s\r\n", boundary)
		fmt.Fprintf(&buf, "Content-Type: %s\r\n", p.ContentType)
		fmt.Fprintf(&buf, "Content-Length: %d\r\n\r\n", len(p.Body))
		buf.Write(p.Body)
		buf.WriteString("\r\n")
	}
	fmt.Fprintf(&buf, "--%s--\r\n", boundary)
	return buf.Bytes()
}

// MultipartContentType is the Content-Type header value declaring the
// boundary.
func MultipartContentType(boundary string) string {
	return fmt.Sprintf("multipart/mixed; boundary=%s", boundary)
}
