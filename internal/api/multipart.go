package api

import (
	"bytes"
	"fmt"
	"io"
	"mime/multipart"
	"net/textproto"
	"os"
	"strings"
)

type formFile struct {
	field    string
	filename string
	path     string
}

// buildForm assembles a multipart/form-data body from plain fields and JPEG
// image files. The returned content type carries the boundary and must reach
// the wire unmodified.
func buildForm(fields map[string]string, files []formFile) (string, *bytes.Buffer, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	for name, value := range fields {
		if err := writer.WriteField(name, value); err != nil {
			return "", nil, fmt.Errorf("failed to write form field %q: %w", name, err)
		}
	}
	for _, file := range files {
		if err := writeImagePart(writer, file); err != nil {
			return "", nil, err
		}
	}
	if err := writer.Close(); err != nil {
		return "", nil, fmt.Errorf("failed to finalize form: %w", err)
	}
	return writer.FormDataContentType(), &buf, nil
}

func writeImagePart(writer *multipart.Writer, file formFile) error {
	src, err := os.Open(file.path)
	if err != nil {
		return fmt.Errorf("failed to open capture %s: %w", file.path, err)
	}
	defer func() {
		_ = src.Close()
	}()

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`,
		escapeQuotes(file.field), escapeQuotes(file.filename)))
	header.Set("Content-Type", "image/jpeg")
	part, err := writer.CreatePart(header)
	if err != nil {
		return fmt.Errorf("failed to create image part: %w", err)
	}
	if _, err := io.Copy(part, src); err != nil {
		return fmt.Errorf("failed to copy capture %s: %w", file.path, err)
	}
	return nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}
