package sniffer

import (
	"bytes"
	"errors"
	"io"
	"path/filepath"
	"strings"
)

type MediaType string

const (
	TypePDF MediaType = "pdf"
)

var ErrUnknownType = errors.New("unknown media type")

var pdfMagic = []byte("%PDF-")

// headSize covers a PDF header that starts anywhere in the first 1024 bytes.
var headSize = 1024 + len(pdfMagic)

type Result struct {
	Type MediaType
	MIME string
}

func Detect(r io.Reader) (Result, []byte, error) {
	head := make([]byte, headSize)
	n, err := io.ReadFull(r, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return Result{}, nil, err
	}
	head = head[:n]

	result, err := DetectHead(head)
	return result, head, err
}

// DetectHead accepts a PDF header starting anywhere in the first 1024 bytes.
func DetectHead(head []byte) (Result, error) {
	if len(head) == 0 {
		return Result{}, ErrUnknownType
	}
	if isPDF(head) {
		return Result{Type: TypePDF, MIME: "application/pdf"}, nil
	}
	return Result{}, ErrUnknownType
}

func isPDF(head []byte) bool {
	limit := len(head)
	if limit > headSize {
		limit = headSize
	}
	return bytes.Contains(head[:limit], pdfMagic)
}

func HasPDFExtension(name string) bool {
	return strings.EqualFold(filepath.Ext(name), ".pdf")
}
