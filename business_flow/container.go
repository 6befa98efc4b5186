package businessflow

import (
	"bytes"
	"io"
)

// Container signature kinds
const (
	ContainerISOBMFF = "iso-bmff" // mp4, mov
	ContainerEBML    = "ebml"     // webm, mkv
)

const containerHeaderLen = 12

var ebmlMagic = []byte{0x1A, 0x45, 0xDF, 0xA3}

// DetectContainer inspects the first bytes of a file and returns its container kind,
// or an empty string if the signature is not a supported video container.
func DetectContainer(head []byte) string {
	if len(head) >= 8 && bytes.Equal(head[4:8], []byte("ftyp")) {
		return ContainerISOBMFF
	}
	if len(head) >= 4 && bytes.Equal(head[:4], ebmlMagic) {
		return ContainerEBML
	}
	return ""
}

// readContainerHeader reads just enough bytes to detect the container.
func readContainerHeader(r io.Reader) ([]byte, error) {
	head := make([]byte, containerHeaderLen)
	n, err := io.ReadFull(r, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return nil, err
	}
	return head[:n], nil
}

// headerCapture keeps the first bytes that pass through it and counts the rest.
type headerCapture struct {
	head  []byte
	count int64
}

func (h *headerCapture) Write(p []byte) (int, error) {
	if missing := containerHeaderLen - len(h.head); missing > 0 {
		if missing > len(p) {
			missing = len(p)
		}
		h.head = append(h.head, p[:missing]...)
	}
	h.count += int64(len(p))
	return len(p), nil
}
