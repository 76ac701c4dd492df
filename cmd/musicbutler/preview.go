package main

import (
	"bytes"
	"fmt"
	"image"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"
	"sync"

	"github.com/disintegration/imaging"
)

// previewMaxWidth bounds the width of streamed preview frames.
const previewMaxWidth = 640

// Preview is a single-slot mailbox holding the latest annotated frame as JPEG.
// Publishing overwrites; readers never see a queue.
type Preview struct {
	mu      sync.Mutex
	jpeg    []byte
	seq     uint64
	updated chan struct{} // closed and replaced on every publish
}

func NewPreview() *Preview {
	return &Preview{updated: make(chan struct{})}
}

// Publish encodes img and replaces the current frame.
func (p *Preview) Publish(img image.Image) error {
	if img.Bounds().Dx() > previewMaxWidth {
		img = imaging.Resize(img, previewMaxWidth, 0, imaging.Linear)
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(75)); err != nil {
		return fmt.Errorf("encode preview: %w", err)
	}

	p.mu.Lock()
	p.jpeg = buf.Bytes()
	p.seq++
	close(p.updated)
	p.updated = make(chan struct{})
	p.mu.Unlock()
	return nil
}

// Latest returns the current frame (nil before the first publish), its
// sequence number and a channel closed on the next publish.
func (p *Preview) Latest() ([]byte, uint64, <-chan struct{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.jpeg, p.seq, p.updated
}

// ServeJPEG writes the latest frame.
func (p *Preview) ServeJPEG(w http.ResponseWriter, r *http.Request) {
	frame, _, _ := p.Latest()
	if frame == nil {
		http.Error(w, "no frame yet", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(frame)
}

// ServeMJPEG streams frames as multipart/x-mixed-replace until the client goes away.
func (p *Preview) ServeMJPEG(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	mw := multipart.NewWriter(w)
	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary="+mw.Boundary())
	w.Header().Set("Cache-Control", "no-store")

	var lastSeq uint64
	for {
		frame, seq, updated := p.Latest()
		if frame != nil && seq != lastSeq {
			part, err := mw.CreatePart(textproto.MIMEHeader{
				"Content-Type":   {"image/jpeg"},
				"Content-Length": {strconv.Itoa(len(frame))},
			})
			if err != nil {
				return
			}
			if _, err := part.Write(frame); err != nil {
				return
			}
			flusher.Flush()
			lastSeq = seq
		}

		select {
		case <-r.Context().Done():
			return
		case <-updated:
		}
	}
}
