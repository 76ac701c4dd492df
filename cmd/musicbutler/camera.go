package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"log/slog"
	"path/filepath"
	"sort"

	"github.com/blackjack/webcam"
)

// V4L2 fourcc codes the camera loop can decode.
const (
	pixFmtYUYV  webcam.PixelFormat = 0x56595559
	pixFmtMJPEG webcam.PixelFormat = 0x47504A4D
)

// maxProbeIndex bounds the /dev/videoN indices tried after the globbed devices.
const maxProbeIndex = 20

// ErrNoCamera is returned when no V4L2 device produced a frame.
var ErrNoCamera = errors.New("no working camera found")

// FrameSource yields decoded frames.
type FrameSource interface {
	Next(ctx context.Context) (image.Image, error)
	Close() error
}

// Camera captures frames from a V4L2 device.
type Camera struct {
	cam       *webcam.Webcam
	path      string
	format    webcam.PixelFormat
	width     int
	height    int
	timeoutMS uint32
}

// OpenCamera opens cfg.Device, or probes /dev/video* and indices 0..20 when it is empty.
// A device is accepted only after it delivers one frame.
func OpenCamera(cfg CameraConfig, logger *slog.Logger) (*Camera, error) {
	paths := []string{cfg.Device}
	if cfg.Device == "" {
		paths = probeCameraPaths()
	}

	var lastErr error
	for _, p := range paths {
		c, err := openCameraAt(p, cfg)
		if err != nil {
			logger.Debug("camera candidate failed", "device", p, "error", err)
			lastErr = err
			continue
		}
		logger.Info("camera opened", "device", p, "width", c.width, "height", c.height, "format", formatName(c.format))
		return c, nil
	}
	if lastErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoCamera, lastErr)
	}
	return nil, ErrNoCamera
}

func probeCameraPaths() []string {
	globbed, _ := filepath.Glob("/dev/video*")
	sort.Strings(globbed)

	seen := make(map[string]bool, len(globbed))
	paths := make([]string, 0, len(globbed)+maxProbeIndex+1)
	for _, p := range globbed {
		seen[p] = true
		paths = append(paths, p)
	}
	for i := 0; i <= maxProbeIndex; i++ {
		p := fmt.Sprintf("/dev/video%d", i)
		if !seen[p] {
			paths = append(paths, p)
		}
	}
	return paths
}

func openCameraAt(path string, cfg CameraConfig) (*Camera, error) {
	cam, err := webcam.Open(path)
	if err != nil {
		return nil, err
	}

	formats := cam.GetSupportedFormats()
	var format webcam.PixelFormat
	switch {
	case formats[pixFmtYUYV] != "":
		format = pixFmtYUYV
	case formats[pixFmtMJPEG] != "":
		format = pixFmtMJPEG
	default:
		cam.Close()
		return nil, fmt.Errorf("%s: no YUYV or MJPEG support", path)
	}

	f, w, h, err := cam.SetImageFormat(format, uint32(cfg.Width), uint32(cfg.Height))
	if err != nil {
		cam.Close()
		return nil, fmt.Errorf("%s: set format: %w", path, err)
	}
	if err := cam.StartStreaming(); err != nil {
		cam.Close()
		return nil, fmt.Errorf("%s: start streaming: %w", path, err)
	}

	c := &Camera{
		cam:       cam,
		path:      path,
		format:    f,
		width:     int(w),
		height:    int(h),
		timeoutMS: uint32(cfg.ReadTimeoutMS),
	}
	if _, err := c.Next(context.Background()); err != nil {
		c.Close()
		return nil, fmt.Errorf("%s: first frame: %w", path, err)
	}
	return c, nil
}

// Path is the device the camera was opened on.
func (c *Camera) Path() string { return c.path }

// Next waits for the next frame. A read timeout is returned as an error; the
// caller decides whether to keep going.
func (c *Camera) Next(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	timeoutSec := (c.timeoutMS + 999) / 1000
	if timeoutSec == 0 {
		timeoutSec = 1
	}
	if err := c.cam.WaitForFrame(timeoutSec); err != nil {
		return nil, err
	}
	raw, err := c.cam.ReadFrame()
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, errEmptyFrame
	}
	framesTotal.Inc()
	return decodeFrame(raw, c.format, c.width, c.height)
}

var errEmptyFrame = errors.New("empty frame")

// decodeFrame converts a raw V4L2 buffer into an image. YUYV keeps the luma plane only.
func decodeFrame(raw []byte, format webcam.PixelFormat, w, h int) (image.Image, error) {
	switch format {
	case pixFmtYUYV:
		if len(raw) < w*h*2 {
			return nil, fmt.Errorf("short yuyv frame: %d bytes for %dx%d", len(raw), w, h)
		}
		img := image.NewGray(image.Rect(0, 0, w, h))
		for i := range img.Pix {
			img.Pix[i] = raw[2*i]
		}
		return img, nil
	case pixFmtMJPEG:
		return jpeg.Decode(bytes.NewReader(raw))
	default:
		return nil, fmt.Errorf("unsupported pixel format %s", formatName(format))
	}
}

// isFrameTimeout reports whether err is a V4L2 wait timeout.
func isFrameTimeout(err error) bool {
	var t *webcam.Timeout
	return errors.As(err, &t)
}

func formatName(f webcam.PixelFormat) string {
	b := []byte{byte(f), byte(f >> 8), byte(f >> 16), byte(f >> 24)}
	return string(b)
}

func (c *Camera) Close() error {
	_ = c.cam.StopStreaming()
	return c.cam.Close()
}
