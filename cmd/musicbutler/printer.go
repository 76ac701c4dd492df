package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ============================================================================
// Thermal sticker printer
// ============================================================================

// PrinterErrorKind classifies printer failures for console remediation.
type PrinterErrorKind int

const (
	PrinterIO PrinterErrorKind = iota
	PrinterNotFound
	PrinterPermission
	PrinterEndpoint
)

func (k PrinterErrorKind) String() string {
	switch k {
	case PrinterNotFound:
		return "not_found"
	case PrinterPermission:
		return "permission"
	case PrinterEndpoint:
		return "endpoint"
	default:
		return "io"
	}
}

// Sentinels matched by errors.Is against a *PrinterError of the same kind.
var (
	ErrPrinterNotFound   = errors.New("printer not found")
	ErrPrinterPermission = errors.New("printer permission denied")
	ErrEndpoint          = errors.New("printer endpoint error")
)

// PrinterError wraps a transport failure with its classification.
type PrinterError struct {
	Kind PrinterErrorKind
	Op   string
	Err  error
}

func (e *PrinterError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("printer %s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("printer %s: %v", e.Op, e.Err)
}

func (e *PrinterError) Unwrap() error { return e.Err }

func (e *PrinterError) Is(target error) bool {
	switch target {
	case ErrPrinterNotFound:
		return e.Kind == PrinterNotFound
	case ErrPrinterPermission:
		return e.Kind == PrinterPermission
	case ErrEndpoint:
		return e.Kind == PrinterEndpoint
	}
	return false
}

// Hint returns console advice for the failure class.
func (e *PrinterError) Hint() string {
	switch e.Kind {
	case PrinterNotFound:
		return "printer not found; check the USB cable and printer.vendor_id/product_id (lsusb)"
	case PrinterPermission:
		return "no permission on the USB device; add a udev rule or run with sudo"
	case PrinterEndpoint:
		return "USB endpoint error; power-cycle the printer or try another interface/endpoint combination"
	default:
		return "printer I/O failed; check paper and power"
	}
}

func isEndpointError(err error) bool {
	return errors.Is(err, ErrEndpoint)
}

// EndpointCandidate is one (interface, out, in) combination to try when connecting.
type EndpointCandidate struct {
	Label     string
	Interface int
	Out       uint8
	In        uint8
}

func (c EndpointCandidate) String() string {
	return fmt.Sprintf("%s (if=%d out=0x%02x in=0x%02x)", c.Label, c.Interface, c.Out, c.In)
}

func (c EndpointCandidate) sameEndpoints(o EndpointCandidate) bool {
	return c.Interface == o.Interface && c.Out == o.Out && c.In == o.In
}

// profileCandidate stands for the named printer profiles (simple, default, POS-5890).
// They differ only in capability tables, which the fixed 384px raster never consults,
// and all of them talk to interface 0 over 0x01/0x82. On the wire they are one attempt.
var profileCandidate = EndpointCandidate{Label: "profile", Interface: 0, Out: 0x01, In: 0x82}

var manualEndpoints = []struct{ out, in uint8 }{
	{0x02, 0x82},
	{0x01, 0x81},
	{0x01, 0x82},
	{0x02, 0x81},
	{0x03, 0x83},
}

// vendorNoProfiles lists vendors whose printers expose the bulk endpoints on interface 1
// and do not work with the named profiles.
var vendorNoProfiles = map[uint16]bool{
	0x4c4a: true,
}

// buildCandidates returns the connection attempts for a vendor, in order.
// Duplicate endpoint triples are tried once.
func buildCandidates(vendor uint16) []EndpointCandidate {
	var out []EndpointCandidate
	add := func(c EndpointCandidate) {
		for _, have := range out {
			if have.sameEndpoints(c) {
				return
			}
		}
		out = append(out, c)
	}

	interfaces := []int{0, 1}
	if vendorNoProfiles[vendor] {
		interfaces = []int{1, 0}
	} else {
		add(profileCandidate)
	}

	for _, iface := range interfaces {
		for _, ep := range manualEndpoints {
			add(EndpointCandidate{Label: "manual", Interface: iface, Out: ep.out, In: ep.in})
		}
	}
	return out
}

// endpointNumbers validates the direction bits of a candidate's bulk endpoint
// addresses and returns their endpoint numbers.
func endpointNumbers(c EndpointCandidate) (out, in int, err error) {
	if c.Out&0x80 != 0 || c.Out&0x0f == 0 {
		return 0, 0, fmt.Errorf("0x%02x is not a bulk OUT endpoint address", c.Out)
	}
	if c.In&0x80 == 0 || c.In&0x0f == 0 {
		return 0, 0, fmt.Errorf("0x%02x is not a bulk IN endpoint address", c.In)
	}
	return int(c.Out & 0x0f), int(c.In & 0x0f), nil
}

// retryCandidates are the manual interface-0 candidates other than the failed one.
func retryCandidates(failed EndpointCandidate) []EndpointCandidate {
	var out []EndpointCandidate
	for _, ep := range manualEndpoints {
		c := EndpointCandidate{Label: "manual", Interface: 0, Out: ep.out, In: ep.in}
		if c.sameEndpoints(failed) {
			continue
		}
		out = append(out, c)
	}
	return out
}

// printerLink is an open connection to the printer's bulk OUT endpoint.
type printerLink interface {
	Write(ctx context.Context, p []byte) (int, error)
	Close() error
}

// printerOpener opens a link for one endpoint candidate.
type printerOpener interface {
	Open(c EndpointCandidate) (printerLink, error)
	Close() error
}

// Printer prints QR stickers over a raw ESC/POS link.
type Printer struct {
	mu sync.Mutex

	opener  printerOpener
	link    printerLink
	current EndpointCandidate

	writeTimeout time.Duration
	logger       *slog.Logger
}

// ConnectPrinter tries every candidate for vendor until one opens and accepts the init sequence.
// A missing device or a permission failure stops the search immediately.
func ConnectPrinter(ctx context.Context, opener printerOpener, vendor uint16, writeTimeout time.Duration, logger *slog.Logger) (*Printer, error) {
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}
	p := &Printer{
		opener:       opener,
		writeTimeout: writeTimeout,
		logger:       logger,
	}
	if err := p.connect(ctx, buildCandidates(vendor)); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Printer) connect(ctx context.Context, candidates []EndpointCandidate) error {
	var lastErr error
	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			return err
		}
		link, err := p.opener.Open(c)
		if err == nil {
			wctx, cancel := context.WithTimeout(ctx, p.writeTimeout)
			_, err = link.Write(wctx, escposInit())
			cancel()
			if err != nil {
				_ = link.Close()
			}
		}
		if err != nil {
			p.logger.Debug("printer candidate failed", "candidate", c.String(), "error", err)
			lastErr = err
			if errors.Is(err, ErrPrinterNotFound) || errors.Is(err, ErrPrinterPermission) {
				return err
			}
			continue
		}
		p.link = link
		p.current = c
		p.logger.Info("printer connected", "candidate", c.String())
		return nil
	}
	if lastErr == nil {
		lastErr = &PrinterError{Kind: PrinterEndpoint, Op: "connect", Err: errors.New("no candidates")}
	}
	return fmt.Errorf("no working printer configuration: %w", lastErr)
}

// PrintSticker renders and prints a sticker for uri. An endpoint failure triggers one
// reconnect over the remaining interface-0 endpoints and one retry.
func (p *Printer) PrintSticker(ctx context.Context, uri, title, subtitle string) error {
	img, err := RenderSticker(uri, title, subtitle)
	if err != nil {
		return fmt.Errorf("render sticker: %w", err)
	}
	job := EncodeRaster(img)

	p.mu.Lock()
	defer p.mu.Unlock()

	err = p.write(ctx, job)
	if err == nil || !isEndpointError(err) {
		return err
	}

	p.logger.Warn("printer endpoint error, reconnecting", "candidate", p.current.String(), "error", err)
	printerReconnectsTotal.Inc()
	failed := p.current
	p.closeLink()
	if rerr := p.connect(ctx, retryCandidates(failed)); rerr != nil {
		return fmt.Errorf("reconnect after %v: %w", err, rerr)
	}
	return p.write(ctx, job)
}

func (p *Printer) write(ctx context.Context, job []byte) error {
	if p.link == nil {
		return &PrinterError{Kind: PrinterIO, Op: "write", Err: errors.New("printer not connected")}
	}
	wctx, cancel := context.WithTimeout(ctx, p.writeTimeout)
	defer cancel()
	n, err := p.link.Write(wctx, job)
	if err != nil {
		return err
	}
	if n != len(job) {
		return &PrinterError{Kind: PrinterIO, Op: "write", Err: fmt.Errorf("short write: %d of %d bytes", n, len(job))}
	}
	return nil
}

func (p *Printer) closeLink() {
	if p.link != nil {
		_ = p.link.Close()
		p.link = nil
	}
}

// Close releases the link and the underlying USB context.
func (p *Printer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closeLink()
	return p.opener.Close()
}
