package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/gousb"
)

// usbOpener opens the printer through libusb.
type usbOpener struct {
	ctx     *gousb.Context
	vendor  gousb.ID
	product gousb.ID
}

func newUSBOpener(vendor, product uint16) *usbOpener {
	return &usbOpener{
		ctx:     gousb.NewContext(),
		vendor:  gousb.ID(vendor),
		product: gousb.ID(product),
	}
}

// Open claims the candidate's interface and requires both of its bulk endpoints.
// The IN endpoint carries printer status; a candidate without it is rejected.
func (o *usbOpener) Open(c EndpointCandidate) (printerLink, error) {
	outNum, inNum, err := endpointNumbers(c)
	if err != nil {
		return nil, &PrinterError{Kind: PrinterEndpoint, Op: "endpoints", Err: err}
	}
	dev, err := o.ctx.OpenDeviceWithVIDPID(o.vendor, o.product)
	if err != nil {
		return nil, classifyUSBError("open", err, PrinterIO)
	}
	if dev == nil {
		return nil, &PrinterError{Kind: PrinterNotFound, Op: "open", Err: fmt.Errorf("no usb device %s:%s", o.vendor, o.product)}
	}
	if err := dev.SetAutoDetach(true); err != nil {
		_ = dev.Close()
		return nil, classifyUSBError("detach kernel driver", err, PrinterIO)
	}

	cfg, err := dev.Config(1)
	if err != nil {
		_ = dev.Close()
		return nil, classifyUSBError("config", err, PrinterEndpoint)
	}
	intf, err := cfg.Interface(c.Interface, 0)
	if err != nil {
		_ = cfg.Close()
		_ = dev.Close()
		return nil, classifyUSBError("claim interface", err, PrinterEndpoint)
	}
	release := func() {
		intf.Close()
		_ = cfg.Close()
		_ = dev.Close()
	}
	ep, err := intf.OutEndpoint(outNum)
	if err != nil {
		release()
		return nil, classifyUSBError("out endpoint", err, PrinterEndpoint)
	}
	if _, err := intf.InEndpoint(inNum); err != nil {
		release()
		return nil, classifyUSBError("in endpoint", err, PrinterEndpoint)
	}
	return &usbLink{dev: dev, cfg: cfg, intf: intf, out: ep}, nil
}

func (o *usbOpener) Close() error {
	return o.ctx.Close()
}

type usbLink struct {
	dev  *gousb.Device
	cfg  *gousb.Config
	intf *gousb.Interface
	out  *gousb.OutEndpoint
}

func (l *usbLink) Write(ctx context.Context, p []byte) (int, error) {
	n, err := l.out.WriteContext(ctx, p)
	if err != nil {
		return n, classifyUSBError("write", err, PrinterIO)
	}
	return n, nil
}

func (l *usbLink) Close() error {
	l.intf.Close()
	err := l.cfg.Close()
	if derr := l.dev.Close(); err == nil {
		err = derr
	}
	return err
}

// classifyUSBError maps libusb failures onto printer error kinds; anything
// unrecognised gets fallback.
func classifyUSBError(op string, err error, fallback PrinterErrorKind) error {
	kind := fallback

	var uerr gousb.Error
	var status gousb.TransferStatus
	switch {
	case errors.As(err, &uerr):
		switch uerr {
		case gousb.ErrorAccess:
			kind = PrinterPermission
		case gousb.ErrorNotFound, gousb.ErrorNoDevice:
			kind = PrinterNotFound
		case gousb.ErrorIO, gousb.ErrorPipe, gousb.ErrorTimeout:
			kind = PrinterEndpoint
		}
	case errors.As(err, &status):
		switch status {
		case gousb.TransferStall, gousb.TransferError, gousb.TransferNoDevice:
			kind = PrinterEndpoint
		}
	}
	return &PrinterError{Kind: kind, Op: op, Err: err}
}
