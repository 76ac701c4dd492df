//go:build linux

package main

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// inputEvent is struct input_event from <linux/input.h> on 64-bit kernels.
type inputEvent struct {
	Sec   int64
	Usec  int64
	Type  uint16
	Code  uint16
	Value int32
}

// epollWaitMS is how often the reader wakes to check for cancellation.
const epollWaitMS = 200

// readInputEventsEpoll multiplexes all input devices on one goroutine and calls
// handle for each parsed event. It returns nil when ctx is canceled and an
// error when a device fails or hangs up.
func readInputEventsEpoll(ctx context.Context, files []*os.File, handle func(inputEvent)) error {
	if len(files) == 0 {
		return errors.New("no input devices provided")
	}

	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return fmt.Errorf("epoll_create1: %w", err)
	}
	defer unix.Close(epfd)

	fdToFile := make(map[int32]*os.File, len(files))
	for _, f := range files {
		fd := int(f.Fd())
		fdToFile[int32(fd)] = f
		ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(fd)}
		if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
			return fmt.Errorf("epoll_ctl_add %s: %w", f.Name(), err)
		}
	}

	ready := make([]unix.EpollEvent, 16)
	evSize := binary.Size(inputEvent{})
	buf := make([]byte, evSize*16)

	for {
		if ctx.Err() != nil {
			return nil
		}
		n, err := unix.EpollWait(epfd, ready, epollWaitMS)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return fmt.Errorf("epoll_wait: %w", err)
		}

		for i := 0; i < n; i++ {
			f := fdToFile[ready[i].Fd]
			if ready[i].Events&(unix.EPOLLERR|unix.EPOLLHUP) != 0 {
				return fmt.Errorf("device error/hangup: %s", f.Name())
			}

			// evdev reads always return whole events.
			m, err := f.Read(buf)
			if err != nil {
				return fmt.Errorf("read from %s: %w", f.Name(), err)
			}
			for off := 0; off+evSize <= m; off += evSize {
				var ev inputEvent
				if err := binary.Read(bytes.NewReader(buf[off:off+evSize]), binary.LittleEndian, &ev); err != nil {
					continue
				}
				handle(ev)
			}
		}
	}
}
