// Copyright 2026 The go-daq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command zebra-monitor connects to a Zebra unit (or the built-in
// simulator), arms position compare and prints decoded capture data
// until interrupted.
//
// Usage:
//
//	zebra-monitor -port /dev/ttyUSB0 -mask 0x011
//	zebra-monitor -port sim -mask 0x3FF
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-daq/zebra"
	"github.com/go-daq/zebra/internal/simulator"
	"github.com/go-daq/zebra/transport/uart"
)

// Register addresses used by the monitor.
const (
	regPCArm    = 0x8B
	regPCDisarm = 0x8C
	regPCBitCap = 0x9F
	regSysVer   = 0xF0
)

var (
	flagPort  string
	flagMask  string
	flagDebug bool
)

func init() {
	flag.StringVar(&flagPort, "port", "sim", "serial port path, or \"sim\" for the built-in simulator")
	flag.StringVar(&flagMask, "mask", "0x011", "capture mask (PC_BIT_CAP) as hex")
	flag.BoolVar(&flagDebug, "debug", false, "enable debug output")
}

func main() {
	flag.Parse()
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "zebra-monitor: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	if flagDebug {
		zebra.SetDebugEnabled(true)
	}

	mask, err := parseMask(flagMask)
	if err != nil {
		return err
	}

	var transport zebra.Transport
	if flagPort == "sim" {
		sim := simulator.New()
		sim.SetCaptureInterval(250 * time.Millisecond)
		transport = simulator.NewTransport(sim)
	} else {
		transport = uart.New(flagPort)
	}

	dev, err := zebra.New(transport, zebra.WithCaptureMask(mask))
	if err != nil {
		return err
	}
	if err := dev.Connect(); err != nil {
		return err
	}
	defer func() { _ = dev.Close() }()

	proto := dev.Protocol()

	version, err := proto.ReadRegister(regSysVer)
	if err != nil {
		return fmt.Errorf("reading SYS_VER: %w", err)
	}
	fmt.Printf("connected to Zebra, firmware version %#06x\n", version)

	if _, err := proto.WriteRegister(regPCBitCap, int(mask)); err != nil {
		return fmt.Errorf("setting capture mask: %w", err)
	}

	registerObservers(dev.Interrupts())

	if _, err := proto.WriteRegisterNoVerify(regPCArm, 1); err != nil {
		return fmt.Errorf("arming position compare: %w", err)
	}
	fmt.Printf("armed, capture mask %#05x; Ctrl-C to stop\n", mask)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	if _, err := proto.WriteRegisterNoVerify(regPCDisarm, 1); err != nil {
		return fmt.Errorf("disarming position compare: %w", err)
	}
	// Give the PX telegram a moment to arrive before shutdown.
	time.Sleep(200 * time.Millisecond)
	return nil
}

func registerObservers(h *zebra.InterruptHandler) {
	h.OnReset(func() error {
		fmt.Println("acquisition reset")
		return nil
	})
	h.OnEnd(func() error {
		fmt.Println("acquisition complete")
		return nil
	})
	h.OnData(func(p *zebra.DataPoint) error {
		fmt.Printf("t=%#010x", p.Timestamp)
		for f := zebra.FieldEncoder1; f <= zebra.FieldDiv4; f++ {
			if !p.Has(f) {
				continue
			}
			fmt.Printf(" %s=%s", f, fieldValue(p, f))
		}
		fmt.Println()
		return nil
	})
}

func fieldValue(p *zebra.DataPoint, f zebra.Field) string {
	switch f {
	case zebra.FieldEncoder1:
		return strconv.FormatInt(int64(p.Encoder1), 10)
	case zebra.FieldEncoder2:
		return strconv.FormatInt(int64(p.Encoder2), 10)
	case zebra.FieldEncoder3:
		return strconv.FormatInt(int64(p.Encoder3), 10)
	case zebra.FieldEncoder4:
		return strconv.FormatInt(int64(p.Encoder4), 10)
	case zebra.FieldSysbus1:
		return fmt.Sprintf("%#010x", p.Sysbus1)
	case zebra.FieldSysbus2:
		return fmt.Sprintf("%#010x", p.Sysbus2)
	case zebra.FieldDiv1:
		return strconv.FormatUint(uint64(p.Div1), 10)
	case zebra.FieldDiv2:
		return strconv.FormatUint(uint64(p.Div2), 10)
	case zebra.FieldDiv3:
		return strconv.FormatUint(uint64(p.Div3), 10)
	case zebra.FieldDiv4:
		return strconv.FormatUint(uint64(p.Div4), 10)
	}
	return "?"
}

func parseMask(s string) (zebra.CaptureMask, error) {
	v, err := strconv.ParseUint(s, 0, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid capture mask %q: %w", s, err)
	}
	if v > uint64(zebra.CaptureMaskAll) {
		return 0, fmt.Errorf("capture mask %#x has bits above the ten defined fields", v)
	}
	return zebra.CaptureMask(v), nil
}
