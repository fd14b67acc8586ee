// Copyright (c) 2020–2024 The bode developers. All rights reserved.
// Project site: https://github.com/gotmc/bode
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

// Package prologix drives a Prologix (or AR488) USB-GPIB controller so that a
// GPIB instrument can be used wherever a scpi.Conn is expected.
package prologix

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/gotmc/bode/lib/scpi"
)

// Controller models a GPIB controller-in-charge.
type Controller struct {
	rw               io.ReadWriter
	r                *bufio.Reader
	primaryAddr      int
	hasSecondaryAddr bool
	secondaryAddr    int
	auto             bool
	usbTerm          byte
	eotChar          byte
	debug            bool // if true, log controller commands before sending. Set via WithDebug().
	ar488            bool // compatibility with Arduino AR488 - see WithAR488 documentation for details.
	writeDelay       time.Duration
	lastWrite        time.Time
}

var _ scpi.Conn = (*Controller)(nil)

// ControllerOption applies an option to the controller.
type ControllerOption func(*Controller)

// NewController creates a GPIB controller-in-charge at the given address using
// the given Prologix driver, which can either be a Virtual COM Port (VCP), USB
// direct, or Ethernet. Enable clear to send the Selected Device Clear (SDC)
// message to the GPIB address. Optionally controller configuration can be
// included using a ControllerOption.
func NewController(
	rw io.ReadWriter,
	addr int,
	clear bool,
	opts ...ControllerOption,
) (*Controller, error) {
	c := Controller{
		rw:          rw,
		r:           bufio.NewReader(rw),
		primaryAddr: addr,
		usbTerm:     '\n',
		eotChar:     '\n',
	}

	for _, opt := range opts {
		opt(&c)
	}

	if !isPrimaryAddressValid(c.primaryAddr) {
		return nil, fmt.Errorf("invalid primary address %d (must be 0-30)", c.primaryAddr)
	}

	addrCmd := fmt.Sprintf("addr %d", c.primaryAddr)
	if c.hasSecondaryAddr {
		if !isSecondaryAddressValid(c.secondaryAddr) {
			return nil, fmt.Errorf("invalid secondary address %d (must be 96-126)", c.secondaryAddr)
		}
		addrCmd = fmt.Sprintf("addr %d %d", c.primaryAddr, c.secondaryAddr)
	}
	cmds := []string{}
	if !c.ar488 {
		cmds = append(cmds,
			"verbose 0", // turn off verbosity if on
			"savecfg 0", // Disable saving of configuration parameters in EPROM
		)
	}
	cmds = append(cmds,
		addrCmd,           // Set the primary address.
		"mode 1",          // Switch to controller mode.
		"auto 0",          // Turn off read-after-write and address instrument to listen.
		"eoi 1",           // Enable EOI assertion with last character.
		"eos 0",           // Set GPIB termination.
		"read_tmo_ms 500", // Set the read timeout to 500 ms.
		fmt.Sprintf("eot_char %d", c.eotChar),
		"eot_enable 1", // Append eot_char when EOI is detected.
	)
	if !c.ar488 {
		cmds = append(cmds, "savecfg 1")
	}
	if clear {
		cmds = append(cmds, "clr")
	}
	for _, cmd := range cmds {
		if err := c.CommandController(cmd); err != nil {
			return nil, err
		}
	}

	return &c, nil
}

// WithSecondaryAddress sets a secondary address, which must be in the range of
// 96 and 126, inclusive.
func WithSecondaryAddress(addr int) ControllerOption {
	return func(c *Controller) {
		c.hasSecondaryAddr = true
		c.secondaryAddr = addr
	}
}

// WithDebug causes commands and responses to be logged.
func WithDebug() ControllerOption { return func(c *Controller) { c.debug = true } }

// WithAR488 slightly alters the init commands, for compatiblity with the
// Arduino-based AR488. Specifically, we do not emit 'verbose 0', nor do
// we toggle savecfg.
func WithAR488() ControllerOption { return func(c *Controller) { c.ar488 = true } }

// WithWriteDelay enforces a minimum gap between writes. Some older
// instruments drop commands that arrive back to back.
func WithWriteDelay(d time.Duration) ControllerOption {
	return func(c *Controller) { c.writeDelay = d }
}

func (c *Controller) write(s string) error {
	if c.writeDelay > 0 {
		if wait := time.Until(c.lastWrite.Add(c.writeDelay)); wait > 0 {
			time.Sleep(wait)
		}
		defer func() { c.lastWrite = time.Now() }()
	}
	_, err := io.WriteString(c.rw, s)
	return err
}

// Command formats according to a format specifier if provided and sends a
// SCPI/ASCII command to the instrument at the currently assigned GPIB address.
// All leading and trailing whitespace is removed before appending the USB
// terminator to the command sent to the Prologix.
func (c *Controller) Command(format string, a ...any) error {
	cmd := format
	if a != nil {
		cmd = fmt.Sprintf(format, a...)
	}
	cmd = fmt.Sprintf("%s%c", strings.TrimSpace(cmd), c.usbTerm)
	if c.debug {
		log.Debug().Str("cmd", cmd).Msg("prologix command")
	}
	return c.write(cmd)
}

// Query queries the instrument at the currently assigned GPIB using the given
// SCPI/ASCII command. The cmd string does not need to include a new line
// character, since all leading and trailing whitespace is removed before
// appending the USB terminator to the command sent to the Prologix. The
// response is returned without its terminator.
func (c *Controller) Query(cmd string) (string, error) {
	if err := c.ask(cmd); err != nil {
		return "", err
	}
	s, err := scpi.ReadLine(c.r, c.eotChar)
	if c.debug {
		log.Debug().Str("query", cmd).Str("resp", s).Msg("prologix query")
	}
	return s, err
}

// QueryBlock sends cmd and reads an IEEE 488.2 block response.
func (c *Controller) QueryBlock(cmd string) ([]byte, error) {
	if err := c.ask(cmd); err != nil {
		return nil, err
	}
	return scpi.ReadBlock(c.r)
}

// ask sends cmd and, if read-after-write is disabled, tells the Prologix
// controller to read the response.
func (c *Controller) ask(cmd string) error {
	if err := c.Command("%s", cmd); err != nil {
		return fmt.Errorf("error writing command: %w", err)
	}
	if !c.auto {
		const readCmd = "++read eoi"
		if err := c.write(fmt.Sprintf("%s%c", readCmd, c.usbTerm)); err != nil {
			return fmt.Errorf("error sending `%s` command: %w", readCmd, err)
		}
	}
	return nil
}

// QueryController sends the given command to the Prologix controller and
// returns its response as a string. To indicate this is a command for the
// Prologix controller, thereby not transmitting over GPIB, two plus signs `++`
// are prepended. Addtionally, a new line is appended to act as the USB
// termination character.
func (c *Controller) QueryController(cmd string) (string, error) {
	if err := c.CommandController(cmd); err != nil {
		return "", err
	}
	s, err := scpi.ReadLine(c.r, c.eotChar)
	if c.debug {
		log.Debug().Str("resp", s).Msg("prologix controller response")
	}
	return s, err
}

// CommandController sends the given command to the Prologix controller. To
// indicate this is a command for the Prologix controller, thereby not
// transmitting to the instrument over GPIB, two plus signs `++` are prepended.
// Addtionally, a new line is appended to act as the USB termination character.
func (c *Controller) CommandController(cmd string) error {
	cmd = fmt.Sprintf("++%s%c", strings.ToLower(strings.TrimSpace(cmd)), c.usbTerm)
	if c.debug {
		log.Debug().Str("cmd", cmd).Msg("prologix controller command")
	}
	return c.write(cmd)
}

// FrontPanel returns the instrument to local control when local is set,
// otherwise it locks out the front panel.
func (c *Controller) FrontPanel(local bool) error {
	if local {
		return c.CommandController("loc")
	}
	return c.CommandController("llo")
}

// Close closes the underlying port if it can be closed.
func (c *Controller) Close() error {
	if cl, ok := c.rw.(io.Closer); ok {
		return cl.Close()
	}
	return nil
}

// isPrimaryAddressValid checks that the primary GPIB address is between 0 and
// 30, inclusive.
func isPrimaryAddressValid(addr int) bool {
	return addr >= 0 && addr <= 30
}

// isSecondaryAddressValid checks that the secondary GPIB address is between 96
// and 126, inclusive.
func isSecondaryAddressValid(addr int) bool {
	return addr >= 96 && addr <= 126
}
