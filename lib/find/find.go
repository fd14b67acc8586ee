// Package find locates instruments: USB serial devices such as the function
// generator, and oscilloscopes announced over mDNS.
package find

import (
	"fmt"
	"strings"

	"go.bug.st/serial/enumerator"
)

type FilterFn func(*Usbtty) bool

// CH340Filter matches the WCH CH340 USB-serial bridge used by FeelElec
// generators.
func CH340Filter(ut *Usbtty) bool {
	return strings.EqualFold(ut.IDv, "1a86") && strings.EqualFold(ut.IDp, "7523")
}

func SerialFilter(s string) FilterFn {
	return func(ut *Usbtty) bool { return ut.Serial == s }
}

// ProductFilter matches devices whose product string contains substr.
func ProductFilter(substr string) FilterFn {
	return func(ut *Usbtty) bool { return strings.Contains(ut.Prod, substr) }
}

// listPorts is replaced in tests.
var listPorts = enumerator.GetDetailedPortsList

// Find searches for a usb serial device. If filter is not nil, it is used to
// narrow choices down. Exactly one device must remain.
func Find(filter FilterFn) (string, error) {
	ttys, err := AllUsbTtys()
	if err != nil {
		return "", err
	}
	if filter != nil {
		var matched Usbttys
		for i := range ttys {
			if filter(&ttys[i]) {
				matched = append(matched, ttys[i])
			}
		}
		ttys = matched
	}

	if len(ttys) == 0 {
		return "", fmt.Errorf("no matching ttys found")
	}
	if len(ttys) == 1 {
		return ttys[0].Dev, nil
	}
	return "", fmt.Errorf("multiple ttys:\n%s", ttys)
}

type Usbtty struct {
	Dev      string
	IDp, IDv string
	Prod     string
	Serial   string
}

func (u Usbtty) String() string {
	return fmt.Sprintf("dev %s pid/vid %s/%s prod %s serial %s", u.Dev, u.IDp, u.IDv, u.Prod, u.Serial)
}

type Usbttys []Usbtty

func (uts Usbttys) String() string {
	s := make([]string, 0, len(uts))
	for _, ut := range uts {
		s = append(s, ut.String())
	}
	return strings.Join(s, "\n")
}

// AllUsbTtys lists the serial ports that sit on a USB device.
func AllUsbTtys() (Usbttys, error) {
	ports, err := listPorts()
	if err != nil {
		return nil, fmt.Errorf("listing serial ports: %w", err)
	}
	var devs Usbttys
	for _, p := range ports {
		if p == nil || !p.IsUSB {
			continue
		}
		devs = append(devs, Usbtty{
			Dev:    p.Name,
			IDp:    p.PID,
			IDv:    p.VID,
			Prod:   p.Product,
			Serial: p.SerialNumber,
		})
	}
	return devs, nil
}
