package find

import (
	"context"
	"fmt"
	"net"
	"regexp"
	"sort"
	"strconv"
	"time"

	"github.com/grandcat/zeroconf"
)

// ScpiRawService is the DNS-SD service type of a raw SCPI socket.
const ScpiRawService = "_scpi-raw._tcp"

// scpiRawPort is used when an announcement carries no port.
const scpiRawPort = 5555

// Service is an instrument announced over mDNS.
type Service struct {
	Instance string
	Host     string
	Addr     string // host:port to dial
	Text     []string
}

func (s Service) String() string {
	return fmt.Sprintf("%s (%s) at %s", s.Instance, s.Host, s.Addr)
}

type ServiceFilter func(Service) bool

// ds1000z matches a DS1000Z model name or serial number.
var ds1000z = regexp.MustCompile(`(?i)DS1\d{3}Z|DS1Z[A-Z]\d`)

// DS1000ZFilter matches Rigol DS1000Z oscilloscopes, which announce
// themselves as e.g. "RIGOL_DS1ZA000000001" or "DS1104Z Plus".
func DS1000ZFilter(s Service) bool {
	return ds1000z.MatchString(s.Instance) || ds1000z.MatchString(s.Host)
}

// browse is replaced in tests.
var browse = func(ctx context.Context, service string, entries chan *zeroconf.ServiceEntry) error {
	r, err := zeroconf.NewResolver(nil)
	if err != nil {
		return fmt.Errorf("mdns resolver: %w", err)
	}
	return r.Browse(ctx, service, "local.", entries)
}

// serviceFromEntry turns an announcement into a dialable address, preferring
// IPv4.
func serviceFromEntry(e *zeroconf.ServiceEntry) (Service, bool) {
	if e == nil {
		return Service{}, false
	}
	var host string
	switch {
	case len(e.AddrIPv4) > 0:
		host = e.AddrIPv4[0].String()
	case len(e.AddrIPv6) > 0:
		host = e.AddrIPv6[0].String()
	case e.HostName != "":
		host = e.HostName
	default:
		return Service{}, false
	}
	port := e.Port
	if port == 0 {
		port = scpiRawPort
	}
	return Service{
		Instance: e.Instance,
		Host:     e.HostName,
		Addr:     net.JoinHostPort(host, strconv.Itoa(port)),
		Text:     e.Text,
	}, true
}

// Browse collects the instruments announcing service for the duration of
// wait. If filter is not nil, only matching services are returned. The result
// is sorted by instance name.
func Browse(ctx context.Context, service string, wait time.Duration, filter ServiceFilter) ([]Service, error) {
	ctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry, 16)
	errc := make(chan error, 1)
	go func() { errc <- browse(ctx, service, entries) }()

	seen := map[string]bool{}
	var found []Service
	collect := func(e *zeroconf.ServiceEntry) {
		s, ok := serviceFromEntry(e)
		if !ok || seen[s.Addr] || (filter != nil && !filter(s)) {
			return
		}
		seen[s.Addr] = true
		found = append(found, s)
	}
loop:
	for {
		select {
		case e, ok := <-entries:
			if !ok {
				break loop
			}
			collect(e)
		case err := <-errc:
			if err != nil {
				return nil, err
			}
			errc = nil
		case <-ctx.Done():
			break loop
		}
	}
	sort.Slice(found, func(i, j int) bool { return found[i].Instance < found[j].Instance })
	return found, nil
}

// FindScope browses the local network for a DS1000Z oscilloscope and returns
// the address of the first one by name.
func FindScope(ctx context.Context, wait time.Duration) (string, error) {
	found, err := Browse(ctx, ScpiRawService, wait, DS1000ZFilter)
	if err != nil {
		return "", err
	}
	if len(found) == 0 {
		return "", fmt.Errorf("no oscilloscope announced %s within %s", ScpiRawService, wait)
	}
	return found[0].Addr, nil
}
