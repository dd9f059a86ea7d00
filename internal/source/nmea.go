package source

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/banshee-data/fleettrack/internal/monitoring"
	"github.com/banshee-data/fleettrack/internal/position"
	"github.com/banshee-data/fleettrack/internal/timeutil"
	"github.com/banshee-data/fleettrack/internal/units"
)

var nmeaLogf = monitoring.Component("source/nmea")

// NMEA parse errors.
var (
	ErrNotRMC      = errors.New("nmea: not an RMC sentence")
	ErrBadChecksum = errors.New("nmea: checksum mismatch")
	ErrNoFix       = errors.New("nmea: receiver has no fix")
	ErrMalformed   = errors.New("nmea: malformed sentence")
)

// ParseRMC parses a $--RMC sentence into a report for entityID. The
// checksum is verified when present. Speed is converted from knots to km/h.
func ParseRMC(line, entityID string) (position.Report, error) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "$") || len(line) < 7 || line[3:6] != "RMC" {
		return position.Report{}, ErrNotRMC
	}
	body := line[1:]
	if star := strings.IndexByte(body, '*'); star >= 0 {
		want, err := strconv.ParseUint(body[star+1:], 16, 8)
		if err != nil {
			return position.Report{}, ErrBadChecksum
		}
		body = body[:star]
		var sum byte
		for i := 0; i < len(body); i++ {
			sum ^= body[i]
		}
		if uint64(sum) != want {
			return position.Report{}, ErrBadChecksum
		}
	}

	f := strings.Split(body, ",")
	if len(f) < 10 {
		return position.Report{}, ErrMalformed
	}
	if f[2] != "A" {
		return position.Report{}, ErrNoFix
	}
	lat, err := parseCoord(f[3], f[4], 2)
	if err != nil {
		return position.Report{}, err
	}
	lng, err := parseCoord(f[5], f[6], 3)
	if err != nil {
		return position.Report{}, err
	}

	r := position.Report{EntityID: entityID, Latitude: lat, Longitude: lng}
	if f[7] != "" {
		knots, err := strconv.ParseFloat(f[7], 64)
		if err != nil {
			return position.Report{}, fmt.Errorf("%w: speed %q", ErrMalformed, f[7])
		}
		r.Speed = units.FromKnots(knots)
	}
	if f[8] != "" {
		course, err := strconv.ParseFloat(f[8], 64)
		if err != nil {
			return position.Report{}, fmt.Errorf("%w: course %q", ErrMalformed, f[8])
		}
		r.Heading = &course
	}
	if ts, err := parseRMCTime(f[1], f[9]); err == nil {
		r.FirmTime = ts
	}
	return r, nil
}

// parseCoord converts (d)ddmm.mmmm plus hemisphere to signed degrees.
func parseCoord(v, hemi string, degDigits int) (float64, error) {
	if len(v) < degDigits+2 {
		return 0, fmt.Errorf("%w: coordinate %q", ErrMalformed, v)
	}
	deg, err := strconv.Atoi(v[:degDigits])
	if err != nil {
		return 0, fmt.Errorf("%w: coordinate %q", ErrMalformed, v)
	}
	minutes, err := strconv.ParseFloat(v[degDigits:], 64)
	if err != nil {
		return 0, fmt.Errorf("%w: coordinate %q", ErrMalformed, v)
	}
	out := float64(deg) + minutes/60
	switch hemi {
	case "N", "E":
	case "S", "W":
		out = -out
	default:
		return 0, fmt.Errorf("%w: hemisphere %q", ErrMalformed, hemi)
	}
	return out, nil
}

func parseRMCTime(hms, dmy string) (time.Time, error) {
	if len(hms) < 6 || len(dmy) != 6 {
		return time.Time{}, ErrMalformed
	}
	return time.Parse("020106150405", dmy+hms[:6])
}

// NMEA is a push source reading RMC fixes for one entity from a serial GPS
// receiver. Every valid fix is published as a batch of one.
type NMEA struct {
	Hub

	EntityID string
	Path     string
	Options  PortOptions
	Open     SerialPortOpener
	Clock    timeutil.Clock

	mu     sync.Mutex
	port   SerialPorter
	cancel context.CancelFunc
	done   chan struct{}
}

// NewNMEA returns a source reading path for entityID.
func NewNMEA(entityID, path string, opts PortOptions) *NMEA {
	return &NMEA{EntityID: entityID, Path: path, Options: opts, Open: OpenSerialPort}
}

// Connect opens the port and starts the monitor loop.
func (n *NMEA) Connect(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.cancel != nil {
		return nil
	}
	open := n.Open
	if open == nil {
		open = OpenSerialPort
	}
	port, err := open(n.Path, n.Options)
	if err != nil {
		return err
	}
	runCtx, cancel := context.WithCancel(ctx)
	n.port, n.cancel, n.done = port, cancel, make(chan struct{})
	n.SetConnected(true)
	go n.monitor(runCtx, port, n.done)
	return nil
}

func (n *NMEA) monitor(ctx context.Context, port SerialPorter, done chan struct{}) {
	defer close(done)
	defer n.SetConnected(false)

	clock := n.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	scan := bufio.NewScanner(port)
	for scan.Scan() {
		if ctx.Err() != nil {
			return
		}
		r, err := ParseRMC(scan.Text(), n.EntityID)
		if err != nil {
			if !errors.Is(err, ErrNotRMC) && !errors.Is(err, ErrNoFix) {
				nmeaLogf("%s: %v", n.Path, err)
			}
			continue
		}
		r.ServerTime = clock.Now()
		n.Publish([]position.Report{r})
	}
	if err := scan.Err(); err != nil && ctx.Err() == nil {
		nmeaLogf("%s: read: %v", n.Path, err)
	}
}

// Disconnect closes the port and waits for the monitor loop.
func (n *NMEA) Disconnect() error {
	n.mu.Lock()
	cancel, done, port := n.cancel, n.done, n.port
	n.cancel, n.port = nil, nil
	n.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	err := port.Close()
	<-done
	return err
}
