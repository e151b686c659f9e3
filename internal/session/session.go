// Package session owns one accepted TCP connection: it splits the byte
// stream into frames, maintains the connection-local peer→IMEI mapping,
// dispatches each line to the codec, and drives the pipeline/store/
// publisher fan-out for accepted data frames.
package session

import (
	"context"
	"io"
	"net"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/fleettrack/ingestd/internal/codec"
	"github.com/fleettrack/ingestd/internal/geocode"
	"github.com/fleettrack/ingestd/internal/metrics"
	"github.com/fleettrack/ingestd/internal/pipeline"
	"github.com/fleettrack/ingestd/internal/publisher"
	"github.com/fleettrack/ingestd/internal/store"
)

const (
	readBufferSize = 4096
	previewLength  = 80

	unknownDeviceTag = "UNKNOWN_DEVICE"
)

var pureDelimiters = map[string]bool{"AAAA": true, "HHHH": true}

// Deps is the set of shared services a connection session fans frames out
// to; one instance is built by the listener orchestrator and handed to
// every connection task.
type Deps struct {
	Store     store.TelemetryStore
	Services  *pipeline.Services
	Publisher *publisher.Publisher
	Geocoder  *geocode.Client
	Metrics   *metrics.Metrics
	Log       *logrus.Entry

	// Protocol tags every device row written by this listener, and labels
	// the publication payload. Alert rows do not carry it.
	Protocol string
}

// Session reads one TCP connection to completion, tracking the IMEI
// learned for this connection's peer address.
type Session struct {
	deps Deps
	conn net.Conn
	peer string
	id   string

	mu   sync.Mutex
	imei string
}

// New builds a Session bound to conn.
func New(deps Deps, conn net.Conn) *Session {
	return &Session{deps: deps, conn: conn, peer: conn.RemoteAddr().String(), id: uuid.NewString()}
}

// Run reads conn until EOF, a transport error, or ctx cancellation,
// dispatching every accepted line. It returns nothing: read errors other
// than EOF are logged, and the caller only learns that the session has
// ended.
func (s *Session) Run(ctx context.Context) {
	log := s.deps.Log.WithFields(logrus.Fields{"peer": s.peer, "conn_id": s.id})
	log.Info("connection accepted")
	defer s.conn.Close()
	defer log.Info("connection closed")

	buf := make([]byte, 0, readBufferSize)
	chunk := make([]byte, readBufferSize)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		n, err := s.conn.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			var lines []string
			lines, buf = splitLines(buf)
			for _, line := range lines {
				s.dispatch(ctx, log, line)
			}
		}
		if err != nil {
			if err != io.EOF {
				log.WithError(err).Warn("connection read error")
			}
			return
		}
	}
}

// splitLines extracts every complete CR/LF-terminated line from buf,
// returning them along with the unterminated residue.
func splitLines(buf []byte) (lines []string, residue []byte) {
	start := 0
	for i, b := range buf {
		if b == '\n' || b == '\r' {
			if i > start {
				lines = append(lines, string(buf[start:i]))
			}
			start = i + 1
		}
	}
	residue = append([]byte(nil), buf[start:]...)
	return lines, residue
}

func (s *Session) dispatch(ctx context.Context, log *logrus.Entry, rawLine string) {
	line := strings.TrimSpace(rawLine)
	if line == "" {
		return
	}
	if pureDelimiters[line] {
		return
	}

	result, err := codec.ParseLine(line)
	if err != nil {
		s.deps.Metrics.IncDecodeError()
		log.WithField("preview", preview(line)).WithError(err).Warn("frame decode error")
		return
	}

	switch {
	case result.System:
		s.deps.Metrics.IncSystemFrame()
		log.WithField("preview", preview(line)).Info("system frame acknowledged")
	case result.Info != nil:
		s.handleInfo(ctx, log, result.Info)
	case result.Frame != nil:
		s.handleData(ctx, log, result.Frame)
	}
}

func (s *Session) handleInfo(ctx context.Context, log *logrus.Entry, info *codec.InfoFrame) {
	if err := s.deps.Store.UpsertDeviceFromInfo(ctx, info, s.deps.Protocol); err != nil {
		log.WithField("imei", info.IMEI).WithError(err).Warn("store failure on device upsert")
	}
	s.setIMEI(info.IMEI)
	log.WithFields(logrus.Fields{"imei": info.IMEI, "mat": info.MAT}).Info("device identified")
}

func (s *Session) handleData(ctx context.Context, log *logrus.Entry, frame *codec.Frame) {
	s.deps.Metrics.IncFrameDecoded()

	imei := s.getIMEI()
	if imei == "" {
		s.storeUnknownDevice(ctx, log, frame)
		return
	}

	deviceID, ok, err := s.deps.Store.GetDeviceID(ctx, imei)
	if err != nil || !ok {
		deviceID, err = s.deps.Store.EnsureDevice(ctx, imei, s.deps.Protocol, store.DeviceMetadata{})
		if err != nil {
			log.WithField("imei", imei).WithError(err).Warn("store failure resolving device")
			s.deps.Metrics.IncStoreFailure()
			return
		}
	}

	vehicleInfo, err := s.deps.Store.GetDeviceVehicleInfo(ctx, deviceID)
	if err != nil {
		log.WithField("device_uid", deviceID).WithError(err).Warn("store failure resolving vehicle info")
	}

	last, err := s.deps.Store.GetLastPosition(ctx, deviceID)
	if err != nil {
		log.WithField("device_uid", deviceID).WithError(err).Warn("store failure resolving last position")
	}

	outcome, accepted := s.deps.Services.Process(ctx, deviceID, vehicleInfo.CompanyID, vehicleInfo.VehicleID, frame, last)
	if !accepted {
		s.deps.Metrics.IncDropped()
		return
	}

	if addr, err := s.deps.Geocoder.Reverse(ctx, outcome.Frame.Latitude, outcome.Frame.Longitude); err != nil {
		log.WithField("device_uid", deviceID).WithError(err).Warn("geocoder failure")
	} else {
		outcome.Frame.Address = addr
	}

	s.persist(ctx, log, deviceID, imei, outcome)

	if err := s.deps.Publisher.PublishFrame(ctx, imei, s.deps.Protocol, outcome.Frame); err != nil {
		log.WithField("device_uid", deviceID).WithError(err).Warn("publish failure")
		s.deps.Metrics.IncPublishFailure()
	}
}

func (s *Session) storeUnknownDevice(ctx context.Context, log *logrus.Entry, frame *codec.Frame) {
	eventKey := store.EventKey(unknownDeviceTag, frame.RecordedAt, frame.Latitude, frame.Longitude)
	if err := s.deps.Store.InsertPosition(ctx, "", frame, eventKey, false); err != nil {
		log.WithError(err).Warn("store failure on unknown-device position")
		s.deps.Metrics.IncStoreFailure()
	}
	s.deps.Metrics.IncUnknownDevice()
}

func (s *Session) persist(ctx context.Context, log *logrus.Entry, deviceID, imei string, outcome *pipeline.Outcome) {
	eventKey := store.EventKey(imei, outcome.Frame.RecordedAt, outcome.Frame.Latitude, outcome.Frame.Longitude)
	if err := s.deps.Store.InsertPosition(ctx, deviceID, outcome.Frame, eventKey, false); err != nil {
		log.WithField("device_uid", deviceID).WithError(err).Warn("store failure on position insert")
		s.deps.Metrics.IncStoreFailure()
	}

	if outcome.AlertLabel != "" {
		if err := s.deps.Store.InsertAlert(ctx, deviceID, outcome.AlertLabel, outcome.AlertSeverity, outcome.Frame); err != nil {
			log.WithField("device_uid", deviceID).WithError(err).Warn("store failure on alert insert")
		}
	}
	if outcome.Stop != nil {
		if err := s.deps.Store.InsertVehicleStop(ctx, *outcome.Stop); err != nil {
			log.WithField("device_uid", deviceID).WithError(err).Warn("store failure on vehicle stop insert")
		}
	}
	if outcome.Trip != nil {
		if err := s.deps.Store.InsertTrip(ctx, *outcome.Trip); err != nil {
			log.WithField("device_uid", deviceID).WithError(err).Warn("store failure on trip insert")
		}
	}
	for _, ev := range outcome.FuelEvents {
		if err := s.deps.Store.InsertFuelRecord(ctx, ev); err != nil {
			log.WithField("device_uid", deviceID).WithError(err).Warn("store failure on fuel record insert")
		}
	}
	for _, ev := range outcome.GeofenceEvents {
		if err := s.deps.Store.InsertGeofenceEvent(ctx, ev); err != nil {
			log.WithField("device_uid", deviceID).WithError(err).Warn("store failure on geofence event insert")
		}
	}
	for _, ev := range outcome.DrivingEvents {
		if err := s.deps.Store.InsertDrivingEvent(ctx, ev); err != nil {
			log.WithField("device_uid", deviceID).WithError(err).Warn("store failure on driving event insert")
		}
	}
	for _, ip := range outcome.Interpolated {
		interpFrame := *outcome.Frame
		interpFrame.Latitude, interpFrame.Longitude = ip.Lat, ip.Lng
		interpFrame.RecordedAt = ip.RecordedAt
		interpFrame.SpeedKPH, interpFrame.HeadingDeg, interpFrame.IgnitionOn = ip.SpeedKPH, ip.HeadingDeg, ip.IgnitionOn
		ek := store.EventKey(imei, ip.RecordedAt, ip.Lat, ip.Lng)
		if err := s.deps.Store.InsertPosition(ctx, deviceID, &interpFrame, ek, true); err != nil {
			log.WithField("device_uid", deviceID).WithError(err).Warn("store failure on interpolated position insert")
		}
	}
}

func (s *Session) setIMEI(imei string) {
	s.mu.Lock()
	s.imei = imei
	s.mu.Unlock()
}

func (s *Session) getIMEI() string {
	s.mu.Lock()
	v := s.imei
	s.mu.Unlock()
	return v
}

func preview(line string) string {
	if len(line) <= previewLength {
		return line
	}
	return line[:previewLength] + "…"
}
