package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/danghamo/haulnav/internal/api/middleware"
	"github.com/danghamo/haulnav/internal/domain/shared"
	"github.com/danghamo/haulnav/internal/geolocation"
	"github.com/danghamo/haulnav/pkg/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
)

// Device stream message types
const (
	DeviceMessagePosition = "position"
	DeviceMessageError    = "error"
	DeviceMessageAck      = "ack"
)

// DeviceMessage is one frame sent by the carrier device
type DeviceMessage struct {
	Type       string    `json:"type"`
	Seq        int64     `json:"seq"`
	DealID     string    `json:"deal_id"`
	Lat        float64   `json:"lat,omitempty"`
	Lng        float64   `json:"lng,omitempty"`
	SpeedKmh   float64   `json:"speed_kmh,omitempty"`
	HeadingDeg float64   `json:"heading_deg,omitempty"`
	AccuracyM  float64   `json:"accuracy_m,omitempty"`
	Timestamp  time.Time `json:"timestamp,omitempty"`
	Code       string    `json:"code,omitempty"`
	Message    string    `json:"message,omitempty"`
}

// DeviceAck answers each DeviceMessage
type DeviceAck struct {
	Type  string     `json:"type"`
	Seq   int64      `json:"seq"`
	OK    bool       `json:"ok"`
	Error *ErrorData `json:"error,omitempty"`
}

// Limiter decides whether a client may send another frame
type Limiter interface {
	Allow(key string) bool
}

// DeviceStream accepts a websocket from the carrier app and feeds its
// frames into the running navigation. Every frame is acknowledged.
type DeviceStream struct {
	logger    *logger.Logger
	navigator Navigator
	limiter   Limiter
	upgrader  websocket.Upgrader
}

// NewDeviceStream creates the device stream. allowedOrigins empty accepts
// any origin; limiter may be nil.
func NewDeviceStream(logger *logger.Logger, navigator Navigator, limiter Limiter, allowedOrigins []string) *DeviceStream {
	origins := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		origins[o] = struct{}{}
	}

	return &DeviceStream{
		logger:    logger.WithComponent("device-stream"),
		navigator: navigator,
		limiter:   limiter,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" || len(origins) == 0 {
					return true
				}
				_, ok := origins[origin]
				if !ok {
					_, ok = origins["*"]
				}
				return ok
			},
		},
	}
}

// ServeHTTP handles GET /api/v1/stream/device
func (s *DeviceStream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	carrierID, ok := middleware.GetUserID(r.Context())
	if !ok {
		http.Error(w, "Authentication required", http.StatusUnauthorized)
		return
	}
	if role, _ := middleware.GetUserRole(r.Context()); role != shared.RoleCarrier {
		http.Error(w, "Carrier role required", http.StatusForbidden)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("Websocket upgrade failed", zap.Error(err))
		return
	}

	log := s.logger.WithUserID(carrierID)
	log.Info("Device connected")
	s.serve(conn, carrierID, log)
	log.Info("Device disconnected")
}

func (s *DeviceStream) serve(conn *websocket.Conn, carrierID string, log *logger.Logger) {
	defer conn.Close()

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	acks := make(chan DeviceAck, 16)
	done := make(chan struct{})
	go s.writeLoop(conn, acks, done, log)
	defer func() {
		close(acks)
		<-done
	}()

	for {
		var msg DeviceMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn("Device stream read failed", zap.Error(err))
			}
			return
		}

		select {
		case acks <- s.handle(carrierID, msg):
		case <-done:
			return
		}
	}
}

// handle applies one frame and builds its ack
func (s *DeviceStream) handle(carrierID string, msg DeviceMessage) DeviceAck {
	ack := DeviceAck{Type: DeviceMessageAck, Seq: msg.Seq, OK: true}

	var err error
	switch {
	case msg.DealID == "":
		err = shared.ErrInvalidInput("deal_id is required")
	case s.limiter != nil && !s.limiter.Allow("device:"+carrierID):
		ack.OK = false
		ack.Error = &ErrorData{Code: "RATE_LIMITED", Retryable: true}
		return ack
	case msg.Type == DeviceMessagePosition:
		err = s.navigator.ReportPosition(msg.DealID, carrierID, ReportPositionRequest{
			DealID:     msg.DealID,
			Lat:        msg.Lat,
			Lng:        msg.Lng,
			SpeedKmh:   msg.SpeedKmh,
			HeadingDeg: msg.HeadingDeg,
			AccuracyM:  msg.AccuracyM,
			Timestamp:  msg.Timestamp,
		}.Fix())
	case msg.Type == DeviceMessageError:
		err = s.navigator.ReportError(msg.DealID, carrierID, geolocation.ParseErrorCode(msg.Code), msg.Message)
	default:
		err = shared.NewDomainErrorf(shared.ErrCodeInvalidInput, "unknown message type %q", msg.Type)
	}

	if err != nil {
		ack.OK = false
		ack.Error = ackError(err)
		if shared.ErrorCode(err) == 0 {
			s.logger.Error("Device frame failed", zap.String("dealId", msg.DealID), zap.Error(err))
		}
	}
	return ack
}

func ackError(err error) *ErrorData {
	code := shared.ErrorCode(err)
	if code == 0 {
		return &ErrorData{Code: "INTERNAL_ERROR"}
	}
	return &ErrorData{Code: shared.CodeName(code)}
}

// writeLoop is the only writer on conn
func (s *DeviceStream) writeLoop(conn *websocket.Conn, acks <-chan DeviceAck, done chan<- struct{}, log *logger.Logger) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		close(done)
	}()

	for {
		select {
		case ack, ok := <-acks:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := conn.WriteJSON(ack); err != nil {
				if !errors.Is(err, websocket.ErrCloseSent) {
					log.Debug("Device ack write failed", zap.Error(err))
				}
				// unblock the reader
				_ = conn.Close()
				drain(acks)
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = conn.Close()
				drain(acks)
				return
			}
		}
	}
}

func drain(acks <-chan DeviceAck) {
	for range acks {
	}
}
