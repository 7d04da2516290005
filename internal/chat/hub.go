// Package chat implements a group chat with live user locations on top of
// text websocket connections.
//
// Clients send JSON requests. The first one must be
//
//	{"type":"connect","username":"alice"}
//
// Then any number of
//
//	{"type":"message","message":"hi"}
//	{"type":"location","lat":-6.2,"lon":106.8}
//
// Messages are stamped with the server time and delivered to every other
// connected user. Locations are delivered the same way; a joining user also
// gets the last known location of everyone else.
package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Errors reported by Hub.Serve.
var (
	ErrBadRequest    = errors.New("chat: bad request")
	ErrNotConnected  = errors.New("chat: first request must be connect")
	ErrEmptyUsername = errors.New("chat: empty username")
	ErrUsernameInUse = errors.New("chat: username is already in use")
	ErrUnknownType   = errors.New("chat: unknown request type")
	ErrSlowConsumer  = errors.New("chat: client is too slow")
	ErrMissingLatLon = errors.New("chat: location without lat or lon")
)

const (
	instrumentationID = "github.com/textws/ws/internal/chat"
	spanServe         = "Hub.Serve"
	spanHandle        = "Hub.Handle"
	attrSessionID     = "session.id"
	attrUsername      = "chat.username"
	attrRequestType   = "chat.request.type"
	attrRecipients    = "chat.recipients"
	eventJoined       = "Joined"
	metricUsers       = "chat_users_active"
	metricMessages    = "chat_messages_total"
	metricDropped     = "chat_dropped_sessions_total"
	defaultOutboxSize = 64
)

// Conn is a text message connection served by Hub.
type Conn interface {
	ReadText() (string, error)
	WriteText(string) error
	Close() error
}

// HubConfig holds Hub options.
type HubConfig struct {
	// OutboxSize is the number of messages queued for a session before the
	// session is dropped. Zero means 64.
	OutboxSize int

	// TracerProvider is used to create spans. If nil, the global provider
	// is used.
	TracerProvider trace.TracerProvider

	// MeterProvider is used to register hub metrics. If nil, the global
	// provider is used.
	MeterProvider metric.MeterProvider
}

// Hub keeps connected users and routes their messages.
type Hub struct {
	logger *zap.Logger
	tracer trace.Tracer
	outbox int
	now    func() time.Time

	mu        sync.Mutex
	sessions  map[string]*session // Keyed by username.
	locations map[string]Location

	messages atomic.Int64
	dropped  atomic.Int64
}

// NewHub creates empty hub. Nil logger disables logging.
func NewHub(cfg HubConfig, logger *zap.Logger) (*Hub, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	tp := cfg.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	mp := cfg.MeterProvider
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	outbox := cfg.OutboxSize
	if outbox <= 0 {
		outbox = defaultOutboxSize
	}
	h := &Hub{
		logger:    logger,
		tracer:    tp.Tracer(instrumentationID),
		outbox:    outbox,
		now:       time.Now,
		sessions:  make(map[string]*session),
		locations: make(map[string]Location),
	}
	if err := h.registerMetrics(mp.Meter(instrumentationID)); err != nil {
		return nil, err
	}
	return h, nil
}

func (h *Hub) registerMetrics(meter metric.Meter) error {
	_, err := meter.Int64ObservableGauge(metricUsers,
		metric.WithDescription("Number of joined users."),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(int64(h.Users()))
			return nil
		}),
	)
	if err != nil {
		return err
	}
	_, err = meter.Int64ObservableCounter(metricMessages,
		metric.WithDescription("Number of chat messages received from users."),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(h.messages.Load())
			return nil
		}),
	)
	if err != nil {
		return err
	}
	_, err = meter.Int64ObservableCounter(metricDropped,
		metric.WithDescription("Number of sessions dropped for not keeping up."),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(h.dropped.Load())
			return nil
		}),
	)
	return err
}

// Users returns number of joined users.
func (h *Hub) Users() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

// Serve runs the session of conn until it is closed or misbehaves. Serve
// closes conn before it returns.
//
// The returned error describes why the session has ended; clean client
// disconnect is reported as nil.
func (h *Hub) Serve(ctx context.Context, conn Conn) (err error) {
	s := &session{
		id:   uuid.New(),
		conn: conn,
		done: make(chan struct{}),
	}
	ctx, span := h.tracer.Start(ctx, spanServe, trace.WithSpanKind(trace.SpanKindServer), trace.WithAttributes(
		attribute.String(attrSessionID, s.id.String()),
	))
	defer span.End()

	log := h.logger.With(zap.Stringer("session", s.id))
	defer func() {
		conn.Close()
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			log.Debug("session ended", zap.Error(err))
		} else {
			span.SetStatus(codes.Ok, codes.Ok.String())
			log.Debug("session ended")
		}
	}()

	if err = h.join(s, log); err != nil {
		return err
	}
	span.SetAttributes(attribute.String(attrUsername, s.username))
	span.AddEvent(eventJoined)
	log = log.With(zap.String("username", s.username))
	log.Info("user joined")

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.writeLoop()
	}()
	defer func() {
		h.leave(s)
		s.stop()
		wg.Wait()
		log.Info("user left")
	}()

	for {
		text, rerr := conn.ReadText()
		if rerr != nil {
			return s.readError(rerr)
		}
		if herr := h.handle(ctx, s, text); herr != nil {
			// Malformed requests are skipped, the session goes on.
			log.Warn("bad request", zap.Error(herr))
		}
	}
}

// join reads the connect request of s and registers it.
func (h *Hub) join(s *session, log *zap.Logger) error {
	text, err := s.conn.ReadText()
	if err != nil {
		return err
	}
	req, err := parseRequest(text)
	if err != nil {
		return err
	}
	if req.Type != TypeConnect {
		return ErrNotConnected
	}
	if req.Username == "" {
		return ErrEmptyUsername
	}

	h.mu.Lock()
	if _, taken := h.sessions[req.Username]; taken {
		h.mu.Unlock()
		err = s.conn.WriteText(encode(ErrorMessage{
			Type:    TypeError,
			Message: TextUsernameInUse,
		}))
		if err != nil {
			log.Debug("username in use reply failed", zap.Error(err))
		}
		return ErrUsernameInUse
	}
	s.username = req.Username
	s.joined = h.now()

	// Snapshot is queued before s becomes visible to others, so it always
	// precedes their updates. Outbox has room for the whole snapshot on top
	// of the regular queue.
	s.outbox = make(chan string, len(h.locations)+h.outbox)
	for name, loc := range h.locations {
		if name != s.username {
			s.send(encode(loc))
		}
	}
	h.sessions[s.username] = s
	h.broadcastLocked(s, encode(ChatMessage{
		Username: s.username,
		Message:  TextJoined,
		Time:     s.joined.Format(timeLayout),
		Type:     TypeAnnouncement,
	}))
	h.mu.Unlock()

	return nil
}

func (h *Hub) leave(s *session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.sessions[s.username] == s {
		delete(h.sessions, s.username)
		delete(h.locations, s.username)
	}
}

// handle processes single request of joined session s.
func (h *Hub) handle(ctx context.Context, s *session, text string) (err error) {
	_, span := h.tracer.Start(ctx, spanHandle, trace.WithSpanKind(trace.SpanKindServer), trace.WithAttributes(
		attribute.String(attrSessionID, s.id.String()),
	))
	defer span.End()
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, codes.Ok.String())
		}
	}()

	req, err := parseRequest(text)
	if err != nil {
		return err
	}
	span.SetAttributes(attribute.String(attrRequestType, req.Type))

	var n int
	switch req.Type {
	case TypeMessage:
		h.messages.Add(1)
		n = h.broadcast(s, encode(ChatMessage{
			Username: s.username,
			Message:  req.Message,
			Time:     h.now().Format(timeLayout),
			Type:     TypeMessage,
		}))

	case TypeLocation:
		if req.Lat == nil || req.Lon == nil {
			return ErrMissingLatLon
		}
		loc := Location{
			Type:     TypeLocation,
			Username: s.username,
			Lat:      *req.Lat,
			Lon:      *req.Lon,
		}
		h.mu.Lock()
		h.locations[s.username] = loc
		n = h.broadcastLocked(s, encode(loc))
		h.mu.Unlock()

	default:
		return fmt.Errorf("%w: %q", ErrUnknownType, req.Type)
	}
	span.SetAttributes(attribute.Int(attrRecipients, n))

	return nil
}

func (h *Hub) broadcast(from *session, text string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.broadcastLocked(from, text)
}

// broadcastLocked queues text to every session except from. Sessions which
// outbox is full are dropped. It returns the number of recipients.
func (h *Hub) broadcastLocked(from *session, text string) (n int) {
	for name, s := range h.sessions {
		if s == from {
			continue
		}
		if s.send(text) {
			n++
			continue
		}
		h.logger.Warn("dropping slow client",
			zap.Stringer("session", s.id),
			zap.String("username", name),
		)
		delete(h.sessions, name)
		delete(h.locations, name)
		h.dropped.Add(1)
		s.kick()
	}
	return n
}
