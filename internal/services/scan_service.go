package services

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"transit-ticket/internal/credential"
	"transit-ticket/internal/messaging"
	"transit-ticket/internal/status"
	"transit-ticket/models"
	"transit-ticket/monitoring"
	"transit-ticket/utils"
)

// TicketLookup is the read side of the lifecycle engine used by scans.
type TicketLookup interface {
	LookupAt(ctx context.Context, id string, now time.Time) (*models.Ticket, error)
	Now() time.Time
}

type CredentialResolver interface {
	Resolve(raw string) (credential.Resolution, error)
}

type ScanServiceOptions struct {
	RequestTopic   string
	ResponsePrefix string
	PublishTimeout time.Duration
	Breaker        *utils.CircuitBreaker
	Monitor        *monitoring.Monitor
	Logger         *slog.Logger
}

// ScanService answers device scan requests. It holds no per-request state;
// every message is handled on its own goroutine.
type ScanService struct {
	tickets   TicketLookup
	resolver  CredentialResolver
	publisher messaging.Publisher
	opts      ScanServiceOptions
	logger    *slog.Logger
	wg        sync.WaitGroup
}

func NewScanService(tickets TicketLookup, resolver CredentialResolver, publisher messaging.Publisher, opts ScanServiceOptions) *ScanService {
	if opts.ResponsePrefix == "" {
		opts.ResponsePrefix = "bc/tickets/scan/resp"
	}
	if opts.PublishTimeout <= 0 {
		opts.PublishTimeout = 5 * time.Second
	}
	if opts.Breaker == nil {
		opts.Breaker = NewStoreBreaker(utils.BreakerSettings{})
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &ScanService{
		tickets:   tickets,
		resolver:  resolver,
		publisher: publisher,
		opts:      opts,
		logger:    logger.With("component", "scan"),
	}
}

// Run consumes msgs until ctx is done or msgs is closed, then waits for
// in-flight handlers.
func (s *ScanService) Run(ctx context.Context, msgs <-chan messaging.Message) {
	// Handlers outlive the loop so a scan that was accepted still gets
	// its response during shutdown.
	handlerCtx := context.WithoutCancel(ctx)

	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			return
		case msg, ok := <-msgs:
			if !ok {
				s.wg.Wait()
				return
			}
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				s.Handle(handlerCtx, msg)
			}()
		}
	}
}

// Handle processes one scan request. Errors never escape: the device gets
// ok=false with a reason, and malformed input is dropped.
func (s *ScanService) Handle(ctx context.Context, msg messaging.Message) {
	if s.opts.RequestTopic != "" && msg.Topic != s.opts.RequestTopic {
		return
	}

	var req models.ScanRequest
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		s.logger.Debug("Dropping malformed scan request", "topic", msg.Topic, "error", err)
		s.opts.Monitor.TrackScan("malformed")
		return
	}

	deviceID := DeviceID(req.DeviceID)
	reqID := req.ReqID
	if reqID == "" {
		reqID = strings.ReplaceAll(uuid.NewString(), "-", "")
	}

	resp, ticketID := s.evaluate(ctx, req, reqID, deviceID)

	topic := s.opts.ResponsePrefix + "/" + deviceID
	pubCtx, cancel := context.WithTimeout(ctx, s.opts.PublishTimeout)
	defer cancel()
	if err := s.publisher.Publish(pubCtx, topic, resp, false); err != nil {
		s.logger.Error("Failed to publish scan response",
			"req_id", reqID,
			"device_id", deviceID,
			"ticket_id", ticketID,
			"error", err,
		)
		s.opts.Monitor.TrackPublishFailure("scan_response")
	}
}

func (s *ScanService) evaluate(ctx context.Context, req models.ScanRequest, reqID, deviceID string) (models.ScanResponse, string) {
	raw := req.Credential()
	if strings.TrimSpace(raw) == "" {
		s.opts.Monitor.TrackScan(models.ReasonInvalid)
		return models.NewScanFailure(reqID, models.ReasonInvalid), ""
	}

	res, err := s.resolver.Resolve(raw)
	if err != nil {
		s.logger.Info("Rejected scan credential", "req_id", reqID, "device_id", deviceID, "error", err)
		s.opts.Monitor.TrackScan(models.ReasonInvalid)
		return models.NewScanFailure(reqID, models.ReasonInvalid), ""
	}

	now := s.tickets.Now()
	result, err := s.opts.Breaker.Execute(ctx, func() (any, error) {
		t, err := s.tickets.LookupAt(ctx, res.TicketID, now)
		if errors.Is(err, status.ErrTicketNotFound) {
			return nil, nil
		}
		return t, err
	})
	if err != nil {
		s.logger.Error("Ticket lookup failed", "req_id", reqID, "device_id", deviceID, "ticket_id", res.TicketID, "error", err)
		s.opts.Monitor.TrackScan(models.ReasonError)
		return models.NewScanFailure(reqID, models.ReasonError), res.TicketID
	}

	t, _ := result.(*models.Ticket)
	if t == nil || (res.Verified && res.OwnerID != "" && res.OwnerID != t.OwnerID) {
		s.opts.Monitor.TrackScan(models.ReasonInvalid)
		return models.NewScanFailure(reqID, models.ReasonInvalid), res.TicketID
	}

	s.logger.Info("Scan answered",
		"req_id", reqID,
		"device_id", deviceID,
		"ticket_id", t.ID,
		"status", t.Status,
		"verified", res.Verified,
	)
	s.opts.Monitor.TrackScan("valid")
	return models.NewScanSuccess(reqID, t, now), t.ID
}

// NewStoreBreaker guards scan-time lookups. Only transient store failures
// count against it; a missing or expired ticket is a healthy answer.
func NewStoreBreaker(st utils.BreakerSettings) *utils.CircuitBreaker {
	st.IsSuccessful = func(err error) bool {
		return !errors.Is(err, status.ErrTransientStore)
	}
	return utils.NewCircuitBreakerWithSettings("ticket-store", st)
}

// DeviceID cleans a device id for use as a topic segment. MQTT wildcard
// characters are not allowed in a publish topic.
func DeviceID(raw string) string {
	id := strings.TrimSpace(raw)
	if id == "" || strings.ContainsAny(id, "+#") {
		return models.UnknownDevice
	}
	return id
}
