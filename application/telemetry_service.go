package application

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const DefaultReportInterval = 30 * time.Second

// TelemetrySession is the part of TelemetryClient the service drives.
type TelemetrySession interface {
	Connect(ctx context.Context) error
	Disconnect() error
	Close() error
	Wait()

	Attach(deviceID string, consumer Consumer) error
	Status() ClientStatus
}

type TelemetryService interface {
	Run(ctx context.Context) error
}

type TelemetryServiceParams struct {
	Session   TelemetrySession
	Consumers map[string]Consumer

	ReportInterval time.Duration

	Log zerolog.Logger
}

type telemetryService struct {
	params TelemetryServiceParams

	log zerolog.Logger
}

func NewTelemetryService(params TelemetryServiceParams) (TelemetryService, error) {
	if params.Session == nil {
		return nil, fmt.Errorf("Session is nil")
	}
	if params.ReportInterval == 0 {
		params.ReportInterval = DefaultReportInterval
	}
	return &telemetryService{params: params, log: params.Log}, nil
}

// Run attaches the configured consumers, connects, and keeps the session up
// until ctx is cancelled.
func (t telemetryService) Run(ctx context.Context) error {
	for deviceID, consumer := range t.params.Consumers {
		if err := t.params.Session.Attach(deviceID, consumer); err != nil {
			return err
		}
	}

	if err := t.params.Session.Connect(ctx); err != nil {
		return err
	}

	g := errgroup.Group{}

	// shutdown
	g.Go(func() error {
		<-ctx.Done()
		t.log.Info().Msg("stopping session")

		if err := t.params.Session.Disconnect(); err != nil {
			return err
		}
		if err := t.params.Session.Close(); err != nil {
			return err
		}
		t.params.Session.Wait()
		return nil
	})

	// status report
	g.Go(func() error {
		ticker := time.NewTicker(t.params.ReportInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				status := t.params.Session.Status()
				t.log.Info().
					Stringer("state", status.State).
					Int("devices", status.Devices).
					Uint64("routed", status.Router.Routed).
					Uint64("unmatched", status.Router.Unmatched).
					Uint64("discarded", status.Router.Discarded).
					Int("reconnect_attempts", status.Reconnect).
					Msg("session report")
			}
		}
	})

	return g.Wait()
}

var _ TelemetrySession = &TelemetryClient{}
