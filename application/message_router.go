package application

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/panics"
)

const MessageTypeMonitoring = "monitoring"

var errNotAnObject = fmt.Errorf("not a json object")

type TelemetryEnvelope struct {
	Type     string        `json:"type"`
	DeviceID string        `json:"deviceId"`
	Data     TelemetryData `json:"data"`
}

type TelemetryData struct {
	State TelemetryState `json:"state"`
}

type TelemetryState struct {
	Reported map[string]any `json:"reported"`
}

type RouterStatus struct {
	Routed    uint64
	Unmatched uint64
	Discarded uint64
}

type MessageRouterParams struct {
	Registry *SnapshotRegistry

	Log zerolog.Logger
}

// MessageRouter decodes broker messages and hands monitoring state to the
// consumer attached for the message's device.
type MessageRouter struct {
	registry *SnapshotRegistry

	routed    uint64
	unmatched uint64
	discarded uint64

	log zerolog.Logger
}

func NewMessageRouter(params MessageRouterParams) *MessageRouter {
	registry := params.Registry
	if registry == nil {
		registry = NewSnapshotRegistry()
	}
	return &MessageRouter{registry: registry, log: params.Log}
}

// Route handles a single message synchronously. It never returns an error:
// anything that cannot be delivered is logged and dropped.
func (r *MessageRouter) Route(topic string, payload []byte) {
	fields, err := decodeObject(payload)
	if err != nil {
		r.discard()
		r.log.Error().Err(err).Str("topic", topic).Msg("failed to parse message payload")
		return
	}

	msgType, err := stringField(fields, "type")
	if err != nil {
		r.discard()
		r.log.Error().Err(err).Str("topic", topic).Msg("failed to parse message type")
		return
	}

	if msgType != MessageTypeMonitoring {
		r.discard()
		r.log.Debug().Str("topic", topic).Str("type", msgType).Msg("ignoring message")
		return
	}

	envelope, err := decodeMonitoring(fields)
	if err != nil {
		r.discard()
		r.log.Error().Err(err).Str("topic", topic).Msg("malformed monitoring message")
		return
	}

	consumer, ok := r.registry.Lookup(envelope.DeviceID)
	if !ok {
		atomic.AddUint64(&r.unmatched, 1)
		return
	}

	reported := envelope.Data.State.Reported

	var pc panics.Catcher
	pc.Try(func() { consumer.Merge(reported) })
	if recovered := pc.Recovered(); recovered != nil {
		r.discard()
		r.log.Error().
			Str("device_id", envelope.DeviceID).
			Str("panic", recovered.String()).
			Msg("consumer panicked while merging state")
		return
	}

	atomic.AddUint64(&r.routed, 1)
}

func (r *MessageRouter) Status() RouterStatus {
	return RouterStatus{
		Routed:    atomic.LoadUint64(&r.routed),
		Unmatched: atomic.LoadUint64(&r.unmatched),
		Discarded: atomic.LoadUint64(&r.discarded),
	}
}

func (r *MessageRouter) discard() {
	atomic.AddUint64(&r.discarded, 1)
}

// decodeMonitoring reads the monitoring envelope by exact key. encoding/json
// alone would also accept "DeviceID" or "DEVICEID".
func decodeMonitoring(fields map[string]json.RawMessage) (TelemetryEnvelope, error) {
	deviceID, err := stringField(fields, "deviceId")
	if err != nil {
		return TelemetryEnvelope{}, err
	}
	if deviceID == "" {
		return TelemetryEnvelope{}, fmt.Errorf("missing field deviceId")
	}

	data, err := objectField(fields, "data")
	if err != nil {
		return TelemetryEnvelope{}, err
	}
	state, err := objectField(data, "state")
	if err != nil {
		return TelemetryEnvelope{}, err
	}

	raw, ok := state["reported"]
	if !ok {
		return TelemetryEnvelope{}, fmt.Errorf("missing field reported")
	}
	var reported map[string]any
	if err := json.Unmarshal(raw, &reported); err != nil {
		return TelemetryEnvelope{}, fmt.Errorf("field reported: %w", err)
	}
	if reported == nil {
		return TelemetryEnvelope{}, fmt.Errorf("field reported is null")
	}

	return TelemetryEnvelope{
		Type:     MessageTypeMonitoring,
		DeviceID: deviceID,
		Data:     TelemetryData{State: TelemetryState{Reported: reported}},
	}, nil
}

// decodeObject splits a JSON object into its raw members, keeping keys as
// written. Repeated keys are rejected.
func decodeObject(data []byte) (map[string]json.RawMessage, error) {
	dec := json.NewDecoder(bytes.NewReader(data))

	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, errNotAnObject
	}

	fields := make(map[string]json.RawMessage)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected token %v", tok)
		}

		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return nil, err
		}
		if _, dup := fields[key]; dup {
			return nil, fmt.Errorf("duplicate key %q", key)
		}
		fields[key] = value
	}

	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("unexpected data after object")
	}
	return fields, nil
}

func stringField(fields map[string]json.RawMessage, key string) (string, error) {
	raw, ok := fields[key]
	if !ok {
		return "", nil
	}

	var value string
	if err := json.Unmarshal(raw, &value); err != nil {
		return "", fmt.Errorf("field %s: %w", key, err)
	}
	return value, nil
}

func objectField(fields map[string]json.RawMessage, key string) (map[string]json.RawMessage, error) {
	raw, ok := fields[key]
	if !ok {
		return nil, fmt.Errorf("missing field %s", key)
	}

	obj, err := decodeObject(raw)
	if err != nil {
		return nil, fmt.Errorf("field %s: %w", key, err)
	}
	return obj, nil
}
