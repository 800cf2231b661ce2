package engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/packlift/packlift/pkg/flow"
	"github.com/packlift/packlift/pkg/interaction"
	"github.com/packlift/packlift/pkg/netpolicy"
	"github.com/packlift/packlift/pkg/telemetry"
)

// selectAdapter picks the answer transport for the configured mode,
// constrained by what the network policy and listener toggle permit.
// The returned cleanup, when non-nil, must run after the flow
// finishes.
func (e *Engine) selectAdapter(logger *telemetry.Logger) (flow.Adapter, func(), error) {
	if e.adapter != nil {
		return e.adapter, nil, nil
	}

	mode, err := interaction.ParseMode(e.settings.Mode)
	if err != nil {
		return nil, nil, err
	}
	caps := interaction.BuildCapabilities(e.settings.AllowListeners, e.policy)
	modes, err := interaction.AdaptersForMode(mode, caps, e.settings.AnswersPath != "")
	if err != nil {
		return nil, nil, err
	}

	for _, m := range modes {
		switch m {
		case interaction.ModeJSON:
			if e.settings.AnswersPath == "" {
				continue
			}
			answers, err := loadAnswers(e.settings.AnswersPath)
			if err != nil {
				return nil, nil, err
			}
			return interaction.NewJSONAdapter(answers), nil, nil

		case interaction.ModeTerminal:
			if e.stdin == nil {
				return interaction.DenyAdapter{}, nil, nil
			}
			return interaction.NewTerminalAdapter(e.stdin, e.stdout), nil, nil

		case interaction.ModeHTTP:
			adapter, err := interaction.NewHTTPAdapter(interaction.HTTPAdapterConfig{
				Addr:    e.settings.HTTPListen,
				Timeout: e.settings.HTTPTimeout(),
				Logger:  logger.Zerolog(),
			})
			if err != nil {
				return nil, nil, err
			}
			logger.WithField("addr", adapter.Addr().String()).
				WithTransport("http").
				Info("Waiting for bootstrap answers")
			return adapter, func() { _ = adapter.Close() }, nil

		case interaction.ModePubSub:
			return e.pubsubAdapter(logger)
		}
	}
	return interaction.DenyAdapter{}, nil, nil
}

func (e *Engine) pubsubAdapter(logger *telemetry.Logger) (flow.Adapter, func(), error) {
	broker := e.broker
	var cleanup func()
	host := netpolicy.NormalizeHost(e.settings.BrokerURL)

	if broker == nil {
		if e.settings.BrokerURL == "" {
			return nil, nil, errors.New("pub/sub mode requires a broker URL")
		}
		// The policy check also runs inside the adapter; enforcing
		// here keeps the connection from being dialed at all when
		// the broker host is not allowed.
		if err := e.policy.Enforce(host); err != nil {
			return nil, nil, err
		}
		nb, err := interaction.NewNATSBroker(e.settings.BrokerURL, logger.Zerolog())
		if err != nil {
			return nil, nil, err
		}
		broker = nb
		cleanup = func() { _ = nb.Close() }
	}

	adapter, err := interaction.NewPubSubAdapter(interaction.PubSubConfig{
		Broker:      broker,
		BrokerHost:  host,
		TopicPrefix: e.settings.TopicPrefix,
		DeviceID:    e.settings.DeviceID,
		Timeout:     e.settings.PubSubTimeout(),
		Policy:      e.policy,
		Logger:      logger.Zerolog(),
	})
	if err != nil {
		if cleanup != nil {
			cleanup()
		}
		return nil, nil, err
	}
	return adapter, cleanup, nil
}

// loadAnswers reads a pre-supplied answers file: one JSON object
// keyed by question id.
func loadAnswers(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read answers file: %w", err)
	}
	var answers map[string]any
	if err := json.Unmarshal(data, &answers); err != nil {
		return nil, fmt.Errorf("parse answers file %s: %w", path, err)
	}
	return answers, nil
}
