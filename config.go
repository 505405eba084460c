package imageagent

import (
	"time"

	"github.com/pkg/errors"

	"github.com/httprunner/ImageAgent/internal/config"
	"github.com/httprunner/ImageAgent/pkg/controller"
	"github.com/httprunner/ImageAgent/pkg/recorder"
	"github.com/httprunner/ImageAgent/pkg/tracker"
)

// Config carries the process-level settings read from the environment.
type Config struct {
	Controller      controller.Config
	CheckInterval   time.Duration
	CheckTimeout    time.Duration
	DisableRecorder bool
}

// LoadConfig reads IMAGEAGENT_* variables, loading .env first when present.
func LoadConfig() Config {
	return Config{
		Controller: controller.Config{
			BaseURL:        config.String(config.KeyControllerURL, ""),
			Username:       config.String(config.KeyUsername, ""),
			Password:       config.String(config.KeyPassword, ""),
			Domain:         config.String(config.KeyDomain, ""),
			Token:          config.String(config.KeyToken, ""),
			Insecure:       config.Bool(config.KeyInsecure, false),
			RequestTimeout: config.Duration(config.KeyRequestTimeout, controller.DefaultRequestTimeout),
		},
		CheckInterval:   config.Duration(config.KeyCheckInterval, tracker.DefaultCheckInterval),
		CheckTimeout:    config.Duration(config.KeyCheckTimeout, tracker.DefaultCheckTimeout),
		DisableRecorder: config.Bool(config.KeyDisableRecorder, false),
	}
}

// NewSender builds the controller client described by cfg.
func (cfg Config) NewSender() (*controller.RestClient, error) {
	if cfg.Controller.BaseURL == "" {
		return nil, errors.Errorf("%s is not set", config.KeyControllerURL)
	}
	return controller.NewRestClient(cfg.Controller)
}

// OpenRecorder returns the SQLite outcome recorder, or a no-op recorder when
// recording is disabled.
func (cfg Config) OpenRecorder() (recorder.Recorder, error) {
	if cfg.DisableRecorder {
		return recorder.Noop{}, nil
	}
	rec, err := recorder.Open()
	if err != nil {
		return nil, err
	}
	return rec, nil
}
