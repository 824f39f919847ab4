package config

import (
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/andyvauliln/paysync/internal/paymentsync/scoring"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const scoringKey = "scoring"

// ScoringConfigHolder serves the current scoring weights. A reload that fails
// validation keeps the previous weights.
type ScoringConfigHolder struct {
	current atomic.Value // holds scoring.Weights
	v       *viper.Viper
	log     *zap.Logger
}

func NewScoringConfigHolder(cfg Config, log *zap.Logger) (*ScoringConfigHolder, error) {
	holder, err := LoadScoringConfig(cfg.ScoringConfigPath, log)
	if err != nil {
		return nil, err
	}
	holder.Watch()
	return holder, nil
}

// LoadScoringConfig reads scoring.yml from path, or from the default search
// paths when path is empty. A missing file yields the default weights.
func LoadScoringConfig(path string, log *zap.Logger) (*ScoringConfigHolder, error) {
	if log == nil {
		log = zap.NewNop()
	}
	v := viper.New()
	if path = strings.TrimSpace(path); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("scoring")
		v.SetConfigType("yml")
		v.AddConfigPath("/etc/paysync")
		v.AddConfigPath(".")
	}

	holder := &ScoringConfigHolder{v: v, log: log.Named("config.scoring")}
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || path != "" {
			return nil, err
		}
		holder.current.Store(scoring.DefaultWeights())
		return holder, nil
	}

	weights, err := holder.decode()
	if err != nil {
		return nil, err
	}
	holder.current.Store(weights)
	return holder, nil
}

func (h *ScoringConfigHolder) Get() scoring.Weights {
	return h.current.Load().(scoring.Weights)
}

// Scorer builds a scorer over the current weights.
func (h *ScoringConfigHolder) Scorer() scoring.Scorer {
	return scoring.New(h.Get())
}

func (h *ScoringConfigHolder) Watch() {
	if h.v.ConfigFileUsed() == "" {
		return
	}
	h.v.OnConfigChange(func(e fsnotify.Event) {
		if err := h.apply(); err != nil {
			h.log.Warn("scoring config reload ignored", zap.String("file", e.Name), zap.Error(err))
			return
		}
		h.log.Info("scoring config reloaded", zap.String("file", e.Name))
	})
	h.v.WatchConfig()
}

// Reload re-reads the config file and applies it when valid.
func (h *ScoringConfigHolder) Reload() error {
	if err := h.v.ReadInConfig(); err != nil {
		return err
	}
	return h.apply()
}

func (h *ScoringConfigHolder) apply() error {
	weights, err := h.decode()
	if err != nil {
		return err
	}
	h.current.Store(weights)
	return nil
}

func (h *ScoringConfigHolder) decode() (scoring.Weights, error) {
	weights := scoring.DefaultWeights()
	if err := h.v.UnmarshalKey(scoringKey, &weights); err != nil {
		return scoring.Weights{}, err
	}
	if err := weights.Validate(); err != nil {
		return scoring.Weights{}, fmt.Errorf("%s: %w", scoringKey, err)
	}
	return weights, nil
}
