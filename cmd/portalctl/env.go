package main

import (
	"fmt"

	goPortal "github.com/MrEthical07/goPortal"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

type envView struct {
	TokenValidation struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"token_validation"`
	PhoneVerification struct {
		RedisPrefix          string `yaml:"redis_prefix"`
		MarkerTTL            string `yaml:"marker_ttl"`
		RequestTimeout       string `yaml:"request_timeout"`
		EnableSubmitThrottle bool   `yaml:"enable_submit_throttle"`
		MaxSubmitAttempts    int    `yaml:"max_submit_attempts"`
		SubmitWindow         string `yaml:"submit_window"`
	} `yaml:"phone_verification"`
	Payment struct {
		AllowedOrigins []string `yaml:"allowed_origins"`
		LookupTimeout  string   `yaml:"lookup_timeout"`
	} `yaml:"payment"`
	Audit struct {
		Enabled    bool `yaml:"enabled"`
		BufferSize int  `yaml:"buffer_size"`
		DropIfFull bool `yaml:"drop_if_full"`
	} `yaml:"audit"`
	Metrics struct {
		Enabled                 bool `yaml:"enabled"`
		EnableLatencyHistograms bool `yaml:"enable_latency_histograms"`
	} `yaml:"metrics"`
	Warnings []string `yaml:"warnings,omitempty"`
}

func newEnvView(cfg goPortal.Config) envView {
	var v envView
	v.TokenValidation.Timeout = cfg.TokenValidation.Timeout.String()
	v.PhoneVerification.RedisPrefix = cfg.PhoneVerification.RedisPrefix
	v.PhoneVerification.MarkerTTL = cfg.PhoneVerification.MarkerTTL.String()
	v.PhoneVerification.RequestTimeout = cfg.PhoneVerification.RequestTimeout.String()
	v.PhoneVerification.EnableSubmitThrottle = cfg.PhoneVerification.EnableSubmitThrottle
	v.PhoneVerification.MaxSubmitAttempts = cfg.PhoneVerification.MaxSubmitAttempts
	v.PhoneVerification.SubmitWindow = cfg.PhoneVerification.SubmitWindow.String()
	v.Payment.AllowedOrigins = cfg.Payment.AllowedOrigins
	v.Payment.LookupTimeout = cfg.Payment.LookupTimeout.String()
	v.Audit.Enabled = cfg.Audit.Enabled
	v.Audit.BufferSize = cfg.Audit.BufferSize
	v.Audit.DropIfFull = cfg.Audit.DropIfFull
	v.Metrics.Enabled = cfg.Metrics.Enabled
	v.Metrics.EnableLatencyHistograms = cfg.Metrics.EnableLatencyHistograms
	for _, w := range cfg.Lint() {
		v.Warnings = append(v.Warnings, fmt.Sprintf("%s: %s", w.Code, w.Message))
	}
	return v
}

func newEnvCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "env",
		Short: "Print the engine configuration read from " + goPortal.EnvPrefix + "* variables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := goPortal.LoadConfigFromEnv()
			if err != nil {
				return err
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(newEnvView(cfg)); err != nil {
				return err
			}
			return enc.Close()
		},
	}
}
