package config

import "time"

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30 * time.Second
	}
	if cfg.Server.RequestTimeout == 0 {
		cfg.Server.RequestTimeout = 90 * time.Second
	}
	// WriteTimeout stays 0 (unbounded) so event streams are not cut off.
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = DriverMemory
	}
	if cfg.Storage.Driver == DriverSQLite && cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = "/usr/local/var/bami/data/cases.db"
	}
	if cfg.Blobs.Driver == "" {
		cfg.Blobs.Driver = DriverMemory
	}
	if cfg.Blobs.Bucket == "" {
		cfg.Blobs.Bucket = "bami-documents"
	}
	if cfg.AI.BaseURL == "" {
		cfg.AI.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.AI.Model == "" {
		cfg.AI.Model = "gpt-4o-mini"
	}
	if cfg.AI.AnalyzeTimeout == 0 {
		cfg.AI.AnalyzeTimeout = 60 * time.Second
	}
	if cfg.AI.ValidateTimeout == 0 {
		cfg.AI.ValidateTimeout = 45 * time.Second
	}
	if cfg.AI.ChatTimeout == 0 {
		cfg.AI.ChatTimeout = 45 * time.Second
	}
	if cfg.AI.MaxDocumentChars == 0 {
		cfg.AI.MaxDocumentChars = 8000
	}
	if cfg.Pipeline.MaxConcurrent == 0 {
		cfg.Pipeline.MaxConcurrent = 4
	}
	if cfg.Pipeline.SerializePerCase == nil {
		t := true
		cfg.Pipeline.SerializePerCase = &t
	}
	if cfg.Events.KeepAliveInterval == 0 {
		cfg.Events.KeepAliveInterval = 15 * time.Second
	}
	if cfg.Intake.MaxFileBytes == 0 {
		cfg.Intake.MaxFileBytes = 10 << 20
	}
	if cfg.Intake.MaxFiles == 0 {
		cfg.Intake.MaxFiles = 12
	}
	if cfg.Intake.DropDebounce == 0 {
		cfg.Intake.DropDebounce = 500 * time.Millisecond
	}
	if cfg.Auth.AdminEmail == "" {
		cfg.Auth.AdminEmail = "prueba@correo.com"
	}
	if cfg.Auth.AdminPassword == "" {
		cfg.Auth.AdminPassword = "12345"
	}
	if cfg.Auth.AdminSecret == "" {
		cfg.Auth.AdminSecret = "bami-admin-demo"
	}
	if cfg.Auth.TokenTTL == 0 {
		cfg.Auth.TokenTTL = 12 * time.Hour
	}
}
