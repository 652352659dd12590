// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package logging

import (
	"fmt"
	"io"
	"log/syslog"
)

// SyslogConfig controls optional forwarding of log records to a remote
// syslog collector.
type SyslogConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Protocol string
	Tag      string
	Facility syslog.Priority
}

// DefaultSyslogConfig returns syslog forwarding disabled, with the same
// port, protocol and tag that NewSyslogWriter applies when those fields are
// left zero, and Facility 1 (NewSyslogWriter does not default Facility).
func DefaultSyslogConfig() SyslogConfig {
	return SyslogConfig{
		Enabled:  false,
		Port:     514,
		Protocol: "udp",
		Tag:      "flywall",
		Facility: 1,
	}
}

// NewSyslogWriter dials a remote syslog collector and returns an io.Writer
// that forwards every write as a syslog message.
func NewSyslogWriter(cfg SyslogConfig) (io.Writer, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("logging: syslog host is required")
	}
	if cfg.Port == 0 {
		cfg.Port = 514
	}
	if cfg.Protocol == "" {
		cfg.Protocol = "udp"
	}
	if cfg.Tag == "" {
		cfg.Tag = "flywall"
	}

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	w, err := syslog.Dial(cfg.Protocol, addr, cfg.Facility, cfg.Tag)
	if err != nil {
		return nil, fmt.Errorf("logging: dial syslog at %s: %w", addr, err)
	}
	return w, nil
}
