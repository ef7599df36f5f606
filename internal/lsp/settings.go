package lsp

import (
	"encoding/json"
	"strings"
)

// clientSettings is the "crbs" section of workspace/didChangeConfiguration
// or initializationOptions.
type clientSettings struct {
	Toolchain *string `json:"toolchain,omitempty"`
	Trace     *bool   `json:"trace,omitempty"`
}

func (s *Server) handleDidChangeConfiguration(msg *rpcMessage) error {
	if len(msg.Params) == 0 {
		return nil
	}
	var params didChangeConfigurationParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		s.logger.Warn("ignoring malformed configuration", "err", err)
		return nil
	}
	s.applySettings(params.Settings)
	return nil
}

// applySettings accepts either {"crbs": {...}} or the bare section.
func (s *Server) applySettings(raw json.RawMessage) {
	if len(raw) == 0 {
		return
	}
	var wrapped struct {
		CRBS *clientSettings `json:"crbs"`
	}
	var cfg clientSettings
	if err := json.Unmarshal(raw, &wrapped); err == nil && wrapped.CRBS != nil {
		cfg = *wrapped.CRBS
	} else if err := json.Unmarshal(raw, &cfg); err != nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if cfg.Toolchain != nil {
		s.toolchain = strings.TrimSpace(*cfg.Toolchain)
	}
	if cfg.Trace != nil {
		s.trace = *cfg.Trace
	}
}
