package config

import "time"

// Config is the root configuration for Foreman.
type Config struct {
	Ledger     LedgerConfig     `json:"ledger"`
	Registry   RegistryConfig   `json:"registry"`
	Delegation DelegationConfig `json:"delegation"`
	Events     EventsConfig     `json:"events"`
}

// LedgerConfig configures the task ledger.
type LedgerConfig struct {
	Dir       string `json:"dir"`        // task directories (default: $FOREMAN_PATH/tasks)
	ArchiveDB string `json:"archive_db"` // sqlite archive (default: $FOREMAN_PATH/archive.db)
}

// RegistryConfig configures the capability registry.
type RegistryConfig struct {
	Artifact        string `json:"artifact"`         // serialized registry table (default: $FOREMAN_PATH/registry.json)
	DeclarationsDir string `json:"declarations_dir"` // capability declaration files (default: $FOREMAN_PATH/capabilities)
}

// DelegationConfig configures the delegation protocol.
type DelegationConfig struct {
	Timeout       Duration `json:"timeout,omitempty"` // per-delegate execution bound (0 = no timeout)
	MaxRetries    int      `json:"max_retries"`       // retry bound for transient failures
	MaxConcurrent int      `json:"max_concurrent"`    // parallel independent subtrees
}

// EventsConfig holds event bus settings.
type EventsConfig struct {
	BufferSize int    `json:"buffer_size"`
	LogDir     string `json:"log_dir"` // JSONL event sink (default: $FOREMAN_PATH/events)
}

// Duration wraps time.Duration for JSON unmarshaling.
type Duration time.Duration

func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	s := string(b)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(`"` + time.Duration(d).String() + `"`), nil
}
