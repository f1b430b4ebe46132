package dispatch

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ExecutorConfig is the executor specification file:
//
//	defaults: {log: false, log_dir: logs}
//	executors:
//	  - type: local
//	    args: [2]
//	  - type: remote
//	    args: ["user@host", "/tmp/agentsim", 4]
//	    db: /shared/agentsim/runs.db
//	    log: true
type ExecutorConfig struct {
	Defaults  ExecutorDefaults `yaml:"defaults"`
	Executors []ExecutorSpec   `yaml:"executors"`
}

// ExecutorDefaults apply to every executor that leaves the field unset.
type ExecutorDefaults struct {
	Log    bool   `yaml:"log"`
	LogDir string `yaml:"log_dir"`
}

// ExecutorSpec is one executor: a type tag plus constructor-style args.
// Nil pointer fields mean "not set", so the defaults apply.
//
// DB is the run database path as the executor's processes see it. It
// overrides the dispatcher's path for local executors and is required for
// remote executors whenever the dispatcher uses a database: the remote host
// must reach the same database (a shared mount, for example), since only the
// binary and deps are copied there.
type ExecutorSpec struct {
	Type   string  `yaml:"type"`
	Name   string  `yaml:"name"`
	Args   []any   `yaml:"args"`
	DB     string  `yaml:"db"`
	Log    *bool   `yaml:"log"`
	LogDir *string `yaml:"log_dir"`
}

// ValidExecutorTypes is the set of recognized executor type tags.
var ValidExecutorTypes = map[string]bool{"local": true, "inprocess": true, "remote": true}

// DefaultLogDir is used when logging is enabled and no directory is set.
const DefaultLogDir = "logs"

// DefaultExecutorConfig is one local executor with capacity 1.
func DefaultExecutorConfig() *ExecutorConfig {
	return &ExecutorConfig{Executors: []ExecutorSpec{{Type: "local", Args: []any{1}}}}
}

// LoadExecutorConfig reads and validates an executor specification file.
// An empty path, or a file listing no executors, yields DefaultExecutorConfig.
func LoadExecutorConfig(path string) (*ExecutorConfig, error) {
	if path == "" {
		return DefaultExecutorConfig(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading executor config: %w", err)
	}
	var cfg ExecutorConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing executor config: %w", err)
	}
	if len(cfg.Executors) == 0 {
		cfg.Executors = DefaultExecutorConfig().Executors
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks every executor's type tag and argument shape.
func (c *ExecutorConfig) Validate() error {
	for i, spec := range c.Executors {
		if !ValidExecutorTypes[spec.Type] {
			return fmt.Errorf("executor %d: unknown type %q", i, spec.Type)
		}
		if _, err := spec.parse(); err != nil {
			return fmt.Errorf("executor %d (%s): %w", i, spec.Type, err)
		}
	}
	return nil
}

type parsedSpec struct {
	capacity int
	target   string
	dir      string
	deps     []string
}

// parse decodes the positional args:
//
//	local:     [capacity]
//	inprocess: [capacity]
//	remote:    [target, remoteDir, capacity, deps...]
func (s ExecutorSpec) parse() (parsedSpec, error) {
	var p parsedSpec
	var err error
	if s.Type == "inprocess" && s.DB != "" {
		return p, fmt.Errorf("db does not apply to inprocess executors")
	}
	switch s.Type {
	case "local", "inprocess":
		if len(s.Args) != 1 {
			return p, fmt.Errorf("expected [capacity], got %d args", len(s.Args))
		}
		p.capacity, err = argInt(s.Args, 0)
	case "remote":
		if len(s.Args) < 3 {
			return p, fmt.Errorf("expected [target, remoteDir, capacity, deps...], got %d args", len(s.Args))
		}
		if p.target, err = argString(s.Args, 0); err != nil {
			return p, err
		}
		if p.dir, err = argString(s.Args, 1); err != nil {
			return p, err
		}
		if p.capacity, err = argInt(s.Args, 2); err != nil {
			return p, err
		}
		for i := 3; i < len(s.Args); i++ {
			dep, err := argString(s.Args, i)
			if err != nil {
				return p, err
			}
			p.deps = append(p.deps, dep)
		}
	default:
		return p, fmt.Errorf("unknown type %q", s.Type)
	}
	if err != nil {
		return p, err
	}
	if p.capacity < 0 {
		return p, fmt.Errorf("capacity must be non-negative, got %d", p.capacity)
	}
	return p, nil
}

func argInt(args []any, i int) (int, error) {
	switch v := args[i].(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		if v != float64(int(v)) {
			return 0, fmt.Errorf("arg %d: expected integer, got %v", i, v)
		}
		return int(v), nil
	default:
		return 0, fmt.Errorf("arg %d: expected integer, got %T", i, args[i])
	}
}

func argString(args []any, i int) (string, error) {
	v, ok := args[i].(string)
	if !ok || v == "" {
		return "", fmt.Errorf("arg %d: expected non-empty string, got %v", i, args[i])
	}
	return v, nil
}

// logDir resolves the per-executor log directory; empty means discard.
func (c *ExecutorConfig) logDir(s ExecutorSpec) string {
	enabled := c.Defaults.Log
	if s.Log != nil {
		enabled = *s.Log
	}
	if !enabled {
		return ""
	}
	if s.LogDir != nil && *s.LogDir != "" {
		return *s.LogDir
	}
	if c.Defaults.LogDir != "" {
		return c.Defaults.LogDir
	}
	return DefaultLogDir
}

// BuildExecutors constructs the executors described by c. proc supplies the
// binary, extra args and launcher for subprocess executors; run backs
// inprocess executors and may be nil when none are configured.
func BuildExecutors(c *ExecutorConfig, proc ProcessConfig, run RunFunc) ([]Executor, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	executors := make([]Executor, 0, len(c.Executors))
	for i, spec := range c.Executors {
		p, _ := spec.parse()
		name := spec.Name
		if name == "" {
			name = fmt.Sprintf("%s-%d", spec.Type, i)
		}
		pc := proc
		if spec.DB != "" {
			pc.DB = spec.DB
		} else if spec.Type == "remote" && proc.DB != "" {
			return nil, fmt.Errorf("executor %s: remote executors need a db path reachable from %s", name, p.target)
		}
		pc.LogDir = c.logDir(spec)
		if pc.LogDir != "" {
			if err := os.MkdirAll(filepath.Clean(pc.LogDir), 0o755); err != nil {
				return nil, fmt.Errorf("executor %s: creating log dir: %w", name, err)
			}
		}
		switch spec.Type {
		case "local":
			executors = append(executors, NewLocalExecutor(name, p.capacity, pc))
		case "inprocess":
			if run == nil {
				return nil, fmt.Errorf("executor %s: inprocess executors need a run function", name)
			}
			executors = append(executors, NewInProcessExecutor(name, p.capacity, run))
		case "remote":
			executors = append(executors, NewRemoteExecutor(name, p.capacity, p.target, p.dir, pc, p.deps...))
		}
	}
	return executors, nil
}
