package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/google/shlex"
	"gopkg.in/yaml.v3"
)

// Job is the YAML form of a spawn. Unset fields keep the defaults.
type Job struct {
	Command         []string          `yaml:"command"`
	Cmd             string            `yaml:"cmd"`
	Dir             string            `yaml:"dir"`
	Env             map[string]string `yaml:"env"`
	ClearEnv        *bool             `yaml:"clear_env"`
	NewProcessGroup *bool             `yaml:"new_process_group"`

	Stdin     *string `yaml:"stdin"`
	StdinFile string  `yaml:"stdin_file"`

	Timeout       *time.Duration `yaml:"timeout"`
	StdoutCap     *int           `yaml:"stdout_cap"`
	StderrCap     *int           `yaml:"stderr_cap"`
	Combine       *bool          `yaml:"combine"`
	KillSignal    string         `yaml:"kill_signal"`
	OverflowGrace *time.Duration `yaml:"overflow_grace"`

	Runs       *int           `yaml:"runs"`
	Workers    *int           `yaml:"workers"`
	Rate       *int           `yaml:"rate"`
	RateJitter *time.Duration `yaml:"rate_jitter"`
	Retries    *int           `yaml:"retries"`
}

// LoadJobFile reads a YAML job file and applies it to cfg.
func LoadJobFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read job file: %w", err)
	}
	job, err := ParseJob(data)
	if err != nil {
		return fmt.Errorf("parse job file %s: %w", path, err)
	}
	return job.Apply(cfg)
}

// ParseJob decodes a job document. Unknown keys are rejected.
func ParseJob(data []byte) (*Job, error) {
	var job Job
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&job); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return &job, nil
}

// Apply copies every field set in the job onto cfg.
func (j *Job) Apply(cfg *Config) error {
	switch {
	case len(j.Command) > 0 && j.Cmd != "":
		return errors.New("job: command and cmd are mutually exclusive")
	case len(j.Command) > 0:
		cfg.Path = j.Command[0]
		cfg.Args = append([]string(nil), j.Command...)
	case j.Cmd != "":
		cfg.CmdLine = j.Cmd
	}

	if j.Dir != "" {
		cfg.Dir = j.Dir
	}
	keys := make([]string, 0, len(j.Env))
	for k := range j.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		cfg.Env = append(cfg.Env, k+"="+j.Env[k])
	}
	setBool(&cfg.ClearEnv, j.ClearEnv)
	setBool(&cfg.NewProcessGroup, j.NewProcessGroup)

	if j.Stdin != nil {
		cfg.Stdin = *j.Stdin
	}
	if j.StdinFile != "" {
		cfg.StdinFile = j.StdinFile
	}

	setDuration(&cfg.Timeout, j.Timeout)
	setInt(&cfg.StdoutCap, j.StdoutCap)
	setInt(&cfg.StderrCap, j.StderrCap)
	setBool(&cfg.Combine, j.Combine)
	if j.KillSignal != "" {
		cfg.KillSignal = j.KillSignal
	}
	setDuration(&cfg.OverflowGrace, j.OverflowGrace)

	setInt(&cfg.Runs, j.Runs)
	setInt(&cfg.Workers, j.Workers)
	setInt(&cfg.Rate, j.Rate)
	setDuration(&cfg.RateJitter, j.RateJitter)
	setInt(&cfg.Retries, j.Retries)
	return nil
}

// SplitCommand splits a command line into argv using shell quoting rules.
// No expansion or redirection is performed.
func SplitCommand(line string) ([]string, error) {
	argv, err := shlex.Split(line)
	if err != nil {
		return nil, ValidationError{Field: "cmd", Message: err.Error()}
	}
	if len(argv) == 0 {
		return nil, ValidationError{Field: "cmd", Message: "command line is empty"}
	}
	return argv, nil
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

func setDuration(dst *time.Duration, v *time.Duration) {
	if v != nil {
		*dst = *v
	}
}
