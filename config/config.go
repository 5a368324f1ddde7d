// Package config holds runtime settings, read from TOML or YAML files
package config

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/notargets/ldumesh/comm"
	"github.com/notargets/ldumesh/meshtomesh"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config is the complete runtime configuration
type Config struct {
	Comms         Comms         `toml:"comms" yaml:"comms"`
	MeshToMesh    MeshToMesh    `toml:"meshToMesh" yaml:"meshToMesh"`
	Agglomeration Agglomeration `toml:"agglomeration" yaml:"agglomeration"`
	Logging       Logging       `toml:"logging" yaml:"logging"`
}

// Comms configures the transport
type Comms struct {
	// One of blocking, scheduled or nonBlocking
	Type string `toml:"type" yaml:"type"`

	// Send floats as float32
	Compressed bool `toml:"compressed" yaml:"compressed"`

	// Bound on every blocking receive, as a Go duration; empty waits forever
	Timeout string `toml:"timeout" yaml:"timeout"`

	NRanks int `toml:"nRanks" yaml:"nRanks"`
}

// MeshToMesh configures mesh-to-mesh addressing
type MeshToMesh struct {
	Method        string  `toml:"method" yaml:"method"`
	ProcMapMethod string  `toml:"procMapMethod" yaml:"procMapMethod"`
	LODLevels     int     `toml:"lodLevels" yaml:"lodLevels"`
	Consistent    bool    `toml:"consistent" yaml:"consistent"`
	Tolerance     float64 `toml:"tolerance" yaml:"tolerance"`
}

// Agglomeration configures processor agglomeration
type Agglomeration struct {
	// Consecutive ranks combined into one; 1 disables agglomeration
	NProcsPerGroup int `toml:"nProcsPerGroup" yaml:"nProcsPerGroup"`
}

type Logging struct {
	// A slog level name: DEBUG, INFO, WARN or ERROR
	Level string `toml:"level" yaml:"level"`
}

// Default returns the configuration used for unset values
func Default() *Config {
	mo := meshtomesh.DefaultOptions()
	return &Config{
		Comms: Comms{
			Type:   comm.NonBlocking.String(),
			NRanks: 1,
		},
		MeshToMesh: MeshToMesh{
			Method:        mo.Method.String(),
			ProcMapMethod: mo.ProcMapMethod.String(),
			LODLevels:     mo.LODLevels,
			Consistent:    mo.Consistent,
			Tolerance:     mo.Tolerance,
		},
		Agglomeration: Agglomeration{NProcsPerGroup: 1},
		Logging:       Logging{Level: "INFO"},
	}
}

// decoder is satisfied by the TOML and YAML decoders
type decoder interface {
	Decode(v any) error
}

// decoderFor selects a decoder by file extension
func decoderFor(filename string, r io.Reader) (decoder, error) {
	switch filepath.Ext(filename) {
	case ".toml":
		return toml.NewDecoder(r), nil
	case ".yaml", ".yml":
		return yaml.NewDecoder(r), nil
	}
	return nil, fmt.Errorf("unsupported config format %q", filename)
}

// Load reads filename over the defaults and validates the result
func Load(filename string) (*Config, error) {
	fp, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer fp.Close()
	return Read(filename, bufio.NewReader(fp))
}

// Read decodes r, in the format named by the extension of filename, over
// the defaults and validates the result
func Read(filename string, r io.Reader) (*Config, error) {
	d, err := decoderFor(filename, r)
	if err != nil {
		return nil, err
	}
	cfg := Default()
	if err := d.Decode(cfg); err != nil && err != io.EOF {
		return nil, fmt.Errorf("decode %s: %w", filename, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	return cfg, nil
}

// Validate rejects unknown names and out-of-range values
func (c *Config) Validate() error {
	if _, err := c.CommsType(); err != nil {
		return err
	}
	if _, err := c.Timeout(); err != nil {
		return err
	}
	if c.Comms.NRanks < 1 {
		return fmt.Errorf("nRanks must be positive, got %d", c.Comms.NRanks)
	}
	if _, err := c.MeshToMeshOptions(); err != nil {
		return err
	}
	if c.MeshToMesh.LODLevels < 0 {
		return fmt.Errorf("lodLevels must not be negative, got %d", c.MeshToMesh.LODLevels)
	}
	if c.Agglomeration.NProcsPerGroup < 1 {
		return fmt.Errorf("nProcsPerGroup must be positive, got %d", c.Agglomeration.NProcsPerGroup)
	}
	if _, err := c.LogLevel(); err != nil {
		return err
	}
	return nil
}

func (c *Config) CommsType() (comm.CommsType, error) { return comm.ParseCommsType(c.Comms.Type) }

func (c *Config) Timeout() (time.Duration, error) {
	if c.Comms.Timeout == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.Comms.Timeout)
	if err != nil {
		return 0, fmt.Errorf("comms timeout: %w", err)
	}
	return d, nil
}

// MeshToMeshOptions converts the mesh-to-mesh section
func (c *Config) MeshToMeshOptions() (meshtomesh.Options, error) {
	m := c.MeshToMesh
	method, err := meshtomesh.ParseMethod(m.Method)
	if err != nil {
		return meshtomesh.Options{}, err
	}
	pm, err := meshtomesh.ParseProcMapMethod(m.ProcMapMethod)
	if err != nil {
		return meshtomesh.Options{}, err
	}
	return meshtomesh.Options{
		Method:        method,
		ProcMapMethod: pm,
		LODLevels:     m.LODLevels,
		Consistent:    m.Consistent,
		Tolerance:     m.Tolerance,
	}, nil
}

// ProcAgglomMap maps each of nRanks ranks to its agglomerated rank, grouping
// consecutive ranks nProcsPerGroup at a time
func (c *Config) ProcAgglomMap(nRanks int) []int {
	n := max(c.Agglomeration.NProcsPerGroup, 1)
	m := make([]int, nRanks)
	for i := range m {
		m[i] = i / n
	}
	return m
}

func (c *Config) LogLevel() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.Logging.Level)); err != nil {
		return 0, fmt.Errorf("logging level: %w", err)
	}
	return l, nil
}

// Logger is a text logger writing to w at the configured level
func (c *Config) Logger(w io.Writer) *slog.Logger {
	l, err := c.LogLevel()
	if err != nil {
		l = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: l}))
}

// WorldOptions are the transport options of the comms section
func (c *Config) WorldOptions(w io.Writer) ([]comm.Option, error) {
	d, err := c.Timeout()
	if err != nil {
		return nil, err
	}
	return []comm.Option{comm.WithTimeout(d), comm.WithLogger(c.Logger(w))}, nil
}
