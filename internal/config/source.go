package config

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/avaviz/flowrender/pkg/core"
)

// Source delivers the simulation list. It satisfies the coordinator's
// config source.
type Source interface {
	Simulations(ctx context.Context) ([]core.SimulationConfig, error)
}

// decodeSimulations reads and validates the "simulations" list of v.
func decodeSimulations(v *viper.Viper) ([]core.SimulationConfig, error) {
	var sims []core.SimulationConfig
	if err := v.UnmarshalKey("simulations", &sims); err != nil {
		return nil, fmt.Errorf("decoding simulations: %w", err)
	}
	for _, s := range sims {
		if err := s.Validate(); err != nil {
			return nil, err
		}
	}
	return sims, nil
}

// GlobalSource reads simulations from the global viper instance filled by
// Load.
type GlobalSource struct{}

func (GlobalSource) Simulations(context.Context) ([]core.SimulationConfig, error) {
	return decodeSimulations(viper.GetViper())
}

// FileSource reads a standalone simulation document. The format follows the
// file extension.
type FileSource struct {
	Path string
}

func (s FileSource) Simulations(context.Context) ([]core.SimulationConfig, error) {
	v := viper.New()
	v.SetConfigFile(s.Path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading simulation file: %w", err)
	}
	return decodeSimulations(v)
}

// HTTPSource fetches the simulation document from a URL. Format defaults
// to the URL's extension, falling back to json.
type HTTPSource struct {
	URL    string
	Format string
	Client *http.Client
}

func (s HTTPSource) Simulations(ctx context.Context) ([]core.SimulationConfig, error) {
	client := s.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("config request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("config request returned status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading config body: %w", err)
	}

	v := viper.New()
	v.SetConfigType(s.format())
	if err := v.ReadConfig(bytes.NewReader(body)); err != nil {
		return nil, fmt.Errorf("parsing config document: %w", err)
	}
	return decodeSimulations(v)
}

func (s HTTPSource) format() string {
	if s.Format != "" {
		return s.Format
	}
	path := s.URL
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	switch ext := strings.TrimPrefix(filepath.Ext(path), "."); ext {
	case "yaml", "yml", "toml":
		return ext
	}
	return "json"
}
