package installer

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/exec"
	"runtime"
	"time"
)

// Defaults for the Ollama runtime.
const (
	DefaultRuntimeBinary  = "ollama"
	DefaultRuntimeBaseURL = "http://localhost:11434"
	DefaultRuntimePort    = 11434
)

// DefaultModels is the model set the stack expects when none is configured.
var DefaultModels = []ModelRef{
	{Name: "llama3.2:3b"},
	{Name: "nomic-embed-text"},
}

// OllamaProvider implements RuntimeProvider for the Ollama inference runtime.
// Listing goes through the HTTP API; pulls go through the CLI so the
// runtime's own progress handling and exit code apply.
type OllamaProvider struct {
	Binary    string
	BaseURL   string
	Installer string
	Client    *http.Client
}

func (p *OllamaProvider) binary() string {
	if p.Binary != "" {
		return p.Binary
	}
	return DefaultRuntimeBinary
}

func (p *OllamaProvider) baseURL() string {
	if p.BaseURL != "" {
		return p.BaseURL
	}
	return DefaultRuntimeBaseURL
}

func (p *OllamaProvider) client() *http.Client {
	if p.Client != nil {
		return p.Client
	}
	return &http.Client{Timeout: 10 * time.Second}
}

func (p *OllamaProvider) Resolve() (string, error) {
	path, err := exec.LookPath(p.binary())
	if err != nil {
		return "", fmt.Errorf("%w: %s not on PATH", ErrDependencyMissing, p.binary())
	}
	return path, nil
}

func (p *OllamaProvider) InstallerURL() string {
	if p.Installer != "" {
		return p.Installer
	}
	switch runtime.GOOS {
	case "windows":
		return "https://ollama.com/download/OllamaSetup.exe"
	case "darwin":
		return "https://ollama.com/download/Ollama-darwin.zip"
	default:
		return "https://ollama.com/install.sh"
	}
}

func (p *OllamaProvider) RunInstaller(ctx context.Context, path string, silent bool) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "windows":
		args := []string{}
		if silent {
			args = append(args, "/S")
		}
		// #nosec G204 -- path is the installer we just downloaded
		cmd = exec.CommandContext(ctx, path, args...)
	default:
		// #nosec G204 -- path is the installer we just downloaded
		cmd = exec.CommandContext(ctx, "sh", path)
	}
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("installer exited: %v: %s", err, out)
	}
	return nil
}

// tagsResponse is the shape of GET /api/tags.
type tagsResponse struct {
	Models []struct {
		Name string `json:"name"`
		Size int64  `json:"size"`
	} `json:"models"`
}

func (p *OllamaProvider) ListInstalledModels(ctx context.Context) ([]ModelRef, error) {
	url := p.baseURL() + "/api/tags"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.client().Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("list models: status %d from %s", resp.StatusCode, url)
	}
	var tags tagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return nil, fmt.Errorf("list models: decode: %w", err)
	}
	models := make([]ModelRef, 0, len(tags.Models))
	for _, m := range tags.Models {
		models = append(models, ModelRef{Name: m.Name, Size: m.Size})
	}
	return models, nil
}

func (p *OllamaProvider) PullModel(ctx context.Context, name string) error {
	// #nosec G204 -- model names come from operator configuration
	cmd := exec.CommandContext(ctx, p.binary(), "pull", name)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("pull %s: %v: %s", name, err, out)
	}
	return nil
}
