package supervisor

import (
	"bytes"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"
)

// Plugin modes. A bot plugin connects back and speaks the protocol; a
// record plugin only draws overlays during playback.
const (
	ModeBot    = "bot"
	ModeRecord = "record"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

var pluginTemplates = template.Must(template.ParseFS(templateFS, "templates/*.tmpl"))

// PluginSettings are the values rendered into the plugin artifacts.
type PluginSettings struct {
	Name          string
	Host          string
	Port          int
	Mode          string
	TickRate      int
	RenderSprites bool
	RenderState   bool
	ShowInput     bool
}

func (c Config) pluginSettings(mode string, port int) PluginSettings {
	return PluginSettings{
		Name:          c.PluginName,
		Host:          c.Host,
		Port:          port,
		Mode:          mode,
		TickRate:      c.TickRate,
		RenderSprites: c.RenderSprites,
		RenderState:   c.RenderState,
		ShowInput:     c.ShowInput,
	}
}

// WritePlugin renders every template into dir, replacing existing files.
// Files are named after their template without the .tmpl suffix.
func WritePlugin(dir string, settings PluginSettings) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create plugin dir: %w", err)
	}
	for _, t := range pluginTemplates.Templates() {
		var buf bytes.Buffer
		if err := t.Execute(&buf, settings); err != nil {
			return fmt.Errorf("render %s: %w", t.Name(), err)
		}
		target := filepath.Join(dir, strings.TrimSuffix(t.Name(), ".tmpl"))
		if err := os.WriteFile(target, buf.Bytes(), 0o644); err != nil {
			return fmt.Errorf("write %s: %w", target, err)
		}
	}
	return nil
}
